package main

import (
	"errors"
	"log"

	"github.com/coffersTech/logshim/sdk/applog"
	"github.com/coffersTech/logshim/sdk/logshim"
	"go.uber.org/zap"
)

func main() {
	logger, _ := zap.NewDevelopment()

	funnel := logshim.Install(logshim.Options{
		BaseURL:              "http://localhost:8088",
		Authtoken:            "sk-dev-test-key",
		UnauthorizedRedirect: "/login",
		Logger:               logger,
		CaptureStdlog:        true,
	})
	defer funnel.Close()

	console := funnel.Console
	console.Log("Hello from the Go funnel", map[string]any{"user_id": 42})
	console.Warn("This is a warning", "retry_count", 3)
	console.Alert("Saved")

	sys := &applog.System{}
	funnel.WireSystem(sys)
	sys.Error(errors.New("something went wrong"), errors.New("connection refused"))

	log.Println("Standard library output is funnelled too")

	func() {
		defer console.Recover()
		var m map[string]int
		m["boom"]++
	}()
}
