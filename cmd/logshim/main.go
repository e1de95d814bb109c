package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coffersTech/logshim/internal/collector"
	"github.com/coffersTech/logshim/internal/config"
	"github.com/coffersTech/logshim/internal/storage"
	"github.com/coffersTech/logshim/sdk/logshim"
	"github.com/coffersTech/logshim/sdk/transport"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", "config.yml", "YAML config file; environment only when missing")
	listen := flag.String("listen", "", "override collector.listen")
	hashToken := flag.String("hash-token", "", "print the bcrypt hash of a token for collector.token_hashes and exit")
	send := flag.String("send", "", "post one message through the funnel and exit")
	target := flag.String("target", "http://localhost:8088", "collector base URL used with -send")
	token := flag.String("token", "", "bearer token used with -send")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage of %s:\n", os.Args[0])
		flag.PrintDefaults()
		fmt.Fprintln(flag.CommandLine.Output(), config.Usage())
	}
	flag.Parse()

	if *hashToken != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(*hashToken), bcrypt.DefaultCost)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Println(string(hash))
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if *listen != "" {
		cfg.Collector.Listen = *listen
	}

	logger, err := newLogger(cfg.IsDebug)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logger.Sync()

	if *send != "" {
		if err := sendOnce(cfg, logger, *target, *token, *send); err != nil {
			logger.Fatal("send failed", zap.Error(err))
		}
		return
	}

	if err := serve(cfg, logger); err != nil {
		logger.Fatal("collector stopped", zap.Error(err))
	}
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// sendOnce ships msg the way an application would, retries included.
func sendOnce(cfg *config.Config, logger *zap.Logger, target, token, msg string) error {
	t := transport.NewHTTP(
		transport.WithHTTPClient(&http.Client{Timeout: cfg.HTTP.Timeout}),
		transport.WithBaseURL(target),
		transport.WithAuthtoken(token),
		transport.WithInstanceID(transport.EnsureInstanceID()),
	)
	f := logshim.Install(logshim.Options{
		URL:                  cfg.Reporter.URL,
		Transport:            t,
		UnauthorizedRedirect: cfg.HTTP.UnauthorizedRedirect,
		MaxRetries:           cfg.HTTP.MaxRetries,
		RetryDelay:           cfg.HTTP.RetryDelay,
		NoRetry:              cfg.HTTP.MaxRetries == 0,
		Logger:               logger,
	})
	f.Console.Log(msg)
	if err := f.Close(); err != nil {
		return err
	}
	if kind, err := f.Diagnostics.LastError(); err != nil {
		return fmt.Errorf("%s: %w", kind, err)
	}
	return nil
}

func serve(cfg *config.Config, logger *zap.Logger) error {
	logger.Info("logshim collector starting",
		zap.String("data_dir", cfg.Collector.DataDir),
		zap.Duration("retention", cfg.Collector.Retention),
		zap.Bool("auth", len(cfg.Collector.TokenHashes) > 0))

	writer, err := storage.NewSegmentWriter()
	if err != nil {
		return fmt.Errorf("create segment writer: %w", err)
	}
	buffer := collector.NewBuffer(cfg.Collector.DataDir, writer, logger,
		collector.WithMaxRecords(cfg.Collector.MaxBuffered))
	clients := collector.NewClients()
	cleaner := storage.NewCleaner(cfg.Collector.DataDir, cfg.Collector.Retention, logger)

	srv := collector.NewServer(buffer, clients,
		collector.WithPath(cfg.Collector.Path),
		collector.WithTokenHashes(cfg.Collector.TokenHashes),
		collector.WithLogger(logger),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clients.StartCleanupLoop(ctx, time.Minute, cfg.Collector.ClientTimeout)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Start(cfg.Collector.Listen)
	})
	g.Go(func() error {
		buffer.RunFlusher(gctx, cfg.Collector.FlushInterval)
		return nil
	})
	g.Go(func() error {
		cleaner.RunCleaner(gctx, time.Hour)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	// requests still in flight during shutdown land after the flusher's last pass
	if ferr := buffer.Flush(); ferr != nil {
		logger.Error("final flush failed", zap.Error(ferr))
	}
	logger.Info("logshim exited")
	return err
}
