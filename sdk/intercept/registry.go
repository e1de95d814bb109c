package intercept

import "sync"

// Kind names one console method.
type Kind int

const (
	Log Kind = iota
	Error
	Debug
	Info
	Warn
	Alert
)

// Kinds lists every interceptable method in setup order.
var Kinds = []Kind{Alert, Log, Error, Debug, Info, Warn}

func (k Kind) String() string {
	switch k {
	case Log:
		return "log"
	case Error:
		return "error"
	case Debug:
		return "debug"
	case Info:
		return "info"
	case Warn:
		return "warn"
	case Alert:
		return "alert"
	}
	return "unknown"
}

// Listener receives the arguments of one intercepted call.
type Listener func(args ...any)

// Registry holds the ordered listener lists. Construct one per process and
// pass it to Setup; lists only ever grow.
type Registry struct {
	mu        sync.RWMutex
	listeners map[Kind][]Listener
}

func NewRegistry() *Registry {
	return &Registry{
		listeners: make(map[Kind][]Listener),
	}
}

// Add appends l to the kind's list. Insertion order is invocation order.
func (r *Registry) Add(kind Kind, l Listener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners[kind] = append(r.listeners[kind], l)
}

// Listeners returns a snapshot of the kind's list.
func (r *Registry) Listeners(kind Kind) []Listener {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ls := r.listeners[kind]
	out := make([]Listener, len(ls))
	copy(out, ls)
	return out
}

func (r *Registry) Len(kind Kind) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.listeners[kind])
}
