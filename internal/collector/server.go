package collector

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/coffersTech/logshim/internal/model"
	"github.com/google/uuid"
	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fastjson"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const (
	DefaultPath   = "/log"
	DefaultLimit  = 100
	InstanceIDKey = "X-Instance-ID"

	recordsEndpoint = "/api/records"
	clientsEndpoint = "/api/clients"
	metricsEndpoint = "/metrics"

	MaxBodySize = 4 << 20
)

type Server struct {
	path        string
	tokenHashes [][]byte
	verified    sync.Map // token -> struct{}

	buffer  *Buffer
	clients *Clients
	logger  *zap.Logger
	now     func() time.Time

	parser   fastjson.ParserPool
	registry *prometheus.Registry
	received prometheus.Counter
	rejected *prometheus.CounterVec

	router     *httprouter.Router
	httpServer *http.Server
}

type Option func(*Server)

// WithPath sets the route records are posted to.
func WithPath(path string) Option {
	return func(s *Server) {
		if path != "" {
			s.path = path
		}
	}
}

// WithTokenHashes enables bearer auth; each hash is a bcrypt hash of an
// accepted token.
func WithTokenHashes(hashes []string) Option {
	return func(s *Server) {
		for _, h := range hashes {
			if h = strings.TrimSpace(h); h != "" {
				s.tokenHashes = append(s.tokenHashes, []byte(h))
			}
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func withClock(now func() time.Time) Option {
	return func(s *Server) {
		s.now = now
	}
}

func NewServer(buffer *Buffer, clients *Clients, opts ...Option) *Server {
	s := &Server{
		path:     DefaultPath,
		buffer:   buffer,
		clients:  clients,
		logger:   zap.NewNop(),
		now:      time.Now,
		registry: prometheus.NewRegistry(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.received = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "logshim_collector_records_total",
		Help: "Records accepted by the collector.",
	})
	s.rejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "logshim_collector_rejected_total",
		Help: "Posts rejected by the collector, by reason.",
	}, []string{"reason"})
	s.registry.MustRegister(s.received, s.rejected,
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "logshim_collector_buffered_records",
			Help: "Records waiting for the next flush.",
		}, func() float64 { return float64(s.buffer.Len()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "logshim_collector_dropped_records_total",
			Help: "Buffered records lost after failed flushes.",
		}, func() float64 { return float64(s.buffer.Dropped()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "logshim_collector_clients",
			Help: "Known reporting instances.",
		}, func() float64 { return float64(s.clients.Len()) }),
	)

	s.router = httprouter.New()
	s.Register(s.router)
	s.httpServer = &http.Server{Handler: s.router}
	return s
}

func (s *Server) Register(router *httprouter.Router) {
	router.POST(s.path, s.auth(s.handleLog))
	router.GET(recordsEndpoint, s.auth(s.handleRecords))
	router.GET(clientsEndpoint, s.auth(s.handleClients))
	router.Handler(http.MethodGet, metricsEndpoint, promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Registry() *prometheus.Registry {
	return s.registry
}

// Start listens on addr until Shutdown is called.
func (s *Server) Start(addr string) error {
	s.httpServer.Addr = addr
	s.logger.Info("collector listening", zap.String("addr", addr), zap.String("path", s.path))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// auth checks the bearer token against the configured hashes. Tokens that
// passed bcrypt once are remembered.
func (s *Server) auth(next httprouter.Handle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		if len(s.tokenHashes) == 0 {
			next(w, r, ps)
			return
		}

		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if token == "" || token == r.Header.Get("Authorization") {
			s.unauthorized(w, "Unauthorized: Missing token")
			return
		}
		if _, ok := s.verified.Load(token); ok {
			next(w, r, ps)
			return
		}
		for _, hash := range s.tokenHashes {
			if bcrypt.CompareHashAndPassword(hash, []byte(token)) == nil {
				s.verified.Store(token, struct{}{})
				next(w, r, ps)
				return
			}
		}
		s.unauthorized(w, "Unauthorized: Invalid token")
	}
}

func (s *Server) unauthorized(w http.ResponseWriter, msg string) {
	s.rejected.WithLabelValues("unauthorized").Inc()
	w.Header().Set("WWW-Authenticate", `Bearer realm="logshim"`)
	http.Error(w, msg, http.StatusUnauthorized)
}

func (s *Server) handleLog(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxBodySize))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.rejected.WithLabelValues("too_large").Inc()
			http.Error(w, "Body too large", http.StatusRequestEntityTooLarge)
			return
		}
		s.logger.Warn("read body", zap.Error(err))
		http.Error(w, "Failed to read body", http.StatusInternalServerError)
		return
	}

	p := s.parser.Get()
	defer s.parser.Put(p)

	v, err := p.ParseBytes(body)
	if err != nil {
		s.rejected.WithLabelValues("invalid_json").Inc()
		http.Error(w, "Invalid JSON: "+err.Error(), http.StatusBadRequest)
		return
	}
	if v.Type() != fastjson.TypeObject {
		s.rejected.WithLabelValues("not_object").Inc()
		http.Error(w, "Body must be a JSON object", http.StatusBadRequest)
		return
	}
	data := v.Get("data")
	if data == nil {
		s.rejected.WithLabelValues("missing_data").Inc()
		http.Error(w, `Missing "data" member`, http.StatusBadRequest)
		return
	}

	rec := model.Record{
		ID:         uuid.NewString(),
		ReceivedAt: s.now().UnixNano(),
		InstanceID: r.Header.Get(InstanceIDKey),
		Remote:     remoteHost(r.RemoteAddr),
		Data:       json.RawMessage(data.MarshalTo(nil)),
	}
	if !s.buffer.Append(rec) {
		s.rejected.WithLabelValues("buffer_full").Inc()
		s.logger.Warn("buffer full, rejecting record", zap.Int("capacity", s.buffer.Cap()))
		http.Error(w, "Buffer full", http.StatusServiceUnavailable)
		return
	}
	s.clients.Touch(rec.InstanceID, rec.Remote)
	s.received.Inc()
	s.logger.Debug("record received",
		zap.String("id", rec.ID),
		zap.String("instance_id", rec.InstanceID),
		zap.ByteString("data", rec.Data))

	writeJSON(w, map[string]string{"status": "ok", "id": rec.ID})
}

func (s *Server) handleRecords(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	limit := DefaultLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}
	writeJSON(w, s.buffer.Recent(limit))
}

func (s *Server) handleClients(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	writeJSON(w, s.clients.List())
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func remoteHost(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
