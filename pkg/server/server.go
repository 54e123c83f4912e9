package server

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi"
	"github.com/go-chi/valve"
	"github.com/jpillora/backoff"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/bizflycloud/bizfly-bridge/pkg/bridge"
	"github.com/bizflycloud/bizfly-bridge/pkg/relay"
)

const statusOnline = "ONLINE"

// Sink receives every broker message the bridge relays outward.
type Sink func(m relay.Message)

// Server defines parameters for running the BizFly bridge HTTP server. It
// plays the supervisor role: HTTP requests become framed commands on the
// bridge command channel and relayed broker messages are drained into the
// configured sink.
type Server struct {
	Addr        string
	router      *chi.Mux
	b           *bridge.Bridge
	useUnixSock bool

	autoStart         bool
	heartbeatSchedule string
	heartbeatTopic    string
	cron              *cron.Cron
	sink              Sink

	payloadBytes uint64
	startedAt    time.Time

	// signal chan use for testing.
	testSignalCh chan os.Signal

	logger *zap.Logger
}

// New creates new server instance.
func New(opts ...Option) (*Server, error) {
	s := &Server{}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}

	s.router = chi.NewRouter()

	if s.logger == nil {
		l, err := zap.NewDevelopment()
		if err != nil {
			return nil, err
		}
		s.logger = l
	}
	if s.sink == nil {
		s.sink = func(m relay.Message) {
			s.logger.Info("Got broker message",
				zap.String("topic", m.Topic),
				zap.String("size", humanize.Bytes(uint64(len(m.Payload)))))
		}
	}

	s.setupRoutes()
	s.useUnixSock = strings.HasPrefix(s.Addr, "unix://")
	s.Addr = strings.TrimPrefix(s.Addr, "unix://")

	return s, nil
}

func (s *Server) setupRoutes() {
	s.router.Route("/bridge", func(r chi.Router) {
		r.Post("/connection", s.UpdateConnection)
		r.Post("/topics", s.Subscribe)
		r.Post("/publish", s.Publish)
		r.Post("/start", s.Start)
		r.Post("/stop", s.Stop)
		r.Get("/status", s.Status)
	})
}

type connectionRequest struct {
	Host        string `json:"host"`
	Port        int    `json:"port"`
	Keepalive   int    `json:"keepalive"`
	BindAddress string `json:"bind_address"`
}

type topicsRequest struct {
	Topics []string `json:"topics"`
}

type publishRequest struct {
	Topic   string `json:"topic"`
	Qos     byte   `json:"qos"`
	Retain  bool   `json:"retain"`
	Payload string `json:"payload"`
}

// StatusResponse is the body returned by GET /bridge/status.
type StatusResponse struct {
	State       string `json:"state"`
	Connected   bool   `json:"connected"`
	Relayed     uint64 `json:"relayed"`
	Dropped     uint64 `json:"dropped"`
	PayloadSize string `json:"payload_size"`
	Uptime      string `json:"uptime"`
}

func (s *Server) UpdateConnection(w http.ResponseWriter, r *http.Request) {
	var req connectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.b.Connect(req.Host, req.Port, req.Keepalive, req.BindAddress); err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) Subscribe(w http.ResponseWriter, r *http.Request) {
	var req topicsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.b.Subscribe(req.Topics...); err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) Publish(w http.ResponseWriter, r *http.Request) {
	var req publishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.b.Publish(req.Topic, []byte(req.Payload), req.Qos, req.Retain); err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) Start(w http.ResponseWriter, r *http.Request) {
	if err := s.b.Start(); err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) Stop(w http.ResponseWriter, r *http.Request) {
	if err := s.b.Stop(); err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) Status(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{
		State:       s.b.State().String(),
		Connected:   s.b.Connected(),
		Relayed:     s.b.Relayed(),
		Dropped:     s.b.Dropped(),
		PayloadSize: humanize.Bytes(atomic.LoadUint64(&s.payloadBytes)),
		Uptime:      time.Since(s.startedAt).String(),
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Error("failed to encode status", zap.Error(err))
	}
}

// superviseStart issues START with backoff until the bridge leaves Idle.
// After that the broker client library owns reconnecting on its own.
func (s *Server) superviseStart(ctx context.Context) {
	bo := &backoff.Backoff{Jitter: true}
	for s.b.State() == bridge.StateIdle {
		if err := s.b.Start(); err != nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(bo.Duration()):
		}
	}
}

// drainMessages consumes the bridge output until the bridge terminates.
func (s *Server) drainMessages() {
	for m := range s.b.Messages() {
		atomic.AddUint64(&s.payloadBytes, uint64(len(m.Payload)))
		s.sink(m)
	}
}

func (s *Server) publishHeartbeat() {
	msg := map[string]interface{}{
		"status":     statusOnline,
		"state":      s.b.State().String(),
		"relayed":    s.b.Relayed(),
		"created_at": time.Now().UTC().Format(time.RFC3339),
	}
	payload, _ := json.Marshal(msg)
	if err := s.b.Publish(s.heartbeatTopic, payload, 0, false); err != nil {
		s.logger.Warn("failed to publish heartbeat", zap.Error(err))
	}
}

func (s *Server) Run() error {
	// Graceful valve shut-off package to manage code preemption and shutdown signaling.
	valv := valve.New()
	baseCtx := valv.Context()
	s.startedAt = time.Now()

	if s.autoStart {
		go s.superviseStart(baseCtx)
	}
	go s.drainMessages()

	if s.heartbeatSchedule != "" {
		s.cron = cron.New()
		if _, err := s.cron.AddFunc(s.heartbeatSchedule, s.publishHeartbeat); err != nil {
			return err
		}
		s.cron.Start()
	}

	srv := http.Server{Handler: chi.ServerBaseContext(baseCtx, s.router)}

	c := make(chan os.Signal, 1)
	if s.testSignalCh != nil {
		c = s.testSignalCh
	}
	signal.Notify(c, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		<-c
		// signal is a ^C, handle it
		s.logger.Info("shutting down...")

		if s.cron != nil {
			s.cron.Stop()
		}

		// first valv
		if err := valv.Shutdown(20 * time.Second); err != nil {
			s.logger.Error("failed to shutdown valv")
		}

		// create context with timeout
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
		defer cancel()

		// start http shutdown
		if err := srv.Shutdown(ctx); err != nil {
			s.logger.Error("failed to shutdown http server")
		}

		// terminate the bridge last so the drain goroutine sees the
		// output channel close.
		s.b.Terminate()
	}()

	if s.useUnixSock {
		unixListener, err := net.Listen("unix", s.Addr)
		if err != nil {
			return err
		}
		return srv.Serve(unixListener)
	}

	srv.Addr = s.Addr
	return srv.ListenAndServe()
}
