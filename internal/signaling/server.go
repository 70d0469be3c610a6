package signaling

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/wilsonzlin/aero/proxy/webrtc-signaling-relay/internal/auth"
	"github.com/wilsonzlin/aero/proxy/webrtc-signaling-relay/internal/config"
	"github.com/wilsonzlin/aero/proxy/webrtc-signaling-relay/internal/keepalive"
	"github.com/wilsonzlin/aero/proxy/webrtc-signaling-relay/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-signaling-relay/internal/origin"
	"github.com/wilsonzlin/aero/proxy/webrtc-signaling-relay/internal/relay"
)

// Config wires together the runtime dependencies for the signaling service.
type Config struct {
	Relay    *relay.Relay
	Verifier auth.Verifier
	Metrics  *metrics.Metrics
	Logger   *slog.Logger

	// AllowedOrigins is the Origin allow-list for upgrades. Empty means
	// same-host only.
	AllowedOrigins []string

	PingInterval time.Duration
	// Clock drives keepalive probes. Nil means the wall clock.
	Clock clock.Clock

	MaxMessageBytes      int64
	MaxMessagesPerSecond int
	SendQueueBytes       int
}

// ConfigFrom maps process configuration onto a signaling Config.
func ConfigFrom(cfg config.Config) Config {
	return Config{
		AllowedOrigins:       cfg.AllowedOrigins,
		PingInterval:         cfg.SignalingWSPingInterval,
		MaxMessageBytes:      cfg.MaxSignalingMessageBytes,
		MaxMessagesPerSecond: cfg.MaxSignalingMessagesPerSecond,
		SendQueueBytes:       cfg.SignalingSendQueueBytes,
	}
}

// Server implements the relay's WebSocket surface.
//
// Endpoints:
//   - GET /events : event envelope framing
//   - GET /ws     : raw frame framing
//   - GET /       : raw frame framing when upgrading, plain "ok" otherwise
type Server struct {
	relay    *relay.Relay
	verifier auth.Verifier
	metrics  *metrics.Metrics
	log      *slog.Logger

	allowedOrigins []string
	keepalive      *keepalive.Supervisor

	maxMessageBytes      int64
	maxMessagesPerSecond int
	sendQueueBytes       int

	upgrader websocket.Upgrader

	mu      sync.Mutex
	closing bool
	wg      sync.WaitGroup
}

func NewServer(cfg Config) *Server {
	s := &Server{
		relay:                cfg.Relay,
		verifier:             cfg.Verifier,
		metrics:              cfg.Metrics,
		log:                  cfg.Logger,
		allowedOrigins:       cfg.AllowedOrigins,
		keepalive:            keepalive.New(cfg.PingInterval, cfg.Clock),
		maxMessageBytes:      cfg.MaxMessageBytes,
		maxMessagesPerSecond: cfg.MaxMessagesPerSecond,
		sendQueueBytes:       cfg.SendQueueBytes,
	}
	if s.relay == nil {
		s.relay = relay.New(nil, cfg.Metrics, cfg.Logger)
	}
	if s.verifier == nil {
		s.verifier = auth.AnonymousVerifier{}
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	if s.maxMessageBytes <= 0 {
		s.maxMessageBytes = config.DefaultMaxSignalingMessageBytes
	}
	if s.maxMessagesPerSecond <= 0 {
		s.maxMessagesPerSecond = config.DefaultMaxSignalingMessagesPerSecond
	}
	if s.sendQueueBytes <= 0 {
		s.sendQueueBytes = config.DefaultSignalingSendQueueBytes
	}
	s.upgrader = websocket.Upgrader{CheckOrigin: s.checkOrigin}
	return s
}

func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /events", s.handleEvents)
	mux.HandleFunc("GET /ws", s.handleFrames)
	mux.HandleFunc("GET /{$}", s.handleRoot)
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return mux
}

func (s *Server) Relay() *relay.Relay { return s.relay }

// Shutdown closes every live connection and waits for their teardown to
// finish, or for ctx to end.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()
	s.relay.CloseAll()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	s.serve(w, r, FramingEvents)
}

func (s *Server) handleFrames(w http.ResponseWriter, r *http.Request) {
	s.serve(w, r, FramingFrames)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if websocket.IsWebSocketUpgrade(r) {
		s.serve(w, r, FramingFrames)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if _, ok := origin.CheckRequest(r, s.allowedOrigins); !ok {
		s.metrics.Inc(metrics.OriginRejected)
		s.log.Warn("signaling_origin_rejected", "origin", r.Header.Get("Origin"), "remote_addr", r.RemoteAddr)
		return false
	}
	return true
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request, framing Framing) {
	identity, err := auth.Authenticate(s.verifier, r)
	if err != nil && !auth.IsUnauthorized(err) {
		s.log.Error("signaling_auth_error", "remote_addr", r.RemoteAddr, "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if err != nil {
		s.metrics.Inc(metrics.AuthFailure)
		s.log.Warn("signaling_auth_rejected", "remote_addr", r.RemoteAddr, "reason", authFailureReason(err))
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	conn.SetReadLimit(s.maxMessageBytes)

	ws := newWSConn(conn, codecFor(framing), s.sendQueueBytes, s.metrics)
	c, err := s.admit(ws, identity)
	if err != nil {
		switch {
		case errors.Is(err, relay.ErrTooManyConnections):
			ws.closeWith(websocket.CloseTryAgainLater, "too many connections")
		case errors.Is(err, errShuttingDown):
			ws.closeWith(websocket.CloseGoingAway, "server shutting down")
		default:
			ws.closeWith(websocket.CloseInternalServerErr, "internal error")
		}
		return
	}
	defer s.wg.Done()

	go ws.writeLoop()
	if framing == FramingEvents {
		if greeting, err := encodeConnected(c.ID()); err == nil {
			_ = ws.sendRaw(greeting)
		}
	}

	s.session(c, ws, framing)
}

// admit registers ws with the relay unless Shutdown has begun. Admission and
// the WaitGroup count happen under mu so Shutdown never misses a connection.
func (s *Server) admit(ws *wsConn, identity auth.Identity) (*relay.Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return nil, errShuttingDown
	}
	c, err := s.relay.Admit(ws, identity)
	if err != nil {
		return nil, err
	}
	s.wg.Add(1)
	return c, nil
}

func (s *Server) session(c *relay.Connection, ws *wsConn, framing Framing) {
	log := s.log.With("conn_id", c.ID(), "framing", framing.String())
	log.Info("signaling_connected", "subject", c.Identity().SubjectID)

	wd := s.keepalive.Watch(keepaliveConn{ws})
	ws.conn.SetPongHandler(func(string) error {
		wd.Ack()
		return nil
	})

	defer func() {
		wd.Stop()
		s.relay.Disconnect(c)
		if wd.TimedOut() {
			s.metrics.Inc(metrics.KeepaliveTimeout)
			log.Info("keepalive_timeout")
		}
		log.Info("signaling_disconnected")
	}()

	limiter := rate.NewLimiter(rate.Limit(s.maxMessagesPerSecond), s.maxMessagesPerSecond)
	dec := ws.codec

	for {
		msgType, data, err := ws.conn.ReadMessage()
		if err != nil {
			if errors.Is(err, websocket.ErrReadLimit) {
				s.metrics.Inc(metrics.MessageTooLarge)
				ws.closeWith(websocket.CloseMessageTooBig, "message too large")
			}
			return
		}
		// Checked after the read so the frame is consumed and the client
		// reliably sees the close code instead of a reset.
		if !limiter.Allow() {
			s.metrics.Inc(metrics.RateLimited)
			ws.closeWith(websocket.ClosePolicyViolation, "rate limit exceeded")
			return
		}
		if msgType != websocket.TextMessage {
			ws.closeWith(websocket.CloseUnsupportedData, "expected text message")
			return
		}

		msg, err := dec.decode(data)
		if err != nil {
			if errors.Is(err, errUnknownType) {
				s.metrics.Inc(metrics.DroppedUnknownType)
			} else {
				s.metrics.Inc(metrics.DroppedMalformed)
			}
			log.Debug("signaling_frame_dropped", "err", err)
			continue
		}

		s.relay.Deliver(s.relay.Handle(c, msg))
	}
}

func authFailureReason(err error) string {
	switch {
	case errors.Is(err, auth.ErrMissingCredentials):
		return "missing"
	case errors.Is(err, auth.ErrExpiredCredentials):
		return "expired"
	default:
		return "invalid"
	}
}
