package telephony

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sort"
	"strconv"
	"sync"
	"time"
)

// EventKind identifies a telephony lifecycle event.
type EventKind string

const (
	EventRegistered     EventKind = "registered"
	EventUnregistered   EventKind = "unregistered"
	EventIncomingCall   EventKind = "incomingCall"
	EventCallEnded      EventKind = "callEnded"
	EventConnectionLost EventKind = "connectionLost"
)

// Event carries a lifecycle notification and the status snapshot taken
// at emission time.
type Event struct {
	Kind      EventKind
	CallerID  string
	Timestamp time.Time
	Status    Status
}

// Handler receives events for a subscribed kind. Delivery is synchronous
// and in emission order; handlers run outside the service lock.
type Handler func(Event)

// Config holds the connection parameters for the upstream telephony server.
type Config struct {
	Server   string `json:"server"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	Domain   string `json:"domain,omitempty"`
}

// Status is a snapshot of the telephony session state.
type Status struct {
	Connected      bool       `json:"connected"`
	Registered     bool       `json:"registered"`
	LastError      string     `json:"lastError,omitempty"`
	LastConnection *time.Time `json:"lastConnection,omitempty"`
	ActiveCalls    int        `json:"activeCalls"`
}

const (
	defaultProbeTimeout     = 5 * time.Second
	defaultLivenessInterval = 30 * time.Second
)

// Service holds the telephony session: the active config, a status
// snapshot, and the liveness re-probe loop. Reachability is checked with
// a raw TCP connect, not a signaling transaction.
type Service struct {
	logger           *slog.Logger
	probeTimeout     time.Duration
	livenessInterval time.Duration

	mu             sync.Mutex
	cfg            Config
	status         Status
	livenessCancel context.CancelFunc
	gen            int // bumped on every Register/Unregister; stale loops must not touch state

	subMu     sync.Mutex
	nextSubID int
	subs      map[EventKind]map[int]Handler
}

// NewService creates a telephony session holder. Zero durations fall back
// to the 5s probe timeout and 30s liveness interval.
func NewService(logger *slog.Logger, probeTimeout, livenessInterval time.Duration) *Service {
	if probeTimeout <= 0 {
		probeTimeout = defaultProbeTimeout
	}
	if livenessInterval <= 0 {
		livenessInterval = defaultLivenessInterval
	}
	return &Service{
		logger:           logger.With("subsystem", "telephony"),
		probeTimeout:     probeTimeout,
		livenessInterval: livenessInterval,
		subs:             make(map[EventKind]map[int]Handler),
	}
}

// Probe attempts a TCP connect to the configured server and closes the
// connection immediately. It does not mutate session state.
func (s *Service) Probe(ctx context.Context, cfg Config) error {
	addr := net.JoinHostPort(cfg.Server, strconv.Itoa(cfg.Port))
	dialer := net.Dialer{Timeout: s.probeTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("connection to %s failed: %w", addr, err)
	}
	conn.Close()
	return nil
}

// Register probes the server and, on success, stores the config, marks
// the session connected and registered, and starts the liveness loop.
// On failure only LastError is updated.
func (s *Service) Register(ctx context.Context, cfg Config) error {
	if err := s.Probe(ctx, cfg); err != nil {
		s.mu.Lock()
		s.status.LastError = err.Error()
		s.mu.Unlock()
		return err
	}

	now := time.Now()

	s.mu.Lock()
	if s.livenessCancel != nil {
		s.livenessCancel()
	}
	s.gen++
	gen := s.gen
	s.cfg = cfg
	s.status.Connected = true
	s.status.Registered = true
	s.status.LastError = ""
	s.status.LastConnection = &now

	// Long-lived loop, detached from the registering request's context.
	liveCtx, cancel := context.WithCancel(context.Background())
	s.livenessCancel = cancel
	snapshot := s.status
	s.mu.Unlock()

	go s.livenessLoop(liveCtx, gen)

	s.logger.Info("registered", "server", cfg.Server, "port", cfg.Port, "username", cfg.Username)
	s.emit(Event{Kind: EventRegistered, Timestamp: now, Status: snapshot})
	return nil
}

// Unregister tears down the session and stops the liveness loop.
// Safe to call when not registered.
func (s *Service) Unregister() {
	now := time.Now()

	s.mu.Lock()
	if s.livenessCancel != nil {
		s.livenessCancel()
		s.livenessCancel = nil
	}
	s.gen++
	s.status.Connected = false
	s.status.Registered = false
	snapshot := s.status
	s.mu.Unlock()

	s.logger.Info("unregistered")
	s.emit(Event{Kind: EventUnregistered, Timestamp: now, Status: snapshot})
}

// GetStatus returns a copy of the current session status.
func (s *Service) GetStatus() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.status
	if s.status.LastConnection != nil {
		t := *s.status.LastConnection
		snapshot.LastConnection = &t
	}
	return snapshot
}

// SimulateIncomingCall injects a synthetic incoming call. This is the
// only call-origination path; there is no real signaling.
func (s *Service) SimulateIncomingCall(callerID string) {
	now := time.Now()

	s.mu.Lock()
	s.status.ActiveCalls++
	snapshot := s.status
	s.mu.Unlock()

	s.logger.Info("incoming call", "caller_id", callerID, "active_calls", snapshot.ActiveCalls)
	s.emit(Event{Kind: EventIncomingCall, CallerID: callerID, Timestamp: now, Status: snapshot})
}

// EndCall ends one active call. The counter never goes negative.
func (s *Service) EndCall() {
	now := time.Now()

	s.mu.Lock()
	if s.status.ActiveCalls > 0 {
		s.status.ActiveCalls--
	}
	snapshot := s.status
	s.mu.Unlock()

	s.logger.Info("call ended", "active_calls", snapshot.ActiveCalls)
	s.emit(Event{Kind: EventCallEnded, Timestamp: now, Status: snapshot})
}

// Subscribe registers a handler for an event kind and returns an
// unsubscribe func. Unsubscribing more than once is harmless.
func (s *Service) Subscribe(kind EventKind, handler Handler) func() {
	s.subMu.Lock()
	id := s.nextSubID
	s.nextSubID++
	if s.subs[kind] == nil {
		s.subs[kind] = make(map[int]Handler)
	}
	s.subs[kind][id] = handler
	s.subMu.Unlock()

	return func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		if handlers, ok := s.subs[kind]; ok {
			delete(handlers, id)
			if len(handlers) == 0 {
				delete(s.subs, kind)
			}
		}
	}
}

// emit delivers an event to subscribers in subscription order, outside
// the service lock.
func (s *Service) emit(ev Event) {
	s.subMu.Lock()
	ids := make([]int, 0, len(s.subs[ev.Kind]))
	for id := range s.subs[ev.Kind] {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	handlers := make([]Handler, 0, len(ids))
	for _, id := range ids {
		handlers = append(handlers, s.subs[ev.Kind][id])
	}
	s.subMu.Unlock()

	for _, h := range handlers {
		h(ev)
	}
}

// livenessLoop re-probes the stored config on every tick while the
// session is registered. One probe per tick, no backoff; the first
// failure tears the session down and stops the loop. gen identifies the
// registration this loop belongs to: after a re-register or unregister
// the generation moves on, and a loop that outlived its cancellation
// (probe in flight during the switch) must not touch the new session.
func (s *Service) livenessLoop(ctx context.Context, gen int) {
	s.logger.Debug("liveness loop started", "interval", s.livenessInterval.String())

	ticker := time.NewTicker(s.livenessInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		s.mu.Lock()
		if s.gen != gen {
			s.mu.Unlock()
			return
		}
		cfg := s.cfg
		s.mu.Unlock()

		err := s.Probe(ctx, cfg)
		if err == nil {
			continue
		}
		if ctx.Err() != nil {
			return
		}

		if s.markConnectionLost(gen, err) {
			s.logger.Warn("liveness probe failed", "server", cfg.Server, "port", cfg.Port, "error", err)
		}
		return
	}
}

// markConnectionLost tears the session down after a failed liveness
// probe, provided gen still identifies the current registration. Returns
// false without touching state when the caller is stale.
func (s *Service) markConnectionLost(gen int, probeErr error) bool {
	now := time.Now()

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return false
	}
	s.gen++
	s.status.Connected = false
	s.status.Registered = false
	s.status.LastError = probeErr.Error()
	if s.livenessCancel != nil {
		s.livenessCancel()
		s.livenessCancel = nil
	}
	snapshot := s.status
	s.mu.Unlock()

	s.emit(Event{Kind: EventConnectionLost, Timestamp: now, Status: snapshot})
	return true
}
