package connection

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cadwin95/Text2SQLAgent/pkg/handler"
)

const historyCap = 100

// Manager owns every configured connection and enforces that at most one is
// active. It delegates schema and query calls to the live handlers.
type Manager struct {
	factory *handler.Factory
	store   *Store
	logger  *slog.Logger

	// opMu serialises mutations end to end, including the connect phase
	// that runs outside the state lock.
	opMu sync.Mutex

	mu       sync.RWMutex
	conns    map[string]*Connection
	activeID string
	history  []Event
	started  time.Time
}

// NewManager creates a manager backed by the given factory and store.
func NewManager(factory *handler.Factory, store *Store, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		factory: factory,
		store:   store,
		logger:  logger,
		conns:   make(map[string]*Connection),
		started: time.Now(),
	}
}

// Load populates the manager from the store. Loaded connections start in
// the configured state; nothing is dialled.
func (m *Manager) Load(ctx context.Context) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	configs, err := m.store.Load()
	if err != nil {
		return err
	}

	now := time.Now()
	m.mu.Lock()
	for _, cfg := range configs {
		if cfg.ID == "" {
			m.logger.Warn("skipping stored connection without id", "name", cfg.Name)
			continue
		}
		m.conns[cfg.ID] = &Connection{
			Config:    cfg,
			State:     StateConfigured,
			CreatedAt: now,
			UpdatedAt: now,
		}
	}
	count := len(m.conns)
	m.mu.Unlock()

	m.logger.Info("connections loaded", "count", count)
	return nil
}

// Create validates and stores a new connection config. An empty id gets a
// generated uuid; an empty name falls back to the kind plus an id prefix.
func (m *Manager) Create(ctx context.Context, cfg handler.Config) (string, error) {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	if cfg.ID == "" {
		cfg.ID = uuid.New().String()
	}
	if cfg.Name == "" {
		cfg.Name = fmt.Sprintf("%s-%.8s", cfg.Kind, cfg.ID)
	}

	// Full construction catches option errors plain validation cannot,
	// such as a broken external table declaration.
	if _, err := m.factory.Make(cfg); err != nil {
		return "", err
	}

	now := time.Now()
	m.mu.Lock()
	if _, exists := m.conns[cfg.ID]; exists {
		m.mu.Unlock()
		return "", fmt.Errorf("%w: %s", ErrDuplicateID, cfg.ID)
	}
	m.conns[cfg.ID] = &Connection{
		Config:    cfg,
		State:     StateConfigured,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.mu.Unlock()

	m.persist()
	m.record("created", cfg.ID, string(cfg.Kind))
	m.logger.Info("connection created", "connection_id", cfg.ID, "kind", cfg.Kind)
	return cfg.ID, nil
}

// Update replaces the config of an existing connection. A live handler is
// torn down first since it belongs to the old config.
func (m *Manager) Update(ctx context.Context, id string, cfg handler.Config) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	cfg.ID = id
	if _, err := m.factory.Make(cfg); err != nil {
		return err
	}

	m.mu.Lock()
	conn, ok := m.conns[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	old := conn.Handler
	if m.activeID == id {
		m.activeID = ""
	}
	if cfg.Name == "" {
		cfg.Name = conn.Config.Name
	}
	conn.Config = cfg
	conn.Handler = nil
	conn.State = StateConfigured
	conn.LastError = ""
	conn.UpdatedAt = time.Now()
	m.mu.Unlock()

	if old != nil {
		if err := old.Disconnect(ctx); err != nil {
			m.logger.Warn("disconnect during update failed", "connection_id", id, "error", err)
		}
	}

	m.persist()
	m.record("updated", id, "")
	return nil
}

// Test builds a throwaway handler for the config, connects, runs the
// handler's own probe and tears everything down. Nothing is persisted.
func (m *Manager) Test(ctx context.Context, cfg handler.Config) (*handler.TestResult, error) {
	h, err := m.factory.Make(cfg)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	if err := h.Connect(ctx); err != nil {
		return &handler.TestResult{Success: false, Error: err.Error()}, nil
	}
	defer func() {
		if err := h.Disconnect(context.WithoutCancel(ctx)); err != nil {
			m.logger.Debug("disconnect after test failed", "kind", cfg.Kind, "error", err)
		}
	}()

	result, err := h.Test(ctx)
	if err != nil {
		return &handler.TestResult{Success: false, Error: err.Error()}, nil
	}
	if result.LatencyMS == 0 {
		result.LatencyMS = time.Since(start).Milliseconds()
	}
	return result, nil
}

// Activate connects the target (if needed) and makes it the single active
// connection. The previous active connection stays connected, just not
// active. Activating the already-active id is a no-op.
func (m *Manager) Activate(ctx context.Context, id string) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	conn, ok := m.conns[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if m.activeID == id && conn.State == StateActive {
		m.mu.Unlock()
		return nil
	}
	h := conn.Handler
	cfg := conn.Config
	needConnect := !conn.live()
	if needConnect {
		conn.State = StateConnecting
		conn.UpdatedAt = time.Now()
	}
	m.mu.Unlock()

	if needConnect {
		if h == nil {
			var err error
			h, err = m.factory.Make(cfg)
			if err != nil {
				m.setError(id, err)
				return err
			}
		}
		if err := h.Connect(ctx); err != nil {
			m.setError(id, err)
			return err
		}
	}

	m.mu.Lock()
	if prev := m.activeID; prev != "" && prev != id {
		if p, ok := m.conns[prev]; ok && p.State == StateActive {
			p.State = StateConnected
			p.UpdatedAt = time.Now()
		}
	}
	conn.Handler = h
	conn.State = StateActive
	conn.LastError = ""
	conn.UpdatedAt = time.Now()
	m.activeID = id
	m.mu.Unlock()

	m.record("activated", id, "")
	m.logger.Info("connection activated", "connection_id", id, "kind", cfg.Kind)
	return nil
}

// Deactivate removes the active flag. The handler stays connected.
// Deactivating a connection that is not active is a no-op.
func (m *Manager) Deactivate(ctx context.Context, id string) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	conn, ok := m.conns[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if m.activeID != id {
		m.mu.Unlock()
		return nil
	}
	m.activeID = ""
	conn.State = StateConnected
	conn.UpdatedAt = time.Now()
	m.mu.Unlock()

	m.record("deactivated", id, "")
	m.logger.Info("connection deactivated", "connection_id", id)
	return nil
}

// Remove tears down the handler and deletes the entry. Removing a missing
// id is a no-op; removing the active connection deactivates it first.
func (m *Manager) Remove(ctx context.Context, id string) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	conn, ok := m.conns[id]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	if m.activeID == id {
		m.activeID = ""
	}
	h := conn.Handler
	delete(m.conns, id)
	m.mu.Unlock()

	if h != nil {
		if err := h.Disconnect(ctx); err != nil {
			m.logger.Warn("disconnect during remove failed", "connection_id", id, "error", err)
		}
	}

	m.persist()
	m.record("removed", id, "")
	m.logger.Info("connection removed", "connection_id", id)
	return nil
}

// Get returns the snapshot of one connection.
func (m *Manager) Get(id string) (Info, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	conn, ok := m.conns[id]
	if !ok {
		return Info{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return conn.info(), nil
}

// GetConfig returns a copy of the stored config, credentials included.
func (m *Manager) GetConfig(id string) (handler.Config, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	conn, ok := m.conns[id]
	if !ok {
		return handler.Config{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return conn.Config.Clone(), nil
}

// List returns all connections sorted by creation time, then id.
func (m *Manager) List() []Info {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Info, 0, len(m.conns))
	for _, conn := range m.conns {
		out = append(out, conn.info())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Active reports the id of the active connection, if any.
func (m *Manager) Active() (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.activeID, m.activeID != ""
}

// ActiveHandler returns the live handler of the active connection.
func (m *Manager) ActiveHandler() (handler.Handler, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	conn, ok := m.conns[m.activeID]
	if !ok || !conn.live() {
		return nil, false
	}
	return conn.Handler, true
}

// liveHandler resolves id (empty means the active connection) to a handler
// that can serve calls.
func (m *Manager) liveHandler(id string) (handler.Handler, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if id == "" {
		id = m.activeID
		if id == "" {
			return nil, fmt.Errorf("%w: no active connection", ErrNotConnected)
		}
	}
	conn, ok := m.conns[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if !conn.live() {
		return nil, fmt.Errorf("%w: %s", ErrNotConnected, id)
	}
	return conn.Handler, nil
}

// Schema delegates to the handler behind id; empty id targets the active
// connection.
func (m *Manager) Schema(ctx context.Context, id string, includeColumns bool) (*handler.SchemaSnapshot, error) {
	h, err := m.liveHandler(id)
	if err != nil {
		return nil, err
	}
	return h.Schema(ctx, includeColumns)
}

// Execute delegates to the handler behind id; empty id targets the active
// connection. Resolution failures land in the result, matching the handler
// contract.
func (m *Manager) Execute(ctx context.Context, id, query string, params map[string]any) *handler.QueryResult {
	h, err := m.liveHandler(id)
	if err != nil {
		return handler.FailedResult("%v", err)
	}
	return h.Execute(ctx, query, params)
}

// Refresh re-probes a live connection and returns a fresh schema snapshot.
func (m *Manager) Refresh(ctx context.Context, id string) (*handler.TestResult, *handler.SchemaSnapshot, error) {
	h, err := m.liveHandler(id)
	if err != nil {
		return nil, nil, err
	}

	test, err := h.Test(ctx)
	if err != nil {
		return nil, nil, err
	}
	if !test.Success {
		return test, nil, fmt.Errorf("connection test failed: %s", test.Error)
	}
	snapshot, err := h.Schema(ctx, true)
	if err != nil {
		return test, nil, err
	}

	m.record("refreshed", id, "")
	return test, snapshot, nil
}

// History returns recent lifecycle events, newest first.
func (m *Manager) History(limit int) []Event {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := len(m.history)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]Event, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, m.history[i])
	}
	return out
}

// Status summarises the manager.
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status := Status{
		Total:         len(m.conns),
		ByKind:        make(map[handler.Kind]int),
		ByState:       make(map[State]int),
		ActiveID:      m.activeID,
		UptimeSeconds: int64(time.Since(m.started).Seconds()),
	}
	for _, conn := range m.conns {
		status.ByKind[conn.Config.Kind]++
		status.ByState[conn.State]++
	}
	return status
}

// Shutdown disconnects every live handler. Connections drop back to the
// configured state.
func (m *Manager) Shutdown(ctx context.Context) {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	var handlers []handler.Handler
	var ids []string
	for id, conn := range m.conns {
		if conn.Handler != nil {
			handlers = append(handlers, conn.Handler)
			ids = append(ids, id)
			conn.Handler = nil
			conn.State = StateConfigured
			conn.UpdatedAt = time.Now()
		}
	}
	m.activeID = ""
	m.mu.Unlock()

	for i, h := range handlers {
		if err := h.Disconnect(ctx); err != nil {
			m.logger.Warn("disconnect during shutdown failed", "connection_id", ids[i], "error", err)
		}
	}
	m.logger.Info("connection manager shut down", "disconnected", len(handlers))
}

// setError marks a connection failed after a connect attempt.
func (m *Manager) setError(id string, err error) {
	m.mu.Lock()
	if conn, ok := m.conns[id]; ok {
		conn.State = StateError
		conn.LastError = err.Error()
		conn.UpdatedAt = time.Now()
	}
	m.mu.Unlock()

	m.record("error", id, err.Error())
	m.logger.Error("connection failed", "connection_id", id, "error", err)
}

// persist writes the current config set through the store. Failures are
// logged, not returned; the in-memory view stays authoritative for the run.
func (m *Manager) persist() {
	m.mu.RLock()
	configs := make([]handler.Config, 0, len(m.conns))
	for _, conn := range m.conns {
		configs = append(configs, conn.Config)
	}
	m.mu.RUnlock()

	if err := m.store.Save(configs); err != nil {
		m.logger.Error("persisting connections failed", "error", err)
	}
}

func (m *Manager) record(action, id, detail string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.history = append(m.history, Event{
		Time:         time.Now(),
		Action:       action,
		ConnectionID: id,
		Detail:       detail,
	})
	if len(m.history) > historyCap {
		m.history = m.history[len(m.history)-historyCap:]
	}
}
