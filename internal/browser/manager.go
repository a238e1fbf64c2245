package browser

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/neboloop/browserd/internal/lifecycle"
	"github.com/neboloop/browserd/internal/logging"
)

// DefaultSessionID is used when a client does not name a session.
const DefaultSessionID = "default"

// ManagerOptions tunes session limits and idle reaping.
type ManagerOptions struct {
	// MaxSessions caps concurrently open sessions; 0 means unlimited.
	MaxSessions int

	// IdleTimeout closes sessions unused for this long; 0 disables reaping.
	IdleTimeout time.Duration

	// ReapSchedule is a cron spec for the reaper, e.g. "@every 1m".
	ReapSchedule string

	// Events receives session and tree lifecycle events. Nil uses the process default.
	Events *lifecycle.Manager
}

// Manager maps session ids to sessions and owns the shared supervisor.
type Manager struct {
	cfg        *ResolvedConfig
	driver     Driver
	supervisor *Supervisor
	events     *lifecycle.Manager
	audit      *auditLogger
	log        *zap.Logger

	mu          sync.Mutex
	sessions    map[string]*Session
	maxSessions int
	idleTimeout time.Duration
	shutdown    bool
	started     bool

	cron      *cron.Cron
	reapEntry cron.EntryID
	schedule  string
}

// NewManager returns a manager driving engines through driver.
func NewManager(cfg *ResolvedConfig, driver Driver, opts ManagerOptions) *Manager {
	events := opts.Events
	if events == nil {
		events = lifecycle.Default()
	}
	return &Manager{
		cfg:         cfg,
		driver:      driver,
		supervisor:  NewSupervisor(driver, cfg),
		events:      events,
		audit:       newAuditLogger(),
		log:         logging.Named("browser"),
		sessions:    make(map[string]*Session),
		maxSessions: opts.MaxSessions,
		idleTimeout: opts.IdleTimeout,
		schedule:    opts.ReapSchedule,
	}
}

// Config returns the resolved browser configuration.
func (m *Manager) Config() *ResolvedConfig {
	return m.cfg
}

// Events returns the lifecycle manager sessions emit to.
func (m *Manager) Events() *lifecycle.Manager {
	return m.events
}

// Session gets or creates the session with the given id.
func (m *Manager) Session(id string) (*Session, error) {
	if id == "" {
		id = DefaultSessionID
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.shutdown {
		return nil, fmt.Errorf("%w: manager is shutting down", ErrSessionClosed)
	}
	if s, ok := m.sessions[id]; ok && !s.IsClosed() {
		return s, nil
	}
	// Drop a stale closed session before counting.
	delete(m.sessions, id)

	if m.maxSessions > 0 && len(m.sessions) >= m.maxSessions {
		return nil, fmt.Errorf("%w: maximum number of sessions (%d) reached", ErrSessionLimit, m.maxSessions)
	}

	s := newSession(id, m.supervisor, m.cfg, m.events, m.audit)
	m.sessions[id] = s
	m.log.Info("session created", zap.String("session", id))
	m.events.Emit(lifecycle.EventSessionNew, lifecycle.SessionEventData{SessionID: id})
	return s, nil
}

// Lookup returns an existing session without creating one.
func (m *Manager) Lookup(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok || s.IsClosed() {
		return nil, false
	}
	return s, true
}

// CloseSession closes a session and forgets it. Unknown ids are a no-op.
func (m *Manager) CloseSession(ctx context.Context, id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()

	if !ok {
		return nil
	}
	err := s.Close(ctx)
	m.log.Info("session closed", zap.String("session", id))
	m.events.Emit(lifecycle.EventSessionClosed, lifecycle.SessionEventData{SessionID: id})
	return err
}

// Sessions lists open sessions ordered by id.
func (m *Manager) Sessions() []SessionInfo {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	infos := make([]SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		infos = append(infos, s.info())
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

// Stats counts open sessions, browsers and pages.
type Stats struct {
	Sessions int `json:"sessions"`
	Browsers int `json:"browsers"`
	Contexts int `json:"contexts"`
	Pages    int `json:"pages"`
}

func (m *Manager) Stats() Stats {
	var st Stats
	for _, info := range m.Sessions() {
		st.Sessions++
		if info.BrowserID != "" {
			st.Browsers++
		}
		st.Contexts += info.Contexts
		st.Pages += info.Pages
	}
	return st
}

// SetLimits updates the session cap and idle timeout; used on config reload.
func (m *Manager) SetLimits(maxSessions int, idleTimeout time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.maxSessions = maxSessions
	m.idleTimeout = idleTimeout
}

// ReapIdle closes sessions idle since before now minus the idle timeout and
// returns their ids.
func (m *Manager) ReapIdle(ctx context.Context, now time.Time) []string {
	m.mu.Lock()
	idle := m.idleTimeout
	var stale []string
	if idle > 0 {
		for id, s := range m.sessions {
			if now.Sub(s.LastUsed()) > idle {
				stale = append(stale, id)
			}
		}
	}
	m.mu.Unlock()

	sort.Strings(stale)
	for _, id := range stale {
		if err := m.CloseSession(ctx, id); err != nil {
			m.log.Warn("closing idle session failed", zap.String("session", id), zap.Error(err))
		}
		m.events.Emit(lifecycle.EventSessionReaped, lifecycle.SessionEventData{SessionID: id})
	}
	if len(stale) > 0 {
		m.log.Info("reaped idle sessions", zap.Int("count", len(stale)), zap.Duration("idle_timeout", idle))
	}
	return stale
}

// Start schedules the idle reaper. It is a no-op without a schedule.
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return nil
	}
	if err := m.scheduleLocked(m.schedule); err != nil {
		return err
	}
	m.started = true
	return nil
}

// scheduleLocked points the reaper at schedule, creating or dropping the
// cron runner as needed. m.mu must be held.
func (m *Manager) scheduleLocked(schedule string) error {
	if schedule == "" {
		if m.cron != nil && m.reapEntry != 0 {
			m.cron.Remove(m.reapEntry)
			m.reapEntry = 0
		}
		m.schedule = ""
		return nil
	}
	if m.cron != nil && m.reapEntry != 0 && schedule == m.schedule {
		return nil
	}
	c := m.cron
	if c == nil {
		c = cron.New()
	}
	id, err := c.AddFunc(schedule, m.reap)
	if err != nil {
		return fmt.Errorf("reaper schedule %q: %w", schedule, err)
	}
	if m.cron == nil {
		m.cron = c
		c.Start()
	} else if m.reapEntry != 0 {
		c.Remove(m.reapEntry)
	}
	m.reapEntry = id
	m.schedule = schedule
	return nil
}

func (m *Manager) reap() {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.CloseTimeout*2)
	defer cancel()
	m.ReapIdle(ctx, time.Now())
}

// Reschedule swaps the reaper schedule. Before Start it only records it.
func (m *Manager) Reschedule(schedule string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.started || m.shutdown {
		m.schedule = schedule
		return nil
	}
	return m.scheduleLocked(schedule)
}

// Check reports whether engine can be launched.
func (m *Manager) Check(ctx context.Context, engine Engine) error {
	return m.supervisor.Check(ctx, engine)
}

// Shutdown stops the reaper, closes every session and releases the driver.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.shutdown = true
	c := m.cron
	m.cron = nil
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	if c != nil {
		<-c.Stop().Done()
	}

	var errs []error
	for _, id := range ids {
		if err := m.CloseSession(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	m.supervisor.Wait()
	if err := m.driver.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
