package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ntealan/genaiti/chain"
	"github.com/ntealan/genaiti/llm"
	"github.com/ntealan/genaiti/store"
)

var (
	// ErrNotFound is returned for an unknown session ID.
	ErrNotFound = errors.New("session: not found")

	// ErrNoHistory is returned by lookups over the run log when the manager
	// has no store.
	ErrNoHistory = errors.New("session: run log disabled")
)

// Store is the persistence the manager needs. *store.Store implements it.
type Store interface {
	SaveSession(ctx context.Context, id, settings string) error
	GetSession(ctx context.Context, id string) (*store.Session, error)
	DeleteSession(ctx context.Context, id string) error
	AppendMessage(ctx context.Context, m store.Message) (int64, error)
	Transcript(ctx context.Context, sessionID string) ([]store.Message, error)
	LogRun(ctx context.Context, r store.Run) (int64, error)
	ListRuns(ctx context.Context, f store.RunFilter) ([]store.Run, error)
	InsertQuestionEmbedding(ctx context.Context, runRowID int64, embedding []float32) error
	RelatedRuns(ctx context.Context, question string, embedding []float32, k int) ([]store.RelatedRun, error)
}

// binding pairs settings with the chain built from them. It is replaced as a
// whole so a run never sees one without the other.
type binding struct {
	settings Settings
	chain    *chain.Chain
}

// Session is one conversation.
type Session struct {
	id      string
	created time.Time
	current atomic.Pointer[binding]
}

func (s *Session) ID() string { return s.id }

func (s *Session) CreatedAt() time.Time { return s.created }

// Settings returns the settings the current chain was built from.
func (s *Session) Settings() Settings { return s.current.Load().settings }

// Chain returns the current chain. Runs already holding an older chain are
// unaffected by updates.
func (s *Session) Chain() *chain.Chain { return s.current.Load().chain }

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the manager's logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithEmbedder embeds each question so similar past runs can be found.
func WithEmbedder(p llm.Provider) Option {
	return func(m *Manager) { m.embedder = p }
}

// Manager owns the live sessions.
type Manager struct {
	builder  atomic.Pointer[Builder]
	store    Store
	embedder llm.Provider
	logger   *zap.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager creates a manager. A nil store keeps sessions in memory only.
func NewManager(b *Builder, st Store, opts ...Option) *Manager {
	m := &Manager{
		store:    st,
		logger:   zap.NewNop(),
		sessions: make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.builder.Store(b)
	return m
}

// Create builds a chain for settings and registers a new session.
func (m *Manager) Create(ctx context.Context, settings Settings) (*Session, error) {
	return m.create(ctx, uuid.NewString(), settings)
}

// CreateWithID is Create with a caller-chosen ID, replacing any session
// already registered under it.
func (m *Manager) CreateWithID(ctx context.Context, id string, settings Settings) (*Session, error) {
	return m.create(ctx, id, settings)
}

func (m *Manager) create(ctx context.Context, id string, settings Settings) (*Session, error) {
	c, err := m.builder.Load().Build(ctx, settings)
	if err != nil {
		return nil, err
	}

	s := &Session{id: id, created: time.Now()}
	s.current.Store(&binding{settings: settings, chain: c})

	if err := m.persist(ctx, id, settings); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.sessions[id] = s
	m.mu.Unlock()

	m.logger.Info("session: created", zap.String("session_id", id))
	return s, nil
}

// Get returns a live session, restoring it from the store when it is not in
// memory.
func (m *Manager) Get(ctx context.Context, id string) (*Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if ok {
		return s, nil
	}
	if m.store == nil {
		return nil, ErrNotFound
	}

	rec, err := m.store.GetSession(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading session %s: %w", id, err)
	}

	settings := DefaultSettings()
	if err := json.Unmarshal([]byte(rec.Settings), &settings); err != nil {
		return nil, fmt.Errorf("decoding settings of session %s: %w", id, err)
	}
	c, err := m.builder.Load().Build(ctx, settings)
	if err != nil {
		return nil, err
	}

	s = &Session{id: id, created: time.Now()}
	s.current.Store(&binding{settings: settings, chain: c})

	m.mu.Lock()
	if existing, ok := m.sessions[id]; ok {
		s = existing
	} else {
		m.sessions[id] = s
	}
	m.mu.Unlock()

	m.logger.Info("session: restored", zap.String("session_id", id))
	return s, nil
}

// List returns the live sessions ordered by creation time.
func (m *Manager) List() []*Session {
	m.mu.RLock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].created.Before(out[j].created) })
	return out
}

// Update builds a whole new chain from settings and swaps it in. On error
// the session keeps its previous chain.
func (m *Manager) Update(ctx context.Context, id string, settings Settings) (*Session, error) {
	s, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	var c *chain.Chain
	for {
		b := m.builder.Load()
		if c, err = b.Build(ctx, settings); err != nil {
			return nil, err
		}
		// a SetBuilder that ran meanwhile did not see these settings
		if m.builder.Load() == b {
			break
		}
	}
	if err := m.persist(ctx, id, settings); err != nil {
		return nil, err
	}
	s.current.Store(&binding{settings: settings, chain: c})

	m.logger.Info("session: settings updated", zap.String("session_id", id))
	return s, nil
}

// SetBuilder replaces the builder and rebuilds every live session with it.
// Sessions whose rebuild fails keep their previous chain; the first error is
// returned.
func (m *Manager) SetBuilder(ctx context.Context, b *Builder) error {
	m.builder.Store(b)

	var first error
	for _, s := range m.List() {
		if err := rebuild(ctx, s, b); err != nil {
			m.logger.Warn("session: rebuild failed", zap.String("session_id", s.id), zap.Error(err))
			if first == nil {
				first = fmt.Errorf("rebuilding session %s: %w", s.id, err)
			}
		}
	}
	return first
}

// rebuild swaps in a chain built by b from the session's current settings.
// An Update landing during the build wins the swap and is rebuilt in turn.
func rebuild(ctx context.Context, s *Session, b *Builder) error {
	for {
		old := s.current.Load()
		c, err := b.Build(ctx, old.settings)
		if err != nil {
			return err
		}
		if s.current.CompareAndSwap(old, &binding{settings: old.settings, chain: c}) {
			return nil
		}
	}
}

// Close forgets a session and deletes its transcript.
func (m *Manager) Close(ctx context.Context, id string) error {
	m.mu.Lock()
	_, live := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()

	if m.store == nil {
		if !live {
			return ErrNotFound
		}
		return nil
	}
	err := m.store.DeleteSession(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		if live {
			return nil
		}
		return ErrNotFound
	}
	return err
}

// Ask runs one question through the session's current chain and records
// the turn. Persistence failures are logged, never returned.
func (m *Manager) Ask(ctx context.Context, id, question string) (*chain.Result, error) {
	s, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	c := s.Chain()

	m.record(ctx, store.Message{SessionID: id, Role: store.RoleUser, Content: question})

	res, err := c.Run(ctx, question)
	if err != nil {
		m.logRun(ctx, store.Run{
			RunID:     uuid.NewString(),
			SessionID: id,
			Question:  question,
			Outcome:   chain.OutcomeError,
			Fault:     err.Error(),
		}, question)
		return nil, err
	}

	m.record(ctx, store.Message{SessionID: id, Role: store.RoleAssistant, Content: res.Answer, RunID: res.RunID.String()})
	m.logRun(ctx, RunRecord(id, res), question)
	return res, nil
}

// Transcript returns a session's messages in order.
func (m *Manager) Transcript(ctx context.Context, id string) ([]store.Message, error) {
	if m.store == nil {
		return nil, nil
	}
	return m.store.Transcript(ctx, id)
}

// History returns a session's most recent runs, newest first.
func (m *Manager) History(ctx context.Context, id string, limit int) ([]store.Run, error) {
	if m.store == nil {
		return nil, nil
	}
	return m.store.ListRuns(ctx, store.RunFilter{SessionID: id, Limit: limit})
}

// Related returns up to k past runs related to question, from any session.
// Without an embedder, or when embedding fails, runs are ranked by keywords
// alone.
func (m *Manager) Related(ctx context.Context, question string, k int) ([]store.RelatedRun, error) {
	if m.store == nil {
		return nil, ErrNoHistory
	}
	var embedding []float32
	if m.embedder != nil {
		vecs, err := m.embedder.Embed(ctx, []string{question})
		switch {
		case err != nil:
			m.logger.Warn("session: embedding question failed, ranking by keywords", zap.Error(err))
		case len(vecs) > 0:
			embedding = vecs[0]
		}
	}
	return m.store.RelatedRuns(ctx, question, embedding, k)
}

// RunRecord converts a chain result to its audit row.
func RunRecord(sessionID string, res *chain.Result) store.Run {
	r := store.Run{
		RunID:     res.RunID.String(),
		SessionID: sessionID,
		Question:  res.Question,
		Answer:    res.Answer,
		Outcome:   res.Outcome,
		Query:     res.Query,
		ElapsedMs: res.ElapsedMs,
	}
	if len(res.Steps) > 0 {
		if b, err := json.Marshal(res.Steps); err == nil {
			r.Steps = string(b)
		}
	}
	if b, err := json.Marshal(res.Path); err == nil {
		r.Path = string(b)
	}
	if res.Fault != nil {
		r.Fault = res.Fault.Error()
	}
	return r
}

func (m *Manager) persist(ctx context.Context, id string, settings Settings) error {
	if m.store == nil {
		return nil
	}
	b, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("encoding settings: %w", err)
	}
	return m.store.SaveSession(ctx, id, string(b))
}

func (m *Manager) record(ctx context.Context, msg store.Message) {
	if m.store == nil {
		return
	}
	if _, err := m.store.AppendMessage(ctx, msg); err != nil {
		m.logger.Warn("session: recording message failed", zap.String("session_id", msg.SessionID), zap.Error(err))
	}
}

func (m *Manager) logRun(ctx context.Context, r store.Run, question string) {
	if m.store == nil {
		return
	}
	row, err := m.store.LogRun(ctx, r)
	if err != nil {
		m.logger.Warn("session: logging run failed", zap.String("run_id", r.RunID), zap.Error(err))
		return
	}
	if m.embedder == nil {
		return
	}
	vecs, err := m.embedder.Embed(ctx, []string{question})
	if err != nil || len(vecs) == 0 {
		m.logger.Debug("session: question not embedded", zap.String("run_id", r.RunID), zap.Error(err))
		return
	}
	if err := m.store.InsertQuestionEmbedding(ctx, row, vecs[0]); err != nil {
		m.logger.Debug("session: storing question embedding failed", zap.String("run_id", r.RunID), zap.Error(err))
	}
}
