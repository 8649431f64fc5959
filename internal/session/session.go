// Package session tracks conversations so follow-up questions carry
// context. Sessions are ephemeral: they expire on a TTL and are wiped
// whenever the active corpus changes, because prior answers no longer
// refer to the document being served.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/askdoc/askdoc/internal/llm"
	"github.com/askdoc/askdoc/pkg/tokenizer"
)

var ErrNotFound = errors.New("session not found")

// maxHistoryTokens caps the history replayed into a completion so long
// conversations cannot crowd out the retrieved context.
const maxHistoryTokens = 4000

// Turn is one question and its answer.
type Turn struct {
	Question string    `json:"question"`
	Answer   string    `json:"answer"`
	Refused  bool      `json:"refused"`
	AskedAt  time.Time `json:"asked_at"`
}

type Session struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Turns     []Turn    `json:"turns"`
}

// Store persists sessions. Reset drops every session at once.
type Store interface {
	Get(ctx context.Context, id string) (*Session, error)
	Put(ctx context.Context, s *Session) error
	Delete(ctx context.Context, id string) error
	Reset(ctx context.Context) error
	Close() error
}

// Manager applies the TTL and history-window policy over a Store.
type Manager struct {
	store Store
	ttl   time.Duration
	turns int
	log   *slog.Logger
}

func NewManager(store Store, ttl time.Duration, historyTurns int, log *slog.Logger) *Manager {
	if historyTurns <= 0 {
		historyTurns = 6
	}
	if log == nil {
		log = slog.Default()
	}
	return &Manager{store: store, ttl: ttl, turns: historyTurns, log: log}
}

func (m *Manager) Create(ctx context.Context) (*Session, error) {
	now := time.Now().UTC()
	s := &Session{ID: uuid.NewString(), CreatedAt: now, UpdatedAt: now}
	if err := m.store.Put(ctx, s); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return s, nil
}

func (m *Manager) Get(ctx context.Context, id string) (*Session, error) {
	return m.store.Get(ctx, id)
}

// Append records a completed turn. Appending to an unknown or expired
// session returns ErrNotFound; the caller decides whether that matters.
func (m *Manager) Append(ctx context.Context, id string, t Turn) error {
	s, err := m.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if t.AskedAt.IsZero() {
		t.AskedAt = time.Now().UTC()
	}
	s.Turns = append(s.Turns, t)
	s.UpdatedAt = time.Now().UTC()
	if err := m.store.Put(ctx, s); err != nil {
		return fmt.Errorf("save session %s: %w", id, err)
	}
	return nil
}

func (m *Manager) Delete(ctx context.Context, id string) error {
	return m.store.Delete(ctx, id)
}

// ResetAll drops every session. Registered as a corpus-change hook.
func (m *Manager) ResetAll(ctx context.Context) {
	if err := m.store.Reset(ctx); err != nil {
		m.log.Error("reset sessions", "error", err)
		return
	}
	m.log.Info("sessions reset")
}

// History renders the most recent turns as chat messages, oldest first.
// It keeps at most the configured number of turns and stops earlier if
// the token estimate would exceed the history budget.
func (m *Manager) History(s *Session) []llm.Message {
	if s == nil || len(s.Turns) == 0 {
		return nil
	}

	tokens := 0
	keep := 0
	for i := len(s.Turns) - 1; i >= 0 && keep < m.turns; i-- {
		t := s.Turns[i]
		tokens += tokenizer.Estimate(t.Question) + tokenizer.Estimate(t.Answer)
		if tokens > maxHistoryTokens && keep > 0 {
			break
		}
		keep++
	}

	msgs := make([]llm.Message, 0, keep*2)
	for _, t := range s.Turns[len(s.Turns)-keep:] {
		msgs = append(msgs, llm.Message{Role: "user", Content: t.Question})
		msgs = append(msgs, llm.Message{Role: "assistant", Content: t.Answer})
	}
	return msgs
}
