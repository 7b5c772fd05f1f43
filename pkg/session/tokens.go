// Package session issues the opaque token that groups a run of related
// provider queries. A resolution request consumes the current token and
// a fresh one replaces it.
package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Token struct {
	Value    string
	IssuedAt time.Time
}

func (t Token) String() string { return t.Value }

// Manager holds exactly one current token at a time. Rotation is local;
// the host is never consulted.
type Manager struct {
	mu      sync.Mutex
	current Token
	issued  int
	now     func() time.Time
	newID   func() string
}

type Option func(*Manager)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithGenerator overrides the random part of token values.
func WithGenerator(fn func() string) Option {
	return func(m *Manager) { m.newID = fn }
}

func NewManager(opts ...Option) *Manager {
	m := &Manager{
		now:   time.Now,
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.current = m.issue()
	return m
}

func (m *Manager) Current() Token {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Rotate retires the current token and returns its replacement.
func (m *Manager) Rotate() Token {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = m.issue()
	return m.current
}

// Issued counts tokens handed out, including the initial one.
func (m *Manager) Issued() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.issued
}

func (m *Manager) issue() Token {
	now := m.now()
	m.issued++
	// the sequence keeps values unique even if the clock and generator repeat
	return Token{
		Value:    fmt.Sprintf("%d-%d-%s", now.UnixMilli(), m.issued, m.newID()),
		IssuedAt: now,
	}
}
