/*
Package identity implements the registered-name store: a display name can be protected by
a password, after which logging in under that name (in any casing) requires the password.

The store keeps every credential in memory and rewrites the whole document through a
Backend after each change. Writes run in the background; a failed write is logged and
otherwise ignored, so a crash between a change and its write can lose that change.
*/
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"fnchat/internal/pkg/logx"
)

const (
	// MinPasswordLength is the minimum password length in runes.
	MinPasswordLength = 4

	// MaxPasswordBytes is the bcrypt input limit.
	MaxPasswordBytes = 72

	saveTimeout = 10 * time.Second
)

var (
	ErrWeakPassword    = errors.New("password too weak or name empty")
	ErrPasswordTooLong = errors.New("password too long")
)

// Record is the persisted credential of one name.
// PasswordPlain is kept only for the profile "show password" feature.
type Record struct {
	Username      string `json:"username"`
	PasswordHash  string `json:"passwordHash"`
	PasswordPlain string `json:"passwordPlain,omitempty"`
}

// Records maps normalized names to their credential.
type Records map[string]Record

// Backend loads and saves the complete credential document.
type Backend interface {
	Load(ctx context.Context) (Records, error)
	Save(ctx context.Context, records Records) error
}

// Normalize folds a name to its lookup key: trimmed and lower-cased.
func Normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Store is safe for concurrent use.
type Store struct {
	mu      sync.RWMutex
	records Records

	backend Backend
	cost    int

	// saveMu serializes writes; each write snapshots the records while holding it,
	// so the last write to finish always carries the newest state.
	saveMu  sync.Mutex
	pending sync.WaitGroup

	logger zerolog.Logger
}

// Option customizes a Store.
type Option func(*Store)

// WithHashCost overrides the bcrypt cost (tests use bcrypt.MinCost).
func WithHashCost(cost int) Option {
	return func(s *Store) { s.cost = cost }
}

// NewStore loads the current document from backend.
func NewStore(ctx context.Context, backend Backend, opts ...Option) (*Store, error) {
	s := &Store{
		backend: backend,
		cost:    bcrypt.DefaultCost,
		logger:  logx.Component("identity"),
	}
	for _, opt := range opts {
		opt(s)
	}

	records, err := backend.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load credentials: %w", err)
	}
	if records == nil {
		records = make(Records)
	}
	s.records = records

	s.logger.Info().Int("registered_names", len(records)).Msg("Credential store loaded.")
	return s, nil
}

// IsRegistered reports whether name has a stored credential.
func (s *Store) IsRegistered(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.records[Normalize(name)]
	return ok
}

// Register sets or replaces the credential for name, keeping name's casing as typed.
func (s *Store) Register(name, password string) error {
	clean := strings.TrimSpace(name)
	if clean == "" || utf8.RuneCountInString(password) < MinPasswordLength {
		return ErrWeakPassword
	}
	if len(password) > MaxPasswordBytes {
		return ErrPasswordTooLong
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	s.mu.Lock()
	s.records[Normalize(clean)] = Record{
		Username:      clean,
		PasswordHash:  string(hash),
		PasswordPlain: password,
	}
	s.mu.Unlock()

	s.logger.Info().Str("username", clean).Msg("Credential stored.")
	s.persist()
	return nil
}

// Verify reports whether password matches the stored credential of name.
func (s *Store) Verify(name, password string) bool {
	s.mu.RLock()
	rec, ok := s.records[Normalize(name)]
	s.mu.RUnlock()

	if !ok {
		return false
	}

	return bcrypt.CompareHashAndPassword([]byte(rec.PasswordHash), []byte(password)) == nil
}

// HasPassword reports whether name has a credential whose password can be displayed.
func (s *Store) HasPassword(name string) bool {
	_, ok := s.PlainPassword(name)
	return ok
}

// PlainPassword returns the stored clear-text password of name.
func (s *Store) PlainPassword(name string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[Normalize(name)]
	if !ok || rec.PasswordPlain == "" {
		return "", false
	}
	return rec.PasswordPlain, true
}

// CanonicalName returns the casing used at registration, or name unchanged.
func (s *Store) CanonicalName(name string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if rec, ok := s.records[Normalize(name)]; ok && rec.Username != "" {
		return rec.Username
	}
	return name
}

// Flush blocks until all scheduled writes have finished.
func (s *Store) Flush() {
	s.pending.Wait()
}

func (s *Store) snapshot() Records {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(Records, len(s.records))
	for k, v := range s.records {
		out[k] = v
	}
	return out
}

func (s *Store) persist() {
	s.pending.Add(1)

	go func() {
		defer s.pending.Done()

		s.saveMu.Lock()
		defer s.saveMu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
		defer cancel()

		records := s.snapshot()
		if err := s.backend.Save(ctx, records); err != nil {
			s.logger.Error().Err(err).Int("records", len(records)).Msg("Failed to persist credentials.")
			return
		}

		s.logger.Debug().Int("records", len(records)).Msg("Credentials persisted.")
	}()
}
