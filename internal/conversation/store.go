package conversation

// Package conversation holds ordered message history per session.
// Mutation is serialized; Snapshot returns a copy that never aliases
// internal storage, so an in-flight streaming call is unaffected by a
// concurrent Reset. When a DB path is configured, appended messages are
// also written through to SQLite; on any SQLite failure the store keeps
// working in memory only.

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/glebarez/go-sqlite"

	"github.com/comigor/shelli-go/internal/logger"
)

var (
	// ErrInvalidRole rejects an Append whose role is not a recognized enum value.
	ErrInvalidRole = errors.New("invalid message role")
	// ErrSessionNotFound rejects operations on sessions never opened.
	ErrSessionNotFound = errors.New("session not found")
)

// Store owns conversation history for all sessions.
type Store struct {
	mu           sync.Mutex
	systemPrompt string
	sessions     map[string][]Message

	db      *sql.DB
	dbErr   error
	dbPath  string
	dbOnce  sync.Once
}

// NewStore creates a store. Every opened session starts with a single
// system message carrying systemPrompt. dbPath may be empty for
// memory-only operation.
func NewStore(systemPrompt, dbPath string) *Store {
	return &Store{
		systemPrompt: systemPrompt,
		sessions:     make(map[string][]Message),
		dbPath:       dbPath,
	}
}

// Open creates the session if it does not exist, seeded with the system
// message. Opening an existing session is a no-op.
func (s *Store) Open(session string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[session]; ok {
		return
	}
	s.sessions[session] = []Message{{Role: RoleSystem, Content: s.systemPrompt}}
}

// Append adds a message to the end of the session history.
func (s *Store) Append(session string, msg Message) error {
	if !msg.Role.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidRole, msg.Role)
	}

	s.mu.Lock()
	history, ok := s.sessions[session]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrSessionNotFound, session)
	}
	s.sessions[session] = append(history, msg)
	s.mu.Unlock()

	s.persist(session, msg)
	return nil
}

// Snapshot returns a copy of the current history. The copy does not
// alias internal storage, so later Append or Reset calls cannot corrupt
// an in-flight streaming call holding the snapshot.
func (s *Store) Snapshot(session string) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	history, ok := s.sessions[session]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrSessionNotFound, session)
	}
	out := make([]Message, len(history))
	copy(out, history)
	return out, nil
}

// Reset atomically replaces the session history with a fresh system
// message. Snapshots already taken are unaffected.
func (s *Store) Reset(session string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[session]; !ok {
		return fmt.Errorf("%w: %q", ErrSessionNotFound, session)
	}
	s.sessions[session] = []Message{{Role: RoleSystem, Content: s.systemPrompt}}
	return nil
}

// initDB lazily opens the SQLite database and creates the messages table.
func (s *Store) initDB() {
	db, err := sql.Open("sqlite", "file:"+s.dbPath+"?_busy_timeout=10000&_fk=1")
	if err != nil {
		s.dbErr = err
		logger.L.Warn("sqlite open failed; keeping history in memory only", "error", err)
		return
	}
	if _, err = db.Exec(`CREATE TABLE IF NOT EXISTS messages (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        session_id TEXT,
        role TEXT,
        content TEXT,
        created_at DATETIME
    );`); err != nil {
		s.dbErr = err
		logger.L.Warn("sqlite table creation failed; keeping history in memory only", "error", err)
		return
	}
	s.db = db
	logger.L.Info("sqlite history DB initialized", "path", s.dbPath)
}

// persist writes a message through to SQLite, best-effort.
func (s *Store) persist(session string, msg Message) {
	if s.dbPath == "" {
		return
	}
	s.dbOnce.Do(s.initDB)
	if s.dbErr != nil || s.db == nil {
		return
	}
	if _, err := s.db.Exec(
		`INSERT INTO messages (session_id, role, content, created_at) VALUES (?,?,?,?);`,
		session, string(msg.Role), msg.Content, time.Now().UTC(),
	); err != nil {
		logger.L.Error("failed to store message in sqlite", "error", err)
	}
}
