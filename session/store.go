// Package session persists conversation history to disk.
package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/adolfousier/opencrab/provider"
)

// Session is one conversation: an ordered message history plus metadata.
type Session struct {
	ID        string             `json:"id"`
	Key       string             `json:"key"`
	Messages  []provider.Message `json:"messages"`
	CreatedAt time.Time          `json:"created_at"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// Store manages sessions as one JSON file per session under a base
// directory. Appends are written through to disk immediately so history
// survives a crash mid-run.
type Store struct {
	baseDir string

	mu    sync.Mutex
	cache map[string]*Session
}

// NewStore creates a session store rooted at baseDir.
func NewStore(baseDir string) (*Store, error) {
	sessionsDir := filepath.Join(baseDir, "sessions")
	if err := os.MkdirAll(sessionsDir, 0755); err != nil {
		return nil, fmt.Errorf("create sessions dir: %w", err)
	}
	return &Store{
		baseDir: sessionsDir,
		cache:   make(map[string]*Session),
	}, nil
}

// Get returns the session for key, loading it from disk or creating it.
func (s *Store) Get(key string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getLocked(key)
}

func (s *Store) getLocked(key string) (*Session, error) {
	if sess, ok := s.cache[key]; ok {
		return sess, nil
	}

	path := s.PathForKey(key)
	data, err := os.ReadFile(path)
	if err == nil {
		var sess Session
		if err := json.Unmarshal(data, &sess); err != nil {
			return nil, fmt.Errorf("corrupt session file %s: %w", path, err)
		}
		s.cache[key] = &sess
		return &sess, nil
	}
	if !os.IsNotExist(err) {
		return nil, err
	}

	now := time.Now()
	sess := &Session{
		ID:        uuid.NewString(),
		Key:       key,
		Messages:  []provider.Message{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.saveLocked(sess); err != nil {
		return nil, err
	}
	s.cache[key] = sess
	return sess, nil
}

// AppendMessage appends one message to a session's history and writes it
// through to disk before returning. The append patches the stored JSON in
// place instead of re-marshalling the whole session.
func (s *Store) AppendMessage(key string, msg provider.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.getLocked(key)
	if err != nil {
		return err
	}

	raw, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	path := s.PathForKey(key)
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	data, err = sjson.SetRawBytes(data, "messages.-1", raw)
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	now := time.Now()
	data, err = sjson.SetBytes(data, "updated_at", now.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	if err := writeAtomic(path, data); err != nil {
		return err
	}

	sess.Messages = append(sess.Messages, msg)
	sess.UpdatedAt = now
	return nil
}

// Messages returns a copy of a session's message history.
func (s *Store) Messages(key string) ([]provider.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.getLocked(key)
	if err != nil {
		return nil, err
	}
	out := make([]provider.Message, len(sess.Messages))
	copy(out, sess.Messages)
	return out, nil
}

// MessageCount reads the stored message count without loading the session.
func (s *Store) MessageCount(key string) (int, error) {
	data, err := os.ReadFile(s.PathForKey(key))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	return int(gjson.GetBytes(data, "messages.#").Int()), nil
}

// ReplaceMessages swaps a session's full history, used when compaction
// collapses old turns into a summary.
func (s *Store) ReplaceMessages(key string, messages []provider.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.getLocked(key)
	if err != nil {
		return err
	}
	sess.Messages = messages
	sess.UpdatedAt = time.Now()
	return s.saveLocked(sess)
}

// saveLocked writes the full session file. Caller holds the lock.
func (s *Store) saveLocked(sess *Session) error {
	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	path := s.PathForKey(sess.Key)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return writeAtomic(path, data)
}

// PathForKey maps a session key to its file path. Colon-separated key
// segments become directories; empty or hostile segments are dropped.
func (s *Store) PathForKey(key string) string {
	parts := strings.Split(key, ":")
	var segments []string
	for _, part := range parts {
		segments = append(segments, sanitizeSegment(part)...)
	}
	if len(segments) == 0 {
		segments = []string{"main"}
	}
	return filepath.Join(append([]string{s.baseDir}, append(segments, "session.json")...)...)
}

// sanitizeSegment keeps only path-safe characters and splits on separators.
func sanitizeSegment(part string) []string {
	part = strings.TrimSpace(part)
	var b strings.Builder
	for _, r := range part {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == '_' || r == '.':
			b.WriteRune(r)
		default:
			b.WriteRune('/')
		}
	}
	var out []string
	for _, seg := range strings.Split(b.String(), "/") {
		seg = strings.Trim(seg, ".")
		if seg != "" {
			out = append(out, seg)
		}
	}
	return out
}

// writeAtomic writes data via a temp file and rename.
func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
