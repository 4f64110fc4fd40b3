// Package session tracks which local process holds an agent name.
//
// A session is a small JSON file under the agent-mail config directory,
// one directory per project and one file per agent:
//
//	~/.config/agent-mail/sessions/<project hash>/<agent>.json
//
// Sessions expire after a TTL. A session whose owning process has exited is
// stale and is cleared when checked for conflicts.
package session

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"agentmailcli/internal/config"

	"github.com/dustin/go-humanize"
)

// DirName is the sessions directory inside the config directory.
const DirName = "sessions"

// DefaultTTL is the session lifetime when none is given.
const DefaultTTL = 300 * time.Second

// ErrInvalidPath is returned when an agent name would escape the sessions
// directory.
var ErrInvalidPath = errors.New("invalid path: directory traversal detected")

// Session is the on-disk session record.
type Session struct {
	Agent     string    `json:"agent"`
	Project   string    `json:"project"`
	StartedAt time.Time `json:"started_at"`
	ExpiresAt time.Time `json:"expires_at"`
	PID       int       `json:"pid"`
}

// Expired reports whether the session has expired at now.
func (s Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.After(now)
}

// ExpiresIn describes the time left as of now, e.g. "4 minutes from now".
func (s Session) ExpiresIn(now time.Time) string {
	return humanize.RelTime(s.ExpiresAt, now, "ago", "from now")
}

// Store reads and writes session files below Dir.
type Store struct {
	Dir string
	Now func() time.Time
}

// DefaultDir returns ~/.config/agent-mail/sessions.
func DefaultDir() (string, error) {
	dir, err := config.Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, DirName), nil
}

// NewStore returns a Store rooted at dir using the wall clock.
func NewStore(dir string) *Store {
	return &Store{Dir: dir, Now: time.Now}
}

func (s *Store) now() time.Time {
	if s.Now == nil {
		return time.Now().UTC()
	}
	return s.Now().UTC()
}

// ProjectHash returns the directory name used for a project path.
func ProjectHash(project string) string {
	sum := sha256.Sum256([]byte(project))
	return hex.EncodeToString(sum[:])[:12]
}

// safePath joins filename onto baseDir and rejects results outside it.
func safePath(baseDir, filename string) (string, error) {
	cleanName := filepath.Clean(filename)
	if strings.HasPrefix(cleanName, "..") || filepath.IsAbs(cleanName) || strings.ContainsRune(cleanName, filepath.Separator) {
		return "", ErrInvalidPath
	}

	fullPath := filepath.Join(baseDir, cleanName)
	cleanBase := filepath.Clean(baseDir)
	if !strings.HasPrefix(fullPath, cleanBase+string(filepath.Separator)) {
		return "", ErrInvalidPath
	}
	return fullPath, nil
}

func (s *Store) projectDir(project string) string {
	return filepath.Join(s.Dir, ProjectHash(project))
}

func (s *Store) path(project, agent string) (string, error) {
	if agent == "" {
		return "", fmt.Errorf("%w: empty agent name", ErrInvalidPath)
	}
	return safePath(s.projectDir(project), agent+".json")
}

// Read returns the live session for agent in project, or nil if there is
// none. An expired or unreadable session file is removed.
func (s *Store) Read(project, agent string) (*Session, error) {
	path, err := s.path(project, agent)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path) // #nosec G304 - path validated by safePath
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil || sess.Expired(s.now()) {
		if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
			return nil, rmErr
		}
		return nil, nil
	}
	return &sess, nil
}

// Write creates or extends the session for agent, owned by pid and expiring
// ttl from now. An existing live session keeps its start time.
func (s *Store) Write(project, agent string, ttl time.Duration, pid int) (Session, error) {
	path, err := s.path(project, agent)
	if err != nil {
		return Session{}, err
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return Session{}, err
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0600) // #nosec G304 - path validated by safePath
	if err != nil {
		return Session{}, err
	}

	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX); err != nil {
		_ = file.Close() // G104: error intentionally ignored in cleanup path
		return Session{}, err
	}

	sess, writeErr := s.writeLocked(file, project, agent, ttl, pid)

	_ = syscall.Flock(int(file.Fd()), syscall.LOCK_UN) // G104: unlock errors don't affect the write result
	_ = file.Close()
	return sess, writeErr
}

// writeLocked performs the read-modify-write on an already-locked file.
func (s *Store) writeLocked(file *os.File, project, agent string, ttl time.Duration, pid int) (Session, error) {
	now := s.now()
	sess := Session{
		Agent:     agent,
		Project:   project,
		StartedAt: now,
		ExpiresAt: now.Add(ttl),
		PID:       pid,
	}

	data, err := io.ReadAll(file)
	if err != nil {
		return Session{}, err
	}
	var existing Session
	if len(data) > 0 && json.Unmarshal(data, &existing) == nil && !existing.Expired(now) && !existing.StartedAt.IsZero() {
		sess.StartedAt = existing.StartedAt
	}

	out, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return Session{}, err
	}
	if err := file.Truncate(0); err != nil {
		return Session{}, err
	}
	if _, err := file.Seek(0, 0); err != nil {
		return Session{}, err
	}
	if _, err := file.Write(append(out, '\n')); err != nil {
		return Session{}, err
	}
	return sess, nil
}

// Clear removes the session file for agent. It reports whether a file was
// removed.
func (s *Store) Clear(project, agent string) (bool, error) {
	path, err := s.path(project, agent)
	if err != nil {
		return false, err
	}
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// List returns the live sessions in project sorted by agent name.
func (s *Store) List(project string) ([]Session, error) {
	entries, err := os.ReadDir(s.projectDir(project))
	if err != nil {
		if os.IsNotExist(err) {
			return []Session{}, nil
		}
		return nil, err
	}

	sessions := []Session{}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		sess, err := s.Read(project, strings.TrimSuffix(name, ".json"))
		if err != nil {
			return nil, err
		}
		if sess != nil {
			sessions = append(sessions, *sess)
		}
	}
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].Agent < sessions[j].Agent })
	return sessions, nil
}

// Conflict returns the live session for agent if it belongs to a process
// other than self. A session whose process has exited is cleared and is not
// a conflict.
func (s *Store) Conflict(project, agent string, self int) (*Session, error) {
	sess, err := s.Read(project, agent)
	if err != nil || sess == nil {
		return nil, err
	}
	if sess.PID == self {
		return nil, nil
	}
	if sess.PID > 0 && !IsRunning(sess.PID) {
		if _, err := s.Clear(project, agent); err != nil {
			return nil, err
		}
		return nil, nil
	}
	return sess, nil
}

// IsRunning checks if a process with the given PID is running.
// Returns false for PID 0 or if the process doesn't exist.
func IsRunning(pid int) bool {
	if pid <= 0 {
		return false
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	// Signal 0 doesn't send anything, just checks if process exists
	err = process.Signal(syscall.Signal(0))
	return err == nil
}
