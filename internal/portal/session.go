package portal

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"libportal/internal/members"
)

// ErrNoSession is returned by Load when nobody is logged in.
var ErrNoSession = errors.New("not logged in")

// Session is the logged-in user persisted between CLI invocations.
type Session struct {
	Server   string `json:"server"`
	Role     string `json:"role"`
	Name     string `json:"name"`
	ID       string `json:"id"`
	Email    string `json:"email"`
	JoinDate string `json:"joinDate"`
	Token    string `json:"token"`
}

func SessionFrom(server string, res *members.LoginResponse) *Session {
	return &Session{
		Server:   server,
		Role:     res.Session.Role,
		Name:     res.Session.Name,
		ID:       res.Session.ID,
		Email:    res.Session.Email,
		JoinDate: res.Session.JoinDate,
		Token:    res.Token,
	}
}

type SessionFile struct{ Path string }

// DefaultSessionPath is $XDG_CONFIG_HOME/libportal/session.json (or the OS equivalent).
func DefaultSessionPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "libportal", "session.json"), nil
}

func (f SessionFile) Load() (*Session, error) {
	buf, err := os.ReadFile(f.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoSession
	}
	if err != nil {
		return nil, err
	}
	var s Session
	if err := json.Unmarshal(buf, &s); err != nil {
		return nil, fmt.Errorf("corrupt session file %s: %w", f.Path, err)
	}
	if s.Token == "" {
		return nil, ErrNoSession
	}
	return &s, nil
}

// Save writes atomically with 0600 permissions since the file holds a bearer token.
func (f SessionFile) Save(s *Session) error {
	if err := os.MkdirAll(filepath.Dir(f.Path), 0o700); err != nil {
		return err
	}
	buf, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	tmp := f.Path + ".tmp"
	if err := os.WriteFile(tmp, buf, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, f.Path)
}

// Clear removes the session; clearing a missing session is not an error.
func (f SessionFile) Clear() error {
	err := os.Remove(f.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}
