// Package session persists reusable authenticated-session state per
// provider and runs the bounded auth-handoff wait.
//
// The state file is exclusively owned by one provider's adapter for the
// duration of a pass and re-saved once after the pass completes, which
// bounds write amplification on long runs.
package session

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Cookie is one persisted session cookie.
type Cookie struct {
	Name     string    `json:"name"`
	Value    string    `json:"value"`
	Domain   string    `json:"domain"`
	Path     string    `json:"path,omitempty"`
	Expires  time.Time `json:"expires,omitempty"`
	Secure   bool      `json:"secure,omitempty"`
	HTTPOnly bool      `json:"http_only,omitempty"`
}

// State is the persisted authenticated-session handle for one provider.
type State struct {
	Provider    string    `json:"provider"`
	Cookies     []Cookie  `json:"cookies"`
	UpdatedAt   time.Time `json:"updated_at"`
	ValidatedAt time.Time `json:"validated_at,omitempty"`
}

// IsEmpty reports whether the state carries no session material.
func (s *State) IsEmpty() bool {
	return len(s.Cookies) == 0
}

// HTTPCookies converts the persisted cookies for use with an http.CookieJar.
func (s *State) HTTPCookies() []*http.Cookie {
	out := make([]*http.Cookie, 0, len(s.Cookies))
	for _, c := range s.Cookies {
		out = append(out, &http.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  c.Expires,
			Secure:   c.Secure,
			HttpOnly: c.HTTPOnly,
		})
	}
	return out
}

// SetHTTPCookies replaces the persisted cookies from live jar contents.
func (s *State) SetHTTPCookies(cookies []*http.Cookie) {
	s.Cookies = s.Cookies[:0]
	for _, c := range cookies {
		s.Cookies = append(s.Cookies, Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  c.Expires,
			Secure:   c.Secure,
			HTTPOnly: c.HttpOnly,
		})
	}
}

// Store loads and saves the session state file for one provider.
type Store struct {
	path     string
	provider string
}

// NewStore creates a session store backed by the given file path.
func NewStore(path, provider string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("session store path cannot be empty")
	}
	if strings.TrimSpace(provider) == "" {
		return nil, fmt.Errorf("session store provider cannot be empty")
	}
	return &Store{path: path, provider: provider}, nil
}

// Path returns the backing file path.
func (st *Store) Path() string {
	return st.path
}

// Load reads the persisted state. A missing file yields an empty state
// rather than an error; the caller then goes through the auth handoff.
func (st *Store) Load() (*State, error) {
	data, err := os.ReadFile(st.path)
	if os.IsNotExist(err) {
		return &State{Provider: st.provider}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read session state: %w", err)
	}

	state := &State{}
	if err := json.Unmarshal(data, state); err != nil {
		return nil, fmt.Errorf("parse session state %s: %w", st.path, err)
	}
	if state.Provider != "" && state.Provider != st.provider {
		return nil, fmt.Errorf("session state belongs to provider %s, expected %s",
			state.Provider, st.provider)
	}
	state.Provider = st.provider
	return state, nil
}

// Save writes the state atomically (temp file + rename) so a crash
// mid-write never corrupts the session file.
func (st *Store) Save(state *State) error {
	state.Provider = st.provider
	state.UpdatedAt = time.Now()

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("encode session state: %w", err)
	}

	dir := filepath.Dir(st.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create session directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".session-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp session file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write session state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp session file: %w", err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return fmt.Errorf("chmod session file: %w", err)
	}
	if err := os.Rename(tmpName, st.path); err != nil {
		return fmt.Errorf("replace session file: %w", err)
	}
	return nil
}
