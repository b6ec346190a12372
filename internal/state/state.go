// Package state manages the daemon's on-disk state directory: the API
// bearer token and the runtime state file other processes use to find a
// running instance.
package state

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// DefaultDir resolves the state directory, honoring the env override.
func DefaultDir() string {
	if dir := strings.TrimSpace(os.Getenv("AGENTIFY_STATE_DIR")); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".agentify"
	}
	return filepath.Join(home, ".agentify")
}

// EnsureDir creates the state directory if needed.
func EnsureDir(stateDir string) error {
	return os.MkdirAll(stateDir, 0o700)
}

// TokenPath returns the bearer token file location.
func TokenPath(stateDir string) string {
	return filepath.Join(stateDir, "token.txt")
}

// StatePath returns the runtime state file location.
func StatePath(stateDir string) string {
	return filepath.Join(stateDir, "state.json")
}

// ReadToken returns the current token: env first, then the token file.
// Empty string means no token exists yet.
func ReadToken(stateDir string) string {
	if tok := strings.TrimSpace(os.Getenv("AGENTIFY_TOKEN")); tok != "" {
		return tok
	}
	raw, err := os.ReadFile(TokenPath(stateDir))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(raw))
}

// WriteToken persists a token with 0600 perms.
func WriteToken(token, stateDir string) error {
	if err := EnsureDir(stateDir); err != nil {
		return err
	}
	return atomicWrite(TokenPath(stateDir), []byte(token+"\n"), 0o600)
}

// EnsureToken returns the existing token or mints and persists a new one.
func EnsureToken(stateDir string) (string, error) {
	if tok := ReadToken(stateDir); tok != "" {
		return tok, nil
	}
	tok, err := NewToken()
	if err != nil {
		return "", err
	}
	if err := WriteToken(tok, stateDir); err != nil {
		return "", err
	}
	return tok, nil
}

// NewToken mints a random bearer token.
func NewToken() (string, error) {
	var buf [24]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf[:]), nil
}

// TokenRef is a mutable handle to the active token, shared between the
// auth middleware and the rotate endpoint.
type TokenRef struct {
	mu    sync.RWMutex
	token string
}

func NewTokenRef(token string) *TokenRef {
	return &TokenRef{token: token}
}

func (r *TokenRef) Get() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.token
}

func (r *TokenRef) Set(token string) {
	r.mu.Lock()
	r.token = token
	r.mu.Unlock()
}

// Runtime is the discovery record written on startup.
type Runtime struct {
	OK        bool      `json:"ok"`
	Port      int       `json:"port"`
	PID       int       `json:"pid"`
	ServerID  string    `json:"serverId"`
	StartedAt time.Time `json:"startedAt"`
}

// WriteRuntime persists the runtime state file.
func WriteRuntime(rt Runtime, stateDir string) error {
	if err := EnsureDir(stateDir); err != nil {
		return err
	}
	data, err := json.MarshalIndent(rt, "", "  ")
	if err != nil {
		return err
	}
	return atomicWrite(StatePath(stateDir), append(data, '\n'), 0o644)
}

// ReadRuntime loads the runtime state file, or nil if absent/corrupt.
func ReadRuntime(stateDir string) *Runtime {
	raw, err := os.ReadFile(StatePath(stateDir))
	if err != nil {
		return nil
	}
	var rt Runtime
	if json.Unmarshal(raw, &rt) != nil {
		return nil
	}
	return &rt
}

func atomicWrite(path string, data []byte, mode os.FileMode) error {
	var suffix [8]byte
	if _, err := rand.Read(suffix[:]); err != nil {
		return err
	}
	tmp := filepath.Join(filepath.Dir(path), "."+filepath.Base(path)+"."+hex.EncodeToString(suffix[:])+".tmp")
	if err := os.WriteFile(tmp, data, mode); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}
