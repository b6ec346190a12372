// Package config holds the daemon's runtime limits. The config file
// lives in the state dir as config.json; unknown or out-of-range values
// are clamped back to defaults rather than rejected, so a hand-edited
// file can never brick the daemon.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
)

// Config are the operator-tunable limits.
type Config struct {
	ShowTabsByDefault   bool `json:"showTabsByDefault"`
	MaxTabs             int  `json:"maxTabs"`
	MaxParallelQueries  int  `json:"maxParallelQueries"`
	MaxQueriesPerMinute int  `json:"maxQueriesPerMinute"`
	MinQueryGapMs       int  `json:"minQueryGapMs"`
	MinQueryGapMsGlobal int  `json:"minQueryGapMsGlobal"`
	QueryGapMaxWaitMs   int  `json:"queryGapMaxWaitMs"`

	// Reply-detection and typing pace knobs for the controller.
	ReplyPollMs     int `json:"replyPollMs"`
	ReplyStableMs   int `json:"replyStableMs"`
	StopGoneMs      int `json:"stopGoneMs"`
	TypeJitterMinMs int `json:"typeJitterMinMs"`
	TypeJitterMaxMs int `json:"typeJitterMaxMs"`
}

// Default returns the stock configuration.
func Default() Config {
	return Config{
		ShowTabsByDefault:   false,
		MaxTabs:             12,
		MaxParallelQueries:  6,
		MaxQueriesPerMinute: 30,
		MinQueryGapMs:       250,
		MinQueryGapMsGlobal: 100,
		QueryGapMaxWaitMs:   5000,

		ReplyPollMs:     400,
		ReplyStableMs:   1500,
		StopGoneMs:      800,
		TypeJitterMinMs: 12,
		TypeJitterMaxMs: 45,
	}
}

type bound struct {
	min, max, fallback int
}

func clamp(v int, b bound) int {
	if v < b.min || v > b.max {
		return b.fallback
	}
	return v
}

// Sanitize clamps every field into its allowed range, substituting the
// default for anything out of range.
func Sanitize(raw Config) Config {
	d := Default()
	return Config{
		ShowTabsByDefault:   raw.ShowTabsByDefault,
		MaxTabs:             clamp(raw.MaxTabs, bound{1, 50, d.MaxTabs}),
		MaxParallelQueries:  clamp(raw.MaxParallelQueries, bound{1, 50, d.MaxParallelQueries}),
		MaxQueriesPerMinute: clamp(raw.MaxQueriesPerMinute, bound{1, 600, d.MaxQueriesPerMinute}),
		MinQueryGapMs:       clamp(raw.MinQueryGapMs, bound{0, 30000, d.MinQueryGapMs}),
		MinQueryGapMsGlobal: clamp(raw.MinQueryGapMsGlobal, bound{0, 30000, d.MinQueryGapMsGlobal}),
		QueryGapMaxWaitMs:   clamp(raw.QueryGapMaxWaitMs, bound{0, 120000, d.QueryGapMaxWaitMs}),

		ReplyPollMs:     clamp(raw.ReplyPollMs, bound{100, 5000, d.ReplyPollMs}),
		ReplyStableMs:   clamp(raw.ReplyStableMs, bound{250, 30000, d.ReplyStableMs}),
		StopGoneMs:      clamp(raw.StopGoneMs, bound{0, 10000, d.StopGoneMs}),
		TypeJitterMinMs: clamp(raw.TypeJitterMinMs, bound{0, 500, d.TypeJitterMinMs}),
		TypeJitterMaxMs: clamp(raw.TypeJitterMaxMs, bound{1, 2000, d.TypeJitterMaxMs}),
	}
}

// Path returns the config file location inside the state dir.
func Path(stateDir string) string {
	return filepath.Join(stateDir, "config.json")
}

// Read loads the config from the state dir, applying env overrides.
// A missing or corrupt file yields the defaults.
func Read(stateDir string) Config {
	cfg := Default()
	if raw, err := os.ReadFile(Path(stateDir)); err == nil {
		var parsed Config
		if json.Unmarshal(raw, &parsed) == nil {
			cfg = Sanitize(parsed)
		}
	}
	return applyEnv(cfg)
}

// Write sanitizes and persists the config atomically with 0600 perms.
func Write(cfg Config, stateDir string) (Config, error) {
	if err := os.MkdirAll(stateDir, 0o700); err != nil {
		return cfg, err
	}
	cleaned := Sanitize(cfg)
	data, err := json.MarshalIndent(cleaned, "", "  ")
	if err != nil {
		return cleaned, err
	}
	if err := atomicWrite(Path(stateDir), append(data, '\n'), 0o600); err != nil {
		return cleaned, err
	}
	return cleaned, nil
}

func applyEnv(cfg Config) Config {
	overrideInt(&cfg.MaxTabs, "AGENTIFY_MAX_TABS")
	overrideInt(&cfg.MaxParallelQueries, "AGENTIFY_MAX_PARALLEL_QUERIES")
	overrideInt(&cfg.MaxQueriesPerMinute, "AGENTIFY_MAX_QUERIES_PER_MINUTE")
	overrideInt(&cfg.MinQueryGapMs, "AGENTIFY_MIN_QUERY_GAP_MS")
	overrideInt(&cfg.MinQueryGapMsGlobal, "AGENTIFY_MIN_QUERY_GAP_MS_GLOBAL")
	overrideInt(&cfg.QueryGapMaxWaitMs, "AGENTIFY_QUERY_GAP_MAX_WAIT_MS")
	overrideInt(&cfg.ReplyPollMs, "AGENTIFY_REPLY_POLL_MS")
	overrideInt(&cfg.ReplyStableMs, "AGENTIFY_REPLY_STABLE_MS")
	overrideInt(&cfg.StopGoneMs, "AGENTIFY_STOP_GONE_MS")
	overrideInt(&cfg.TypeJitterMinMs, "AGENTIFY_TYPE_JITTER_MIN_MS")
	overrideInt(&cfg.TypeJitterMaxMs, "AGENTIFY_TYPE_JITTER_MAX_MS")
	return Sanitize(cfg)
}

func overrideInt(dst *int, name string) {
	if v := os.Getenv(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

// atomicWrite writes via a temp file in the same directory plus rename,
// so readers never observe a partial file.
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
