// Package prefs persists cosmetic client preferences: the channel display
// order and the last active channel.
package prefs

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"
)

const (
	CurrentVersion = 1

	defaultDebounce = 500 * time.Millisecond
)

// Prefs is the on-disk document.
type Prefs struct {
	Version       int     `json:"version"`
	ChannelOrder  []int64 `json:"channel_order,omitempty"`
	LastChannelID int64   `json:"last_channel_id,omitempty"`
}

// Manager holds preferences in memory and writes them back debounced.
// A Manager with an empty path never touches disk.
type Manager struct {
	path     string
	lockPath string

	mu       sync.Mutex
	prefs    Prefs
	dirty    bool
	timer    *time.Timer
	debounce time.Duration
}

// Option configures a Manager.
type Option func(*Manager)

// WithDebounce overrides the write debounce.
func WithDebounce(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.debounce = d
		}
	}
}

// New creates a manager for path.
func New(path string, opts ...Option) *Manager {
	path = strings.TrimSpace(path)
	m := &Manager{
		path:     path,
		prefs:    Prefs{Version: CurrentVersion},
		debounce: defaultDebounce,
	}
	if path != "" {
		m.lockPath = path + ".lock"
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) Path() string { return m.path }

// Load reads the file. A missing or corrupt file leaves empty preferences
// and is not an error; only lock or read failures are reported.
func (m *Manager) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.path == "" {
		return nil
	}

	var loaded Prefs
	err := withFileLock(m.lockPath, func() error {
		payload, err := os.ReadFile(m.path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil
			}
			return err
		}
		if err := json.Unmarshal(payload, &loaded); err != nil {
			loaded = Prefs{}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("load prefs: %w", err)
	}

	loaded.Version = CurrentVersion
	loaded.ChannelOrder = normalizeOrder(loaded.ChannelOrder)
	m.prefs = loaded
	m.dirty = false
	return nil
}

// ChannelOrder returns the persisted channel id order.
func (m *Manager) ChannelOrder() []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int64(nil), m.prefs.ChannelOrder...)
}

// SetChannelOrder replaces the persisted order.
func (m *Manager) SetChannelOrder(ids []int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prefs.ChannelOrder = normalizeOrder(ids)
	m.markDirtyLocked()
}

// LastChannelID returns the last active channel, or 0.
func (m *Manager) LastChannelID() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.prefs.LastChannelID
}

// SetLastChannelID records the last active channel.
func (m *Manager) SetLastChannelID(id int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id <= 0 || id == m.prefs.LastChannelID {
		return
	}
	m.prefs.LastChannelID = id
	m.markDirtyLocked()
}

// Close flushes a pending write.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	needsSave := m.dirty
	m.mu.Unlock()
	if !needsSave {
		return nil
	}
	return m.SaveNow()
}

// SaveNow writes immediately.
func (m *Manager) SaveNow() error {
	m.mu.Lock()
	if m.path == "" {
		m.dirty = false
		m.mu.Unlock()
		return nil
	}
	snapshot := m.prefs
	snapshot.ChannelOrder = append([]int64(nil), m.prefs.ChannelOrder...)
	m.dirty = false
	m.mu.Unlock()

	if err := withFileLock(m.lockPath, func() error {
		return writeAtomicJSON(m.path, snapshot)
	}); err != nil {
		m.mu.Lock()
		m.dirty = true
		m.mu.Unlock()
		return fmt.Errorf("save prefs: %w", err)
	}
	return nil
}

func (m *Manager) markDirtyLocked() {
	m.dirty = true
	if m.path == "" {
		return
	}
	if m.timer == nil {
		m.timer = time.AfterFunc(m.debounce, func() {
			_ = m.SaveNow()
		})
		return
	}
	_ = m.timer.Reset(m.debounce)
}

func withFileLock(lockPath string, fn func() error) error {
	if strings.TrimSpace(lockPath) == "" {
		return fn()
	}
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX); err != nil {
		return fmt.Errorf("lock %s: %w", lockPath, err)
	}
	defer func() {
		_ = syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
	}()
	return fn()
}

func writeAtomicJSON(path string, prefs Prefs) error {
	payload, err := json.MarshalIndent(prefs, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, payload, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// normalizeOrder keeps the first occurrence of each positive id.
func normalizeOrder(ids []int64) []int64 {
	if len(ids) == 0 {
		return nil
	}
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if id <= 0 {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
