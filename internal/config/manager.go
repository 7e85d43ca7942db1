package config

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Status describes the manager's view of the loaded configuration.
type Status struct {
	// Path is the watched configuration file.
	Path string `json:"path"`

	// Checksum is the SHA-256 of the file contents as last loaded.
	Checksum string `json:"checksum"`

	// LoadedAt is when the current configuration took effect.
	LoadedAt time.Time `json:"loaded_at"`

	// ReloadCount counts successful loads, including the initial one.
	ReloadCount int64 `json:"reload_count"`
}

// Manager handles configuration loading and hot-reload.
// It uses atomic pointer swaps to ensure thread-safe config updates.
type Manager struct {
	config  atomic.Pointer[Config]
	path    string
	watcher *fsnotify.Watcher
	logger  *slog.Logger

	// onChange callbacks must be registered before Watch starts.
	onChange []func(*Config)

	mu       sync.Mutex
	checksum string
	loadedAt time.Time
	reloads  atomic.Int64
}

// NewManager creates a new configuration manager and performs the initial
// load.
func NewManager(path string, logger *slog.Logger) (*Manager, error) {
	cfg, sum, err := loadFile(path)
	if err != nil {
		return nil, err
	}

	m := &Manager{
		path:     path,
		logger:   logger,
		checksum: sum,
		loadedAt: time.Now(),
	}
	m.config.Store(cfg)
	m.reloads.Store(1)

	return m, nil
}

// Get returns the current configuration.
// This is safe to call concurrently from multiple goroutines.
func (m *Manager) Get() *Config {
	return m.config.Load()
}

// Status reports the file path, content checksum, and reload counters of
// the current configuration.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Status{
		Path:        m.path,
		Checksum:    m.checksum,
		LoadedAt:    m.loadedAt,
		ReloadCount: m.reloads.Load(),
	}
}

// OnChange registers a callback to be invoked when configuration changes.
func (m *Manager) OnChange(fn func(*Config)) {
	m.onChange = append(m.onChange, fn)
}

// Reload re-reads the configuration file. On any error the current
// configuration stays in effect.
func (m *Manager) Reload() error {
	cfg, sum, err := loadFile(m.path)
	if err != nil {
		return err
	}

	m.config.Store(cfg)
	m.mu.Lock()
	m.checksum = sum
	m.loadedAt = time.Now()
	m.mu.Unlock()
	m.reloads.Add(1)

	for _, fn := range m.onChange {
		fn(cfg)
	}
	return nil
}

// Watch starts watching the configuration file for changes.
// It debounces rapid changes and reloads configuration atomically.
func (m *Manager) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	m.watcher = watcher

	if err := watcher.Add(m.path); err != nil {
		_ = watcher.Close()
		return err
	}

	go m.watchLoop(ctx)
	return nil
}

func (m *Manager) watchLoop(ctx context.Context) {
	// Editors often produce several events per save; collapse them.
	const debounceDelay = 500 * time.Millisecond
	var debounceTimer *time.Timer

	for {
		select {
		case <-ctx.Done():
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			_ = m.watcher.Close()
			return

		case event, ok := <-m.watcher.Events:
			if !ok {
				return
			}

			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				if debounceTimer != nil {
					debounceTimer.Stop()
				}
				debounceTimer = time.AfterFunc(debounceDelay, func() {
					if err := m.Reload(); err != nil {
						m.logger.Error("failed to reload config, keeping current",
							"error", err,
						)
						return
					}
					m.logger.Info("configuration reloaded successfully")
				})
			}

		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			m.logger.Error("config watcher error", "error", err)
		}
	}
}

// Close stops the configuration watcher.
func (m *Manager) Close() error {
	if m.watcher != nil {
		return m.watcher.Close()
	}
	return nil
}

func checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
