package config

import "sync"

// Holder is a hot-reloadable Config reference: callers read a consistent
// snapshot via Get, and Reload re-reads the backing YAML file when its
// owner calls it. Holder does not watch the file itself.
type Holder struct {
	mu   sync.RWMutex
	cfg  Config
	path string
}

// NewHolder wraps an already-loaded Config for hot reloading from path.
func NewHolder(cfg *Config, path string) *Holder {
	return &Holder{cfg: *cfg, path: path}
}

// Get returns a copy of the current Config snapshot.
func (h *Holder) Get() Config {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.cfg
}

// Reload re-runs LoadFrom against the holder's YAML path and swaps in the
// result if it loads and validates cleanly. A failed reload leaves the
// previous snapshot in place and returns the error.
func (h *Holder) Reload() error {
	cfg, err := LoadFrom(h.path)
	if err != nil {
		return err
	}

	h.mu.Lock()
	h.cfg = *cfg
	h.mu.Unlock()
	return nil
}
