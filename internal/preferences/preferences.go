package preferences

import (
	"context"
	"sync"
)

// Preferences are the user toggles persisted across sessions.
type Preferences struct {
	LoadViewsOnStartup bool   `json:"load_views_on_startup"`
	ShowExplorer       bool   `json:"show_explorer"`
	APIToken           string `json:"api_token,omitempty"`
}

// Redacted hides the API token for display.
func (p Preferences) Redacted() Preferences {
	if p.APIToken != "" {
		p.APIToken = "***"
	}
	return p
}

type Store interface {
	Load(ctx context.Context) (Preferences, error)
	Save(ctx context.Context, prefs Preferences) error
}

// MemoryStore keeps preferences for the lifetime of the process.
type MemoryStore struct {
	mu    sync.RWMutex
	prefs Preferences
}

func NewMemoryStore(initial Preferences) *MemoryStore {
	return &MemoryStore{prefs: initial}
}

func (s *MemoryStore) Load(context.Context) (Preferences, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.prefs, nil
}

func (s *MemoryStore) Save(_ context.Context, prefs Preferences) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prefs = prefs
	return nil
}
