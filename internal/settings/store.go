package settings

import (
	_ "embed"
	"fmt"
	"os"
	"sync"

	"horse.fit/glint/internal/payload"
)

//go:embed settings.schema.json
var settingsSchemaJSON string

var settingsValidator = payload.NewValidator("settings.schema.json", settingsSchemaJSON)

// Parse validates raw JSON settings against the embedded schema and applies defaults.
func Parse(raw []byte) (Settings, error) {
	var s Settings
	if err := settingsValidator.Decode(raw, &s); err != nil {
		return Settings{}, err
	}
	s = s.WithDefaults()
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// LoadFile reads and parses a settings file.
func LoadFile(path string) (Settings, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, fmt.Errorf("read settings file: %w", err)
	}
	s, err := Parse(raw)
	if err != nil {
		return Settings{}, fmt.Errorf("parse settings file %s: %w", path, err)
	}
	return s, nil
}

// Store holds the current settings and notifies subscribers on change.
type Store struct {
	mu      sync.RWMutex
	current Settings
	nextID  int
	subs    map[int]func(Settings)
}

func NewStore(initial Settings) *Store {
	return &Store{
		current: initial.WithDefaults(),
		subs:    make(map[int]func(Settings)),
	}
}

// Get returns a copy of the current settings.
func (s *Store) Get() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.Clone()
}

// Update applies mutate to a copy, validates it and publishes it.
func (s *Store) Update(mutate func(*Settings)) error {
	s.mu.Lock()
	next := s.current.Clone()
	mutate(&next)
	next = next.WithDefaults()
	if err := next.Validate(); err != nil {
		s.mu.Unlock()
		return err
	}
	s.current = next
	subs := make([]func(Settings), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	for _, fn := range subs {
		fn(next.Clone())
	}
	return nil
}

// Subscribe registers fn for future changes and returns an unsubscribe func.
func (s *Store) Subscribe(fn func(Settings)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}
}
