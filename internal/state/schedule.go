// internal/state/schedule.go
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rarehotdog/pjt.mayhem/internal/persona"
)

const (
	ScheduleReminder = "reminder"
	ScheduleOps      = "ops"
)

// Schedule is a cron entry that fires either a reminder batch for one bot
// or an ops flow.
type Schedule struct {
	Name         string     `json:"name"`
	Kind         string     `json:"kind"`
	Bot          persona.ID `json:"bot,omitempty"`
	ReminderKind string     `json:"reminder_kind,omitempty"`
	Flow         string     `json:"flow,omitempty"`
	Mode         string     `json:"mode,omitempty"`
	Schedule     string     `json:"schedule"`
	Enabled      bool       `json:"enabled"`
}

// Validate checks the fields that depend on Kind.
func (s *Schedule) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("schedule name is required")
	}
	if s.Schedule == "" {
		return fmt.Errorf("schedule %s: cron expression is required", s.Name)
	}
	switch s.Kind {
	case ScheduleReminder:
		if s.Bot != "" && !persona.IsValid(string(s.Bot)) {
			return fmt.Errorf("schedule %s: unknown bot %q", s.Name, s.Bot)
		}
	case ScheduleOps:
		if s.Flow == "" {
			return fmt.Errorf("schedule %s: flow is required", s.Name)
		}
	default:
		return fmt.Errorf("schedule %s: unknown kind %q", s.Name, s.Kind)
	}
	return nil
}

// ScheduleStore is a JSON-file-backed store for schedules.
type ScheduleStore struct {
	path string
	mu   sync.RWMutex
}

// NewScheduleStore creates a new file-backed ScheduleStore at the given file path.
func NewScheduleStore(path string) *ScheduleStore {
	return &ScheduleStore{path: path}
}

// Path returns the file path used by this store.
func (s *ScheduleStore) Path() string {
	return s.path
}

// Seed writes defaults when the file does not exist yet. It reports whether
// anything was written.
func (s *ScheduleStore) Seed(defaults []*Schedule) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(s.path); err == nil {
		return false, nil
	} else if !os.IsNotExist(err) {
		return false, fmt.Errorf("stat schedules file: %w", err)
	}
	return true, s.save(defaults)
}

// List returns all schedules. Returns an empty slice if the file doesn't exist.
func (s *ScheduleStore) List() ([]*Schedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	schedules, err := s.load()
	if err != nil {
		return nil, err
	}
	if schedules == nil {
		return []*Schedule{}, nil
	}
	return schedules, nil
}

// Get finds a schedule by name.
func (s *ScheduleStore) Get(name string) (*Schedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	schedules, err := s.load()
	if err != nil {
		return nil, err
	}
	for _, sc := range schedules {
		if sc.Name == name {
			return sc, nil
		}
	}
	return nil, fmt.Errorf("schedule not found: %s", name)
}

// Add appends a schedule. Names are unique.
func (s *ScheduleStore) Add(sc *Schedule) error {
	if err := sc.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	schedules, err := s.load()
	if err != nil {
		return err
	}
	for _, existing := range schedules {
		if existing.Name == sc.Name {
			return fmt.Errorf("schedule already exists: %s", sc.Name)
		}
	}
	return s.save(append(schedules, sc))
}

// Remove deletes a schedule by name.
func (s *ScheduleStore) Remove(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	schedules, err := s.load()
	if err != nil {
		return err
	}
	for i, sc := range schedules {
		if sc.Name == name {
			schedules = append(schedules[:i], schedules[i+1:]...)
			return s.save(schedules)
		}
	}
	return fmt.Errorf("schedule not found: %s", name)
}

// SetEnabled toggles the enabled flag for a schedule.
func (s *ScheduleStore) SetEnabled(name string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	schedules, err := s.load()
	if err != nil {
		return err
	}
	for _, sc := range schedules {
		if sc.Name == name {
			sc.Enabled = enabled
			return s.save(schedules)
		}
	}
	return fmt.Errorf("schedule not found: %s", name)
}

func (s *ScheduleStore) load() ([]*Schedule, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read schedules file: %w", err)
	}

	var schedules []*Schedule
	if err := json.Unmarshal(data, &schedules); err != nil {
		return nil, fmt.Errorf("unmarshal schedules: %w", err)
	}
	return schedules, nil
}

// save writes the schedule list using atomic write (temp file + rename).
func (s *ScheduleStore) save(schedules []*Schedule) error {
	data, err := json.MarshalIndent(schedules, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal schedules: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create schedules dir: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp schedules file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename temp schedules file: %w", err)
	}
	return nil
}
