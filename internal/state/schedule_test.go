// internal/state/schedule_test.go
package state

import (
	"path/filepath"
	"testing"

	"github.com/rarehotdog/pjt.mayhem/internal/persona"
)

func newScheduleStore(t *testing.T) *ScheduleStore {
	t.Helper()
	return NewScheduleStore(filepath.Join(t.TempDir(), "schedules.json"))
}

func morningSchedule() *Schedule {
	return &Schedule{
		Name:         "morning",
		Kind:         ScheduleReminder,
		Bot:          persona.Tyler,
		ReminderKind: "morning_plan",
		Schedule:     "0 8 * * *",
		Enabled:      true,
	}
}

func TestScheduleStore_ListEmpty(t *testing.T) {
	store := newScheduleStore(t)
	schedules, err := store.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(schedules) != 0 {
		t.Errorf("expected empty list, got %d", len(schedules))
	}
}

func TestScheduleStore_AddAndGet(t *testing.T) {
	store := newScheduleStore(t)
	if err := store.Add(morningSchedule()); err != nil {
		t.Fatal(err)
	}

	got, err := store.Get("morning")
	if err != nil {
		t.Fatal(err)
	}
	if got.Kind != ScheduleReminder || got.Bot != persona.Tyler || got.Schedule != "0 8 * * *" {
		t.Errorf("unexpected schedule: %+v", got)
	}
	if err := store.Add(morningSchedule()); err == nil {
		t.Error("expected error for duplicate name")
	}
}

func TestScheduleStore_Validate(t *testing.T) {
	store := newScheduleStore(t)
	bad := []*Schedule{
		{Name: "", Kind: ScheduleOps, Flow: "market_3h", Schedule: "@daily"},
		{Name: "x", Kind: ScheduleOps, Schedule: "@daily"},
		{Name: "y", Kind: "other", Schedule: "@daily"},
		{Name: "z", Kind: ScheduleReminder, Bot: "nobody", Schedule: "@daily"},
		{Name: "w", Kind: ScheduleReminder},
	}
	for _, sc := range bad {
		if err := store.Add(sc); err == nil {
			t.Errorf("expected validation error for %+v", sc)
		}
	}
}

func TestScheduleStore_RemoveAndSetEnabled(t *testing.T) {
	store := newScheduleStore(t)
	store.Add(morningSchedule())

	if err := store.SetEnabled("morning", false); err != nil {
		t.Fatal(err)
	}
	got, _ := store.Get("morning")
	if got.Enabled {
		t.Error("expected disabled")
	}
	if err := store.SetEnabled("nope", true); err == nil {
		t.Error("expected not found error")
	}

	if err := store.Remove("morning"); err != nil {
		t.Fatal(err)
	}
	if err := store.Remove("morning"); err == nil {
		t.Error("expected not found on second remove")
	}
}

func TestScheduleStore_Seed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schedules.json")
	store := NewScheduleStore(path)

	wrote, err := store.Seed([]*Schedule{morningSchedule()})
	if err != nil || !wrote {
		t.Fatalf("expected seed to write: %v %v", wrote, err)
	}
	store.Remove("morning")

	wrote, err = store.Seed([]*Schedule{morningSchedule()})
	if err != nil || wrote {
		t.Fatalf("seed must not overwrite an existing file: %v %v", wrote, err)
	}

	again := NewScheduleStore(path)
	list, _ := again.List()
	if len(list) != 0 {
		t.Errorf("expected user's removal to persist, got %d", len(list))
	}
}
