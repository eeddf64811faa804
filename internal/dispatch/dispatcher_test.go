package dispatch

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/kalambet/aide/internal/directive"
	"github.com/kalambet/aide/internal/profile"
	"github.com/kalambet/aide/internal/storage"
)

type fakeTaskStore struct {
	tasks   map[int64]storage.Task
	nextID  int64
	notes   map[int64][]string
	failAll bool
}

func newFakeTaskStore(tasks ...storage.Task) *fakeTaskStore {
	f := &fakeTaskStore{tasks: make(map[int64]storage.Task), notes: make(map[int64][]string), nextID: 100}
	for _, t := range tasks {
		f.tasks[t.ID] = t
	}
	return f
}

func (f *fakeTaskStore) CreateTask(description string, urgency int, status storage.TaskStatus, alert string) (int64, error) {
	if f.failAll {
		return 0, storage.ErrNotFound
	}
	f.nextID++
	f.tasks[f.nextID] = storage.Task{ID: f.nextID, Description: description, Urgency: urgency, Status: status, Alert: alert}
	return f.nextID, nil
}

func (f *fakeTaskStore) GetTask(id int64) (storage.Task, error) {
	t, ok := f.tasks[id]
	if !ok {
		return storage.Task{}, storage.ErrNotFound
	}
	return t, nil
}

func (f *fakeTaskStore) SetTaskStatus(id int64, status storage.TaskStatus, alert string) error {
	t, ok := f.tasks[id]
	if !ok {
		return storage.ErrNotFound
	}
	t.Status = status
	t.Alert = alert
	f.tasks[id] = t
	return nil
}

func (f *fakeTaskStore) AppendTaskNotes(id int64, notes string) error {
	if _, ok := f.tasks[id]; !ok {
		return storage.ErrNotFound
	}
	f.notes[id] = append(f.notes[id], notes)
	return nil
}

type fakeProfile struct {
	inputs  []string
	insight string
}

func (f *fakeProfile) ProcessInput(ctx context.Context, input string, src profile.Source) (map[string]any, string) {
	f.inputs = append(f.inputs, input)
	return map[string]any{}, f.insight
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

func mustParse(t *testing.T, token string) directive.Directive {
	t.Helper()
	d, ok := directive.Parse(token)
	if !ok {
		t.Fatalf("Parse(%q) did not match", token)
	}
	return d
}

func TestDispatchComplete(t *testing.T) {
	store := newFakeTaskStore(storage.Task{ID: 5, Status: storage.StatusPending})
	d := New(store, nil)

	note := d.Dispatch(context.Background(), mustParse(t, "[ACTION:complete:task_id:5]"), &Context{})
	if note != "Task #5 marked as completed" {
		t.Errorf("note = %q", note)
	}
	if store.tasks[5].Status != storage.StatusCompleted {
		t.Errorf("status = %s", store.tasks[5].Status)
	}
	if store.tasks[5].Alert != "" {
		t.Errorf("completing must clear the alert, got %q", store.tasks[5].Alert)
	}
}

func TestDispatchHelp(t *testing.T) {
	store := newFakeTaskStore(storage.Task{ID: 3, Status: storage.StatusPending})
	d := New(store, nil)

	note := d.Dispatch(context.Background(), mustParse(t, "[ACTION:help:task_id:3]"), &Context{})
	if !strings.Contains(note, "needing help") {
		t.Errorf("note = %q", note)
	}
	got := store.tasks[3]
	if got.Status != storage.StatusHalfCompleted || got.Alert != storage.AlertNextDebrief {
		t.Errorf("task = %+v", got)
	}
}

func TestDispatchRemind(t *testing.T) {
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	store := newFakeTaskStore(storage.Task{ID: 7, Status: storage.StatusHalfCompleted})
	d := NewWithClock(store, nil, fixedClock{now})

	note := d.Dispatch(context.Background(), mustParse(t, "[ACTION:remind:task_id:7:2h]"), &Context{})
	want := "Reminder set for task #7 (2025-06-01T12:00:00Z)"
	if note != want {
		t.Errorf("note = %q, want %q", note, want)
	}
	got := store.tasks[7]
	if got.Alert != "2025-06-01T12:00:00Z" {
		t.Errorf("alert = %q", got.Alert)
	}
	if got.Status != storage.StatusHalfCompleted {
		t.Errorf("reminder must not change status, got %s", got.Status)
	}
}

func TestDispatchRemindInvalidToken(t *testing.T) {
	store := newFakeTaskStore(storage.Task{ID: 7, Status: storage.StatusPending})
	d := New(store, nil)

	note := d.Dispatch(context.Background(), mustParse(t, "[ACTION:remind:task_id:7:whenever]"), &Context{})
	if !strings.HasPrefix(note, "Could not set a reminder for task #7") {
		t.Errorf("note = %q", note)
	}
	if store.tasks[7].Alert != "" {
		t.Errorf("alert should be untouched, got %q", store.tasks[7].Alert)
	}
}

func TestDispatchNotesAppend(t *testing.T) {
	store := newFakeTaskStore(storage.Task{ID: 2, Description: "original"})
	d := New(store, nil)

	note := d.Dispatch(context.Background(), mustParse(t, "[ACTION:notes:task_id:2:they want a demo]"), &Context{})
	if note != "Notes added to task #2" {
		t.Errorf("note = %q", note)
	}
	if len(store.notes[2]) != 1 || store.notes[2][0] != "they want a demo" {
		t.Errorf("notes = %v", store.notes[2])
	}
}

func TestDispatchDescriptionAlsoAppends(t *testing.T) {
	store := newFakeTaskStore(storage.Task{ID: 2, Description: "original"})
	d := New(store, nil)

	d.Dispatch(context.Background(), mustParse(t, "[ACTION:description:task_id:2:replacement text]"), &Context{})
	if len(store.notes[2]) != 1 {
		t.Fatalf("description directive must append, notes = %v", store.notes[2])
	}
}

func TestDispatchCreateTask(t *testing.T) {
	store := newFakeTaskStore()
	d := New(store, nil)
	conv := &Context{}

	note := d.Dispatch(context.Background(), mustParse(t, `[ACTION:create_task:{"description":"book flights","urgency":4}]`), conv)
	if note != "Created task #101 (urgency 4): book flights" {
		t.Errorf("note = %q", note)
	}
	if len(conv.RecentTaskIDs) != 1 || conv.RecentTaskIDs[0] != 101 {
		t.Errorf("conversation context = %v", conv.RecentTaskIDs)
	}
}

func TestDispatchCreateTaskMalformed(t *testing.T) {
	store := newFakeTaskStore()
	d := New(store, nil)

	note := d.Dispatch(context.Background(), mustParse(t, "[ACTION:create_task:not json at all]"), &Context{})
	if !strings.HasPrefix(note, "Could not create task") {
		t.Errorf("note = %q", note)
	}
	if len(store.tasks) != 0 {
		t.Errorf("no task should be created, got %v", store.tasks)
	}
}

func TestResolveTargetFromContext(t *testing.T) {
	store := newFakeTaskStore(
		storage.Task{ID: 1, Status: storage.StatusCompleted},
		storage.Task{ID: 2, Status: storage.StatusPending},
	)
	d := New(store, nil)
	conv := &Context{RecentTaskIDs: []int64{1, 2}}

	note := d.Dispatch(context.Background(), mustParse(t, "[ACTION:complete:task_id:that one]"), conv)
	if note != "Task #2 marked as completed" {
		t.Errorf("note = %q", note)
	}
}

func TestUnresolvableTargetDropped(t *testing.T) {
	store := newFakeTaskStore(storage.Task{ID: 1, Status: storage.StatusCompleted})
	d := New(store, nil)
	conv := &Context{RecentTaskIDs: []int64{1}}

	note := d.Dispatch(context.Background(), mustParse(t, "[ACTION:complete:task_id:it]"), conv)
	if note != "" {
		t.Errorf("unresolvable directive should be silent, got %q", note)
	}
}

func TestDispatchDraftEmail(t *testing.T) {
	store := newFakeTaskStore(storage.Task{ID: 6, Status: storage.StatusPending})
	d := New(store, nil)
	conv := &Context{}

	note := d.Dispatch(context.Background(), mustParse(t, `[ACTION:draft_email:6:{"to":"sam@example.com","subject":"intro","body":"hello"}]`), conv)
	if !strings.Contains(note, "sam@example.com") || !strings.Contains(note, "hello") {
		t.Errorf("note = %q", note)
	}
	if len(conv.RecentTaskIDs) != 1 || conv.RecentTaskIDs[0] != 6 {
		t.Errorf("conversation context = %v", conv.RecentTaskIDs)
	}
}

func TestDispatchDraftEmailNoTargetDropped(t *testing.T) {
	store := newFakeTaskStore()
	d := New(store, nil)

	note := d.Dispatch(context.Background(), mustParse(t, `[ACTION:draft_email:task_id:{"to":"a@b.c","subject":"hi","body":"hello"}]`), &Context{})
	if note != "" {
		t.Errorf("draft with no resolvable task should be dropped, got %q", note)
	}
}

func TestDispatchProfile(t *testing.T) {
	store := newFakeTaskStore()
	prof := &fakeProfile{insight: "Noted your preference for direct answers."}
	d := New(store, prof)

	note := d.Dispatch(context.Background(), mustParse(t, `[ACTION:profile:preference:{"tone":"direct"}]`), &Context{})
	if note != "Noted your preference for direct answers." {
		t.Errorf("note = %q", note)
	}
	if len(prof.inputs) != 1 || !strings.Contains(prof.inputs[0], `"preference"`) {
		t.Errorf("profile inputs = %v", prof.inputs)
	}
}

func TestDispatchProfileNoUpdater(t *testing.T) {
	d := New(newFakeTaskStore(), nil)
	note := d.Dispatch(context.Background(), mustParse(t, `[ACTION:profile:update:{"a":1}]`), &Context{})
	if note != "" {
		t.Errorf("note = %q, want silence", note)
	}
}

func TestDispatchAllOrderAndAnnotations(t *testing.T) {
	store := newFakeTaskStore(storage.Task{ID: 4, Status: storage.StatusPending})
	d := New(store, nil)
	conv := &Context{}

	dirs := []directive.Directive{
		mustParse(t, "[ACTION:complete:task_id:4]"),
		mustParse(t, "[ACTION:explore:new roles]"),
		mustParse(t, `[ACTION:create_task:{"description":"follow up"}]`),
	}
	notes := d.DispatchAll(context.Background(), dirs, conv)
	if len(notes) != 2 {
		t.Fatalf("notes = %v", notes)
	}
	if notes[0] != "Task #4 marked as completed" {
		t.Errorf("notes[0] = %q", notes[0])
	}
	if !strings.HasPrefix(notes[1], "Created task #101") {
		t.Errorf("notes[1] = %q", notes[1])
	}
}

func TestNoteTaskDedupes(t *testing.T) {
	c := &Context{}
	c.NoteTask(1)
	c.NoteTask(2)
	c.NoteTask(1)
	if len(c.RecentTaskIDs) != 2 || c.RecentTaskIDs[0] != 1 || c.RecentTaskIDs[1] != 2 {
		t.Errorf("RecentTaskIDs = %v", c.RecentTaskIDs)
	}
}
