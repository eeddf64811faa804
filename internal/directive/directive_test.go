package directive

import (
	"errors"
	"testing"
	"time"
)

func TestParseTaskForms(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want Directive
	}{
		{
			name: "long form with payload",
			in:   "[ACTION:remind:task_id:5:2h]",
			want: Directive{Kind: KindRemind, TaskID: 5, HasTaskID: true, Payload: "2h"},
		},
		{
			name: "short form bare id",
			in:   "[ACTION:complete:task_id:5]",
			want: Directive{Kind: KindComplete, TaskID: 5, HasTaskID: true},
		},
		{
			name: "numeric target without task_id marker",
			in:   "[ACTION:notes:12:call back on Monday]",
			want: Directive{Kind: KindNotes, TaskID: 12, HasTaskID: true, Payload: "call back on Monday"},
		},
		{
			name: "task_id form with free value leaves target unresolved",
			in:   "[ACTION:complete:task_id:the dentist one]",
			want: Directive{Kind: KindComplete, Payload: "the dentist one"},
		},
		{
			name: "explore takes a bare topic",
			in:   "[ACTION:explore:embedded robotics roles]",
			want: Directive{Kind: KindExplore, Payload: "embedded robotics roles"},
		},
		{
			name: "non-integer target folds into payload",
			in:   "[ACTION:remind:task_id:tomorrow:2h]",
			want: Directive{Kind: KindRemind, Payload: "tomorrow:2h"},
		},
		{
			name: "help directive",
			in:   "[ACTION:help:task_id:3]",
			want: Directive{Kind: KindHelp, TaskID: 3, HasTaskID: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Parse(tt.in)
			if !ok {
				t.Fatalf("Parse(%q) did not match", tt.in)
			}
			tt.want.Raw = tt.in
			if got != tt.want {
				t.Errorf("Parse(%q) = %+v, want %+v", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseProfileForms(t *testing.T) {
	got, ok := Parse(`[ACTION:profile:preference:{"tone":"direct"}]`)
	if !ok {
		t.Fatal("profile directive did not match")
	}
	if got.Kind != KindProfile || got.Subtype != ProfilePreference {
		t.Errorf("got kind=%s subtype=%s", got.Kind, got.Subtype)
	}
	if got.Payload != `{"tone":"direct"}` {
		t.Errorf("payload = %q", got.Payload)
	}
}

func TestParseCreateTaskForm(t *testing.T) {
	got, ok := Parse(`[ACTION:create_task:{"description":"book flights","urgency":4}]`)
	if !ok {
		t.Fatal("create_task directive did not match")
	}
	if got.Kind != KindCreateTask {
		t.Errorf("kind = %s", got.Kind)
	}
	p, err := ParseCreateTask(got.Payload)
	if err != nil {
		t.Fatalf("ParseCreateTask: %v", err)
	}
	if p.Description != "book flights" || p.Urgency != 4 {
		t.Errorf("payload = %+v", p)
	}
}

func TestParseRejects(t *testing.T) {
	tests := []string{
		"[ACTION:unknownkind:task_id:5]",
		"[ACTION:]",
		"[not a directive]",
		"plain text",
		"[ACTION:complete:task_id:5] trailing",
		// The bare two-field form belongs to explore alone; prose after
		// another kind stays visible text.
		"[ACTION:complete:the dentist one]",
		"[ACTION:draft_email:{\"body\":\"hi\"}]",
	}
	for _, in := range tests {
		if d, ok := Parse(in); ok {
			t.Errorf("Parse(%q) matched unexpectedly: %+v", in, d)
		}
	}
}

func TestRequiresTarget(t *testing.T) {
	targetless := []Kind{KindProfile, KindCreateTask, KindExplore}
	for _, k := range targetless {
		if k.RequiresTarget() {
			t.Errorf("%s should not require a target", k)
		}
	}
	targeted := []Kind{KindComplete, KindRemind, KindHelp, KindNotes, KindDescription, KindDraftEmail}
	for _, k := range targeted {
		if !k.RequiresTarget() {
			t.Errorf("%s should require a target", k)
		}
	}
}

func TestParseCreateTaskValidation(t *testing.T) {
	if _, err := ParseCreateTask("not json"); !errors.Is(err, ErrPayloadNotObject) {
		t.Errorf("non-JSON payload: err = %v, want ErrPayloadNotObject", err)
	}

	var missing *MissingFieldError
	_, err := ParseCreateTask(`{"urgency":2}`)
	if !errors.As(err, &missing) || missing.Field != "description" {
		t.Errorf("missing description: err = %v", err)
	}

	if _, err := ParseCreateTask(`{"description":"x","urgency":9}`); err == nil {
		t.Error("urgency 9 should be rejected")
	}

	p, err := ParseCreateTask(`{"description":"x"}`)
	if err != nil {
		t.Fatalf("ParseCreateTask: %v", err)
	}
	if p.Urgency != 3 {
		t.Errorf("default urgency = %d, want 3", p.Urgency)
	}
}

func TestParseDraftEmail(t *testing.T) {
	p, err := ParseDraftEmail(`{"subject":"intro","to":"sam@example.com","body":"hi"}`)
	if err != nil {
		t.Fatalf("ParseDraftEmail: %v", err)
	}
	if p.Subject != "intro" || p.To != "sam@example.com" || p.Body != "hi" {
		t.Errorf("payload = %+v", p)
	}

	var missing *MissingFieldError
	if _, err := ParseDraftEmail(`{"subject":"no body"}`); !errors.As(err, &missing) {
		t.Errorf("missing body: err = %v", err)
	}
}

func TestParseProfilePayload(t *testing.T) {
	obj := ParseProfilePayload(`{"industry":"robotics"}`)
	if obj["industry"] != "robotics" {
		t.Errorf("object payload = %v", obj)
	}

	wrapped := ParseProfilePayload("likes morning meetings")
	if wrapped["value"] != "likes morning meetings" {
		t.Errorf("wrapped payload = %v", wrapped)
	}
}

func TestParseAlert(t *testing.T) {
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		token   string
		want    Alert
		wantErr bool
	}{
		{token: "2h", want: Alert{At: now.Add(2 * time.Hour)}},
		{token: "3d", want: Alert{At: now.AddDate(0, 0, 3)}},
		{token: "next_debrief", want: Alert{NextDebrief: true}},
		{token: "2025-07-04T09:00:00Z", want: Alert{At: time.Date(2025, 7, 4, 9, 0, 0, 0, time.UTC)}},
		{token: "2025-07-04", want: Alert{At: time.Date(2025, 7, 4, 0, 0, 0, 0, time.UTC)}},
		{token: "soonish", wantErr: true},
		{token: "", wantErr: true},
	}

	for _, tt := range tests {
		got, err := ParseAlert(tt.token, now)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseAlert(%q) should fail", tt.token)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseAlert(%q): %v", tt.token, err)
			continue
		}
		if got.NextDebrief != tt.want.NextDebrief || !got.At.Equal(tt.want.At) {
			t.Errorf("ParseAlert(%q) = %+v, want %+v", tt.token, got, tt.want)
		}
	}
}
