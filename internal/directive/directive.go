// Package directive defines the machine-readable markup the reasoning
// backends embed in their output, and a single tolerant parse function
// over it. Directives are transient values: they live for one response
// cycle and are never persisted.
package directive

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// Kind identifies what a directive asks the assistant to do.
type Kind string

const (
	KindComplete    Kind = "complete"
	KindRemind      Kind = "remind"
	KindHelp        Kind = "help"
	KindNotes       Kind = "notes"
	KindDescription Kind = "description"
	KindDraftEmail  Kind = "draft_email"
	KindCreateTask  Kind = "create_task"
	KindExplore     Kind = "explore"
	KindProfile     Kind = "profile"
)

// ProfileSubtype narrows a profile directive.
type ProfileSubtype string

const (
	ProfileUpdate     ProfileSubtype = "update"
	ProfilePreference ProfileSubtype = "preference"
	ProfileGoal       ProfileSubtype = "goal"
)

// Directive is one parsed action token. TaskID is meaningful only when
// HasTaskID is true; otherwise the target is unresolved and must be filled
// in from conversational context before dispatch.
type Directive struct {
	Kind      Kind
	Subtype   ProfileSubtype // profile directives only
	TaskID    int64
	HasTaskID bool
	Payload   string
	Raw       string // the full matched token, kept for audit logging
}

// The accepted token shapes, tried in order. The task_id long form is
// matched before the bare-integer form so a non-numeric slot after task_id
// degrades into the payload instead of failing the whole token.
var (
	profileRe    = regexp.MustCompile(`^\[ACTION:profile:(\w+):([^\]]*)\]$`)
	createTaskRe = regexp.MustCompile(`^\[ACTION:create_task:([^\]]*)\]$`)
	taskIDLongRe = regexp.MustCompile(`^\[ACTION:(\w+):task_id:([^\]:]+):([^\]]*)\]$`)
	taskIDRe     = regexp.MustCompile(`^\[ACTION:(\w+):task_id:([^\]]*)\]$`)
	numericRe    = regexp.MustCompile(`^\[ACTION:(\w+):(\d+):([^\]]*)\]$`)
	genericRe    = regexp.MustCompile(`^\[ACTION:(\w+):([^\]]*)\]$`)
)

// Parse attempts to interpret candidate as a complete directive token.
// It returns the parsed directive and true on a grammar match, or a zero
// Directive and false otherwise. Parsing is tolerant: a target slot that
// fails to parse as an integer is folded into the payload and the target
// left unresolved, to be supplied later from conversational context.
func Parse(candidate string) (Directive, bool) {
	if m := profileRe.FindStringSubmatch(candidate); m != nil {
		return Directive{
			Kind:    KindProfile,
			Subtype: ProfileSubtype(m[1]),
			Payload: m[2],
			Raw:     candidate,
		}, true
	}

	if m := createTaskRe.FindStringSubmatch(candidate); m != nil {
		return Directive{Kind: KindCreateTask, Payload: m[1], Raw: candidate}, true
	}

	if m := taskIDLongRe.FindStringSubmatch(candidate); m != nil {
		d := Directive{Kind: Kind(m[1]), Raw: candidate}
		if id, err := strconv.ParseInt(m[2], 10, 64); err == nil {
			d.TaskID = id
			d.HasTaskID = true
			d.Payload = m[3]
		} else {
			d.Payload = m[2] + ":" + m[3]
		}
		if !knownKind(d.Kind) {
			return Directive{}, false
		}
		return d, true
	}

	if m := taskIDRe.FindStringSubmatch(candidate); m != nil {
		d := Directive{Kind: Kind(m[1]), Raw: candidate}
		if id, err := strconv.ParseInt(m[2], 10, 64); err == nil {
			d.TaskID = id
			d.HasTaskID = true
		} else {
			d.Payload = m[2]
		}
		if !knownKind(d.Kind) {
			return Directive{}, false
		}
		return d, true
	}

	if m := numericRe.FindStringSubmatch(candidate); m != nil {
		d := Directive{Kind: Kind(m[1]), Raw: candidate}
		if !knownKind(d.Kind) {
			return Directive{}, false
		}
		if id, err := strconv.ParseInt(m[2], 10, 64); err == nil {
			d.TaskID = id
			d.HasTaskID = true
			d.Payload = m[3]
		} else {
			// \d+ matched but the value overflows; fold into the payload.
			d.Payload = m[2] + ":" + m[3]
		}
		return d, true
	}

	return parseGeneric(candidate)
}

// parseGeneric accepts the bare two-field form for explore only, whose
// payload is a free-text topic with no target slot. Every other kind must
// arrive through one of the targeted forms above; a two-field token like
// [ACTION:complete:some prose] is not a directive and stays visible text.
func parseGeneric(candidate string) (Directive, bool) {
	m := genericRe.FindStringSubmatch(candidate)
	if m == nil {
		return Directive{}, false
	}
	if Kind(m[1]) != KindExplore {
		return Directive{}, false
	}
	return Directive{Kind: KindExplore, Payload: m[2], Raw: candidate}, true
}

func knownKind(k Kind) bool {
	switch k {
	case KindComplete, KindRemind, KindHelp, KindNotes, KindDescription,
		KindDraftEmail, KindCreateTask, KindExplore, KindProfile:
		return true
	}
	return false
}

// RequiresTarget reports whether directives of this kind must resolve to a
// task id before they can be applied. Only profile, create_task, and
// explore act without one; a draft_email is always scoped to the task it
// was drafted for.
func (k Kind) RequiresTarget() bool {
	switch k {
	case KindProfile, KindCreateTask, KindExplore:
		return false
	}
	return true
}

// --- Payloads ---

// ErrPayloadNotObject indicates a payload that was required to be a JSON
// object but wasn't.
var ErrPayloadNotObject = fmt.Errorf("payload is not a JSON object")

// MissingFieldError reports a required payload field that was absent.
type MissingFieldError struct {
	Field string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("payload missing required field %q", e.Field)
}

// CreateTaskPayload is the validated payload of a create_task directive.
type CreateTaskPayload struct {
	Description string `json:"description"`
	Urgency     int    `json:"urgency"`
}

// ParseCreateTask validates a create_task payload. Description is required;
// urgency defaults to 3 and must land in [1,5].
func ParseCreateTask(payload string) (CreateTaskPayload, error) {
	var p CreateTaskPayload
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		return CreateTaskPayload{}, fmt.Errorf("%w: %v", ErrPayloadNotObject, err)
	}
	if p.Description == "" {
		return CreateTaskPayload{}, &MissingFieldError{Field: "description"}
	}
	if p.Urgency == 0 {
		p.Urgency = 3
	}
	if p.Urgency < 1 || p.Urgency > 5 {
		return CreateTaskPayload{}, fmt.Errorf("urgency %d out of range [1,5]", p.Urgency)
	}
	return p, nil
}

// DraftEmailPayload is the validated payload of a draft_email directive.
// Subject and To are optional; Body carries the draft text.
type DraftEmailPayload struct {
	Subject string `json:"subject"`
	To      string `json:"to"`
	Body    string `json:"body"`
}

// ParseDraftEmail validates a draft_email payload.
func ParseDraftEmail(payload string) (DraftEmailPayload, error) {
	var p DraftEmailPayload
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		return DraftEmailPayload{}, fmt.Errorf("%w: %v", ErrPayloadNotObject, err)
	}
	if p.Body == "" {
		return DraftEmailPayload{}, &MissingFieldError{Field: "body"}
	}
	return p, nil
}

// ParseProfilePayload interprets a profile directive payload. A JSON object
// passes through as-is; anything else is wrapped as {"value": payload}.
func ParseProfilePayload(payload string) map[string]any {
	var obj map[string]any
	if err := json.Unmarshal([]byte(payload), &obj); err == nil && obj != nil {
		return obj
	}
	return map[string]any{"value": payload}
}

// --- Reminder time tokens ---

// Alert is a parsed reminder time: either a concrete moment or the
// next-debrief sentinel.
type Alert struct {
	At          time.Time
	NextDebrief bool
}

var (
	hoursRe = regexp.MustCompile(`^(\d+)h$`)
	daysRe  = regexp.MustCompile(`^(\d+)d$`)
)

// ParseAlert interprets a reminder token relative to now: "<N>h", "<N>d",
// the literal "next_debrief", or an RFC3339-style absolute timestamp.
func ParseAlert(token string, now time.Time) (Alert, error) {
	if token == "next_debrief" {
		return Alert{NextDebrief: true}, nil
	}
	if m := hoursRe.FindStringSubmatch(token); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			return Alert{}, fmt.Errorf("invalid hour count %q", m[1])
		}
		return Alert{At: now.Add(time.Duration(n) * time.Hour)}, nil
	}
	if m := daysRe.FindStringSubmatch(token); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			return Alert{}, fmt.Errorf("invalid day count %q", m[1])
		}
		return Alert{At: now.AddDate(0, 0, n)}, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, token); err == nil {
			return Alert{At: t}, nil
		}
	}
	return Alert{}, fmt.Errorf("unrecognized reminder time %q", token)
}
