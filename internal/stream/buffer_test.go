package stream

import (
	"strings"
	"testing"

	"github.com/kalambet/aide/internal/directive"
)

// feedAll runs fragments through a fresh buffer and returns the concatenated
// visible output plus the buffer for directive inspection.
func feedAll(fragments ...string) (string, *Buffer) {
	b := &Buffer{}
	var out strings.Builder
	for _, f := range fragments {
		out.WriteString(b.Feed(f))
	}
	out.WriteString(b.Flush())
	return out.String(), b
}

func TestPlainTextPassesThrough(t *testing.T) {
	out, b := feedAll("Hello, ", "how can I help", " today?")
	if out != "Hello, how can I help today?" {
		t.Errorf("visible = %q", out)
	}
	if len(b.Directives()) != 0 {
		t.Errorf("directives = %v", b.Directives())
	}
}

func TestDirectiveSplitAcrossFragments(t *testing.T) {
	out, b := feedAll("Done! [ACT", "ION:complete:task_", "id:5] Anything else?")
	if out != "Done!  Anything else?" {
		t.Errorf("visible = %q", out)
	}
	dirs := b.Directives()
	if len(dirs) != 1 {
		t.Fatalf("directives = %v", dirs)
	}
	if dirs[0].Kind != directive.KindComplete || dirs[0].TaskID != 5 {
		t.Errorf("directive = %+v", dirs[0])
	}
}

func TestSingleByteFragments(t *testing.T) {
	input := "Sure. [ACTION:remind:task_id:7:2h] Reminder coming up."
	var fragments []string
	for _, r := range input {
		fragments = append(fragments, string(r))
	}
	out, b := feedAll(fragments...)
	if out != "Sure.  Reminder coming up." {
		t.Errorf("visible = %q", out)
	}
	if len(b.Directives()) != 1 {
		t.Fatalf("directives = %v", b.Directives())
	}
	if b.Directives()[0].Payload != "2h" {
		t.Errorf("payload = %q", b.Directives()[0].Payload)
	}
}

func TestNonDirectiveBracketsSurface(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"citation", "See [1] for details."},
		{"unknown kind", "Try [ACTION:frobnicate:99] maybe."},
		{"bare brackets", "An [aside] here."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, b := feedAll(tt.in)
			if out != tt.in {
				t.Errorf("visible = %q, want %q", out, tt.in)
			}
			if len(b.Directives()) != 0 {
				t.Errorf("directives = %v", b.Directives())
			}
		})
	}
}

func TestUnterminatedBracketFlushed(t *testing.T) {
	b := &Buffer{}
	first := b.Feed("Thinking [ACTION:complete:task_id:")
	if first != "Thinking " {
		t.Errorf("visible before flush = %q", first)
	}
	residue := b.Flush()
	if residue != "[ACTION:complete:task_id:" {
		t.Errorf("flush residue = %q", residue)
	}
	// Flush must drain the buffer.
	if again := b.Flush(); again != "" {
		t.Errorf("second flush = %q", again)
	}
}

func TestDirectiveNestedAfterFalseOpen(t *testing.T) {
	out, b := feedAll("note [x [ACTION:complete:task_id:3] done")
	if out != "note [x  done" {
		t.Errorf("visible = %q", out)
	}
	dirs := b.Directives()
	if len(dirs) != 1 || dirs[0].TaskID != 3 {
		t.Fatalf("directives = %v", dirs)
	}
}

func TestMultipleDirectivesInOrder(t *testing.T) {
	out, b := feedAll(
		"First [ACTION:complete:task_id:1] then ",
		`[ACTION:create_task:{"description":"follow up"}] done.`,
	)
	if out != "First  then  done." {
		t.Errorf("visible = %q", out)
	}
	dirs := b.Directives()
	if len(dirs) != 2 {
		t.Fatalf("directives = %v", dirs)
	}
	if dirs[0].Kind != directive.KindComplete || dirs[1].Kind != directive.KindCreateTask {
		t.Errorf("order = %s, %s", dirs[0].Kind, dirs[1].Kind)
	}
}

// Fragment boundaries must never change the classification: any split of the
// input yields the same visible text and directives as feeding it whole.
func TestFragmentationInvariance(t *testing.T) {
	input := "Okay [ACTION:help:task_id:4] and [2] citations [ACTION:explore:job market] end"

	wantOut, wantBuf := feedAll(input)

	for split := 1; split < len(input); split++ {
		out, b := feedAll(input[:split], input[split:])
		if out != wantOut {
			t.Fatalf("split %d: visible = %q, want %q", split, out, wantOut)
		}
		if len(b.Directives()) != len(wantBuf.Directives()) {
			t.Fatalf("split %d: directives = %v", split, b.Directives())
		}
	}
}
