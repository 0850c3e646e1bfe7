package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"
)

type recordingStep struct {
	name  string
	order *[]string
	err   error
}

func (s *recordingStep) Name() string { return s.name }

func (s *recordingStep) Execute(ctx context.Context, state *PipelineState) error {
	*s.order = append(*s.order, s.name)
	return s.err
}

func TestPipeline_ExecuteStopsAtFirstError(t *testing.T) {
	var order []string
	boom := errors.New("boom")
	p := NewPipeline(
		&recordingStep{name: "a", order: &order},
		&recordingStep{name: "b", order: &order, err: boom},
		&recordingStep{name: "c", order: &order},
	)

	err := p.Execute(context.Background(), &PipelineState{})
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped boom, got %v", err)
	}
	var se *StepError
	if !errors.As(err, &se) || se.Step != 2 || se.Name != "b" {
		t.Errorf("unexpected step error %+v", se)
	}
	if strings.Join(order, "") != "ab" {
		t.Errorf("order = %v", order)
	}
}

func TestPipeline_CancelledContext(t *testing.T) {
	var order []string
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := NewPipeline(&recordingStep{name: "a", order: &order}).Execute(ctx, &PipelineState{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(order) != 0 {
		t.Error("no step should run on a cancelled context")
	}
}

func TestFailureMessage(t *testing.T) {
	long := errors.New(strings.Repeat("x", 3000))
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"user error", &StepError{Step: 1, Err: ErrUnrenderable}, MsgUnrenderable},
		{"deadline", &StepError{Step: 2, Err: context.DeadlineExceeded}, MsgTimedOut},
		{"generic", &StepError{Step: 2, Name: "parse statement", Err: errors.New("quota exceeded")}, "Failed to process statement: quota exceeded"},
		{"nil", nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FailureMessage(tt.err); got != tt.want {
				t.Errorf("FailureMessage() = %q, want %q", got, tt.want)
			}
		})
	}

	if got := FailureMessage(long); len(got) != maxErrorMessageLen {
		t.Errorf("long message length = %d, want %d", len(got), maxErrorMessageLen)
	}
}

func TestFailureMessage_StaysValidUTF8(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"two-byte runes across the limit", errors.New(strings.Repeat("é", 1500))},
		{"four-byte runes across the limit", errors.New(strings.Repeat("💳", 600))},
		{"invalid bytes from a response body", errors.New("bad gateway \xff\xfe body")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FailureMessage(tt.err)
			if !utf8.ValidString(got) {
				t.Errorf("message is not valid UTF-8: tail %q", got[max(0, len(got)-8):])
			}
			if len(got) > maxErrorMessageLen {
				t.Errorf("message length = %d, want <= %d", len(got), maxErrorMessageLen)
			}
			if !strings.HasPrefix(got, "Failed to process statement: ") {
				t.Errorf("missing prefix: %q", got[:min(40, len(got))])
			}
		})
	}
}
