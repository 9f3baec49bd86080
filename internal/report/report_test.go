package report

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/Iron-Ham/taskmaster/internal/ratelimit"
	"github.com/Iron-Ham/taskmaster/internal/task"
)

func TestConsoleTaskFailedTruncatesStyledErrors(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsole(&buf)

	// Hook stderr can arrive colored and multi-line; the reporter keeps
	// one line bounded by visible width, not byte length.
	errMsg := "\x1b[31m" + strings.Repeat("e", 150) + "\x1b[0m\nsecond line of output"
	c.TaskFailed(&task.Task{ID: "t1", Title: "First"}, 2, errMsg)

	out := buf.String()
	if strings.Contains(out, "second line") {
		t.Errorf("output contains more than the first line:\n%s", out)
	}
	if !strings.Contains(out, "...") {
		t.Errorf("long error not truncated:\n%s", out)
	}
	// 120 visible columns, three of them taken by the tail.
	if got := strings.Count(out, "e"); got != 117 {
		t.Errorf("visible error characters = %d, want 117", got)
	}
	if !strings.Contains(out, "\x1b[31m") {
		t.Errorf("color escape dropped by truncation:\n%q", out)
	}
}

func TestConsoleRateLimited(t *testing.T) {
	resetAt := time.Date(2026, 8, 31, 14, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		decision ratelimit.Decision
		want     []string
		notWant  []string
	}{
		{
			name: "configured ceiling",
			decision: ratelimit.Decision{
				Dimension: ratelimit.DimTokensHour,
				Limit:     100,
				Current:   90,
				ResetAt:   resetAt,
			},
			want: []string{"tokens_per_hour: 90/100", "resets 2026-08-31T14:00:00Z"},
		},
		{
			name:     "provider pause with retry hint",
			decision: ratelimit.Decision{Dimension: ratelimit.DimProvider, ResetAt: resetAt},
			want:     []string{"rate limit reached (provider)", "resets"},
			notWant:  []string{"0/0"},
		},
		{
			name:     "provider pause without hint",
			decision: ratelimit.Decision{Dimension: ratelimit.DimProvider},
			want:     []string{"rate limit reached (provider)"},
			notWant:  []string{"0/0", "resets"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			NewConsole(&buf).RateLimited(tt.decision)
			out := buf.String()
			for _, want := range tt.want {
				if !strings.Contains(out, want) {
					t.Errorf("output missing %q:\n%s", want, out)
				}
			}
			for _, notWant := range tt.notWant {
				if strings.Contains(out, notWant) {
					t.Errorf("output contains %q:\n%s", notWant, out)
				}
			}
		})
	}
}
