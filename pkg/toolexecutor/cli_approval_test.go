package toolexecutor

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCLIConfirmationPrompter_Prompt(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		approved bool
	}{
		{"yes", "yes\n", true},
		{"short yes", "Y", true},
		{"no", "n", false},
		{"empty", "", false},
		{"garbage", "maybe", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lines := make(chan string, 1)
			lines <- tt.input
			var out bytes.Buffer

			p := NewCLIConfirmationPrompter(lines, &out)
			decision := p.Prompt(context.Background(), ConfirmationRequest{
				CallID:    "c1",
				ToolName:  "file_delete",
				RiskLevel: RiskHigh,
				Summary:   `file_delete path=C:\tmp\a.txt`,
				Arguments: map[string]interface{}{"path": `C:\tmp\a.txt`},
			})

			assert.Equal(t, tt.approved, decision.Approved)
			assert.Contains(t, out.String(), "CONFIRMATION REQUIRED")
			assert.Contains(t, out.String(), "file_delete")
			assert.Contains(t, out.String(), "high")
		})
	}
}

func TestCLIConfirmationPrompter_ClosedInput(t *testing.T) {
	lines := make(chan string)
	close(lines)

	decision := NewCLIConfirmationPrompter(lines, &bytes.Buffer{}).Prompt(context.Background(), ConfirmationRequest{ToolName: "x"})
	assert.False(t, decision.Approved)
}

func TestCLIConfirmationPrompter_Expires(t *testing.T) {
	var out bytes.Buffer
	decision := NewCLIConfirmationPrompter(make(chan string), &out).Prompt(context.Background(), ConfirmationRequest{
		ToolName:  "x",
		ExpiresAt: time.Now().Add(20 * time.Millisecond),
	})

	assert.False(t, decision.Approved)
	assert.Equal(t, "timeout", decision.Reason)
	assert.Contains(t, out.String(), "TIMED OUT")
}

func TestCLIConfirmationPrompter_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	decision := NewCLIConfirmationPrompter(make(chan string), &bytes.Buffer{}).Prompt(ctx, ConfirmationRequest{ToolName: "x"})
	assert.False(t, decision.Approved)
	assert.Equal(t, "cancelled", decision.Reason)
}
