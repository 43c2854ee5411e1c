package discord

import (
	"strings"
	"testing"
)

func TestStripMention(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"plain mention", "<@123> hello", "hello"},
		{"nickname mention", "<@!123> hello", "hello"},
		{"mention mid-text", "hey <@123> what's up", "hey  what's up"},
		{"other user untouched", "<@999> hello", "<@999> hello"},
		{"no mention", "hello", "hello"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := stripMention(tt.content, "123"); got != tt.want {
				t.Errorf("stripMention(%q) = %q, want %q", tt.content, got, tt.want)
			}
		})
	}
}

func TestSplitMessageShort(t *testing.T) {
	chunks := splitMessage("short", 2000)
	if len(chunks) != 1 || chunks[0] != "short" {
		t.Errorf("chunks = %v", chunks)
	}
}

func TestSplitMessagePrefersNewlines(t *testing.T) {
	text := strings.Repeat("line one\n", 5) + "tail"
	chunks := splitMessage(text, 20)

	for i, chunk := range chunks {
		if len(chunk) > 20 {
			t.Errorf("chunk %d has %d chars, limit 20", i, len(chunk))
		}
		if strings.HasPrefix(chunk, "\n") || strings.HasSuffix(chunk, "\n") {
			t.Errorf("chunk %d not trimmed: %q", i, chunk)
		}
	}
	if got := strings.Join(chunks, " "); !strings.Contains(got, "tail") {
		t.Error("tail lost in splitting")
	}
}

func TestSplitMessageHardBreak(t *testing.T) {
	// No newlines at all: must hard-cut rather than overflow.
	text := strings.Repeat("a", 45)
	for _, chunk := range splitMessage(text, 20) {
		if len(chunk) > 20 {
			t.Errorf("chunk has %d chars, limit 20", len(chunk))
		}
	}
}

func TestRenderStarter(t *testing.T) {
	got := renderStarter([]string{"What is X?", "How do I Y?"})
	if !strings.Contains(got, "What is X?") || !strings.Contains(got, "How do I Y?") {
		t.Errorf("starter text missing questions: %q", got)
	}
}
