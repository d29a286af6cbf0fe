package slack

import "testing"

func TestMarkdownToMrkdwn(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "新しいモデルが公開されました。", "新しいモデルが公開されました。"},
		{"bold and italic", "This is **important** and _new_.", "This is *important* and _new_."},
		{"link", "See [the docs](https://example.com/docs).", "See <https://example.com/docs|the docs>."},
		{"escapes", "a < b & c > d", "a &lt; b &amp; c &gt; d"},
		{"bullets", "- one\n- two", "• one\n• two"},
		{"ordered", "1. first\n2. second", "1. first\n2. second"},
		{"heading", "## Summary\n\nBody text.", "*Summary*\n\nBody text."},
		{"inline code", "Run `go test` now.", "Run `go test` now."},
		{"dollars survive", "It costs $5 and $10.", "It costs $5 and $10."},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := MarkdownToMrkdwn(tc.in); got != tc.want {
				t.Errorf("MarkdownToMrkdwn(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}
