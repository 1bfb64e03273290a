package agent

import "testing"

func TestExtractThoughtSubject(t *testing.T) {
	tests := []struct {
		name  string
		chunk string
		want  string
	}{
		{
			name:  "bold heading",
			chunk: "**Scanning the repository**\nI should start with the build files.",
			want:  "Scanning the repository",
		},
		{
			name:  "plain first line",
			chunk: "Checking the test output first.\nThen the config.",
			want:  "Checking the test output first.",
		},
		{
			name:  "empty",
			chunk: "   ",
			want:  "",
		},
		{
			name:  "unterminated bold falls back to line",
			chunk: "**half open heading",
			want:  "**half open heading",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExtractThoughtSubject(tt.chunk); got != tt.want {
				t.Errorf("ExtractThoughtSubject = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExtractThoughtSubjectTruncates(t *testing.T) {
	long := "This is a very long opening line that keeps going well past the point where a subject line stops being useful to render in a narrow activity pane"
	got := ExtractThoughtSubject(long)
	if len(got) > 100 {
		t.Errorf("subject not truncated: %d chars", len(got))
	}
}
