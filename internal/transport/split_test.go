package transport

import (
	"strings"
	"testing"
)

func TestSplitText(t *testing.T) {
	t.Parallel()
	if got := SplitText("short", 10); len(got) != 1 || got[0] != "short" {
		t.Fatalf("short text split: %q", got)
	}

	line := strings.Repeat("a", 6)
	text := strings.Join([]string{line, line, line, line}, "\n") // 27 runes
	got := SplitText(text, 14)
	for _, c := range got {
		if len([]rune(c)) > 14 {
			t.Fatalf("chunk too long: %q", c)
		}
		if strings.HasPrefix(c, "\n") || strings.HasSuffix(c, "\n") {
			t.Fatalf("chunk has edge newline: %q", c)
		}
	}
	if strings.Join(got, "\n") != text {
		t.Fatalf("chunks do not reassemble: %q", got)
	}

	long := strings.Repeat("é", 25)
	got = SplitText(long, 10)
	if len(got) != 3 || got[2] != strings.Repeat("é", 5) {
		t.Fatalf("rune split wrong: %q", got)
	}
}
