package ignore

import (
	"slices"
	"testing"
)

func TestMatcher_Match(t *testing.T) {
	tests := []struct {
		name     string
		patterns []string
		path     string
		want     bool
	}{
		{"extension at root", []string{"*.tmp"}, "draft.tmp", true},
		{"extension nested via basename", []string{"*.tmp"}, "a/b/draft.tmp", true},
		{"extension no match", []string{"*.tmp"}, "a/b/draft.txt", false},
		{"directory glob", []string{"cache/**"}, "cache/x/y.bin", true},
		{"directory glob sibling", []string{"cache/**"}, "cached/y.bin", false},
		{"trailing slash", []string{"thumbs/"}, "thumbs/a.jpg", true},
		{"leading slash anchored", []string{"/notes.md"}, "notes.md", true},
		{"single star does not cross segments", []string{"media/*.jpg"}, "media/2024/a.jpg", false},
		{"double star crosses segments", []string{"media/**.jpg"}, "media/2024/a.jpg", true},
		{"character class", []string{"log-[0-9].txt"}, "log-7.txt", true},
		{"alternatives", []string{"*.{bak,swp}"}, "x/file.swp", true},
		{"no patterns", nil, "anything", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := Compile(tt.patterns)
			if err != nil {
				t.Fatalf("Compile(%v) error: %v", tt.patterns, err)
			}
			if got := m.Match(tt.path); got != tt.want {
				t.Errorf("Match(%q) with %v = %v, want %v", tt.path, tt.patterns, got, tt.want)
			}
		})
	}
}

func TestMatcher_Nil(t *testing.T) {
	var m *Matcher
	if m.Match("a.txt") {
		t.Error("nil matcher should match nothing")
	}
	if m.Len() != 0 || m.Patterns() != nil {
		t.Error("nil matcher should be empty")
	}
}

func TestCompile_Invalid(t *testing.T) {
	if _, err := Compile([]string{"[unclosed"}); err == nil {
		t.Error("expected error for invalid pattern")
	}
	if err := Validate([]string{"ok/*", "{a,b"}); err == nil {
		t.Error("Validate should report invalid pattern")
	}
}

func TestMatcher_Patterns(t *testing.T) {
	m := MustCompile("*.tmp", " ", "cache/")
	want := []string{"*.tmp", "cache/"}
	if got := m.Patterns(); !slices.Equal(got, want) {
		t.Errorf("Patterns() = %v, want %v", got, want)
	}
	if m.Len() != 2 {
		t.Errorf("Len() = %d, want 2", m.Len())
	}
}
