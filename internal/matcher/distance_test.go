package matcher

import "testing"

func TestDistance(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"", "abc", 3},
		{"abc", "", 3},
		{"kitten", "sitting", 3},
		{"flaw", "lawn", 2},
		{"hello", "helo", 1},
		{"hello", "hello", 0},
		{"héllo", "hello", 1},
		{"日本語", "日本", 1},
	}
	for _, tt := range tests {
		if got := Distance(tt.a, tt.b); got != tt.want {
			t.Errorf("Distance(%q, %q) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestDistanceProperties(t *testing.T) {
	samples := []string{"", "a", "hello", "well hello there", "prix", "précis", "👋 hi", "xyz"}
	for _, a := range samples {
		if d := Distance(a, a); d != 0 {
			t.Errorf("Distance(%q, %q) = %d, want 0", a, a, d)
		}
		if d := Distance("", a); d != len([]rune(a)) {
			t.Errorf("Distance(\"\", %q) = %d, want %d", a, d, len([]rune(a)))
		}
		for _, b := range samples {
			if Distance(a, b) != Distance(b, a) {
				t.Errorf("Distance not symmetric for %q, %q", a, b)
			}
		}
	}
}

func TestFuzzyMatch(t *testing.T) {
	tests := []struct {
		name          string
		text, keyword string
		want          bool
	}{
		{"one edit on four runes", "helo", "hello", true},
		{"identical", "price", "price", true},
		{"too many edits", "hxlx", "hello", false},
		{"short text", "hi", "hi", false},
		{"short keyword", "hello", "he", false},
		{"empty", "", "hello", false},
		{"two edits on long word", "delivry tme", "delivery time", true},
		{"unrelated", "xyz", "hello", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FuzzyMatch(tt.text, tt.keyword); got != tt.want {
				t.Fatalf("FuzzyMatch(%q, %q) = %v, want %v", tt.text, tt.keyword, got, tt.want)
			}
		})
	}
}

func TestThreshold(t *testing.T) {
	for n, want := range map[int]int{3: 0, 4: 1, 6: 1, 7: 2, 10: 3} {
		if got := Threshold(n); got != want {
			t.Errorf("Threshold(%d) = %d, want %d", n, got, want)
		}
	}
}
