package git

import (
	"strings"
	"testing"

	"github.com/google/uuid"
)

var testTaskID = uuid.MustParse("11111111-2222-3333-4444-555555555555")

func TestSynthesizeBranch(t *testing.T) {
	tests := []struct {
		title string
		want  string
	}{
		{"Fix bug in SQL parser!!! (step 2)", "task/fix-bug-in-sql-parser-step-2-11111111"},
		{"Add login", "task/add-login-11111111"},
		{"", "task/task-11111111"},
		{"!!!", "task/task-11111111"},
		{"ab", "task/task-11111111"},
		{"Ünïcödé Tëst", "task/unicode-test-11111111"},
		{"  spaces   everywhere  ", "task/spaces-everywhere-11111111"},
		{"UPPER case TITLE", "task/upper-case-title-11111111"},
	}

	for _, tt := range tests {
		got := SynthesizeBranch(tt.title, testTaskID, nil)
		if got != tt.want {
			t.Errorf("SynthesizeBranch(%q) = %q, want %q", tt.title, got, tt.want)
		}
	}
}

func TestSynthesizeBranchTruncatesAtWordBoundary(t *testing.T) {
	title := "Implement comprehensive integration testing framework for the authentication subsystem"

	got := SynthesizeBranch(title, testTaskID, nil)

	want := "task/implement-comprehensive-11111111"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
	if len(got) > maxBranchBytes {
		t.Errorf("branch %q is %d bytes, max %d", got, len(got), maxBranchBytes)
	}
}

func TestSynthesizeBranchProperties(t *testing.T) {
	titles := []string{
		"",
		"x",
		"Fix bug in SQL parser!!! (step 2)",
		"ÀÉÎÕÜ àéîõü diacritics everywhere in this very long title indeed",
		strings.Repeat("very-long-word-", 40),
		"日本語のタイトル",
		"---///---",
	}

	for _, title := range titles {
		got := SynthesizeBranch(title, testTaskID, nil)

		if len(got) > maxBranchBytes {
			t.Errorf("SynthesizeBranch(%q) = %q: %d bytes exceeds %d", title, got, len(got), maxBranchBytes)
		}
		if !strings.HasPrefix(got, "task/") {
			t.Errorf("SynthesizeBranch(%q) = %q: missing task/ prefix", title, got)
		}
		if !strings.HasSuffix(got, "-11111111") {
			t.Errorf("SynthesizeBranch(%q) = %q: missing id tail", title, got)
		}
		for _, r := range got {
			valid := (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' || r == '/'
			if !valid {
				t.Errorf("SynthesizeBranch(%q) = %q: invalid rune %q", title, got, r)
			}
		}
	}
}

func TestSynthesizeBranchCollisionCounter(t *testing.T) {
	taken := map[string]bool{
		"task/fix-bug-in-sql-parser-step-2-11111111": true,
	}
	exists := func(name string) bool { return taken[name] }

	got := SynthesizeBranch("Fix bug in SQL parser!!! (step 2)", testTaskID, exists)

	want := "task/fix-bug-in-sql-parser-step-2-2-11111111"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}

	taken[got] = true
	got = SynthesizeBranch("Fix bug in SQL parser!!! (step 2)", testTaskID, exists)
	want = "task/fix-bug-in-sql-parser-step-2-3-11111111"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestSynthesizeBranchExhaustedCounters(t *testing.T) {
	got := SynthesizeBranch("Fix bug", testTaskID, func(string) bool { return true })

	want := "task/task-11111111-2222-3333-4444-555555"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
	if len(got) > maxBranchBytes {
		t.Errorf("fallback %q is %d bytes, max %d", got, len(got), maxBranchBytes)
	}
}

func TestSlugify(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Hello World", "hello-world"},
		{"foo___bar", "foo-bar"},
		{"Fix: crash on load", "fix-crash-on-load"},
		{"éàü", "eau"},
		{"trailing!!!", "trailing"},
		{"123 numbers", "123-numbers"},
		{"", ""},
	}

	for _, tt := range tests {
		got := slugify(tt.in)
		if got != tt.want {
			t.Errorf("slugify(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestBranchExists(t *testing.T) {
	repo := setupRepo(t)
	d := NewDriver(nil)

	if !d.BranchExists(repo, "main") {
		t.Error("main should exist")
	}
	if d.BranchExists(repo, "task/nope-12345678") {
		t.Error("unexpected branch reported as existing")
	}
}

func TestListBranches(t *testing.T) {
	repo := setupRepo(t)
	d := NewDriver(nil)

	gitRun(t, repo, "branch", "task/one-11111111")
	gitRun(t, repo, "branch", "task/two-22222222")

	branches, err := d.ListBranches(repo)
	if err != nil {
		t.Fatal(err)
	}

	want := map[string]bool{"main": true, "task/one-11111111": true, "task/two-22222222": true}
	if len(branches) != len(want) {
		t.Fatalf("got %d branches %v, want %d", len(branches), branches, len(want))
	}
	for _, b := range branches {
		if !want[b] {
			t.Errorf("unexpected branch %q", b)
		}
	}
}
