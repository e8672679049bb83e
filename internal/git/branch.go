package git

import (
	"strconv"
	"strings"
	"unicode"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"
)

const (
	branchPrefix   = "task/"
	maxBranchBytes = 45
	branchTailLen  = 8
	minSlugBytes   = 10
)

// SynthesizeBranch derives a branch name from a task title and id. The
// result is at most 45 bytes, starts with "task/", ends with the first eight
// hex digits of the id, and contains only [a-z0-9/-]. exists reports whether
// a candidate is already taken; counters -2..-10 are tried before falling
// back to a name built from the id alone. The function never fails.
func SynthesizeBranch(title string, taskID uuid.UUID, exists func(string) bool) string {
	if exists == nil {
		exists = func(string) bool { return false }
	}
	tail := taskID.String()[:branchTailLen]

	slug := slugify(title)
	if len(slug) < 3 {
		slug = "task"
	}

	// prefix + slug + "-" + tail
	budget := maxBranchBytes - len(branchPrefix) - 1 - branchTailLen

	candidate := branchPrefix + truncateSlug(slug, budget) + "-" + tail
	if !exists(candidate) {
		return candidate
	}

	for n := 2; n <= 10; n++ {
		counter := "-" + strconv.Itoa(n)
		candidate = branchPrefix + truncateSlug(slug, budget-len(counter)) + counter + "-" + tail
		if !exists(candidate) {
			return candidate
		}
	}

	return branchPrefix + "task-" + taskID.String()[:30]
}

// slugify lowercases, strips diacritics, and collapses every other byte run
// to single hyphens.
func slugify(title string) string {
	decomposed := norm.NFD.String(title)

	var b strings.Builder
	lastHyphen := true // also trims leading hyphens
	for _, r := range decomposed {
		if unicode.Is(unicode.Mn, r) {
			continue
		}
		r = unicode.ToLower(r)
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			lastHyphen = false
			continue
		}
		if !lastHyphen {
			b.WriteByte('-')
			lastHyphen = true
		}
	}
	return strings.TrimRight(b.String(), "-")
}

// truncateSlug cuts slug to at most budget bytes, preferring the last hyphen
// boundary when that keeps a useful amount of text.
func truncateSlug(slug string, budget int) string {
	if len(slug) <= budget {
		return slug
	}
	cut := slug[:budget]
	if idx := strings.LastIndexByte(cut, '-'); idx >= minSlugBytes {
		cut = cut[:idx]
	}
	return strings.TrimRight(cut, "-")
}

// ListBranches returns local and remote branch names, current first.
func (d *Driver) ListBranches(repo string) ([]string, error) {
	out, err := d.output(repo, "for-each-ref", "--format=%(refname:short)", "refs/heads", "refs/remotes")
	if err != nil {
		return nil, err
	}
	var branches []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasSuffix(line, "/HEAD") {
			continue
		}
		branches = append(branches, line)
	}
	return branches, nil
}

// BranchExists reports whether a local branch with the given name exists.
func (d *Driver) BranchExists(repo, name string) bool {
	return d.succeeds(repo, "rev-parse", "--verify", "refs/heads/"+name)
}
