package git

import (
	"fmt"
	"strconv"
	"strings"
)

// Status is a parsed porcelain snapshot of a repository.
type Status struct {
	Branch    string   `json:"branch"`
	Upstream  string   `json:"upstream,omitempty"`
	Ahead     int      `json:"ahead"`
	Behind    int      `json:"behind"`
	Staged    []string `json:"staged"`
	Unstaged  []string `json:"unstaged"`
	Untracked []string `json:"untracked"`
}

// Clean reports whether the working tree has no recorded changes.
func (s *Status) Clean() bool {
	return len(s.Staged) == 0 && len(s.Unstaged) == 0 && len(s.Untracked) == 0
}

// Status parses `git status --porcelain --branch` for a repository.
func (d *Driver) Status(repo string) (*Status, error) {
	out, err := d.output(repo, "status", "--porcelain", "--branch")
	if err != nil {
		return nil, err
	}
	return parseStatus(out), nil
}

func parseStatus(out string) *Status {
	st := &Status{}
	for _, line := range strings.Split(out, "\n") {
		if line == "" {
			continue
		}
		if rest, ok := strings.CutPrefix(line, "## "); ok {
			parseBranchHeader(st, rest)
			continue
		}
		if len(line) < 4 {
			continue
		}
		x, y, path := line[0], line[1], line[3:]
		// Rename entries list "old -> new"; report the new path.
		if idx := strings.Index(path, " -> "); idx != -1 {
			path = path[idx+4:]
		}
		if x == '?' && y == '?' {
			st.Untracked = append(st.Untracked, path)
			continue
		}
		if x != ' ' && x != '?' {
			st.Staged = append(st.Staged, path)
		}
		if y != ' ' && y != '?' {
			st.Unstaged = append(st.Unstaged, path)
		}
	}
	return st
}

// parseBranchHeader reads "branch...upstream [ahead N, behind M]" headers,
// including the "No commits yet on X" and detached forms.
func parseBranchHeader(st *Status, header string) {
	if rest, ok := strings.CutPrefix(header, "No commits yet on "); ok {
		st.Branch = rest
		return
	}
	if strings.HasPrefix(header, "HEAD (no branch)") {
		st.Branch = "HEAD"
		return
	}

	name := header
	if idx := strings.Index(header, "..."); idx != -1 {
		name = header[:idx]
		rest := header[idx+3:]
		if sp := strings.IndexByte(rest, ' '); sp != -1 {
			st.Upstream = rest[:sp]
			rest = rest[sp+1:]
		} else {
			st.Upstream = rest
			rest = ""
		}
		if strings.HasPrefix(rest, "[") {
			rest = strings.Trim(rest, "[]")
			for _, part := range strings.Split(rest, ", ") {
				if n, ok := strings.CutPrefix(part, "ahead "); ok {
					st.Ahead, _ = strconv.Atoi(n)
				}
				if n, ok := strings.CutPrefix(part, "behind "); ok {
					st.Behind, _ = strconv.Atoi(n)
				}
			}
		}
	}
	st.Branch = name
}

// RebaseStatus reports how a worktree's branch relates to origin/base.
type RebaseStatus struct {
	BaseBranch     string `json:"base_branch"`
	Ahead          int    `json:"ahead"`
	Behind         int    `json:"behind"`
	NeedsRebase    bool   `json:"needs_rebase"`
	CanFastForward bool   `json:"can_fast_forward"`
	HasConflicts   bool   `json:"has_conflicts"`
}

// RebaseStatus fetches origin/base and counts divergence. Conflict detection
// is a best-effort merge probe and may report false conservatively.
func (d *Driver) RebaseStatus(worktree, base string) (*RebaseStatus, error) {
	if err := d.Fetch(worktree, "origin", base); err != nil {
		return nil, err
	}

	out, err := d.output(worktree, "rev-list", "--left-right", "--count", "origin/"+base+"...HEAD")
	if err != nil {
		return nil, err
	}
	fields := strings.Fields(out)
	if len(fields) != 2 {
		return nil, fmt.Errorf("unexpected rev-list output %q", out)
	}
	behind, _ := strconv.Atoi(fields[0])
	ahead, _ := strconv.Atoi(fields[1])

	rs := &RebaseStatus{
		BaseBranch:     base,
		Ahead:          ahead,
		Behind:         behind,
		NeedsRebase:    behind > 0,
		CanFastForward: ahead == 0 && behind > 0,
	}
	if rs.NeedsRebase {
		rs.HasConflicts = d.mergeConflicts(worktree, "origin/"+base)
	}
	return rs, nil
}
