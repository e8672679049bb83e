package git

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// DiffMode selects what a diff is computed against.
type DiffMode string

const (
	DiffWorkingDirectory DiffMode = "working_directory"
	DiffBranchChanges    DiffMode = "branch_changes"
	DiffAgainstRemote    DiffMode = "against_remote"
	DiffCommitRange      DiffMode = "commit_range"
	DiffMergePreview     DiffMode = "merge_preview"
)

// DiffRequest carries the mode plus its mode-specific arguments.
type DiffRequest struct {
	Mode       DiffMode `json:"mode"`
	BaseCommit string   `json:"base_commit,omitempty"` // branch_changes
	Branch     string   `json:"branch,omitempty"`      // against_remote
	From       string   `json:"from,omitempty"`        // commit_range
	To         string   `json:"to,omitempty"`          // commit_range
	Target     string   `json:"target,omitempty"`      // merge_preview
}

// FileStatus classifies one side of a diff entry.
type FileStatus string

const (
	FileAdded     FileStatus = "added"
	FileModified  FileStatus = "modified"
	FileDeleted   FileStatus = "deleted"
	FileRenamed   FileStatus = "renamed"
	FileCopied    FileStatus = "copied"
	FileUntracked FileStatus = "untracked"
)

// FileDiff is one changed file.
type FileDiff struct {
	Path      string     `json:"path"`
	OldPath   string     `json:"old_path,omitempty"`
	Status    FileStatus `json:"status"`
	Additions int        `json:"additions"`
	Deletions int        `json:"deletions"`
	Binary    bool       `json:"binary"`
}

// DiffStats aggregates a diff.
type DiffStats struct {
	FilesChanged int `json:"files_changed"`
	Additions    int `json:"additions"`
	Deletions    int `json:"deletions"`
}

// DiffResult is the full outcome of a diff request.
type DiffResult struct {
	Mode         DiffMode   `json:"mode"`
	Files        []FileDiff `json:"files"`
	Stats        DiffStats  `json:"stats"`
	HasConflicts bool       `json:"has_conflicts"`
	LargeFiles   []string   `json:"large_files,omitempty"`
}

// Files changing more lines than this are flagged so the UI can avoid
// rendering them inline.
const largeFileChangeLines = 5000

// Diff computes a diff in the given worktree according to req. Rename and
// copy detection is git's own.
func (d *Driver) Diff(worktree string, req DiffRequest) (*DiffResult, error) {
	var rangeArgs []string
	switch req.Mode {
	case DiffWorkingDirectory:
		rangeArgs = []string{"HEAD"}
	case DiffBranchChanges:
		if req.BaseCommit == "" {
			return nil, fmt.Errorf("branch_changes diff requires base_commit")
		}
		rangeArgs = []string{req.BaseCommit, "HEAD"}
	case DiffAgainstRemote:
		if req.Branch == "" {
			return nil, fmt.Errorf("against_remote diff requires branch")
		}
		if err := d.Fetch(worktree, "origin", req.Branch); err != nil {
			return nil, err
		}
		rangeArgs = []string{"origin/" + req.Branch + "...HEAD"}
	case DiffCommitRange:
		if req.From == "" || req.To == "" {
			return nil, fmt.Errorf("commit_range diff requires from and to")
		}
		rangeArgs = []string{req.From, req.To}
	case DiffMergePreview:
		if req.Target == "" {
			return nil, fmt.Errorf("merge_preview diff requires target")
		}
		rangeArgs = []string{req.Target + "...HEAD"}
	default:
		return nil, fmt.Errorf("unknown diff mode %q", req.Mode)
	}

	numstatOut, err := d.output(worktree, append([]string{"diff", "--numstat"}, rangeArgs...)...)
	if err != nil {
		return nil, err
	}
	nameStatusOut, err := d.output(worktree, append([]string{"diff", "--name-status"}, rangeArgs...)...)
	if err != nil {
		return nil, err
	}

	files := mergeDiffOutputs(parseNumstat(numstatOut), parseNameStatus(nameStatusOut))

	if req.Mode == DiffWorkingDirectory {
		untracked, err := d.untrackedFiles(worktree)
		if err != nil {
			return nil, err
		}
		files = append(files, untracked...)
	}

	result := &DiffResult{Mode: req.Mode, Files: files}
	for _, f := range files {
		result.Stats.Additions += f.Additions
		result.Stats.Deletions += f.Deletions
		if f.Additions+f.Deletions > largeFileChangeLines {
			result.LargeFiles = append(result.LargeFiles, f.Path)
		}
	}
	result.Stats.FilesChanged = len(files)

	if req.Mode == DiffMergePreview {
		result.HasConflicts = d.mergeConflicts(worktree, req.Target)
	}

	return result, nil
}

// numstatEntry is one parsed --numstat line.
type numstatEntry struct {
	additions int
	deletions int
	binary    bool
}

// parseNumstat reads "adds<TAB>dels<TAB>path" lines; binary files show "-"
// counts; renames show "old => new" path forms.
func parseNumstat(out string) map[string]numstatEntry {
	entries := make(map[string]numstatEntry)
	for _, line := range strings.Split(out, "\n") {
		parts := strings.SplitN(line, "\t", 3)
		if len(parts) != 3 {
			continue
		}
		var e numstatEntry
		if parts[0] == "-" || parts[1] == "-" {
			e.binary = true
		} else {
			e.additions, _ = strconv.Atoi(parts[0])
			e.deletions, _ = strconv.Atoi(parts[1])
		}
		entries[numstatPath(parts[2])] = e
	}
	return entries
}

// numstatPath normalizes rename path forms "a => b" and "pre/{a => b}/post"
// to the new path.
func numstatPath(p string) string {
	if open := strings.Index(p, "{"); open != -1 {
		if end := strings.Index(p[open:], "}"); end != -1 {
			inner := p[open+1 : open+end]
			if arrow := strings.Index(inner, " => "); arrow != -1 {
				return strings.ReplaceAll(p[:open]+inner[arrow+4:]+p[open+end+1:], "//", "/")
			}
		}
	}
	if arrow := strings.Index(p, " => "); arrow != -1 {
		return p[arrow+4:]
	}
	return p
}

// nameStatusEntry is one parsed --name-status line.
type nameStatusEntry struct {
	status  FileStatus
	path    string
	oldPath string
}

func parseNameStatus(out string) []nameStatusEntry {
	var entries []nameStatusEntry
	for _, line := range strings.Split(out, "\n") {
		parts := strings.Split(line, "\t")
		if len(parts) < 2 || parts[0] == "" {
			continue
		}
		e := nameStatusEntry{path: parts[1]}
		switch parts[0][0] {
		case 'A':
			e.status = FileAdded
		case 'M':
			e.status = FileModified
		case 'D':
			e.status = FileDeleted
		case 'R':
			e.status = FileRenamed
			if len(parts) >= 3 {
				e.oldPath = parts[1]
				e.path = parts[2]
			}
		case 'C':
			e.status = FileCopied
			if len(parts) >= 3 {
				e.oldPath = parts[1]
				e.path = parts[2]
			}
		default:
			e.status = FileModified
		}
		entries = append(entries, e)
	}
	return entries
}

func mergeDiffOutputs(counts map[string]numstatEntry, statuses []nameStatusEntry) []FileDiff {
	files := make([]FileDiff, 0, len(statuses))
	for _, st := range statuses {
		f := FileDiff{
			Path:    st.path,
			OldPath: st.oldPath,
			Status:  st.status,
		}
		if c, ok := counts[st.path]; ok {
			f.Additions = c.additions
			f.Deletions = c.deletions
			f.Binary = c.binary
		}
		files = append(files, f)
	}
	return files
}

// untrackedFiles lists files unknown to git, counting their lines as
// additions so working-directory stats reflect new work.
func (d *Driver) untrackedFiles(worktree string) ([]FileDiff, error) {
	out, err := d.output(worktree, "ls-files", "--others", "--exclude-standard")
	if err != nil {
		return nil, err
	}
	var files []FileDiff
	for _, p := range strings.Split(out, "\n") {
		if p == "" {
			continue
		}
		f := FileDiff{Path: p, Status: FileUntracked}
		if data, err := os.ReadFile(filepath.Join(worktree, p)); err == nil {
			if isBinary(data) {
				f.Binary = true
			} else {
				f.Additions = countLines(data)
			}
		}
		files = append(files, f)
	}
	return files, nil
}

func isBinary(data []byte) bool {
	limit := len(data)
	if limit > 8000 {
		limit = 8000
	}
	for _, b := range data[:limit] {
		if b == 0 {
			return true
		}
	}
	return false
}

func countLines(data []byte) int {
	if len(data) == 0 {
		return 0
	}
	n := strings.Count(string(data), "\n")
	if data[len(data)-1] != '\n' {
		n++
	}
	return n
}

// mergeConflicts probes whether merging HEAD into target would conflict.
// git merge-tree --write-tree exits 1 on conflicts; any other failure is
// reported as no conflict, which is the conservative answer.
func (d *Driver) mergeConflicts(worktree, target string) bool {
	cmd := gitCommand(worktree, "merge-tree", "--write-tree", target, "HEAD")
	if err := cmd.Run(); err != nil {
		if exitCode(err) == 1 {
			return true
		}
	}
	return false
}
