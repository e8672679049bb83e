// Package project reads workbench metadata out of a repository directory:
// the .workbench.yaml manifest when present, otherwise README frontmatter
// and headline, with git filling in the main branch.
package project

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/hochfrequenz/agent-workbench/internal/domain"
	"github.com/hochfrequenz/agent-workbench/internal/git"
)

// ManifestName is the optional per-repository manifest file.
const ManifestName = ".workbench.yaml"

// ErrInvalidPath marks directories that cannot serve as a project root.
var ErrInvalidPath = errors.New("not a usable project directory")

var (
	titleRegex       = regexp.MustCompile(`^#\s+(.+)$`)
	readmeCandidates = []string{"README.md", "readme.md", "README"}
)

// descriptionLimit caps how much README prose is taken as the description.
const descriptionLimit = 500

// ValidatePath checks that path is an existing directory containing a .git
// entry. Worktrees carry a .git file rather than a directory, so only
// presence is checked.
func ValidatePath(path string) error {
	fi, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%s: %w", path, ErrInvalidPath)
	}
	if !fi.IsDir() {
		return fmt.Errorf("%s is not a directory: %w", path, ErrInvalidPath)
	}
	if _, err := os.Stat(filepath.Join(path, ".git")); err != nil {
		return fmt.Errorf("%s has no .git entry: %w", path, ErrInvalidPath)
	}
	return nil
}

// Read assembles the project info for a directory. Precedence per field:
// manifest, then README, then derived defaults (directory name, git default
// branch).
func Read(gitDriver *git.Driver, path string) (*domain.ProjectInfo, error) {
	if err := ValidatePath(path); err != nil {
		return nil, err
	}

	info := &domain.ProjectInfo{}
	manifest := filepath.Join(path, ManifestName)
	if data, err := os.ReadFile(manifest); err == nil {
		if err := yaml.Unmarshal(data, info); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", ManifestName, err)
		}
	}
	if readme := findReadme(path); readme != "" {
		fillFromReadme(info, readme)
	}

	if info.Name == "" {
		info.Name = filepath.Base(path)
	}
	if info.MainBranch == "" && gitDriver != nil {
		if branch, err := gitDriver.DefaultBranch(path); err == nil {
			info.MainBranch = branch
		}
	}
	return info, nil
}

func findReadme(dir string) string {
	for _, name := range readmeCandidates {
		path := filepath.Join(dir, name)
		if fi, err := os.Stat(path); err == nil && !fi.IsDir() {
			return path
		}
	}
	return ""
}

// fillFromReadme populates empty fields from README frontmatter, the first
// heading and the first prose paragraph.
func fillFromReadme(info *domain.ProjectInfo, path string) {
	content, err := os.ReadFile(path)
	if err != nil {
		return
	}
	fm, body := splitFrontmatter(content)
	if fm != nil {
		// Unknown keys are ignored; a broken frontmatter block is treated
		// as prose.
		var fromFM domain.ProjectInfo
		if err := yaml.Unmarshal(fm, &fromFM); err == nil {
			mergeInfo(info, &fromFM)
		} else {
			body = content
		}
	}
	if info.Name == "" {
		info.Name = extractTitle(body)
	}
	if info.Description == "" {
		info.Description = extractDescription(body)
	}
}

func mergeInfo(dst, src *domain.ProjectInfo) {
	if dst.Name == "" {
		dst.Name = src.Name
	}
	if dst.Description == "" {
		dst.Description = src.Description
	}
	if dst.MainBranch == "" {
		dst.MainBranch = src.MainBranch
	}
	if dst.SetupScript == "" {
		dst.SetupScript = src.SetupScript
	}
	if dst.DevScript == "" {
		dst.DevScript = src.DevScript
	}
}

// splitFrontmatter separates a leading "---" delimited YAML block from the
// body. Without one, fm is nil and the body is the whole content.
func splitFrontmatter(content []byte) (fm, body []byte) {
	if !bytes.HasPrefix(content, []byte("---\n")) {
		return nil, content
	}
	rest := content[4:]
	endIdx := bytes.Index(rest, []byte("\n---"))
	if endIdx == -1 {
		return nil, content
	}
	return rest[:endIdx], bytes.TrimLeft(rest[endIdx+4:], "\n")
}

func extractTitle(body []byte) string {
	scanner := bufio.NewScanner(bytes.NewReader(body))
	for scanner.Scan() {
		if m := titleRegex.FindStringSubmatch(scanner.Text()); m != nil {
			return strings.TrimSpace(m[1])
		}
	}
	return ""
}

// extractDescription returns the first paragraph that is neither a heading
// nor a badge/link line.
func extractDescription(body []byte) string {
	scanner := bufio.NewScanner(bytes.NewReader(body))
	var para []string
	flush := func() string {
		text := strings.TrimSpace(strings.Join(para, " "))
		if len(text) > descriptionLimit {
			text = text[:descriptionLimit]
		}
		return text
	}
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			if len(para) > 0 {
				return flush()
			}
		case strings.HasPrefix(line, "#"),
			strings.HasPrefix(line, "!["),
			strings.HasPrefix(line, "[!"),
			strings.HasPrefix(line, "<"):
			if len(para) > 0 {
				return flush()
			}
		default:
			para = append(para, line)
		}
	}
	if len(para) > 0 {
		return flush()
	}
	return ""
}
