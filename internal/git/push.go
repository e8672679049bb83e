package git

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// Credential carries a token for authenticating an https push. The token is
// spliced into the push URL in memory only and never written to disk.
type Credential struct {
	Token string
	// GitLab tokens authenticate as the oauth2 user.
	OAuth bool
}

// scpRemote matches scp-like remotes such as git@github.com:acme/widgets.git.
var scpRemote = regexp.MustCompile(`^(?:[\w.-]+@)?([\w.-]+):(.+)$`)

// AuthenticatedURL rewrites a remote URL to embed the credential. SSH
// remotes (ssh:// or scp-like git@host:path) are converted to their https
// equivalent first, since tokens only authenticate over http transports.
// Remotes that are neither http(s) nor ssh are returned unchanged.
func (c Credential) AuthenticatedURL(remote string) (string, error) {
	if !strings.Contains(remote, "://") {
		if m := scpRemote.FindStringSubmatch(remote); m != nil {
			remote = "https://" + m[1] + "/" + strings.TrimPrefix(m[2], "/")
		}
	}
	u, err := url.Parse(remote)
	if err != nil {
		return "", fmt.Errorf("parse remote url: %w", err)
	}
	switch u.Scheme {
	case "https", "http":
	case "ssh":
		u.Scheme = "https"
		u.Host = u.Hostname() // drop the ssh port
	default:
		return remote, nil
	}
	if c.OAuth {
		u.User = url.UserPassword("oauth2", c.Token)
	} else {
		u.User = url.User(c.Token)
	}
	return u.String(), nil
}

// Push pushes a branch to origin, splicing the credential into the remote
// URL when one is given. Error text is scrubbed so the token never reaches
// logs or API responses.
func (d *Driver) Push(repo, branch string, force bool, cred *Credential) error {
	target := "origin"
	var secret string
	if cred != nil && cred.Token != "" {
		remote, err := d.RemoteURL(repo, "origin")
		if err != nil {
			return err
		}
		target, err = cred.AuthenticatedURL(remote)
		if err != nil {
			return err
		}
		secret = cred.Token
	}

	args := []string{"push"}
	if force {
		args = append(args, "--force-with-lease")
	}
	args = append(args, target, branch+":"+branch)

	cmd := gitCommand(repo, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		msg := scrubSecret(strings.TrimSpace(string(out)), secret)
		return fmt.Errorf("git push %s: %s: %w", branch, msg, err)
	}
	d.logger.Info("pushed branch", "repo", repo, "branch", branch, "force", force)
	return nil
}

// scrubSecret replaces every occurrence of secret in s with a placeholder.
func scrubSecret(s, secret string) string {
	if secret == "" {
		return s
	}
	return strings.ReplaceAll(s, secret, "********")
}

// Stage adds paths to the index. With no paths it stages everything.
func (d *Driver) Stage(repo string, paths ...string) error {
	args := []string{"add"}
	if len(paths) == 0 {
		args = append(args, "-A")
	} else {
		args = append(args, "--")
		args = append(args, paths...)
	}
	_, err := d.run(repo, args...)
	return err
}

// Commit records staged changes. Returns the new commit hash.
func (d *Driver) Commit(repo, message string) (string, error) {
	if _, err := d.run(repo, "commit", "-m", message); err != nil {
		return "", err
	}
	return d.RevParse(repo, "HEAD")
}

// HasStagedChanges reports whether the index differs from HEAD.
func (d *Driver) HasStagedChanges(repo string) bool {
	return !d.succeeds(repo, "diff", "--cached", "--quiet")
}
