//go:build integration

package integration

import (
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"testing"
)

// binaryPath builds the daemon once per test binary and returns its path.
func binaryPath(t *testing.T) string {
	t.Helper()

	bin := filepath.Join(t.TempDir(), "workbenchd")
	cmd := exec.Command("go", "build", "-o", bin, "../cmd/workbenchd")
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("building daemon: %v\n%s", err, out)
	}
	return bin
}

// freePort grabs an ephemeral loopback port.
func freePort(t *testing.T) int {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserving port: %v", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

// writeConfig writes a daemon config pointing every path at temp space.
// Desktop notifications are off so test runs stay silent.
func writeConfig(t *testing.T, port int) string {
	t.Helper()

	dataDir := t.TempDir()
	worktreeRoot := t.TempDir()
	configPath := filepath.Join(t.TempDir(), "config.toml")

	config := `[server]
host = "127.0.0.1"
port = ` + strconv.Itoa(port) + `

[storage]
data_dir = "` + dataDir + `"
worktree_root = "` + worktreeRoot + `"

[janitor]
enabled = false

[notifications]
desktop = false

[logging]
level = "debug"
`
	if err := os.WriteFile(configPath, []byte(config), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return configPath
}

// initRepo creates a git repository with one commit on main.
func initRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	run := func(args ...string) {
		cmd := exec.Command(args[0], args[1:]...)
		cmd.Dir = dir
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("%v failed: %s", args, out)
		}
	}

	run("git", "init")
	run("git", "config", "user.email", "test@test.com")
	run("git", "config", "user.name", "Test")
	if err := os.WriteFile(filepath.Join(dir, "README.md"), []byte("# Test\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	run("git", "add", "README.md")
	run("git", "commit", "-m", "initial")
	run("git", "branch", "-m", "main")

	return dir
}
