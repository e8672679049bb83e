package agent

import (
	"os/exec"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

// killGracePeriod is how long children get to exit after SIGTERM before
// the sweep escalates to SIGKILL.
const killGracePeriod = 500 * time.Millisecond

// KillTree stops cmd and all of its descendants. npx wraps the real CLI
// in a node child, so signalling only the direct child would leak the
// worker. Descendants are terminated before their parents to keep them
// from being respawned mid-sweep.
func KillTree(cmd *exec.Cmd) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	root, err := process.NewProcess(int32(cmd.Process.Pid))
	if err != nil {
		// Already gone.
		return nil
	}

	tree := flattenTree(root)
	for i := len(tree) - 1; i >= 0; i-- {
		_ = tree[i].Terminate()
	}

	time.Sleep(killGracePeriod)

	for i := len(tree) - 1; i >= 0; i-- {
		if running, _ := tree[i].IsRunning(); running {
			_ = tree[i].Kill()
		}
	}
	return nil
}

// flattenTree returns root plus every transitive child, parents first.
func flattenTree(root *process.Process) []*process.Process {
	tree := []*process.Process{root}
	for i := 0; i < len(tree); i++ {
		children, err := tree[i].Children()
		if err != nil {
			continue
		}
		tree = append(tree, children...)
	}
	return tree
}
