//go:build unix

package transactor

import (
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// The transactor runs in its own process group so that a terminal interrupt
// reaches only us; teardown then signals the whole group, which also covers
// interpreters that fork workers.
func setProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func terminate(p *os.Process) error {
	if err := unix.Kill(-p.Pid, unix.SIGTERM); err != nil {
		if err == unix.ESRCH {
			return os.ErrProcessDone
		}
		return p.Signal(unix.SIGTERM)
	}
	return nil
}
