//go:build linux

package sys

import (
	"fmt"
	"os"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"github.com/canonical/vold/shared/logger"
	"github.com/canonical/vold/vold/volume"
)

var killSignals = []unix.Signal{unix.SIGINT, unix.SIGTERM, unix.SIGKILL}

func under(path string, prefix string) bool {
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}

// processesUsingPath returns the pids of processes with a file, directory, executable or mapping
// under path.
func (o *OS) processesUsingPath(path string) ([]int, error) {
	procs, err := o.proc.AllProcs()
	if err != nil {
		return nil, fmt.Errorf("Failed listing processes: %w", err)
	}

	self := os.Getpid()
	var pids []int

	for _, p := range procs {
		if p.PID == self {
			continue
		}

		if procUses(p.Cwd, path) || procUses(p.RootDir, path) || procUses(p.Executable, path) {
			pids = append(pids, p.PID)
			continue
		}

		targets, err := p.FileDescriptorTargets()
		if err == nil && anyUnder(targets, path) {
			pids = append(pids, p.PID)
			continue
		}

		maps, err := p.ProcMaps()
		if err == nil {
			for _, m := range maps {
				if under(m.Pathname, path) {
					pids = append(pids, p.PID)
					break
				}
			}
		}
	}

	return pids, nil
}

func procUses(get func() (string, error), path string) bool {
	target, err := get()

	return err == nil && under(target, path)
}

func anyUnder(targets []string, path string) bool {
	for _, target := range targets {
		if under(target, path) {
			return true
		}
	}

	return false
}

// signalProcessesUsingPath sends sig to every process using path and returns how many there were.
func (o *OS) signalProcessesUsingPath(path string, sig unix.Signal) (int, error) {
	pids, err := o.processesUsingPath(path)
	if err != nil {
		return 0, err
	}

	for _, pid := range pids {
		logger.Warn("Sending signal to process using path", logger.Ctx{"pid": pid, "path": path, "signal": sig})

		err := unix.Kill(pid, sig)
		if err != nil {
			logger.Debug("Failed signaling process", logger.Ctx{"pid": pid, "err": err})
		}
	}

	if len(pids) > 0 {
		time.Sleep(o.opts.KillSettle)
	}

	return len(pids), nil
}

// KillProcessesUsingPath signals processes using path with increasing force until none are left.
func (o *OS) KillProcessesUsingPath(path string) error {
	for _, sig := range killSignals {
		count, err := o.signalProcessesUsingPath(path, sig)
		if err != nil {
			return err
		}

		if count == 0 {
			return nil
		}
	}

	pids, err := o.processesUsingPath(path)
	if err != nil {
		return err
	}

	if len(pids) > 0 {
		return fmt.Errorf("Processes %v still using %q: %w", pids, path, volume.ErrResourceBusy)
	}

	return nil
}
