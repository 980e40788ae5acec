//go:build windows

package process

import (
	gopsproc "github.com/shirou/gopsutil/v4/process"
)

// killGroup terminates pid; Windows has no process groups to signal, the
// descendants were already handled by killTree.
func killGroup(pid int) error {
	p, err := gopsproc.NewProcess(int32(pid))
	if err != nil {
		return nil
	}
	return p.Kill()
}

func processExists(pid int) bool {
	ok, err := gopsproc.PidExists(int32(pid))
	return err == nil && ok
}
