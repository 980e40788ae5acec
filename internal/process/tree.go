package process

import (
	gopsproc "github.com/shirou/gopsutil/v4/process"
)

// killTree kills every descendant of pid, deepest first, then pid itself
// (through its process group where the platform has one).
func killTree(pid int) error {
	if p, err := gopsproc.NewProcess(int32(pid)); err == nil {
		killDescendants(p)
	}
	return killGroup(pid)
}

func killDescendants(p *gopsproc.Process) {
	kids, err := p.Children()
	if err != nil {
		return
	}
	for _, k := range kids {
		killDescendants(k)
		_ = k.Kill()
	}
}
