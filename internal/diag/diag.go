// Package diag attaches a host diagnostics snapshot to AccessError and
// InvalidState events, per SPEC_FULL.md's domain stack, so the UI layer can
// tell a flaky USB host controller from a genuinely bad device. Grounded on
// the teacher's updateResourceData in internal/cli/ui/ui.go, which polls
// github.com/shirou/gopsutil/v3/cpu and /mem for its TUI's resource line.
package diag

import (
	"runtime"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// Snapshot is a point-in-time host-pressure reading, attached as the
// Payload of an AccessError/InvalidState Event alongside the triggering
// error so the UI can distinguish "your machine is under load" from "this
// device went away."
type Snapshot struct {
	CPUPercent   float64 `json:"cpu_percent"`
	MemUsedPct   float64 `json:"mem_used_percent"`
	GoroutineNum int     `json:"goroutine_count"`
	GoVersion    string  `json:"go_version"`
}

// Capture takes a best-effort snapshot. Individual gopsutil calls can fail
// on a sandboxed or permission-restricted host; a failed reading is left at
// its zero value rather than aborting the whole snapshot, since diag is
// advisory context attached to an already-failing operation, never a
// precondition for it.
func Capture() Snapshot {
	snap := Snapshot{
		GoroutineNum: runtime.NumGoroutine(),
		GoVersion:    runtime.Version(),
	}

	if pcts, err := cpu.Percent(0, false); err == nil && len(pcts) > 0 {
		snap.CPUPercent = pcts[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		snap.MemUsedPct = vm.UsedPercent
	}
	return snap
}
