// Package status implements the Status & System Info component (spec §4,
// component table "Status & System Info"): deriving a worker's coarse
// activity (idle/busy) from its current job, and a host metrics snapshot.
// Grounded on original_source/rs_mcai_worker_sdk/src/job/status.rs
// (activity derivation) and the teacher's observability-metrics idiom for
// what a runtime host snapshot should contain.
package status

import (
	"runtime"

	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/fairyhunter13/mcai-worker-runtime/internal/domain"
)

// SystemInfo snapshots host metrics for embedding in a ProcessStatus
// response (spec §3, §6.3). Failures reading any individual metric leave
// the corresponding field zero rather than failing the whole snapshot —
// a Status order must always get a response (spec §8 "Re-sending Status N
// times produces N Feedback(Status) responses").
func SystemInfo() domain.SystemInfo {
	info := domain.SystemInfo{NumCPU: runtime.NumCPU()}

	if vm, err := mem.VirtualMemory(); err == nil {
		info.UsedMemoryMB = vm.Used / (1024 * 1024)
		info.TotalMemoryMB = vm.Total / (1024 * 1024)
	}
	if avg, err := load.Avg(); err == nil {
		info.LoadAverage1 = avg.Load1
	}
	return info
}

// Build assembles a ProcessStatus from the current job (nil when idle) and
// a fresh SystemInfo snapshot, per spec §3: "activity = Busy iff status in
// {Initialized, Running}".
func Build(job *domain.JobResult) domain.ProcessStatus {
	activity := domain.ActivityIdle
	if job != nil {
		activity = domain.ActivityFor(job.Status)
	}
	return domain.ProcessStatus{
		Job: job,
		Worker: domain.WorkerStatus{
			Activity:   activity,
			SystemInfo: SystemInfo(),
		},
	}
}
