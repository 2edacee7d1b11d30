package status

import (
	"testing"

	"github.com/fairyhunter13/mcai-worker-runtime/internal/domain"
)

func TestSystemInfo_AlwaysReportsNumCPU(t *testing.T) {
	info := SystemInfo()
	if info.NumCPU <= 0 {
		t.Fatalf("expected a positive NumCPU, got %d", info.NumCPU)
	}
}

func TestBuild_NilJob_IsIdle(t *testing.T) {
	ps := Build(nil)
	if ps.Job != nil {
		t.Fatalf("expected nil job, got %+v", ps.Job)
	}
	if ps.Worker.Activity != domain.ActivityIdle {
		t.Fatalf("expected idle activity with no job, got %s", ps.Worker.Activity)
	}
}

func TestBuild_RunningJob_IsBusy(t *testing.T) {
	job := domain.NewJobResult(1).WithStatus(domain.StatusRunning)
	ps := Build(job)
	if ps.Worker.Activity != domain.ActivityBusy {
		t.Fatalf("expected busy activity while running, got %s", ps.Worker.Activity)
	}
}

func TestBuild_CompletedJob_IsIdle(t *testing.T) {
	job := domain.NewJobResult(1).WithStatus(domain.StatusCompleted)
	ps := Build(job)
	if ps.Worker.Activity != domain.ActivityIdle {
		t.Fatalf("expected idle activity once completed, got %s", ps.Worker.Activity)
	}
	if ps.Job.JobID != 1 {
		t.Fatalf("expected job echoed back in the snapshot, got %+v", ps.Job)
	}
}
