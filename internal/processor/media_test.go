package processor

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fairyhunter13/mcai-worker-runtime/internal/domain"
	"github.com/fairyhunter13/mcai-worker-runtime/internal/media"
	"github.com/fairyhunter13/mcai-worker-runtime/internal/worker"
)

// fakeDecoder scripts a fixed sequence of DecodeResults for NextPacket,
// ending in OutcomeEndOfStream, optionally pausing mid-stream on a gate
// channel so a test can interleave a StopProcess order.
type fakeDecoder struct {
	format  *media.FormatContext
	results []media.DecodeResult
	pos     int
	gateAt  int
	gate    chan struct{}
}

func (d *fakeDecoder) Describe(context.Context) (*media.FormatContext, error) { return d.format, nil }
func (d *fakeDecoder) SelectStreams([]media.StreamDescriptor) error           { return nil }
func (d *fakeDecoder) Seek(int64) error                                       { return nil }
func (d *fakeDecoder) IsLive() bool                                           { return false }
func (d *fakeDecoder) Close() error                                           { return nil }

func (d *fakeDecoder) NextPacket(context.Context) (media.DecodeResult, error) {
	if d.gate != nil && d.pos == d.gateAt {
		<-d.gate
	}
	if d.pos >= len(d.results) {
		return media.DecodeResult{Outcome: media.OutcomeEndOfStream}, nil
	}
	r := d.results[d.pos]
	d.pos++
	return r, nil
}

type fakeMediaWorker struct {
	ended chan struct{}
}

func (w *fakeMediaWorker) Name() string             { return "fake-media" }
func (w *fakeMediaWorker) ShortDescription() string { return "fake" }
func (w *fakeMediaWorker) Description() string      { return "fake" }
func (w *fakeMediaWorker) Version() string          { return "0.0.1" }
func (w *fakeMediaWorker) Init() error              { return nil }

func (w *fakeMediaWorker) Process(worker.ResponseSender, []domain.Parameter, *domain.JobResult) (*domain.JobResult, error) {
	panic("not used by the media pipeline")
}

func (w *fakeMediaWorker) InitProcess(_ []domain.Parameter, format *media.FormatContext, _ worker.ResponseSender) ([]media.StreamDescriptor, error) {
	var selected []media.StreamDescriptor
	for _, s := range format.Streams {
		selected = append(selected, media.StreamDescriptor{StreamIndex: s.Index, Kind: media.StreamVideo})
	}
	return selected, nil
}

func (w *fakeMediaWorker) ProcessFrame(_ *domain.JobResult, _ int, _ media.Frame) (media.ProcessResult, error) {
	payload, _ := json.Marshal(map[string]int{"n": 1})
	return media.ProcessResult{JSON: payload}, nil
}

func (w *fakeMediaWorker) EndingProcess() error {
	if w.ended != nil {
		close(w.ended)
	}
	return nil
}

func jobParams(destination string) []domain.Parameter {
	return []domain.Parameter{
		{ID: "source_path", Kind: domain.KindString, Value: "unused://source"},
		{ID: "destination_path", Kind: domain.KindString, Value: destination},
	}
}

func TestMediaProcess_Job_HappyPath_DecodesAndWritesOutput(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "out.json")
	total := int64(1000)
	dec := &fakeDecoder{
		format: &media.FormatContext{
			Streams:       []media.StreamInfo{{Index: 0, FPS: 4}},
			TotalDuration: &total,
		},
		results: []media.DecodeResult{
			{Outcome: media.OutcomeFrame, Frame: media.Frame{StreamIndex: 0, Kind: media.StreamVideo, PTS: 250}},
			{Outcome: media.OutcomeFrame, Frame: media.Frame{StreamIndex: 0, Kind: media.StreamVideo, PTS: 500}},
		},
	}
	w := &fakeMediaWorker{ended: make(chan struct{})}
	mp := NewMediaProcess(w, "instance-1", func(context.Context, string) (media.Decoder, error) { return dec, nil }, nil)
	go mp.Run()

	mp.Submit(domain.OrderMessage{Kind: domain.OrderJob, Job: &domain.Job{JobID: 1, Parameters: jobParams(dest)}})

	waitResponse(t, mp.Responses(), domain.ResponseWorkerInitialized)
	waitResponse(t, mp.Responses(), domain.ResponseWorkerStarted)
	waitResponse(t, mp.Responses(), domain.ResponseFeedbackProgress)
	completed := waitResponse(t, mp.Responses(), domain.ResponseCompleted)

	if completed.Result.Status != domain.StatusCompleted {
		t.Fatalf("expected completed status, got %s", completed.Result.Status)
	}

	select {
	case <-w.ended:
	case <-time.After(time.Second):
		t.Fatalf("expected EndingProcess to be called at end of stream")
	}

	raw, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("expected output document to be written: %v", err)
	}
	var doc struct {
		Frames []json.RawMessage `json:"frames"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("invalid output document: %v", err)
	}
	if len(doc.Frames) != 2 {
		t.Fatalf("expected 2 accumulated frames, got %d", len(doc.Frames))
	}

	mp.Close()
}

func TestMediaProcess_StopProcess_MidStream_EmitsJobStopped(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "out.json")
	dec := &fakeDecoder{
		format: &media.FormatContext{Streams: []media.StreamInfo{{Index: 0}}},
		results: []media.DecodeResult{
			{Outcome: media.OutcomeFrame, Frame: media.Frame{StreamIndex: 0, Kind: media.StreamVideo, PTS: 1}},
			{Outcome: media.OutcomeFrame, Frame: media.Frame{StreamIndex: 0, Kind: media.StreamVideo, PTS: 2}},
		},
		gateAt: 1,
		gate:   make(chan struct{}),
	}
	w := &fakeMediaWorker{}
	mp := NewMediaProcess(w, "instance-1", func(context.Context, string) (media.Decoder, error) { return dec, nil }, nil)
	go mp.Run()

	mp.Submit(domain.OrderMessage{Kind: domain.OrderJob, Job: &domain.Job{JobID: 2, Parameters: jobParams(dest)}})
	waitResponse(t, mp.Responses(), domain.ResponseWorkerInitialized)
	waitResponse(t, mp.Responses(), domain.ResponseWorkerStarted)

	mp.Submit(domain.OrderMessage{Kind: domain.OrderStopProcess, Job: &domain.Job{JobID: 2}})
	time.Sleep(50 * time.Millisecond)
	close(dec.gate)

	stopped := waitResponse(t, mp.Responses(), domain.ResponseJobStopped)
	if stopped.Result.Status != domain.StatusStopped {
		t.Fatalf("expected stopped status, got %s", stopped.Result.Status)
	}

	mp.Close()
}

func TestMediaProcess_Status_BeforeAnyJob_ReportsIdle(t *testing.T) {
	w := &fakeMediaWorker{}
	mp := NewMediaProcess(w, "instance-1", func(context.Context, string) (media.Decoder, error) { return nil, nil }, nil)
	go mp.Run()

	mp.Submit(domain.OrderMessage{Kind: domain.OrderStatus})
	resp := waitResponse(t, mp.Responses(), domain.ResponseFeedbackStatus)

	if resp.ProcessStat == nil || resp.ProcessStat.Job != nil {
		t.Fatalf("expected no job in status before any job runs, got %+v", resp.ProcessStat)
	}
	if resp.ProcessStat.Worker.Activity != domain.ActivityIdle {
		t.Fatalf("expected idle activity, got %s", resp.ProcessStat.Worker.Activity)
	}

	mp.Close()
}
