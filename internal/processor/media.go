package processor

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fairyhunter13/mcai-worker-runtime/internal/adapter/observability"
	"github.com/fairyhunter13/mcai-worker-runtime/internal/domain"
	"github.com/fairyhunter13/mcai-worker-runtime/internal/media"
	"github.com/fairyhunter13/mcai-worker-runtime/internal/status"
	"github.com/fairyhunter13/mcai-worker-runtime/internal/worker"
)

// OpenerFunc opens a Decoder for a source URI, hiding whether the source is
// a file or an SRT live stream (spec §4.4 phase 1). Injected so
// internal/processor can be tested against a fake Decoder without pulling
// in the astiav backend.
type OpenerFunc func(ctx context.Context, sourceURI string) (media.Decoder, error)

// SinkFunc opens a FrameSink for a live (srt://) destination.
type SinkFunc func(ctx context.Context, destinationURI string) (media.FrameSink, error)

// MediaProcess is the decode-loop executor for media workers (spec §4.4,
// §4.6). One job runs at a time; StopProcess sets a cooperative flag the
// decode loop observes between frames rather than killing the goroutine.
// Grounded on original_source/rs_mcai_worker_sdk/src/processor/process.rs
// and src/message/media/mod.rs's process_frame loop.
type MediaProcess struct {
	worker     worker.MediaMessageEvent
	instanceID string
	open       OpenerFunc
	openSink   SinkFunc

	orders    chan domain.OrderMessage
	responses chan domain.ResponseMessage

	mu           sync.Mutex
	processState domain.Status
	currentID    *uint64
	stopped      atomic.Bool

	closeOnce sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
}

// NewMediaProcess constructs a MediaProcess around a user-supplied
// MediaMessageEvent and the source/sink openers for its transport seams.
func NewMediaProcess(w worker.MediaMessageEvent, instanceID string, open OpenerFunc, openSink SinkFunc) *MediaProcess {
	return &MediaProcess{
		worker:       w,
		instanceID:   instanceID,
		open:         open,
		openSink:     openSink,
		orders:       make(chan domain.OrderMessage, 8),
		responses:    make(chan domain.ResponseMessage, 8),
		processState: domain.StatusUnknown,
		done:         make(chan struct{}),
	}
}

// Submit implements processor.Process.
func (mp *MediaProcess) Submit(order domain.OrderMessage) {
	select {
	case mp.orders <- order:
	case <-mp.done:
	}
}

// Responses implements processor.Process.
func (mp *MediaProcess) Responses() <-chan domain.ResponseMessage { return mp.responses }

// CurrentJobID implements processor.Process.
func (mp *MediaProcess) CurrentJobID() (uint64, bool) {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	if mp.currentID == nil {
		return 0, false
	}
	return *mp.currentID, true
}

// Close implements processor.Process.
func (mp *MediaProcess) Close() {
	mp.closeOnce.Do(func() { close(mp.done) })
	mp.wg.Wait()
	close(mp.responses)
}

func (mp *MediaProcess) setState(s domain.Status) {
	mp.mu.Lock()
	mp.processState = s
	mp.mu.Unlock()
}

func (mp *MediaProcess) setCurrentJob(id *uint64) {
	mp.mu.Lock()
	mp.currentID = id
	mp.mu.Unlock()
}

// Run drives the order loop until Close, mirroring the state table of spec
// §4.6: idle accepts Job/InitProcess; Initialized accepts StartProcess;
// Running accepts StopProcess, plus Status/StopWorker from any state.
func (mp *MediaProcess) Run() {
	for {
		select {
		case <-mp.done:
			return
		case order := <-mp.orders:
			mp.handleOrder(order)
		}
	}
}

func (mp *MediaProcess) handleOrder(order domain.OrderMessage) {
	switch order.Kind {
	case domain.OrderJob, domain.OrderInitProcess:
		id := order.Job.JobID
		mp.setCurrentJob(&id)
		mp.setState(domain.StatusInitialized)
		mp.emit(domain.ResponseMessage{
			Kind:   domain.ResponseWorkerInitialized,
			Result: domain.NewJobResult(id).WithStatus(domain.StatusInitialized),
		})
		if order.Kind == domain.OrderJob {
			mp.setState(domain.StatusRunning)
			mp.spawnDecode(order.Job)
		}

	case domain.OrderStartProcess:
		mp.setState(domain.StatusRunning)
		mp.spawnDecode(order.Job)

	case domain.OrderStopProcess:
		mp.stopped.Store(true)

	case domain.OrderStatus, domain.OrderStopWorker:
		mp.emit(domain.ResponseMessage{Kind: domain.ResponseFeedbackStatus, ProcessStat: mp.statusSnapshot()})
	}
}

func (mp *MediaProcess) statusSnapshot() *domain.ProcessStatus {
	var job *domain.JobResult
	mp.mu.Lock()
	st, id := mp.processState, mp.currentID
	mp.mu.Unlock()
	if id != nil {
		job = domain.NewJobResult(*id).WithStatus(st)
	}
	ps := status.Build(job)
	return &ps
}

func (mp *MediaProcess) emit(resp domain.ResponseMessage) {
	select {
	case mp.responses <- resp:
	case <-mp.done:
	}
}

type mediaSender struct{ mp *MediaProcess }

func (s mediaSender) IsStopped() bool { return s.mp.stopped.Load() }
func (s mediaSender) Send(resp domain.ResponseMessage) error {
	s.mp.emit(resp)
	return nil
}

// sourceDestinationParams extracts the required source_path/destination_path
// string parameters a media job's schema guarantees (spec §3).
func sourceDestinationParams(params []domain.Parameter) (source, destination string) {
	for _, p := range params {
		switch p.ID {
		case "source_path":
			if s, ok := p.RawValue().(string); ok {
				source = s
			}
		case "destination_path":
			if s, ok := p.RawValue().(string); ok {
				destination = s
			}
		}
	}
	return source, destination
}

// startIndexParameter/stopIndexParameter name the optional millisecond
// segment-window parameters a job may carry (spec §4.4 phase 3), grounded on
// original_source/rs_mcai_worker_sdk/src/message/media/mod.rs's
// START_INDEX_PARAMETER/STOP_INDEX_PARAMETER.
const (
	startIndexParameter = "sdk_start_index"
	stopIndexParameter  = "sdk_stop_index"
)

// segmentWindowParams extracts the optional start/stop millisecond offsets a
// job may declare (spec §4.4 phase 3, "seek each selected stream backward to
// the nearest keyframe" at a start offset). stopMS is nil when the job
// doesn't bound the segment, in which case it runs to the source's end.
func segmentWindowParams(params []domain.Parameter) (startMS int64, stopMS *int64) {
	for _, p := range params {
		switch p.ID {
		case startIndexParameter:
			if ms, ok := asMilliseconds(p.RawValue()); ok {
				startMS = ms
			}
		case stopIndexParameter:
			if ms, ok := asMilliseconds(p.RawValue()); ok {
				stopMS = &ms
			}
		}
	}
	return startMS, stopMS
}

func asMilliseconds(raw any) (int64, bool) {
	switch v := raw.(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case float64:
		return int64(v), true
	default:
		return 0, false
	}
}

// segmentDurationMS computes the segment window (stop - start) that progress
// is measured against (spec §4.4 phase 5), falling back to the whole
// remaining source duration when the job declares no stop offset. It
// reports ok=false when the source's total duration is unknown (live
// source), in which case progress cannot be computed.
func segmentDurationMS(format *media.FormatContext, startMS int64, stopMS *int64) (int64, bool) {
	if stopMS != nil {
		if d := *stopMS - startMS; d > 0 {
			return d, true
		}
		return 0, false
	}
	if format == nil || format.TotalDuration == nil {
		return 0, false
	}
	if d := *format.TotalDuration - startMS; d > 0 {
		return d, true
	}
	return 0, false
}

// firstSelectedStreamIndex returns the lowest stream index a worker
// selected, per spec §4.4 phase 5 ("counted only on the first-indexed
// selected stream").
func firstSelectedStreamIndex(selected []media.StreamDescriptor) (int, bool) {
	first, ok := 0, false
	for _, sd := range selected {
		if !ok || sd.StreamIndex < first {
			first = sd.StreamIndex
			ok = true
		}
	}
	return first, ok
}

// firstStreamFPS looks up the frame rate of the stream at streamIndex in the
// described format, used as the frame-rate denominator of the progress
// formula (spec §4.4 phase 5).
func firstStreamFPS(format *media.FormatContext, streamIndex int) (float64, bool) {
	if format == nil {
		return 0, false
	}
	for _, s := range format.Streams {
		if s.Index == streamIndex && s.FPS > 0 {
			return s.FPS, true
		}
	}
	return 0, false
}

// progressTracker accumulates the state the spec §4.4 phase 5 progress
// formula needs across the decode loop: processedFrames is incremented only
// for frames on the first-indexed selected stream, then converted to a
// percentage via fps and the segment's duration. Grounded on
// original_source/rs_mcai_worker_sdk/src/processor/media_process/threaded_media_process.rs
// (process_frame/get_status_feedback).
type progressTracker struct {
	firstStreamIndex int
	haveFirstStream  bool
	fps              float64
	segmentMS        int64
	haveSegment      bool
	processedFrames  int64
	lastPublished    int
}

// observe records one decoded frame and returns the new progression
// percentage if it strictly increased over the last published value (spec
// §9 "progress is monotonic").
func (t *progressTracker) observe(streamIndex int) (int, bool) {
	if !t.haveFirstStream || streamIndex != t.firstStreamIndex {
		return 0, false
	}
	if t.fps <= 0 || !t.haveSegment || t.segmentMS <= 0 {
		return 0, false
	}
	t.processedFrames++
	processedMS := float64(t.processedFrames) * 1000.0 / t.fps
	pct := int(processedMS / float64(t.segmentMS) * 100.0)
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	if pct <= t.lastPublished {
		return 0, false
	}
	t.lastPublished = pct
	return pct, true
}

// spawnDecode runs the full decode pipeline (spec §4.4 phases 1-6) on a
// dedicated goroutine, polling the cooperative stop flag between frames and
// gating progression on monotonic increase (spec §9).
func (mp *MediaProcess) spawnDecode(job *domain.Job) {
	mp.stopped.Store(false)
	mp.wg.Add(1)
	observability.StartProcessingJob("media")
	go func() {
		defer mp.wg.Done()
		mp.emit(domain.ResponseMessage{
			Kind:   domain.ResponseWorkerStarted,
			Result: domain.NewJobResult(job.JobID).WithStatus(domain.StatusRunning),
		})

		result, err := mp.decode(job)
		mp.finish(job.JobID, result, err)
	}()
}

// decode runs phases 1-6 of the media pipeline for one job (spec §4.4):
// open the source, describe it, let the worker select streams, seek,
// decode/dispatch frames until end-of-stream or a cooperative stop, then
// finalize output.
func (mp *MediaProcess) decode(job *domain.Job) (*domain.JobResult, error) {
	ctx := context.Background()
	source, destination := sourceDestinationParams(job.Parameters)
	jobResult := domain.NewJobResult(job.JobID).WithStatus(domain.StatusRunning).WithParameters(job.Parameters)

	if mErr := job.CheckRequirements(fileExists); mErr != nil {
		return jobResult, mErr
	}

	dec, err := mp.open(ctx, source)
	if err != nil {
		return jobResult, domain.NewRuntimeError(err.Error())
	}
	defer dec.Close()

	format, err := dec.Describe(ctx)
	if err != nil {
		return jobResult, domain.NewRuntimeError(err.Error())
	}

	selected, err := mp.worker.InitProcess(job.Parameters, format, mediaSender{mp: mp})
	if err != nil {
		return jobResult, domain.NewParameterValueError(err.Error())
	}
	if err := dec.SelectStreams(selected); err != nil {
		return jobResult, domain.NewRuntimeError(err.Error())
	}
	startMS, stopMS := segmentWindowParams(job.Parameters)
	if err := dec.Seek(startMS); err != nil {
		return jobResult, domain.NewRuntimeError(err.Error())
	}

	tracker := &progressTracker{}
	if idx, ok := firstSelectedStreamIndex(selected); ok {
		tracker.firstStreamIndex = idx
		tracker.haveFirstStream = true
		if fps, ok := firstStreamFPS(format, idx); ok {
			tracker.fps = fps
		}
	}
	if segMS, ok := segmentDurationMS(format, startMS, stopMS); ok {
		tracker.segmentMS = segMS
		tracker.haveSegment = true
	}

	var sink media.FrameSink
	if mp.openSink != nil && len(destination) > 0 {
		if s, serr := mp.openSink(ctx, destination); serr == nil {
			sink = s
		}
	}
	out := media.NewOutput(destination, sink)

	for {
		if mp.stopped.Load() {
			if err := mp.worker.EndingProcess(); err != nil {
				return jobResult, domain.NewProcessingError(jobResult.WithMessage(err.Error()))
			}
			_ = out.Complete()
			return jobResult.WithStatus(domain.StatusStopped), nil
		}

		// Non-blocking poll for an interleaved order (StopProcess/Status/
		// StopWorker/Job-while-running), per spec §4.6 interleaving rules.
		select {
		case order := <-mp.orders:
			mp.handleInterleavedOrder(order)
		default:
		}

		dr, nextErr := dec.NextPacket(ctx)
		switch {
		case nextErr != nil && dec.IsLive():
			continue
		case nextErr != nil:
			return jobResult, domain.NewRuntimeError(nextErr.Error())
		}

		switch dr.Outcome {
		case media.OutcomeWaitMore, media.OutcomeNothing:
			continue
		case media.OutcomeEndOfStream:
			if err := mp.worker.EndingProcess(); err != nil {
				return jobResult, domain.NewProcessingError(jobResult.WithMessage(err.Error()))
			}
			if err := out.Complete(); err != nil {
				return jobResult, domain.NewRuntimeError(err.Error())
			}
			return jobResult, nil
		case media.OutcomeFrame:
			observability.RecordFrameDecoded(string(dr.Frame.Kind))
			pr, perr := mp.worker.ProcessFrame(jobResult, dr.Frame.StreamIndex, dr.Frame)
			if perr != nil {
				return jobResult, domain.NewProcessingError(jobResult.WithMessage(perr.Error()))
			}
			if err := out.Accept(pr); err != nil {
				return jobResult, domain.NewRuntimeError(err.Error())
			}
			if pr.EndOfProcess {
				if err := out.Complete(); err != nil {
					return jobResult, domain.NewRuntimeError(err.Error())
				}
				return jobResult, nil
			}
			if p, ok := tracker.observe(dr.Frame.StreamIndex); ok {
				mp.emit(domain.ResponseMessage{
					Kind: domain.ResponseFeedbackProgress,
					Progression: &domain.JobProgression{
						Datetime:    time.Now().UTC(),
						InstanceID:  mp.instanceID,
						JobID:       job.JobID,
						Progression: uint8(p),
					},
				})
			}
		}
	}
}

// handleInterleavedOrder processes a StopProcess/Status/StopWorker/Job
// order received mid-decode; it must never block the decode loop (spec
// §4.6 "the decode loop polls its order channel without blocking").
func (mp *MediaProcess) handleInterleavedOrder(order domain.OrderMessage) {
	switch order.Kind {
	case domain.OrderStopProcess:
		mp.stopped.Store(true)
	case domain.OrderStatus, domain.OrderStopWorker:
		mp.emit(domain.ResponseMessage{Kind: domain.ResponseFeedbackStatus, ProcessStat: mp.statusSnapshot()})
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func (mp *MediaProcess) finish(jobID uint64, result *domain.JobResult, err error) {
	mp.setCurrentJob(nil)

	if err != nil {
		mp.setState(domain.StatusError)
		var mErr *domain.MessageError
		if me, ok := err.(*domain.MessageError); ok {
			mErr = me
		} else {
			mErr = domain.NewRuntimeError(err.Error())
		}
		observability.FailJob("media")
		mp.emit(domain.ResponseMessage{Kind: domain.ResponseError, Err: mErr})
		return
	}

	if result == nil {
		result = domain.NewJobResult(jobID)
	}

	if result.Status == domain.StatusStopped {
		mp.setState(domain.StatusStopped)
		observability.StopJob("media")
		mp.emit(domain.ResponseMessage{Kind: domain.ResponseJobStopped, Result: result})
		return
	}

	result = result.WithStatus(domain.StatusCompleted)
	mp.setState(domain.StatusCompleted)
	observability.CompleteJob("media")
	mp.emit(domain.ResponseMessage{Kind: domain.ResponseCompleted, Result: result})
}
