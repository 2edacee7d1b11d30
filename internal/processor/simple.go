package processor

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/fairyhunter13/mcai-worker-runtime/internal/adapter/observability"
	"github.com/fairyhunter13/mcai-worker-runtime/internal/domain"
	"github.com/fairyhunter13/mcai-worker-runtime/internal/param"
	"github.com/fairyhunter13/mcai-worker-runtime/internal/status"
	"github.com/fairyhunter13/mcai-worker-runtime/internal/worker"
)

// SimpleProcess is the single-job executor for non-media workers (spec
// §4.5). It spawns one goroutine per executing job, forwards cooperative
// cancellation through a ResponseSender, and emits the lifecycle responses
// WorkerInitialized -> WorkerStarted -> Progression(0) -> terminal.
// Grounded on original_source/rs_mcai_worker_sdk/src/processor/process.rs.
type SimpleProcess struct {
	worker     worker.MessageEvent
	store      *param.Store
	instanceID string

	orders    chan domain.OrderMessage
	responses chan domain.ResponseMessage

	mu        sync.Mutex
	status    domain.Status
	currentID *uint64
	stopped   atomic.Bool

	closeOnce sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
}

// NewSimpleProcess constructs a SimpleProcess around a user-supplied
// MessageEvent.
func NewSimpleProcess(w worker.MessageEvent, store *param.Store, instanceID string) *SimpleProcess {
	return &SimpleProcess{
		worker:     w,
		store:      store,
		instanceID: instanceID,
		orders:     make(chan domain.OrderMessage, 8),
		responses:  make(chan domain.ResponseMessage, 8),
		status:     domain.StatusUnknown,
		done:       make(chan struct{}),
	}
}

// Submit implements processor.Process.
func (sp *SimpleProcess) Submit(order domain.OrderMessage) {
	select {
	case sp.orders <- order:
	case <-sp.done:
	}
}

// Responses implements processor.Process.
func (sp *SimpleProcess) Responses() <-chan domain.ResponseMessage { return sp.responses }

// CurrentJobID implements processor.Process.
func (sp *SimpleProcess) CurrentJobID() (uint64, bool) {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	if sp.currentID == nil {
		return 0, false
	}
	return *sp.currentID, true
}

// Close implements processor.Process: stop accepting orders and wait for
// any in-flight job goroutine to observe IsStopped and finish.
func (sp *SimpleProcess) Close() {
	sp.closeOnce.Do(func() {
		close(sp.done)
	})
	sp.wg.Wait()
	close(sp.responses)
}

func (sp *SimpleProcess) setStatus(s domain.Status) {
	sp.mu.Lock()
	sp.status = s
	sp.mu.Unlock()
}

func (sp *SimpleProcess) setCurrentJob(id *uint64) {
	sp.mu.Lock()
	sp.currentID = id
	sp.mu.Unlock()
}

// Run drives the process's order loop until Close is called. Intended to
// run on its own goroutine (spec §5: "each Process owns a dedicated
// thread").
func (sp *SimpleProcess) Run() {
	for {
		select {
		case <-sp.done:
			return
		case order := <-sp.orders:
			sp.handleOrder(order)
		}
	}
}

func (sp *SimpleProcess) handleOrder(order domain.OrderMessage) {
	switch order.Kind {
	case domain.OrderJob:
		id := order.Job.JobID
		sp.setStatus(domain.StatusInitialized)
		sp.setCurrentJob(&id)
		sp.emit(domain.ResponseMessage{
			Kind:   domain.ResponseWorkerInitialized,
			Result: domain.NewJobResult(id).WithStatus(domain.StatusInitialized),
		})
		sp.setStatus(domain.StatusRunning)
		sp.spawnExecution(order.Job)

	case domain.OrderInitProcess:
		id := order.Job.JobID
		sp.setStatus(domain.StatusInitialized)
		sp.setCurrentJob(&id)
		sp.emit(domain.ResponseMessage{
			Kind:   domain.ResponseWorkerInitialized,
			Result: domain.NewJobResult(id).WithStatus(domain.StatusInitialized),
		})

	case domain.OrderStartProcess:
		sp.setStatus(domain.StatusRunning)
		sp.spawnExecution(order.Job)

	case domain.OrderStopProcess:
		sp.stopped.Store(true)

	case domain.OrderStatus:
		sp.emit(domain.ResponseMessage{Kind: domain.ResponseFeedbackStatus, ProcessStat: sp.processStatus()})

	case domain.OrderStopWorker:
		sp.emit(domain.ResponseMessage{Kind: domain.ResponseFeedbackStatus, ProcessStat: sp.processStatus()})
	}
}

func (sp *SimpleProcess) processStatus() *domain.ProcessStatus {
	var job *domain.JobResult
	sp.mu.Lock()
	st, id := sp.status, sp.currentID
	sp.mu.Unlock()
	if id != nil {
		job = domain.NewJobResult(*id).WithStatus(st)
	}
	ps := status.Build(job)
	return &ps
}

func (sp *SimpleProcess) emit(resp domain.ResponseMessage) {
	select {
	case sp.responses <- resp:
	case <-sp.done:
	}
}

// sender implements worker.ResponseSender for the duration of one job's
// execution, so user code can poll cooperative cancellation and emit ad
// hoc feedback (spec §5).
type sender struct {
	sp *SimpleProcess
}

func (s sender) IsStopped() bool { return s.sp.stopped.Load() }
func (s sender) Send(resp domain.ResponseMessage) error {
	s.sp.emit(resp)
	return nil
}

// spawnExecution runs the user's Process() call on a dedicated goroutine
// (spec §4.5 "Execution task", §5), then maps its outcome to a terminal
// response.
func (sp *SimpleProcess) spawnExecution(job *domain.Job) {
	sp.stopped.Store(false)
	sp.wg.Add(1)
	observability.StartProcessingJob("simple")
	go func() {
		defer sp.wg.Done()

		sp.emit(domain.ResponseMessage{
			Kind:   domain.ResponseWorkerStarted,
			Result: domain.NewJobResult(job.JobID).WithStatus(domain.StatusRunning),
		})
		sp.emit(domain.ResponseMessage{
			Kind: domain.ResponseFeedbackProgress,
			Progression: &domain.JobProgression{
				Datetime:    time.Now().UTC(),
				InstanceID:  sp.instanceID,
				JobID:       job.JobID,
				Progression: 0,
			},
		})

		jobResult := domain.NewJobResult(job.JobID).WithStatus(domain.StatusRunning).WithParameters(job.Parameters)
		result, err := sp.worker.Process(sender{sp: sp}, job.Parameters, jobResult)

		sp.finish(job.JobID, result, err)
	}()
}

func (sp *SimpleProcess) finish(jobID uint64, result *domain.JobResult, err error) {
	sp.setCurrentJob(nil)

	if err != nil {
		sp.setStatus(domain.StatusError)
		var mErr *domain.MessageError
		if me, ok := err.(*domain.MessageError); ok {
			mErr = me
		} else {
			mErr = domain.NewProcessingError(domain.NewJobResult(jobID).WithStatus(domain.StatusError).WithMessage(err.Error()))
		}
		observability.FailJob("simple")
		sp.emit(domain.ResponseMessage{Kind: domain.ResponseError, Err: mErr})
		return
	}

	if result == nil {
		result = domain.NewJobResult(jobID)
	}

	if sp.stopped.Load() {
		result = result.WithStatus(domain.StatusStopped)
		sp.setStatus(domain.StatusStopped)
		observability.StopJob("simple")
		sp.emit(domain.ResponseMessage{Kind: domain.ResponseJobStopped, Result: result})
		return
	}

	result = result.WithStatus(domain.StatusCompleted)
	sp.setStatus(domain.StatusCompleted)
	observability.CompleteJob("simple")
	sp.emit(domain.ResponseMessage{Kind: domain.ResponseCompleted, Result: result})
}
