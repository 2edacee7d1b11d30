package domain

import "fmt"

// OrderKind tags the variant of an OrderMessage.
type OrderKind string

// Recognized order kinds (spec §3, §6.2).
const (
	OrderJob                 OrderKind = "job"
	OrderInitProcess         OrderKind = "init"
	OrderStartProcess        OrderKind = "start"
	OrderStopProcess         OrderKind = "stop"
	OrderStatus              OrderKind = "status"
	OrderStopWorker          OrderKind = "stop_worker"
	OrderStopConsumingJobs   OrderKind = "stop_consuming_jobs"
	OrderResumeConsumingJobs OrderKind = "resume_consuming_jobs"
)

// OrderMessage is the inbound tagged union consumed by the Processor.
type OrderMessage struct {
	Kind OrderKind
	Job  *Job // present for Job, InitProcess, StartProcess, StopProcess
}

// JobID returns the job id carried by the order, if any.
func (o OrderMessage) JobID() (uint64, bool) {
	if o.Job == nil {
		return 0, false
	}
	return o.Job.JobID, true
}

// MatchesJobID implements the well-formedness rule of spec §3: StartProcess
// and StopProcess must reference the job id currently held by the process;
// Job and InitProcess must arrive only when no job is held.
func (o OrderMessage) MatchesJobID(current *uint64) *MessageError {
	switch o.Kind {
	case OrderJob, OrderInitProcess:
		if current != nil {
			return NewProcessingError(nil).withMessage(fmt.Sprintf(
				"cannot accept a new job while job %d is in progress", *current))
		}
	case OrderStartProcess, OrderStopProcess:
		id, ok := o.JobID()
		if !ok || current == nil || *current != id {
			return NewProcessingError(nil).withMessage(
				"order does not reference the job currently held by the process")
		}
	}
	return nil
}

func (e *MessageError) withMessage(msg string) *MessageError {
	e.Message = msg
	return e
}

// ResponseKind tags the variant of a ResponseMessage.
type ResponseKind string

// Recognized response kinds (spec §3, §4.8).
const (
	ResponseWorkerCreated     ResponseKind = "worker_created"
	ResponseWorkerInitialized ResponseKind = "worker_initialized"
	ResponseWorkerStarted     ResponseKind = "worker_started"
	ResponseCompleted         ResponseKind = "job_completed"
	ResponseJobStopped        ResponseKind = "job_stopped"
	ResponseError             ResponseKind = "job_error"
	ResponseStatusError       ResponseKind = "worker_status_error"
	ResponseFeedbackProgress  ResponseKind = "job_progression"
	ResponseFeedbackStatus    ResponseKind = "job_status"
)

// ResponseMessage is the outbound tagged union produced by a Process.
type ResponseMessage struct {
	Kind         ResponseKind
	WorkerConfig *WorkerConfiguration
	Result       *JobResult
	Err          *MessageError
	Progression  *JobProgression
	ProcessStat  *ProcessStatus
}

// RoutingKey returns the broker routing key for this response, per the
// table in spec §4.8.
func (r ResponseMessage) RoutingKey() string {
	return string(r.Kind)
}

// MessageErrorKind tags the MessageError taxonomy (spec §3, §7).
type MessageErrorKind string

// Recognized error kinds.
const (
	ErrKindRuntime        MessageErrorKind = "runtime_error"
	ErrKindProcessing     MessageErrorKind = "processing_error"
	ErrKindRequirements   MessageErrorKind = "requirements_error"
	ErrKindParameter      MessageErrorKind = "parameter_value_error"
	ErrKindNotImplemented MessageErrorKind = "not_implemented"
	ErrKindAmqp           MessageErrorKind = "amqp_error"
)

// MessageError is the worker runtime's error taxonomy (spec §3). Exactly
// one of the payload fields is meaningful for a given Kind.
type MessageError struct {
	Kind    MessageErrorKind
	Message string
	Result  *JobResult // set when Kind == ErrKindProcessing
	Cause   error
}

func (e *MessageError) Error() string {
	if e.Message != "" {
		return string(e.Kind) + ": " + e.Message
	}
	if e.Cause != nil {
		return string(e.Kind) + ": " + e.Cause.Error()
	}
	return string(e.Kind)
}

func (e *MessageError) Unwrap() error { return e.Cause }

// Constructors mirroring the taxonomy's Rust variants.

// NewRuntimeError wraps an unrecoverable parse/IO failure.
func NewRuntimeError(msg string) *MessageError {
	return &MessageError{Kind: ErrKindRuntime, Message: msg}
}

// NewProcessingError attaches the job's terminal accumulator to a failure.
func NewProcessingError(result *JobResult) *MessageError {
	msg := ""
	if result != nil {
		msg = result.Message
	}
	return &MessageError{Kind: ErrKindProcessing, Message: msg, Result: result}
}

// NewRequirementsError reports a missing precondition.
func NewRequirementsError(msg string) *MessageError {
	return &MessageError{Kind: ErrKindRequirements, Message: msg}
}

// NewParameterValueError reports a schema/store resolution failure.
func NewParameterValueError(msg string) *MessageError {
	return &MessageError{Kind: ErrKindParameter, Message: msg}
}

// NewNotImplementedError reports a worker capability gap.
func NewNotImplementedError() *MessageError {
	return &MessageError{Kind: ErrKindNotImplemented, Message: "operation not implemented by this worker"}
}

// NewAmqpError wraps a transport-level failure that should bubble to the
// reconnection loop (spec §5, §7).
func NewAmqpError(cause error) *MessageError {
	return &MessageError{Kind: ErrKindAmqp, Cause: cause}
}
