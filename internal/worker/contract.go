// Package worker defines the MessageEvent contract (spec §4.9): the
// capability an implementer provides and the core calls into. Grounded on
// original_source/rs_mcai_worker_sdk/src/message_event.rs, translated from a
// trait into a pair of Go interfaces (simple workers implement MessageEvent
// alone; media workers additionally implement MediaMessageEvent).
package worker

import (
	"github.com/fairyhunter13/mcai-worker-runtime/internal/domain"
	"github.com/fairyhunter13/mcai-worker-runtime/internal/media"
)

// ResponseSender is the handle a Process gives to user code for cooperative
// cancellation and ad hoc feedback (spec §5): IsStopped is polled instead of
// forcibly cancelling a goroutine, and Send lets a worker push an
// out-of-band Feedback response (e.g. a custom progress note) while it runs.
type ResponseSender interface {
	// IsStopped reports whether a StopProcess order has been accepted for
	// the job currently running. User code must poll this to honor
	// cooperative cancellation (spec §5).
	IsStopped() bool

	// Send publishes a response directly, bypassing the Process's own
	// terminal-response bookkeeping. Used sparingly by worker code that
	// wants to emit something ad hoc mid-job.
	Send(resp domain.ResponseMessage) error
}

// MessageEvent is the capability every worker implements (spec §4.9).
type MessageEvent interface {
	// Name, ShortDescription, Description, Version are pure accessors
	// called once at startup to build the WorkerConfiguration announcement.
	Name() string
	ShortDescription() string
	Description() string
	Version() string

	// Init is called once after configuration; failure aborts startup.
	Init() error

	// Process runs a simple worker's opaque, long-running computation.
	// It must poll sender.IsStopped() to honor cooperative cancellation
	// (spec §4.5, §5). Only simple (non-media) workers call this.
	Process(sender ResponseSender, parameters []domain.Parameter, result *domain.JobResult) (*domain.JobResult, error)
}

// MediaMessageEvent is the capability a media worker additionally
// implements (spec §4.4, §4.9).
type MediaMessageEvent interface {
	MessageEvent

	// InitProcess selects the streams (and optional filter chains) this
	// worker wants decoded, given a read-only snapshot of the source
	// format. The FormatContext must not be retained past this call
	// (spec §5: "workers must not retain the reference").
	InitProcess(parameters []domain.Parameter, format *media.FormatContext, sender ResponseSender) ([]media.StreamDescriptor, error)

	// ProcessFrame is called once per decoded (and filtered) frame on a
	// selected stream.
	ProcessFrame(result *domain.JobResult, streamIndex int, frame media.Frame) (media.ProcessResult, error)

	// EndingProcess is called once at end-of-stream or on a cooperative
	// stop, before the terminal response is emitted.
	EndingProcess() error
}
