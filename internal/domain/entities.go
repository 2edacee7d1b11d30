// Package domain defines the core entities of the worker runtime: jobs,
// parameters, results, orders, and responses that flow between the broker
// and the processor.
package domain

import (
	"context"
	"reflect"
	"time"
)

// Context is a type alias to stdlib context.Context for convenience across layers.
type Context = context.Context

// ParameterKind is the declared type tag of a Parameter.
type ParameterKind string

// Parameter kinds recognized by the coercion rules in param.Store.
const (
	KindString               ParameterKind = "string"
	KindInteger              ParameterKind = "integer"
	KindFloat                ParameterKind = "float"
	KindBoolean              ParameterKind = "boolean"
	KindArrayOfStrings       ParameterKind = "array_of_strings"
	KindCredential           ParameterKind = "credential"
	KindRequirements         ParameterKind = "requirements"
	KindArrayOfMediaSegments ParameterKind = "array_of_media_segments"
)

// Parameter is a typed, store-aware job parameter value.
//
// Invariant: if Store is non-empty, Value is interpreted as a credential key
// and dereferenced through the resolver before type coercion.
type Parameter struct {
	ID      string        `json:"id"`
	Kind    ParameterKind `json:"type"`
	Value   any           `json:"value,omitempty"`
	Default any           `json:"default,omitempty"`
	Store   string        `json:"store,omitempty"`
}

// Requirement is the structural shape of a "requirements" parameter value.
type Requirement struct {
	Paths []string `json:"paths,omitempty"`
}

// Job is an immutable job description once parsed.
type Job struct {
	JobID      uint64      `json:"job_id"`
	Parameters []Parameter `json:"parameters"`
}

// CheckRequirements verifies every requirements-typed parameter's paths
// exist on the local filesystem, per spec §4.2. existsFn is injected so
// callers can substitute a fake filesystem in tests.
func (j Job) CheckRequirements(existsFn func(path string) bool) *MessageError {
	for _, p := range j.Parameters {
		if p.Kind != KindRequirements {
			continue
		}
		req, ok := asRequirement(p.RawValue())
		if !ok {
			continue
		}
		for _, path := range req.Paths {
			if !existsFn(path) {
				return NewRequirementsError("missing requirement path: " + path)
			}
		}
	}
	return nil
}

func (p Parameter) RawValue() any {
	if p.Value != nil {
		return p.Value
	}
	return p.Default
}

func asRequirement(raw any) (Requirement, bool) {
	switch v := raw.(type) {
	case Requirement:
		return v, true
	case map[string]any:
		paths, _ := v["paths"].([]any)
		var out []string
		for _, p := range paths {
			if s, ok := p.(string); ok {
				out = append(out, s)
			}
		}
		return Requirement{Paths: out}, true
	default:
		return Requirement{}, false
	}
}

// Status is the lifecycle state of a JobResult.
type Status string

// Recognized JobResult statuses.
const (
	StatusUnknown     Status = "unknown"
	StatusInitialized Status = "initialized"
	StatusRunning     Status = "running"
	StatusCompleted   Status = "completed"
	StatusStopped     Status = "stopped"
	StatusError       Status = "error"
)

// JobResult is the mutable accumulator owned exclusively by the Process
// running a job, surrendered only by being embedded in a terminal response.
type JobResult struct {
	JobID             uint64        `json:"job_id"`
	Status            Status        `json:"status"`
	Message           string        `json:"message,omitempty"`
	Parameters        []Parameter   `json:"parameters,omitempty"`
	DestinationPaths  []string      `json:"destination_paths,omitempty"`
	ExecutionDuration time.Duration `json:"execution_duration"`
	startInstant      time.Time
	now               func() time.Time
}

// NewJobResult creates a result accumulator with start_instant = now.
func NewJobResult(jobID uint64) *JobResult {
	return &JobResult{JobID: jobID, Status: StatusUnknown, startInstant: time.Now(), now: time.Now}
}

func (r *JobResult) refresh() {
	now := time.Now
	if r.now != nil {
		now = r.now
	}
	r.ExecutionDuration = now().Sub(r.startInstant)
}

// WithStatus transitions status, refreshing execution duration.
func (r *JobResult) WithStatus(s Status) *JobResult {
	r.Status = s
	r.refresh()
	return r
}

// WithMessage attaches a human-readable message (used for Error responses).
func (r *JobResult) WithMessage(msg string) *JobResult {
	r.Message = msg
	return r
}

// WithParameters replaces the parameter slice.
func (r *JobResult) WithParameters(p []Parameter) *JobResult {
	r.Parameters = p
	return r
}

// WithDestinationPaths replaces the destination path slice.
func (r *JobResult) WithDestinationPaths(paths []string) *JobResult {
	r.DestinationPaths = paths
	return r
}

// Equal compares two results ignoring start_instant and execution duration,
// per spec §3.
func (r *JobResult) Equal(other *JobResult) bool {
	if r == nil || other == nil {
		return r == other
	}
	if r.JobID != other.JobID || r.Status != other.Status || r.Message != other.Message {
		return false
	}
	if len(r.DestinationPaths) != len(other.DestinationPaths) {
		return false
	}
	for i := range r.DestinationPaths {
		if r.DestinationPaths[i] != other.DestinationPaths[i] {
			return false
		}
	}
	return reflect.DeepEqual(r.Parameters, other.Parameters)
}

// JobProgression is a monotonic progress report for one job.
type JobProgression struct {
	Datetime    time.Time `json:"datetime"`
	InstanceID  string    `json:"docker_container_id"`
	JobID       uint64    `json:"job_id"`
	Progression uint8     `json:"progression"`
}

// Activity is the worker's coarse busy/idle state.
type Activity string

// Activity values.
const (
	ActivityIdle Activity = "idle"
	ActivityBusy Activity = "busy"
)

// SystemInfo is a host metrics snapshot embedded in ProcessStatus.
type SystemInfo struct {
	NumCPU        int     `json:"num_cpu"`
	UsedMemoryMB  uint64  `json:"used_memory_mb"`
	TotalMemoryMB uint64  `json:"total_memory_mb"`
	LoadAverage1  float64 `json:"load_average_1m"`
}

// WorkerStatus is the worker half of ProcessStatus.
type WorkerStatus struct {
	Activity   Activity   `json:"activity"`
	SystemInfo SystemInfo `json:"system_info"`
}

// ProcessStatus is the response body for Feedback(Status) and StatusError.
type ProcessStatus struct {
	Job    *JobResult   `json:"job"`
	Worker WorkerStatus `json:"worker"`
}

// ActivityFor derives Activity from a JobResult status, per spec §3:
// activity = Busy iff status in {Initialized, Running}.
func ActivityFor(status Status) Activity {
	if status == StatusInitialized || status == StatusRunning {
		return ActivityBusy
	}
	return ActivityIdle
}

// WorkerConfiguration announces a worker's identity, queues, and schema.
type WorkerConfiguration struct {
	InstanceID       string      `json:"instance_id"`
	JobQueueName     string      `json:"queue_name"`
	ControlQueueName string      `json:"direct_messaging_queue_name"`
	Label            string      `json:"label"`
	ShortDescription string      `json:"short_description"`
	LongDescription  string      `json:"description"`
	WorkerVersion    string      `json:"version"`
	SdkVersion       string      `json:"sdk_version"`
	ParameterSchema  []Parameter `json:"parameters"`
}

// RequiredMediaFields are the two schema fields a media worker's parameter
// schema MUST contain (spec §3); their absence is a fatal configuration error.
var RequiredMediaFields = []string{"source_path", "destination_path"}

// ValidateMediaSchema checks RequiredMediaFields are present and string-typed.
func ValidateMediaSchema(schema []Parameter) error {
	found := map[string]bool{}
	for _, p := range schema {
		if p.Kind == KindString {
			found[p.ID] = true
		}
	}
	for _, field := range RequiredMediaFields {
		if !found[field] {
			return errMissingMediaField(field)
		}
	}
	return nil
}

func errMissingMediaField(field string) error {
	return &ConfigurationError{Field: field}
}

// ConfigurationError reports a fatal worker-configuration problem detected
// at startup (missing required schema field).
type ConfigurationError struct {
	Field string
}

func (e *ConfigurationError) Error() string {
	return "media worker schema missing required field: " + e.Field
}
