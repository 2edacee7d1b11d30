package media

import "context"

// Outcome tags what NextPacket produced for one iteration of the decode
// loop (spec §4.4 phase 4 "Decode loop").
type Outcome int

// Recognized outcomes.
const (
	// OutcomeFrame: a frame on a selected stream was decoded (and
	// filtered, if a filter chain applies).
	OutcomeFrame Outcome = iota
	// OutcomeWaitMore: no full packet is available yet; transient for a
	// live (SRT) source, never returned by a file source.
	OutcomeWaitMore
	// OutcomeNothing: a packet was read but produced no dispatchable
	// frame (e.g. it belongs to a non-selected stream, or the decoder
	// needs more packets before it can emit one).
	OutcomeNothing
	// OutcomeEndOfStream: the source is exhausted.
	OutcomeEndOfStream
)

// DecodeResult is one iteration's outcome from a Decoder.
type DecodeResult struct {
	Outcome Outcome
	Frame   Frame
}

// Decoder is the opaque decode+filter backend seam (spec §1, §4.4): the
// core's own demux loop, stream selection, progress computation, and
// dispatch logic call through this interface without knowing whether the
// concrete implementation is backed by a real codec library or, in tests, a
// scripted fake. Isolating the backend behind this interface is what keeps
// the pipeline's own logic — the part the spec actually specifies — unit
// testable without a real libav build.
type Decoder interface {
	// Describe opens the source (spec §4.4 phase 1 "Open") and returns its
	// stream metadata (phase 2 "Describe").
	Describe(ctx context.Context) (*FormatContext, error)

	// SelectStreams configures the decoder to decode only the streams a
	// worker's InitProcess chose, with their filter chains.
	SelectStreams(selected []StreamDescriptor) error

	// Seek moves every selected stream to the nearest keyframe at or before
	// startMS milliseconds (spec §4.4 phase 3 "Seek").
	Seek(startMS int64) error

	// NextPacket advances the decode loop by one packet (spec §4.4 phase
	// 4). For a file source, a read failure is terminal (returns an
	// error); for a live (SRT) source it is transient and reported as
	// OutcomeWaitMore instead.
	NextPacket(ctx context.Context) (DecodeResult, error)

	// IsLive reports whether the source is an SRT live stream (affects
	// read-failure terminality, spec §4.4 phase 4, and progress
	// computation when TotalDuration is unknown, spec §9).
	IsLive() bool

	// Close releases the decoder's resources.
	Close() error
}
