// Package media implements the media pipeline (spec §4.4): demux, decode,
// filter, and per-frame dispatch over a source URI (file or SRT live
// stream). The codec/filter backend itself is treated as opaque (spec §1
// Out of scope); this package's own logic — stream selection bookkeeping,
// the decode loop, progress computation, order interleaving, and output
// accumulation — is what the spec actually asks to be implemented, and is
// the part kept testable against a fake Decoder (the interface in decode.go).
//
// Grounded on original_source/rs_mcai_worker_sdk/src/message/media/*.rs
// (source.rs, filters.rs, ebu_ttml_live, json/decoder.rs,
// video/region_of_interest.rs, output.rs).
package media

import "encoding/json"

// StreamKind tags the media type a StreamDescriptor selects (spec §4.4
// phase 2).
type StreamKind string

// Recognized stream kinds.
const (
	StreamAudio       StreamKind = "audio"
	StreamVideo       StreamKind = "video"
	StreamEBUTTMLLive StreamKind = "ebu_ttml_live"
	StreamJSON        StreamKind = "json"
	StreamData        StreamKind = "data"
)

// FilterKind tags one step of a stream's filter chain.
type FilterKind string

// Recognized filter kinds, split by the stream kind they apply to.
const (
	FilterAudioFormat FilterKind = "audio_format" // sample rate, channel layout, sample format
	FilterVideoScale  FilterKind = "scale"
	FilterVideoCrop   FilterKind = "crop_roi" // region-of-interest crop with inferred coordinates
	FilterPixelFormat FilterKind = "pixel_format"
	FilterGeneric     FilterKind = "generic"
)

// Filter is one node of a stream's filter chain, assembled into a filter
// graph ending at a single sink (spec Glossary "Filter graph").
type Filter struct {
	Kind FilterKind
	// Named string parameters for the filter (e.g. "sample_rate": "48000",
	// or an arbitrary generic filter's own parameter set).
	Params map[string]string
}

// RegionOfInterest crops a video stream to a sub-rectangle; X/Y/Width/Height
// are inferred automatically from the source image dimensions when zero
// (spec §4.4 phase 2, "automatic coordinate inference from image
// dimensions").
type RegionOfInterest struct {
	X, Y, Width, Height int
}

// StreamDescriptor is a worker's declared interest in one input stream
// (spec Glossary), returned from InitProcess.
type StreamDescriptor struct {
	StreamIndex int
	Kind        StreamKind
	Filters     []Filter
	ROI         *RegionOfInterest // only meaningful for StreamVideo + FilterVideoCrop
}

// StreamInfo describes one stream in the source, part of the FormatContext
// snapshot handed to InitProcess (spec §4.4 phase 2 "Describe").
type StreamInfo struct {
	Index      int
	CodecName  string
	Width      int     // video only
	Height     int     // video only
	SampleRate int     // audio only
	Channels   int     // audio only
	FPS        float64 // average frame rate, 0 if unknown (e.g. audio/data streams)
	TimeBase   Rational
	Duration   int64 // in TimeBase units; 0 if unknown (e.g. live SRT)
}

// Rational is a numerator/denominator pair, mirroring a stream time base.
type Rational struct {
	Num, Den int
}

// FormatContext is a read-only snapshot of the source's stream metadata
// (spec §4.4 phase 2). It is handed to InitProcess by reference for a
// single synchronous call; the decode pipeline remains its sole owner
// (spec §5: "may be handed to the worker's init_process by shared
// reference for one synchronous call only — workers must not retain the
// reference").
type FormatContext struct {
	SourceURI     string
	Streams       []StreamInfo
	TotalDuration *int64 // milliseconds; nil for live/unbounded sources (spec §9 progression rounding)
}

// Frame is one decoded (and filtered) unit of media dispatched to
// ProcessFrame. The concrete payload is opaque to this package and carried
// by the decode backend (astiav_decoder.go); only StreamIndex and Kind
// are meaningful to the pipeline's own bookkeeping.
type Frame struct {
	StreamIndex int
	Kind        StreamKind
	PTS         int64 // presentation timestamp, in the stream's TimeBase
	Payload     any   // decode-backend-specific frame handle, or []byte/json.RawMessage for JSON/Data/subtitle streams
}

// ProcessResult is a worker's per-frame product (spec Glossary): either an
// end-of-process sentinel, or an opaque JSON/XML payload to accumulate into
// the output document.
type ProcessResult struct {
	EndOfProcess bool
	JSON         json.RawMessage
	XML          string
}
