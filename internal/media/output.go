package media

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Output accumulates per-frame ProcessResults and finalizes them at the
// destination (spec §4.4 phase 6 "Output"). A `srt://` destination frames
// and sends each result over the (abstracted) SRT socket as it arrives;
// any other destination accumulates into a single JSON document written on
// Complete.
type Output struct {
	destination string
	srtSink     FrameSink // nil unless destination is srt://
	frames      []json.RawMessage
}

// FrameSink sends one framed result over a live transport (e.g. SRT). It
// mirrors the same opaque-transport seam used by SRTIngest on the input
// side.
type FrameSink interface {
	SendFrame(payload []byte) error
	Close() error
}

// NewOutput constructs an Output for the given destination URI. When the
// destination is `srt://...`, sink must be non-nil.
func NewOutput(destination string, sink FrameSink) *Output {
	return &Output{destination: destination, srtSink: sink}
}

// IsLiveDestination reports whether destination routes through a sink
// rather than accumulating into a JSON document.
func (o *Output) IsLiveDestination() bool {
	return strings.HasPrefix(o.destination, "srt://")
}

// Accept records one frame's ProcessResult. For a live destination it is
// framed and sent immediately; otherwise it is buffered for the final
// document (spec §4.4 phase 6).
func (o *Output) Accept(result ProcessResult) error {
	payload, err := framePayload(result)
	if err != nil {
		return err
	}
	if o.IsLiveDestination() {
		if o.srtSink == nil {
			return fmt.Errorf("op=media.Output.Accept: srt destination with no sink configured")
		}
		return o.srtSink.SendFrame(payload)
	}
	o.frames = append(o.frames, payload)
	return nil
}

func framePayload(result ProcessResult) ([]byte, error) {
	if len(result.JSON) > 0 {
		return result.JSON, nil
	}
	if result.XML != "" {
		return json.Marshal(result.XML)
	}
	return []byte("null"), nil
}

// document is the JSON shape written to a non-SRT destination path
// (spec §4.4 phase 6: `{ "frames": [ … ] }`).
type document struct {
	Frames []json.RawMessage `json:"frames"`
}

// Complete finalizes the output: for a live destination, closes the sink;
// otherwise writes the accumulated `{"frames":[...]}` document to the
// destination path.
func (o *Output) Complete() error {
	if o.IsLiveDestination() {
		if o.srtSink == nil {
			return nil
		}
		return o.srtSink.Close()
	}
	doc := document{Frames: o.frames}
	if doc.Frames == nil {
		doc.Frames = []json.RawMessage{}
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("op=media.Output.Complete marshal: %w", err)
	}
	if err := os.WriteFile(o.destination, raw, 0o644); err != nil {
		return fmt.Errorf("op=media.Output.Complete write: %w", err)
	}
	return nil
}
