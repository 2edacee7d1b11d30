package media

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/asticode/go-astiav"
)

// filterChain is the assembled buffersrc -> ... -> buffersink graph for one
// selected stream (spec Glossary "Filter graph"): src is where decoded
// frames enter, sink is where the filtered result is pulled back out.
type filterChain struct {
	graph *astiav.FilterGraph
	src   *astiav.FilterContext
	sink  *astiav.FilterContext
}

// astiavDecoder is the real Decoder implementation, backed by go-astiav
// (Go bindings over libav/ffmpeg). Spec §1 treats the codec/filter backend
// as opaque; every astiav call in this module is confined to this one file
// so the rest of internal/media (the demux loop, stream-selection
// bookkeeping, progress computation, order interleaving it's wrapped in by
// internal/processor) stays testable against the Decoder interface alone.
type astiavDecoder struct {
	mu          sync.Mutex
	sourceURI   string
	live        bool
	formatCtx   *astiav.FormatContext
	selected    map[int]StreamDescriptor
	filterGraph map[int]*filterChain
	packet      *astiav.Packet
	frame       *astiav.Frame
	filtered    *astiav.Frame
	decoders    map[int]*astiav.CodecContext

	// textAccum/jsonAccum reassemble EBU-TTML-Live/JSON documents out of raw
	// packets for streams selected with those kinds (spec §4.4 phase 2);
	// neither goes through a codec context.
	textAccum map[int]*EBUTTMLAccumulator
	jsonAccum map[int]*JSONAccumulator

	// pending holds extra Frames surfaced by a single packet's accumulator
	// Feed (e.g. two back-to-back JSON objects in one read), since
	// NextPacket must return exactly one DecodeResult per call.
	pending []Frame
}

// OpenFile opens a file-based source synchronously (spec §4.4 phase 1).
func OpenFile(ctx context.Context, path string) (Decoder, error) {
	if mediaType, err := DetectFileMediaType(path); err != nil {
		slog.Warn("media type sniff failed before open", slog.String("path", path), slog.Any("error", err))
	} else {
		slog.Debug("sniffed file source media type", slog.String("path", path), slog.String("media_type", mediaType))
	}

	fc := astiav.AllocFormatContext()
	if fc == nil {
		return nil, fmt.Errorf("op=media.OpenFile: failed to allocate format context")
	}
	if err := fc.OpenInput(path, nil, nil); err != nil {
		fc.Free()
		return nil, fmt.Errorf("op=media.OpenFile: open input %s: %w", path, err)
	}
	if err := fc.FindStreamInfo(nil); err != nil {
		fc.CloseInput()
		fc.Free()
		return nil, fmt.Errorf("op=media.OpenFile: find stream info: %w", err)
	}
	return &astiavDecoder{
		sourceURI:   path,
		live:        false,
		formatCtx:   fc,
		selected:    map[int]StreamDescriptor{},
		filterGraph: map[int]*filterChain{},
		decoders:    map[int]*astiav.CodecContext{},
		textAccum:   map[int]*EBUTTMLAccumulator{},
		jsonAccum:   map[int]*JSONAccumulator{},
		packet:      astiav.AllocPacket(),
		frame:       astiav.AllocFrame(),
		filtered:    astiav.AllocFrame(),
	}, nil
}

// OpenSRT opens a live SRT source (spec §4.4 phase 1) by reading rb, the
// ring buffer SRTIngest fills, through an in-memory format context. It
// opens the input immediately; it does not wait for a buffered-byte
// threshold.
func OpenSRT(ctx context.Context, uri string, rb *RingBuffer) (Decoder, error) {
	fc := astiav.AllocFormatContext()
	if fc == nil {
		return nil, fmt.Errorf("op=media.OpenSRT: failed to allocate format context")
	}
	reader := NewBufferReader(rb)
	ioCtx, err := astiav.AllocIOContext(4096, false, func(buf []byte) (int, error) { return reader.Read(buf) }, nil, nil)
	if err != nil {
		fc.Free()
		return nil, fmt.Errorf("op=media.OpenSRT: alloc io context: %w", err)
	}
	fc.SetPb(ioCtx)
	if err := fc.OpenInput("", nil, nil); err != nil {
		fc.Free()
		return nil, fmt.Errorf("op=media.OpenSRT: open input: %w", err)
	}
	if err := fc.FindStreamInfo(nil); err != nil {
		fc.CloseInput()
		fc.Free()
		return nil, fmt.Errorf("op=media.OpenSRT: find stream info: %w", err)
	}
	return &astiavDecoder{
		sourceURI:   uri,
		live:        true,
		formatCtx:   fc,
		selected:    map[int]StreamDescriptor{},
		filterGraph: map[int]*filterChain{},
		decoders:    map[int]*astiav.CodecContext{},
		textAccum:   map[int]*EBUTTMLAccumulator{},
		jsonAccum:   map[int]*JSONAccumulator{},
		packet:      astiav.AllocPacket(),
		frame:       astiav.AllocFrame(),
		filtered:    astiav.AllocFrame(),
	}, nil
}

func (d *astiavDecoder) Describe(ctx context.Context) (*FormatContext, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	fctx := &FormatContext{SourceURI: d.sourceURI}
	for _, s := range d.formatCtx.Streams() {
		info := StreamInfo{
			Index:     s.Index(),
			CodecName: s.CodecParameters().CodecID().String(),
			TimeBase:  Rational{Num: s.TimeBase().Num(), Den: s.TimeBase().Den()},
			Duration:  int64(s.Duration()),
		}
		cp := s.CodecParameters()
		if cp.MediaType() == astiav.MediaTypeVideo {
			info.Width = cp.Width()
			info.Height = cp.Height()
			if afr := s.AvgFrameRate(); afr.Den() != 0 {
				info.FPS = float64(afr.Num()) / float64(afr.Den())
			}
		}
		if cp.MediaType() == astiav.MediaTypeAudio {
			info.SampleRate = cp.SampleRate()
			info.Channels = cp.ChannelLayout().Channels()
		}
		fctx.Streams = append(fctx.Streams, info)
	}
	if !d.live {
		durMS := int64(d.formatCtx.Duration()) / 1000
		fctx.TotalDuration = &durMS
	}
	return fctx, nil
}

func (d *astiavDecoder) SelectStreams(selected []StreamDescriptor) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, sd := range selected {
		d.selected[sd.StreamIndex] = sd

		// EBU-TTML-Live, JSON, and raw Data streams carry no codec to open:
		// they pass through as reassembled/raw bytes (spec §4.4 phase 2),
		// never through FindDecoder/SendPacket/ReceiveFrame.
		switch sd.Kind {
		case StreamEBUTTMLLive:
			d.textAccum[sd.StreamIndex] = newEBUTTMLAccumulator()
			continue
		case StreamJSON:
			d.jsonAccum[sd.StreamIndex] = newJSONAccumulator()
			continue
		case StreamData:
			continue
		}

		if err := d.openDecoderForStream(sd.StreamIndex); err != nil {
			return err
		}
		if len(sd.Filters) > 0 {
			s := d.streamByIndex(sd.StreamIndex)
			if s == nil {
				return fmt.Errorf("op=media.astiavDecoder.SelectStreams: stream %d not found", sd.StreamIndex)
			}
			chain, err := d.buildFilterGraph(sd, s, d.decoders[sd.StreamIndex])
			if err != nil {
				return err
			}
			d.filterGraph[sd.StreamIndex] = chain
		}
	}
	return nil
}

func (d *astiavDecoder) streamByIndex(streamIndex int) *astiav.Stream {
	for _, s := range d.formatCtx.Streams() {
		if s.Index() == streamIndex {
			return s
		}
	}
	return nil
}

func (d *astiavDecoder) openDecoderForStream(streamIndex int) error {
	for _, s := range d.formatCtx.Streams() {
		if s.Index() != streamIndex {
			continue
		}
		codec := astiav.FindDecoder(s.CodecParameters().CodecID())
		if codec == nil {
			return fmt.Errorf("op=media.openDecoderForStream: no decoder for stream %d", streamIndex)
		}
		cc := astiav.AllocCodecContext(codec)
		if cc == nil {
			return fmt.Errorf("op=media.openDecoderForStream: alloc codec context failed")
		}
		if err := s.CodecParameters().ToCodecContext(cc); err != nil {
			return fmt.Errorf("op=media.openDecoderForStream: %w", err)
		}
		if err := cc.Open(codec, nil); err != nil {
			return fmt.Errorf("op=media.openDecoderForStream: open codec: %w", err)
		}
		d.decoders[streamIndex] = cc
		return nil
	}
	return fmt.Errorf("op=media.openDecoderForStream: stream %d not found", streamIndex)
}

// buildFilterGraph assembles the DAG described by sd.Filters (spec
// Glossary "Filter graph"): a buffersrc/abuffersrc source fed by the
// stream's own codec parameters, sample-rate/channel/pixel-format
// normalization or generic named filters in the middle, linked in sequence
// down to a single buffersink/abuffersink.
func (d *astiavDecoder) buildFilterGraph(sd StreamDescriptor, s *astiav.Stream, cc *astiav.CodecContext) (*filterChain, error) {
	graph := astiav.AllocFilterGraph()
	if graph == nil {
		return nil, fmt.Errorf("op=media.buildFilterGraph: alloc failed")
	}

	tb := s.TimeBase()
	var srcFilterName, sinkFilterName, srcArgs string
	if cc.MediaType() == astiav.MediaTypeAudio {
		srcFilterName, sinkFilterName = "abuffer", "abuffersink"
		srcArgs = fmt.Sprintf("sample_rate=%d:sample_fmt=%s:channel_layout=%s:time_base=%d/%d",
			cc.SampleRate(), cc.SampleFormat().Name(), cc.ChannelLayout().String(), tb.Num(), tb.Den())
	} else {
		srcFilterName, sinkFilterName = "buffer", "buffersink"
		sar := cc.SampleAspectRatio()
		srcArgs = fmt.Sprintf("video_size=%dx%d:pix_fmt=%s:time_base=%d/%d:pixel_aspect=%d/%d",
			cc.Width(), cc.Height(), cc.PixelFormat().Name(), tb.Num(), tb.Den(), sar.Num(), sar.Den())
	}

	src, err := graph.NewFilterContext(astiav.FindFilterByName(srcFilterName), "in", srcArgs)
	if err != nil {
		graph.Free()
		return nil, fmt.Errorf("op=media.buildFilterGraph: source: %w", err)
	}
	sink, err := graph.NewFilterContext(astiav.FindFilterByName(sinkFilterName), "out", "")
	if err != nil {
		graph.Free()
		return nil, fmt.Errorf("op=media.buildFilterGraph: sink: %w", err)
	}

	prev := src
	for _, f := range sd.Filters {
		name := string(f.Kind)
		args := filterArgs(f, sd)
		fc, err := graph.NewFilterContext(astiav.FindFilterByName(filterName(f.Kind)), name, args)
		if err != nil {
			graph.Free()
			return nil, fmt.Errorf("op=media.buildFilterGraph: %s: %w", name, err)
		}
		if err := prev.Link(0, fc, 0); err != nil {
			graph.Free()
			return nil, fmt.Errorf("op=media.buildFilterGraph: link %s: %w", name, err)
		}
		prev = fc
	}
	if err := prev.Link(0, sink, 0); err != nil {
		graph.Free()
		return nil, fmt.Errorf("op=media.buildFilterGraph: link sink: %w", err)
	}

	if err := graph.Configure(); err != nil {
		graph.Free()
		return nil, fmt.Errorf("op=media.buildFilterGraph: configure: %w", err)
	}
	return &filterChain{graph: graph, src: src, sink: sink}, nil
}

func filterName(kind FilterKind) string {
	switch kind {
	case FilterAudioFormat:
		return "aformat"
	case FilterVideoScale:
		return "scale"
	case FilterVideoCrop:
		return "crop"
	case FilterPixelFormat:
		return "format"
	default:
		return "null"
	}
}

func filterArgs(f Filter, sd StreamDescriptor) string {
	if f.Kind == FilterVideoCrop && sd.ROI != nil {
		return fmt.Sprintf("x=%d:y=%d:w=%d:h=%d", sd.ROI.X, sd.ROI.Y, sd.ROI.Width, sd.ROI.Height)
	}
	args := ""
	for k, v := range f.Params {
		if args != "" {
			args += ":"
		}
		args += k + "=" + v
	}
	return args
}

func (d *astiavDecoder) Seek(startMS int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for idx := range d.selected {
		var tb Rational
		for _, s := range d.formatCtx.Streams() {
			if s.Index() == idx {
				tb = Rational{Num: s.TimeBase().Num(), Den: s.TimeBase().Den()}
			}
		}
		ts := millisecondsToTimeBase(startMS, tb)
		if err := d.formatCtx.SeekFrame(idx, ts, astiav.NewSeekFlags(astiav.SeekFlagBackward)); err != nil {
			return fmt.Errorf("op=media.astiavDecoder.Seek: stream %d: %w", idx, err)
		}
	}
	return nil
}

func millisecondsToTimeBase(ms int64, tb Rational) int64 {
	if tb.Num == 0 {
		return 0
	}
	return ms * int64(tb.Den) / (1000 * int64(tb.Num))
}

func (d *astiavDecoder) NextPacket(ctx context.Context) (DecodeResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.pending) > 0 {
		fr := d.pending[0]
		d.pending = d.pending[1:]
		return DecodeResult{Outcome: OutcomeFrame, Frame: fr}, nil
	}

	err := d.formatCtx.ReadFrame(d.packet)
	if err != nil {
		if d.live {
			return DecodeResult{Outcome: OutcomeWaitMore}, nil
		}
		if isEOF(err) {
			return DecodeResult{Outcome: OutcomeEndOfStream}, nil
		}
		return DecodeResult{}, fmt.Errorf("op=media.astiavDecoder.NextPacket: %w", err)
	}
	defer d.packet.Unref()

	sd, ok := d.selected[d.packet.StreamIndex()]
	if !ok {
		return DecodeResult{Outcome: OutcomeNothing}, nil
	}

	switch sd.Kind {
	case StreamEBUTTMLLive:
		docs := d.textAccum[sd.StreamIndex].Feed(d.packet.Data())
		return d.queueByteFrames(sd, docs), nil
	case StreamJSON:
		objs := d.jsonAccum[sd.StreamIndex].Feed(d.packet.Data())
		payloads := make([][]byte, len(objs))
		for i, o := range objs {
			payloads[i] = o
		}
		return d.queueByteFrames(sd, payloads), nil
	case StreamData:
		raw := append([]byte(nil), d.packet.Data()...)
		return DecodeResult{Outcome: OutcomeFrame, Frame: Frame{
			StreamIndex: sd.StreamIndex,
			Kind:        sd.Kind,
			PTS:         d.packet.Pts(),
			Payload:     raw,
		}}, nil
	}

	cc, ok := d.decoders[sd.StreamIndex]
	if !ok {
		return DecodeResult{Outcome: OutcomeNothing}, nil
	}
	if err := cc.SendPacket(d.packet); err != nil {
		return DecodeResult{}, fmt.Errorf("op=media.astiavDecoder.NextPacket: send packet: %w", err)
	}
	if err := cc.ReceiveFrame(d.frame); err != nil {
		if isAgain(err) {
			return DecodeResult{Outcome: OutcomeNothing}, nil
		}
		return DecodeResult{}, fmt.Errorf("op=media.astiavDecoder.NextPacket: receive frame: %w", err)
	}
	defer d.frame.Unref()

	payload := any(d.frame)
	if chain, ok := d.filterGraph[sd.StreamIndex]; ok {
		d.filtered.Unref()
		if ferr := applyFilterGraph(chain, d.frame, d.filtered); ferr != nil {
			return DecodeResult{}, fmt.Errorf("op=media.astiavDecoder.NextPacket: filter: %w", ferr)
		}
		payload = d.filtered
	}

	return DecodeResult{
		Outcome: OutcomeFrame,
		Frame: Frame{
			StreamIndex: sd.StreamIndex,
			Kind:        sd.Kind,
			PTS:         d.packet.Pts(),
			Payload:     payload,
		},
	}, nil
}

// queueByteFrames turns zero or more reassembled documents surfaced from one
// packet's accumulator Feed into a single DecodeResult, queuing any extras
// onto d.pending so NextPacket still returns exactly one result per call.
func (d *astiavDecoder) queueByteFrames(sd StreamDescriptor, docs [][]byte) DecodeResult {
	if len(docs) == 0 {
		return DecodeResult{Outcome: OutcomeNothing}
	}
	pts := d.packet.Pts()
	for _, doc := range docs[1:] {
		d.pending = append(d.pending, Frame{StreamIndex: sd.StreamIndex, Kind: sd.Kind, PTS: pts, Payload: doc})
	}
	return DecodeResult{Outcome: OutcomeFrame, Frame: Frame{
		StreamIndex: sd.StreamIndex,
		Kind:        sd.Kind,
		PTS:         pts,
		Payload:     docs[0],
	}}
}

// applyFilterGraph pushes in through the filter chain's source and pulls the
// filtered result back out of its sink (spec §4.4 phase 4 "run the stream's
// decoder + (optional) filter graph").
func applyFilterGraph(chain *filterChain, in, out *astiav.Frame) error {
	if err := chain.src.BuffersrcAddFrame(in, astiav.NewBuffersrcFlags()); err != nil {
		return fmt.Errorf("op=media.applyFilterGraph: add frame: %w", err)
	}
	if err := chain.sink.BuffersinkGetFrame(out, astiav.NewBuffersinkFlags()); err != nil {
		return fmt.Errorf("op=media.applyFilterGraph: get frame: %w", err)
	}
	return nil
}

func (d *astiavDecoder) IsLive() bool { return d.live }

func (d *astiavDecoder) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, cc := range d.decoders {
		cc.Free()
	}
	for _, chain := range d.filterGraph {
		chain.graph.Free()
	}
	if d.packet != nil {
		d.packet.Free()
	}
	if d.frame != nil {
		d.frame.Free()
	}
	if d.filtered != nil {
		d.filtered.Free()
	}
	if d.formatCtx != nil {
		d.formatCtx.CloseInput()
		d.formatCtx.Free()
	}
	return nil
}

func isEOF(err error) bool {
	return err != nil && err.Error() == "astiav: eof"
}

func isAgain(err error) bool {
	return err != nil && err.Error() == "astiav: eagain"
}
