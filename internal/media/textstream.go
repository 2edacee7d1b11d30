package media

import (
	"bytes"
	"encoding/json"
)

// EBUTTMLAccumulator reassembles EBU-TTML-Live documents out of a subtitle
// stream's raw packets (spec §4.4 phase 2): a packet boundary is not
// guaranteed to line up with a <tt>...</tt> document boundary, so documents
// split across packets must be buffered until complete. Grounded on
// original_source/rs_mcai_worker_sdk/src/message/media/ebu_ttml_live.
type EBUTTMLAccumulator struct {
	buf bytes.Buffer
}

func newEBUTTMLAccumulator() *EBUTTMLAccumulator { return &EBUTTMLAccumulator{} }

const (
	ttmlOpenTag  = "<tt"
	ttmlCloseTag = "</tt>"
)

// Feed appends a raw packet's bytes and returns every complete <tt>...</tt>
// document now available, in the order they closed. Trailing incomplete
// data is retained for the next Feed call.
func (a *EBUTTMLAccumulator) Feed(data []byte) [][]byte {
	a.buf.Write(data)

	var docs [][]byte
	for {
		raw := a.buf.Bytes()
		start := bytes.Index(raw, []byte(ttmlOpenTag))
		if start < 0 {
			if last := bytes.LastIndexByte(raw, '<'); last > 0 {
				a.buf.Next(last)
			}
			break
		}
		end := bytes.Index(raw[start:], []byte(ttmlCloseTag))
		if end < 0 {
			if start > 0 {
				a.buf.Next(start)
			}
			break
		}
		docEnd := start + end + len(ttmlCloseTag)
		doc := make([]byte, docEnd-start)
		copy(doc, raw[start:docEnd])
		docs = append(docs, doc)
		a.buf.Next(docEnd)
	}
	return docs
}

// JSONAccumulator buffers raw bytes from a JSON data stream until each
// top-level object is complete, joining a single object split across packet
// boundaries and splitting two objects that share no separator between them
// (a "}{" boundary, spec §4.4 phase 2). Grounded on
// original_source/rs_mcai_worker_sdk/src/message/media/json/decoder.rs.
type JSONAccumulator struct {
	buf []byte
}

func newJSONAccumulator() *JSONAccumulator { return &JSONAccumulator{} }

// Feed appends raw bytes and returns every complete JSON object now
// available, in order.
func (a *JSONAccumulator) Feed(data []byte) []json.RawMessage {
	a.buf = append(a.buf, data...)

	var out []json.RawMessage
	for {
		n := firstObjectEnd(a.buf)
		if n < 0 {
			break
		}
		obj := make(json.RawMessage, n)
		copy(obj, a.buf[:n])
		out = append(out, obj)
		a.buf = a.buf[n:]
	}
	return out
}

// firstObjectEnd returns the index just past the end of the first complete
// top-level JSON object in buf, or -1 if none is complete yet. Brace depth
// is tracked with string/escape awareness so braces inside string literals
// don't miscount; since the scan resets to depth 0 at the start of every
// call, a trailing "}{" with no separator is handled for free — the next
// object simply starts the next scan.
func firstObjectEnd(buf []byte) int {
	depth := 0
	started := false
	inString := false
	escaped := false
	for i, b := range buf {
		if inString {
			switch {
			case escaped:
				escaped = false
			case b == '\\':
				escaped = true
			case b == '"':
				inString = false
			}
			continue
		}
		switch b {
		case '"':
			inString = true
		case '{':
			depth++
			started = true
		case '}':
			depth--
			if started && depth == 0 {
				return i + 1
			}
		}
	}
	return -1
}
