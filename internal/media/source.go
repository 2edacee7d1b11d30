package media

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/gabriel-vasile/mimetype"
)

// SourceKind tags how a source URI should be opened (spec §4.4 phase 1).
type SourceKind int

// Recognized source kinds.
const (
	SourceFile SourceKind = iota
	SourceSRTConnect
	SourceSRTListen
)

// ClassifySourceURI parses a source URI into its kind and connection target,
// per spec §4.4 phase 1: "srt://host:port" (connect) or "srt://:port"
// (listen); anything else opens as a file path/URI synchronously.
func ClassifySourceURI(uri string) (kind SourceKind, host string, port int, err error) {
	if !strings.HasPrefix(uri, "srt://") {
		return SourceFile, "", 0, nil
	}
	u, perr := url.Parse(uri)
	if perr != nil {
		return SourceFile, "", 0, fmt.Errorf("op=media.ClassifySourceURI: %w", perr)
	}
	portStr := u.Port()
	if portStr == "" {
		return SourceFile, "", 0, fmt.Errorf("op=media.ClassifySourceURI: srt uri missing port: %s", uri)
	}
	port, convErr := strconv.Atoi(portStr)
	if convErr != nil {
		return SourceFile, "", 0, fmt.Errorf("op=media.ClassifySourceURI: bad port %q: %w", portStr, convErr)
	}
	if u.Hostname() == "" {
		return SourceSRTListen, "", port, nil
	}
	return SourceSRTConnect, u.Hostname(), port, nil
}

// mpegTSSyncByte is the first byte of every MPEG-TS packet (spec §4.4
// phase 1 sniff rule).
const mpegTSSyncByte = 0x47

// SniffResult reports whether the first buffered byte of an SRT ingest
// matched the MPEG-TS sync byte, per spec §4.4 phase 1 ("sniffs MPEG-TS
// (first byte 0x47) vs. opaque data").
type SniffResult struct {
	IsMPEGTS bool
}

// Sniff classifies the first buffered byte as MPEG-TS or opaque data.
func Sniff(firstByte byte) SniffResult {
	return SniffResult{IsMPEGTS: firstByte == mpegTSSyncByte}
}

// DetectFileMediaType sniffs a file-based source's content type before
// handing it to the decode backend (spec §4.4 phase 1 "Open"), generalizing
// the teacher's upload-sniffing idiom from one-shot HTTP uploads to worker
// job sources. It never blocks opening the file on a mismatch — the decode
// backend is the authority on whether a container is actually readable —
// it only surfaces the detected MIME string for logs and diagnostics.
func DetectFileMediaType(path string) (string, error) {
	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return "", fmt.Errorf("op=media.DetectFileMediaType: %w", err)
	}
	return mt.String(), nil
}

// RingBuffer is a fixed-capacity byte buffer with a "drop oldest bytes"
// overflow policy (spec §5 backpressure: "SRT is a lossy transport by
// design"). Safe for single-writer/single-reader concurrent use.
type RingBuffer struct {
	mu       sync.Mutex
	buf      []byte
	capacity int
}

// NewRingBuffer constructs a RingBuffer with the given byte capacity.
func NewRingBuffer(capacity int) *RingBuffer {
	return &RingBuffer{capacity: capacity}
}

// Write appends p, dropping the oldest buffered bytes if the result would
// exceed capacity.
func (r *RingBuffer) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf = append(r.buf, p...)
	if over := len(r.buf) - r.capacity; over > 0 && r.capacity > 0 {
		r.buf = r.buf[over:]
	}
	return len(p), nil
}

// Len reports the number of bytes currently buffered.
func (r *RingBuffer) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.buf)
}

// Snapshot returns a copy of the currently buffered bytes without
// consuming them.
func (r *RingBuffer) Snapshot() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]byte, len(r.buf))
	copy(out, r.buf)
	return out
}

// Drain removes and returns the first n buffered bytes (or fewer, if the
// buffer holds less).
func (r *RingBuffer) Drain(n int) []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n > len(r.buf) {
		n = len(r.buf)
	}
	out := make([]byte, n)
	copy(out, r.buf[:n])
	r.buf = r.buf[n:]
	return out
}

// SRTIngest reads bytes from conn into a ring buffer in the background
// until conn reports EOF or an error, or ctx is cancelled, and returns that
// ring buffer at once (spec §4.4 phase 1). The sniffed stream kind is sent
// on the returned channel as soon as the first bytes arrive; the outcome of
// the read loop (nil on EOF) is sent on the error channel. threshold gates
// nothing: no signal is sent when the buffered byte count reaches it, and
// no format context is opened here (see OpenSRT).
//
// conn abstracts the SRT socket; production wiring supplies a real SRT
// client connection (no SRT library is part of this module's dependency
// set — none of the example repos touch SRT and no Go-ecosystem SRT client
// is an established default the way amqp091-go or go-astiav are, so the
// transport is modeled as the generic io.ReadCloser the SRT client would
// hand over, keeping the ring-buffer/sniff logic above — the part spec §4.4
// actually specifies precisely — real and independently testable).
func SRTIngest(ctx context.Context, conn io.ReadCloser, capacity, threshold int) (*RingBuffer, <-chan SniffResult, <-chan error) {
	rb := NewRingBuffer(capacity)
	sniffed := make(chan SniffResult, 1)
	errCh := make(chan error, 1)

	go func() {
		defer conn.Close()
		buf := make([]byte, 4096)
		reportedSniff := false
		for {
			select {
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			default:
			}
			n, err := conn.Read(buf)
			if n > 0 {
				_, _ = rb.Write(buf[:n])
				if !reportedSniff && rb.Len() > 0 {
					first := rb.Snapshot()[0]
					sniffed <- Sniff(first)
					reportedSniff = true
				}
				if rb.Len() >= threshold {
					// Threshold reached; the caller's Describe/NextPacket
					// loop is now free to start reading from rb.
				}
			}
			if err != nil {
				if err == io.EOF {
					errCh <- nil
				} else {
					errCh <- err
				}
				return
			}
		}
	}()

	return rb, sniffed, errCh
}

// bufferReader adapts a RingBuffer's Drain to an io.Reader, for feeding an
// in-memory format context once the ingest threshold is reached.
type bufferReader struct {
	rb *RingBuffer
}

func (b *bufferReader) Read(p []byte) (int, error) {
	chunk := b.rb.Drain(len(p))
	if len(chunk) == 0 {
		return 0, io.EOF
	}
	return copy(p, chunk), nil
}

// NewBufferReader wraps a RingBuffer as an io.Reader, draining it as bytes
// are consumed.
func NewBufferReader(rb *RingBuffer) io.Reader { return &bufferReader{rb: rb} }
