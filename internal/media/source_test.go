package media

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"
)

func TestClassifySourceURI_FilePath(t *testing.T) {
	kind, host, port, err := ClassifySourceURI("/tmp/input.mp4")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if kind != SourceFile || host != "" || port != 0 {
		t.Fatalf("expected a plain file classification, got kind=%v host=%q port=%d", kind, host, port)
	}
}

func TestClassifySourceURI_SRTConnect(t *testing.T) {
	kind, host, port, err := ClassifySourceURI("srt://192.168.1.1:9000")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if kind != SourceSRTConnect || host != "192.168.1.1" || port != 9000 {
		t.Fatalf("expected srt connect classification, got kind=%v host=%q port=%d", kind, host, port)
	}
}

func TestClassifySourceURI_SRTListen(t *testing.T) {
	kind, host, port, err := ClassifySourceURI("srt://:9000")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if kind != SourceSRTListen || host != "" || port != 9000 {
		t.Fatalf("expected srt listen classification, got kind=%v host=%q port=%d", kind, host, port)
	}
}

func TestClassifySourceURI_SRTMissingPort(t *testing.T) {
	if _, _, _, err := ClassifySourceURI("srt://192.168.1.1"); err == nil {
		t.Fatalf("expected an error for a missing port")
	}
}

func TestSniff(t *testing.T) {
	if !Sniff(0x47).IsMPEGTS {
		t.Fatalf("expected 0x47 to sniff as MPEG-TS")
	}
	if Sniff(0x00).IsMPEGTS {
		t.Fatalf("expected a non-sync byte to sniff as opaque")
	}
}

func TestRingBuffer_DropsOldestOnOverflow(t *testing.T) {
	rb := NewRingBuffer(4)
	rb.Write([]byte{1, 2, 3})
	rb.Write([]byte{4, 5})

	if rb.Len() != 4 {
		t.Fatalf("expected buffer capped at capacity 4, got %d", rb.Len())
	}
	got := rb.Snapshot()
	want := []byte{2, 3, 4, 5}
	if !bytes.Equal(got, want) {
		t.Fatalf("expected oldest bytes dropped, got %v want %v", got, want)
	}
}

func TestRingBuffer_Drain(t *testing.T) {
	rb := NewRingBuffer(10)
	rb.Write([]byte("hello"))

	first := rb.Drain(3)
	if string(first) != "hel" {
		t.Fatalf("expected first 3 bytes drained, got %q", first)
	}
	if rb.Len() != 2 {
		t.Fatalf("expected 2 bytes remaining, got %d", rb.Len())
	}

	rest := rb.Drain(10)
	if string(rest) != "lo" {
		t.Fatalf("expected remainder drained, got %q", rest)
	}
	if rb.Len() != 0 {
		t.Fatalf("expected buffer empty after draining everything, got %d", rb.Len())
	}
}

type fakeConn struct {
	*bytes.Reader
}

func (fakeConn) Close() error { return nil }

func TestSRTIngest_SniffsFirstByteAndBuffersUntilEOF(t *testing.T) {
	payload := append([]byte{0x47}, []byte("mpegts-stream-bytes")...)
	conn := fakeConn{bytes.NewReader(payload)}

	rb, sniffed, errCh := SRTIngest(context.Background(), conn, 1024, 4)

	select {
	case s := <-sniffed:
		if !s.IsMPEGTS {
			t.Fatalf("expected MPEG-TS sniff result")
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for sniff result")
	}

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("unexpected ingest error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for ingest to finish")
	}

	if rb.Len() != len(payload) {
		t.Fatalf("expected all bytes buffered, got %d want %d", rb.Len(), len(payload))
	}
}

func TestBufferReader_DrainsUntilEmpty(t *testing.T) {
	rb := NewRingBuffer(10)
	rb.Write([]byte("abcdef"))
	r := NewBufferReader(rb)

	buf := make([]byte, 3)
	n, err := r.Read(buf)
	if err != nil || string(buf[:n]) != "abc" {
		t.Fatalf("unexpected first read: n=%d err=%v buf=%q", n, err, buf[:n])
	}

	n, err = r.Read(buf)
	if err != nil || string(buf[:n]) != "def" {
		t.Fatalf("unexpected second read: n=%d err=%v buf=%q", n, err, buf[:n])
	}

	_, err = r.Read(buf)
	if err != io.EOF {
		t.Fatalf("expected io.EOF once drained, got %v", err)
	}
}
