// Package local implements the in-process Exchange variant used for
// SOURCE_ORDERS offline replay (spec §6.4) and for tests: two channels
// standing in for a broker, with no ack/reject settlement semantics.
// Grounded on rs_mcai_worker_sdk's message_exchange/local/exchange.rs.
package local

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/fairyhunter13/mcai-worker-runtime/internal/domain"
	"github.com/fairyhunter13/mcai-worker-runtime/internal/exchange"
)

// Exchange is the in-process Exchange: a bounded order channel a feeder
// writes into, and a response channel the caller can drain for assertions
// or logging. Deliveries carry no-op Ack/Reject (spec: no broker
// settlement applies to local replay).
type Exchange struct {
	orders    chan exchange.Delivery
	responses chan responsePayload
	closed    chan struct{}
}

type responsePayload struct {
	routingKey string
	payload    []byte
}

// New constructs a local Exchange with the given order-channel buffer.
func New(bufferSize int) *Exchange {
	return &Exchange{
		orders:    make(chan exchange.Delivery, bufferSize),
		responses: make(chan responsePayload, bufferSize),
		closed:    make(chan struct{}),
	}
}

// Orders implements exchange.Exchange.
func (e *Exchange) Orders() <-chan exchange.Delivery { return e.orders }

// Publisher implements exchange.Exchange.
func (e *Exchange) Publisher() exchange.Publisher { return (*localPublisher)(e) }

// StopConsumingJobs and ResumeConsumingJobs are no-ops for local replay:
// there is no separate job/control queue to pause independently.
func (e *Exchange) StopConsumingJobs() error   { return nil }
func (e *Exchange) ResumeConsumingJobs() error { return nil }

// Close releases the exchange's channels. Safe to call once.
func (e *Exchange) Close() error {
	select {
	case <-e.closed:
		return nil
	default:
		close(e.closed)
		close(e.orders)
	}
	return nil
}

// SendOrder injects an order as though it had arrived over a broker. The
// returned Delivery's Ack/Reject are no-ops, matching local replay's lack
// of settlement semantics.
func (e *Exchange) SendOrder(ctx context.Context, order domain.OrderMessage) error {
	d := exchange.Delivery{
		Order:  order,
		Ack:    func() error { return nil },
		Reject: func(bool) error { return nil },
	}
	select {
	case e.orders <- d:
		return nil
	case <-e.closed:
		return fmt.Errorf("local exchange: closed")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// DrainResponses returns a snapshot of every response published since the
// last drain, keyed by routing key, for tests to assert against.
func (e *Exchange) DrainResponses() map[string][][]byte {
	out := map[string][][]byte{}
	for {
		select {
		case r := <-e.responses:
			out[r.routingKey] = append(out[r.routingKey], r.payload)
		default:
			return out
		}
	}
}

type localPublisher Exchange

func (p *localPublisher) PublishResponse(_ context.Context, routingKey string, payload []byte) error {
	e := (*Exchange)(p)
	select {
	case e.responses <- responsePayload{routingKey: routingKey, payload: payload}:
		return nil
	case <-e.closed:
		return fmt.Errorf("local exchange: closed")
	}
}

func (p *localPublisher) PublishWorkerAnnouncement(ctx context.Context, payload []byte) error {
	return p.PublishResponse(ctx, "worker_discovery", payload)
}

// FeedSourceOrderFiles reads each file as one JSON order document and
// injects it in sequence (spec §6.4 SOURCE_ORDERS, offline mode). Each
// file's parse failure is independent of the others: a malformed file is
// logged and skipped rather than aborting the remaining files (spec §9
// Open Question decision).
func FeedSourceOrderFiles(ctx context.Context, e *Exchange, paths []string) {
	for _, path := range paths {
		raw, err := os.ReadFile(path)
		if err != nil {
			slog.Error("source order file unreadable", slog.String("path", path), slog.Any("error", err))
			continue
		}
		order, mErr := domain.ParseOrder(raw)
		if mErr != nil {
			slog.Error("source order file malformed", slog.String("path", path), slog.Any("error", mErr))
			continue
		}
		if err := e.SendOrder(ctx, order); err != nil {
			slog.Error("source order file could not be queued", slog.String("path", path), slog.Any("error", err))
			continue
		}
	}
}
