// Package exchange defines the Message Exchange port (spec §6.1): the
// boundary between the Processor and whatever transport carries orders in
// and responses out, whether a real broker or an in-process replay queue.
package exchange

import (
	"context"

	"github.com/fairyhunter13/mcai-worker-runtime/internal/domain"
)

// Delivery is one inbound order paired with the settlement primitives the
// Delivery Tracker (internal/publisher) uses to resolve it exactly once
// (spec §7, §8 "Delivery accounting").
type Delivery struct {
	// Tag orders deliveries for the tracker's sort/dedup step
	// (original_source current_orders.rs sorts by delivery_tag).
	Tag uint64

	Order domain.OrderMessage

	// Ack settles the delivery as successfully handled.
	Ack func() error

	// Reject settles the delivery as unhandled; requeue controls whether
	// the broker redelivers it.
	Reject func(requeue bool) error
}

// Publisher sends a response payload under a routing key/queue name,
// without concerning itself with delivery settlement — that is the
// Delivery Tracker's job, layered on top in internal/publisher.
type Publisher interface {
	// PublishResponse sends payload under routingKey on the job/worker
	// response exchange (spec §6.1's job_response/worker_response
	// exchanges; the adapter picks the right one per routing key).
	PublishResponse(ctx context.Context, routingKey string, payload []byte) error

	// PublishWorkerAnnouncement sends the worker's configuration to the
	// discovery queue (spec §6.1 worker_discovery).
	PublishWorkerAnnouncement(ctx context.Context, payload []byte) error
}

// Exchange is the full port a Processor depends on: an inbound order
// stream plus the means to publish outbound responses.
type Exchange interface {
	// Orders yields inbound deliveries until the exchange is closed.
	Orders() <-chan Delivery

	// Publisher returns the response-publishing half of this exchange.
	Publisher() Publisher

	// StopConsumingJobs pauses delivery of new job-queue messages without
	// affecting the control queue (spec §9 Open Question: job-queue-only
	// pause).
	StopConsumingJobs() error

	// ResumeConsumingJobs resumes job-queue delivery.
	ResumeConsumingJobs() error

	// Close releases the exchange's resources.
	Close() error
}
