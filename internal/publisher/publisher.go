// Package publisher implements the Response Publisher (spec §7): it tracks
// which inbound delivery each pending order kind belongs to and dispatches
// outbound ResponseMessage values to the right queue, settling (ack/reject)
// the delivery that earned the response. Grounded on
// rs_mcai_worker_sdk/src/message_exchange/rabbitmq/publisher.rs
// handle_response and the publish/*.rs family (job_completed.rs,
// job_started.rs, job_status.rs, job_processing_error.rs,
// job_runtime_error.rs, publish_job_response.rs, publish_worker_response.rs).
package publisher

import (
	"context"
	"errors"
	"log/slog"

	"github.com/fairyhunter13/mcai-worker-runtime/internal/domain"
	"github.com/fairyhunter13/mcai-worker-runtime/internal/exchange"
)

// Publisher dispatches ResponseMessage values onto an exchange.Publisher,
// settling whichever delivery the response belongs to.
type Publisher struct {
	pub     exchange.Publisher
	tracker tracker
}

// New builds a Publisher over the given transport-level publisher.
func New(pub exchange.Publisher) *Publisher {
	return &Publisher{pub: pub}
}

// TrackOrder records the delivery that introduced an order, so a later
// response for the same job/process lifecycle settles it correctly.
func (p *Publisher) TrackOrder(d exchange.Delivery) {
	switch d.Order.Kind {
	case domain.OrderJob:
		p.tracker.setJob(d)
	case domain.OrderInitProcess:
		p.tracker.setInit(d)
	case domain.OrderStartProcess:
		p.tracker.setStart(d)
	case domain.OrderStopProcess:
		p.tracker.setStop(d)
	case domain.OrderStatus, domain.OrderStopWorker:
		// StopWorker's reply is also a Feedback(Status) (spec §4.6), so its
		// delivery settles through the same status concern as Status.
		p.tracker.setStatus(d)
	}
}

// isProcessLifecycle reports whether resp settles against the process
// delivery slots (stop > job > start > init).
func isProcessLifecycle(kind domain.ResponseKind) bool {
	switch kind {
	case domain.ResponseWorkerInitialized, domain.ResponseWorkerStarted,
		domain.ResponseCompleted, domain.ResponseJobStopped, domain.ResponseError:
		return true
	default:
		return false
	}
}

// isTerminal reports whether resp ends the job, and so falls back to the
// job delivery directly when no process delivery is tracked.
func isTerminal(kind domain.ResponseKind) bool {
	switch kind {
	case domain.ResponseCompleted, domain.ResponseJobStopped, domain.ResponseError:
		return true
	default:
		return false
	}
}

func isStatusLifecycle(kind domain.ResponseKind) bool {
	return kind == domain.ResponseFeedbackStatus || kind == domain.ResponseStatusError
}

// HandleResponse publishes resp and settles the delivery(ies) it belongs
// to, mirroring handle_response's dispatch table:
//
//   - Feedback(Progression) and WorkerCreated broadcast with no delivery
//     settlement at all.
//   - WorkerInitialized/WorkerStarted/Completed/JobStopped/Error settle the
//     process delivery (stop > job > start > init); if none is tracked,
//     a terminal response still settles the job delivery directly.
//   - Feedback(Status)/StatusError settle the status delivery.
//   - every publish-with-delivery acks on success and rejects with requeue
//     on failure (spec §7 RuntimeError/Amqp handling).
//
// After dispatch, process responses reset the process deliveries and
// status responses reset the status delivery.
func (p *Publisher) HandleResponse(ctx context.Context, resp domain.ResponseMessage) error {
	payload, err := domain.MarshalResponse(resp)
	if err != nil {
		return err
	}

	switch resp.Kind {
	case domain.ResponseFeedbackProgress, domain.ResponseWorkerCreated:
		if resp.Kind == domain.ResponseWorkerCreated {
			return p.pub.PublishWorkerAnnouncement(ctx, payload)
		}
		return p.pub.PublishResponse(ctx, resp.RoutingKey(), payload)
	}

	var deliveries []exchange.Delivery
	switch {
	case isProcessLifecycle(resp.Kind):
		deliveries = p.tracker.processDeliveries()
	case isStatusLifecycle(resp.Kind):
		deliveries = p.tracker.statusDeliveries()
	}

	if len(deliveries) == 0 {
		if isTerminal(resp.Kind) {
			if d, ok := p.tracker.jobDelivery(); ok {
				deliveries = []exchange.Delivery{d}
			}
		}
	}

	if len(deliveries) == 0 {
		err = p.pub.PublishResponse(ctx, resp.RoutingKey(), payload)
	} else {
		err = p.publishWithDeliveries(ctx, resp.RoutingKey(), payload, deliveries)
	}

	switch {
	case isProcessLifecycle(resp.Kind):
		p.tracker.resetProcess()
	case isStatusLifecycle(resp.Kind):
		p.tracker.resetStatus()
	}

	return err
}

func (p *Publisher) publishWithDeliveries(ctx context.Context, routingKey string, payload []byte, deliveries []exchange.Delivery) error {
	var errs []error
	for _, d := range deliveries {
		if pubErr := p.pub.PublishResponse(ctx, routingKey, payload); pubErr != nil {
			if rejErr := d.Reject(true); rejErr != nil {
				slog.Error("failed to reject delivery after publish failure",
					slog.Any("publish_error", pubErr), slog.Any("reject_error", rejErr))
			}
			errs = append(errs, pubErr)
			continue
		}
		if ackErr := d.Ack(); ackErr != nil {
			slog.Error("failed to ack delivery after publish success", slog.Any("error", ackErr))
			errs = append(errs, ackErr)
		}
	}
	return errors.Join(errs...)
}
