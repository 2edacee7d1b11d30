// Package processor implements the top-level supervisor (spec §4.7): it
// owns one Process (Simple or Media) per worker instance, pumps orders from
// the Message Exchange into it, forwards the Process's responses to the
// Response Publisher, and honors StopWorker by draining the Process before
// exiting. Grounded on original_source/rs_mcai_worker_sdk/src/processor/mod.rs.
package processor

import (
	"context"
	"log/slog"

	"github.com/fairyhunter13/mcai-worker-runtime/internal/domain"
	"github.com/fairyhunter13/mcai-worker-runtime/internal/exchange"
	intobs "github.com/fairyhunter13/mcai-worker-runtime/internal/observability"
	"github.com/fairyhunter13/mcai-worker-runtime/internal/publisher"
)

// Process is the behavior a Simple or Media process must provide so the
// Processor can supervise either uniformly (spec §4.5, §4.6).
type Process interface {
	// Submit hands one order to the process's own order channel. It must
	// not block indefinitely; the process owns sequencing its reaction.
	Submit(order domain.OrderMessage)

	// Responses yields the ResponseMessage values the process emits over
	// its lifetime. Closed once the process has fully shut down.
	Responses() <-chan domain.ResponseMessage

	// CurrentJobID reports the job id currently held, if any, for the
	// well-formedness guardrail (spec §3).
	CurrentJobID() (uint64, bool)

	// Close requests the process stop accepting new orders and finish
	// draining in-flight work, then closes its Responses channel.
	Close()

	// Run drives the process's own order loop until Close is called. The
	// caller starts it on a dedicated goroutine exactly once for the
	// process's lifetime (spec §5: "each Process owns a dedicated
	// thread") — a broker reconnect builds a new Processor around the
	// same Process, so Processor.Run must not start it again.
	Run()
}

// Processor supervises one Process for the lifetime of a worker instance.
type Processor struct {
	exch exchange.Exchange
	pub  *publisher.Publisher
	proc Process
	cfg  domain.WorkerConfiguration
}

// New constructs a Processor wired to the given Exchange, Publisher, and
// Process.
func New(exch exchange.Exchange, pub *publisher.Publisher, proc Process, cfg domain.WorkerConfiguration) *Processor {
	return &Processor{exch: exch, pub: pub, proc: proc, cfg: cfg}
}

// Run announces the worker, then pumps deliveries from this Exchange into
// the process and the process's responses into this Publisher, until the
// Exchange closes, the context is cancelled, or a StopWorker order drains
// the process for good. The Process itself outlives one Run call: a broker
// reconnect builds a fresh Exchange/Publisher/Processor around the same
// Process (see cmd/worker), so a plain Exchange closure (the reconnect
// case) only stops this invocation's response forwarding — it does not
// call Process.Close, which would end the process permanently.
func (p *Processor) Run(ctx context.Context) error {
	if err := p.pub.HandleResponse(ctx, domain.ResponseMessage{
		Kind:         domain.ResponseWorkerCreated,
		WorkerConfig: &p.cfg,
	}); err != nil {
		slog.Error("failed to publish worker_created announcement", slog.Any("error", err))
	}

	stopForwarding := make(chan struct{})
	responsesDone := make(chan struct{})
	go func() {
		defer close(responsesDone)
		for {
			select {
			case <-stopForwarding:
				return
			case resp, ok := <-p.proc.Responses():
				if !ok {
					return
				}
				if err := p.pub.HandleResponse(ctx, resp); err != nil {
					slog.Error("failed to publish response", slog.String("kind", string(resp.Kind)), slog.Any("error", err))
				}
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			p.proc.Close()
			close(stopForwarding)
			<-responsesDone
			return ctx.Err()
		case d, ok := <-p.exch.Orders():
			if !ok {
				close(stopForwarding)
				<-responsesDone
				return nil
			}
			stop := p.handleDelivery(ctx, d)
			if stop {
				p.proc.Close()
				close(stopForwarding)
				<-responsesDone
				return nil
			}
		}
	}
}

// handleDelivery dispatches one inbound delivery, enforcing the §3
// well-formedness guardrail before forwarding to the process, and reports
// whether the Processor should now shut down (a StopWorker order).
func (p *Processor) handleDelivery(ctx context.Context, d exchange.Delivery) bool {
	correlationID := intobs.NewCorrelationID()
	ctx = intobs.ContextWithRequestID(ctx, correlationID)
	slog.Debug("delivery received", slog.String("correlation_id", correlationID), slog.String("order_kind", string(d.Order.Kind)))

	switch d.Order.Kind {
	case domain.OrderStopConsumingJobs:
		if err := p.exch.StopConsumingJobs(); err != nil {
			slog.Error("failed to pause job consumption", slog.Any("error", err))
		}
		settle(d, nil)
		return false
	case domain.OrderResumeConsumingJobs:
		if err := p.exch.ResumeConsumingJobs(); err != nil {
			slog.Error("failed to resume job consumption", slog.Any("error", err))
		}
		settle(d, nil)
		return false
	}

	current := currentJobPtr(p.proc)
	if mErr := d.Order.MatchesJobID(current); mErr != nil {
		pubErr := p.pub.HandleResponse(ctx, domain.ResponseMessage{Kind: domain.ResponseError, Err: mErr})
		settle(d, pubErr)
		return false
	}

	p.pub.TrackOrder(d)
	p.proc.Submit(d.Order)
	return d.Order.Kind == domain.OrderStopWorker
}

func settle(d exchange.Delivery, err error) {
	if err != nil {
		if rejErr := d.Reject(true); rejErr != nil {
			slog.Error("failed to reject delivery", slog.Any("error", rejErr))
		}
		return
	}
	if ackErr := d.Ack(); ackErr != nil {
		slog.Error("failed to ack delivery", slog.Any("error", ackErr))
	}
}

func currentJobPtr(proc Process) *uint64 {
	if id, ok := proc.CurrentJobID(); ok {
		return &id
	}
	return nil
}
