package rabbitmq

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/fairyhunter13/mcai-worker-runtime/internal/adapter/observability"
	"github.com/fairyhunter13/mcai-worker-runtime/internal/config"
	"github.com/fairyhunter13/mcai-worker-runtime/internal/domain"
	"github.com/fairyhunter13/mcai-worker-runtime/internal/exchange"
	intobs "github.com/fairyhunter13/mcai-worker-runtime/internal/observability"
)

// Exchange is the broker-backed exchange.Exchange implementation.
type Exchange struct {
	conn *amqp.Connection
	ch   *amqp.Channel
	cfg  domain.WorkerConfiguration

	orders chan exchange.Delivery

	mu         sync.Mutex
	jobCancel  context.CancelFunc
	ctrlCancel context.CancelFunc
	paused     bool

	obs *intobs.IntegratedObservableClient
}

// Dial connects to the broker, declares the full topology (spec §6.1), and
// starts consuming the job and control queues. The caller owns the
// returned Exchange's lifecycle via Close.
func Dial(ctx context.Context, amqpCfg config.Config, workerCfg domain.WorkerConfiguration) (*Exchange, error) {
	conn, err := amqp.DialConfig(amqpCfg.AMQPAddress(), amqp.Config{
		Dial: amqp.DefaultDial(10 * time.Second),
	})
	if err != nil {
		return nil, fmt.Errorf("op=rabbitmq.Dial: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("op=rabbitmq.Dial channel: %w", err)
	}

	if err := declareTopology(ch, workerCfg); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}

	e := &Exchange{
		conn:   conn,
		ch:     ch,
		cfg:    workerCfg,
		orders: make(chan exchange.Delivery, 16),
		obs: intobs.NewIntegratedObservableClient(
			intobs.ConnectionTypeAMQP,
			intobs.OperationTypeConsume,
			amqpCfg.AMQPHostname,
			"rabbitmq-exchange",
			5*time.Second,
			1*time.Second,
			15*time.Second,
		),
	}

	if err := e.announce(ctx); err != nil {
		slog.Error("failed to publish worker discovery announcement", slog.Any("error", err))
	}

	if err := e.startConsuming(); err != nil {
		_ = e.Close()
		return nil, err
	}

	return e, nil
}

func (e *Exchange) announce(ctx context.Context) error {
	payload, err := domain.MarshalResponse(domain.ResponseMessage{
		Kind:         domain.ResponseWorkerCreated,
		WorkerConfig: &e.cfg,
	})
	if err != nil {
		return err
	}
	return e.Publisher().PublishWorkerAnnouncement(ctx, payload)
}

// startConsuming launches the job-queue and control-queue consumer
// goroutines (spec §5: each owns a goroutine; cancellation is cooperative
// via the context passed to amqp091-go's Consume).
func (e *Exchange) startConsuming() error {
	jobCtx, jobCancel := context.WithCancel(context.Background())
	ctrlCtx, ctrlCancel := context.WithCancel(context.Background())

	e.mu.Lock()
	e.jobCancel = jobCancel
	e.ctrlCancel = ctrlCancel
	e.mu.Unlock()

	jobDeliveries, err := e.ch.Consume(e.cfg.JobQueueName, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("op=rabbitmq.startConsuming job queue: %w", err)
	}
	ctrlDeliveries, err := e.ch.Consume(e.cfg.ControlQueueName, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("op=rabbitmq.startConsuming control queue: %w", err)
	}

	go e.consumeLoop(jobCtx, jobDeliveries)
	go e.consumeLoop(ctrlCtx, ctrlDeliveries)
	return nil
}

func (e *Exchange) consumeLoop(ctx context.Context, deliveries <-chan amqp.Delivery) {
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-deliveries:
			if !ok {
				return
			}
			e.handleDelivery(d)
		}
	}
}

func (e *Exchange) handleDelivery(d amqp.Delivery) {
	order, mErr := domain.ParseOrder(d.Body)
	if mErr != nil {
		slog.Error("malformed order message", slog.Any("error", mErr))
		// RuntimeError: reject with requeue (spec §7).
		_ = d.Reject(true)
		return
	}

	delivery := exchange.Delivery{
		Tag:   d.DeliveryTag,
		Order: order,
		Ack: func() error {
			return d.Ack(false)
		},
		Reject: func(requeue bool) error {
			return d.Reject(requeue)
		},
	}

	select {
	case e.orders <- delivery:
	default:
		e.orders <- delivery
	}
}

// Orders implements exchange.Exchange.
func (e *Exchange) Orders() <-chan exchange.Delivery { return e.orders }

// Publisher implements exchange.Exchange.
func (e *Exchange) Publisher() exchange.Publisher { return &publisher{e} }

// StopConsumingJobs cancels the job-queue consumer only, leaving the
// control queue (and hence Status/StopWorker handling) live (spec §9 Open
// Question decision).
func (e *Exchange) StopConsumingJobs() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.paused || e.jobCancel == nil {
		return nil
	}
	e.jobCancel()
	e.paused = true
	return nil
}

// ResumeConsumingJobs restarts the job-queue consumer.
func (e *Exchange) ResumeConsumingJobs() error {
	e.mu.Lock()
	paused := e.paused
	e.mu.Unlock()
	if !paused {
		return nil
	}

	jobCtx, jobCancel := context.WithCancel(context.Background())
	jobDeliveries, err := e.ch.Consume(e.cfg.JobQueueName, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("op=rabbitmq.ResumeConsumingJobs: %w", err)
	}

	e.mu.Lock()
	e.jobCancel = jobCancel
	e.paused = false
	e.mu.Unlock()

	go e.consumeLoop(jobCtx, jobDeliveries)
	return nil
}

// Close stops consuming and tears down the channel/connection.
func (e *Exchange) Close() error {
	e.mu.Lock()
	if e.jobCancel != nil {
		e.jobCancel()
	}
	if e.ctrlCancel != nil {
		e.ctrlCancel()
	}
	e.mu.Unlock()

	if e.ch != nil {
		_ = e.ch.Close()
	}
	if e.conn != nil {
		return e.conn.Close()
	}
	return nil
}

// publisher implements exchange.Publisher against the broker channel.
type publisher struct{ e *Exchange }

func (p *publisher) exchangeFor(routingKey string) string {
	switch routingKey {
	case string(domain.ResponseWorkerCreated),
		string(domain.ResponseWorkerInitialized),
		string(domain.ResponseWorkerStarted),
		string(domain.ResponseStatusError):
		return exchangeWorkerResponse
	default:
		return exchangeJobResponse
	}
}

func (p *publisher) PublishResponse(ctx context.Context, routingKey string, payload []byte) error {
	return p.e.obs.ExecuteWithMetrics(ctx, "publish", func(callCtx context.Context) error {
		return p.e.ch.PublishWithContext(callCtx, p.exchangeFor(routingKey), routingKey, false, false, amqp.Publishing{
			ContentType: "application/json",
			Body:        payload,
		})
	})
}

func (p *publisher) PublishWorkerAnnouncement(ctx context.Context, payload []byte) error {
	return p.e.obs.ExecuteWithMetrics(ctx, "announce", func(callCtx context.Context) error {
		return p.e.ch.PublishWithContext(callCtx, exchangeJobResponse, queueWorkerDiscovery, false, false, amqp.Publishing{
			ContentType: "application/json",
			Body:        payload,
		})
	})
}

// Run dials the broker and reconnects with exponential backoff whenever the
// connection drops (spec §5, §7: Amqp errors bubble to the reconnection
// loop; after sleep, reconnect and resume). onReady receives each newly
// established Exchange; the caller is responsible for wiring its Orders()
// channel to a Processor before the next reconnect tears it down.
func Run(ctx context.Context, cfg config.Config, workerCfg domain.WorkerConfiguration, onReady func(*Exchange)) error {
	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = cfg.ReconnectInitialInterval
	expo.MaxInterval = cfg.ReconnectMaxInterval
	expo.MaxElapsedTime = cfg.ReconnectMaxElapsedTime

	breaker := intobs.NewCircuitBreaker(5, cfg.ReconnectMaxInterval, 0.5)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if !breaker.CanExecute() {
			wait := expo.NextBackOff()
			if wait == backoff.Stop {
				return fmt.Errorf("op=rabbitmq.Run: circuit breaker open, giving up")
			}
			slog.Warn("broker circuit breaker open, deferring reconnect", slog.Duration("wait", wait))
			observability.RecordCircuitBreakerStatus("rabbitmq", "connect", int(breaker.GetState()))
			time.Sleep(wait)
			continue
		}

		e, err := Dial(ctx, cfg, workerCfg)
		if err != nil {
			breaker.RecordFailure()
			wait := expo.NextBackOff()
			if wait == backoff.Stop {
				return fmt.Errorf("op=rabbitmq.Run: %w", err)
			}
			slog.Error("broker connection failed, retrying", slog.Any("error", err), slog.Duration("wait", wait))
			observability.RecordCircuitBreakerStatus("rabbitmq", "connect", int(breaker.GetState()))
			time.Sleep(wait)
			continue
		}

		breaker.RecordSuccess()
		expo.Reset()
		observability.RecordCircuitBreakerStatus("rabbitmq", "connect", int(breaker.GetState()))
		onReady(e)

		closeErr := <-e.conn.NotifyClose(make(chan *amqp.Error, 1))
		slog.Error("broker connection closed", slog.Any("error", closeErr))
		breaker.RecordFailure()
		_ = e.Close()
	}
}
