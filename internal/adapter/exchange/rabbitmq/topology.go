// Package rabbitmq implements the broker Exchange variant (spec §6.1) over
// github.com/rabbitmq/amqp091-go. Grounded on
// rs_mcai_worker_sdk/src/message_exchange/rabbitmq/{channels,consumer,publisher,publish}
// with the teacher's resilience idiom (otel spans, prometheus counters,
// cenkalti/backoff reconnection) layered on top.
package rabbitmq

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/fairyhunter13/mcai-worker-runtime/internal/domain"
)

const (
	exchangeSubmit          = "job_submit"
	exchangeJobResponse     = "job_response"
	exchangeWorkerResponse  = "worker_response"
	exchangeDirectMessaging = "direct_messaging"
	exchangeDelayed         = "job_delayed"
	exchangeResponseDelayed = "job_response_delayed"

	exchangeSubmitAlternate          = "job_queue_not_found"
	exchangeJobResponseAlternate     = "job_response_not_found"
	exchangeWorkerResponseAlternate  = "worker_response_not_found"
	exchangeDirectMessagingAlternate = "direct_messaging_not_found"

	queueWorkerDiscovery = "worker_discovery"
)

// responseRoutingKeys is the full set of routing keys this worker publishes
// responses under (spec §6.1's per-routing-key response queues, restricted
// to the ResponseKind values the domain actually produces).
var responseRoutingKeys = []string{
	string(domain.ResponseWorkerCreated),
	string(domain.ResponseWorkerInitialized),
	string(domain.ResponseWorkerStarted),
	string(domain.ResponseCompleted),
	string(domain.ResponseJobStopped),
	string(domain.ResponseError),
	string(domain.ResponseStatusError),
	string(domain.ResponseFeedbackProgress),
	string(domain.ResponseFeedbackStatus),
}

// declareTopology builds every exchange, queue, and binding spec §6.1
// requires, plus the worker's own job/control queues. It is idempotent:
// AMQP declare operations are no-ops when the entity already exists with
// matching arguments.
func declareTopology(ch *amqp.Channel, cfg domain.WorkerConfiguration) error {
	if err := ch.Qos(1, 0, false); err != nil {
		return fmt.Errorf("op=rabbitmq.declareTopology qos: %w", err)
	}

	if err := declareExchange(ch, exchangeDelayed, amqp.ExchangeFanout, ""); err != nil {
		return err
	}
	if err := declareExchange(ch, exchangeSubmit, amqp.ExchangeTopic, exchangeSubmitAlternate); err != nil {
		return err
	}
	if err := declareExchange(ch, exchangeJobResponse, amqp.ExchangeTopic, exchangeJobResponseAlternate); err != nil {
		return err
	}
	if err := declareExchange(ch, exchangeWorkerResponse, amqp.ExchangeTopic, exchangeWorkerResponseAlternate); err != nil {
		return err
	}
	if err := declareExchange(ch, exchangeDirectMessaging, amqp.ExchangeHeaders, exchangeDirectMessagingAlternate); err != nil {
		return err
	}
	if err := declareExchange(ch, exchangeResponseDelayed, amqp.ExchangeFanout, ""); err != nil {
		return err
	}

	if _, err := ch.QueueDeclare(exchangeDelayed, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange": "",
		"x-message-ttl":          int32(5000),
	}); err != nil {
		return fmt.Errorf("op=rabbitmq.declareTopology delayed queue: %w", err)
	}
	if err := ch.QueueBind(exchangeDelayed, "*", exchangeDelayed, false, nil); err != nil {
		return fmt.Errorf("op=rabbitmq.declareTopology bind delayed: %w", err)
	}

	controlQueue := cfg.ControlQueueName
	if _, err := ch.QueueDeclare(controlQueue, false, true, false, false, nil); err != nil {
		return fmt.Errorf("op=rabbitmq.declareTopology control queue: %w", err)
	}
	controlHeaders := amqp.Table{
		"x-match":        "any",
		"broadcast":      "true",
		"instance_id":    cfg.InstanceID,
		"consumer_mode":  "broadcast",
		"job_type":       cfg.JobQueueName,
		"worker_name":    cfg.Label,
		"worker_version": cfg.WorkerVersion,
	}
	if err := ch.QueueBind(controlQueue, "*", exchangeDirectMessaging, false, controlHeaders); err != nil {
		return fmt.Errorf("op=rabbitmq.declareTopology bind control: %w", err)
	}

	if _, err := ch.QueueDeclare(queueWorkerDiscovery, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    exchangeResponseDelayed,
		"x-dead-letter-routing-key": queueWorkerDiscovery,
	}); err != nil {
		return fmt.Errorf("op=rabbitmq.declareTopology worker_discovery queue: %w", err)
	}

	jobQueue := cfg.JobQueueName
	if _, err := ch.QueueDeclare(jobQueue, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    exchangeDelayed,
		"x-dead-letter-routing-key": jobQueue,
		"x-max-priority":            int16(100),
	}); err != nil {
		return fmt.Errorf("op=rabbitmq.declareTopology job queue: %w", err)
	}
	if err := ch.QueueBind(jobQueue, jobQueue, exchangeSubmit, false, nil); err != nil {
		return fmt.Errorf("op=rabbitmq.declareTopology bind job queue: %w", err)
	}

	for _, key := range responseRoutingKeys {
		if _, err := ch.QueueDeclare(key, true, false, false, false, nil); err != nil {
			return fmt.Errorf("op=rabbitmq.declareTopology response queue %s: %w", key, err)
		}
		respExchange := exchangeJobResponse
		if key == string(domain.ResponseWorkerCreated) ||
			key == string(domain.ResponseWorkerInitialized) ||
			key == string(domain.ResponseWorkerStarted) ||
			key == string(domain.ResponseStatusError) {
			respExchange = exchangeWorkerResponse
		}
		if err := ch.QueueBind(key, key, respExchange, false, nil); err != nil {
			return fmt.Errorf("op=rabbitmq.declareTopology bind response queue %s: %w", key, err)
		}
	}

	return nil
}

func declareExchange(ch *amqp.Channel, name string, kind, alternate string) error {
	args := amqp.Table{}
	if alternate != "" {
		args["alternate-exchange"] = alternate
	}
	if err := ch.ExchangeDeclare(name, kind, true, false, false, false, args); err != nil {
		return fmt.Errorf("op=rabbitmq.declareExchange %s: %w", name, err)
	}
	return nil
}
