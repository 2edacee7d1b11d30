//go:build integration

// Package integration exercises the broker-backed Message Exchange (spec
// §4.3, §6.1) end-to-end against a real RabbitMQ broker, grounded on the
// teacher's Testcontainers idiom
// (internal/adapter/queue/redpanda/container_pool.go: GenericContainer +
// docker/go-connections port binding + wait.ForListeningPort), swapped from
// a Redpanda broker image to RabbitMQ. Build-tagged "integration" and
// skipped unless Docker is reachable, since this suite is not run as part
// of normal unit test passes (spec §8 scenario 1, driven over a live
// broker instead of LocalExchange).
package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"testing"
	"time"

	containerTypes "github.com/docker/docker/api/types/container"
	"github.com/docker/go-connections/nat"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/require"
	tc "github.com/testcontainers/testcontainers-go"
	tcrabbitmq "github.com/testcontainers/testcontainers-go/modules/rabbitmq"

	"github.com/fairyhunter13/mcai-worker-runtime/internal/adapter/exchange/rabbitmq"
	"github.com/fairyhunter13/mcai-worker-runtime/internal/config"
	"github.com/fairyhunter13/mcai-worker-runtime/internal/domain"
	"github.com/fairyhunter13/mcai-worker-runtime/internal/processor"
	"github.com/fairyhunter13/mcai-worker-runtime/internal/publisher"
	"github.com/fairyhunter13/mcai-worker-runtime/internal/worker"
)

// startRabbitMQ brings up a disposable RabbitMQ broker via the purpose-built
// Testcontainers module, mirroring the teacher's container_pool.go in
// spirit (an explicit host port binding through docker/go-connections/nat
// rather than a random ephemeral one, so the test's own amqp091-go client
// and the Exchange under test agree on an address up front) while reaching
// for the dedicated rabbitmq module instead of hand-building a
// ContainerRequest, since one now exists for this broker.
func startRabbitMQ(t *testing.T) string {
	t.Helper()
	if os.Getenv("CI") == "true" {
		t.Skip("Docker-backed integration test skipped in CI")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	const hostPort = 25672
	container, err := tcrabbitmq.Run(ctx, "rabbitmq:3.13-management-alpine",
		tc.WithHostConfigModifier(func(hc *containerTypes.HostConfig) {
			if hc.PortBindings == nil {
				hc.PortBindings = nat.PortMap{}
			}
			hc.PortBindings[nat.Port("5672/tcp")] = []nat.PortBinding{
				{HostIP: "0.0.0.0", HostPort: fmt.Sprintf("%d", hostPort)},
			}
		}),
	)
	if err != nil {
		t.Skipf("docker unavailable, skipping broker integration test: %v", err)
	}
	t.Cleanup(func() {
		tctx, tcancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer tcancel()
		_ = container.Terminate(tctx)
	})

	return fmt.Sprintf("127.0.0.1:%d", hostPort)
}

// echoWorker is the simplest possible worker.MessageEvent for this test: it
// marks the job Completed immediately, with no filesystem dependency (spec
// §8 scenario 1 shape, without the passthrough example's file I/O).
type echoWorker struct{}

func (echoWorker) Name() string             { return "integration-echo" }
func (echoWorker) ShortDescription() string { return "echo" }
func (echoWorker) Description() string      { return "echoes job completion for integration testing" }
func (echoWorker) Version() string          { return "1.0.0" }
func (echoWorker) Init() error              { return nil }
func (echoWorker) Process(_ worker.ResponseSender, _ []domain.Parameter, result *domain.JobResult) (*domain.JobResult, error) {
	return result.WithDestinationPaths([]string{"/tmp/integration-output"}), nil
}

// TestRabbitMQExchange_SimpleJobLifecycle drives spec §8 scenario 1 (the
// simple happy path) over a real broker: publish a job onto the job_submit
// exchange under the worker's queue name, run a Processor/SimpleProcess
// pair against the resulting Exchange, and assert the terminal response
// lands on the job_completed queue.
func TestRabbitMQExchange_SimpleJobLifecycle(t *testing.T) {
	startRabbitMQ(t)

	cfg := config.Config{
		AMQPTLS:      false,
		AMQPHostname: "127.0.0.1",
		AMQPPort:     25672,
		AMQPUsername: "guest",
		AMQPPassword: "guest",
		AMQPQueue:    "integration_test_queue",
	}

	workerCfg := domain.WorkerConfiguration{
		InstanceID:       "integration-instance",
		JobQueueName:     cfg.AMQPQueue,
		ControlQueueName: "direct_messaging_integration-instance",
		Label:            "integration-echo",
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	exch, err := rabbitmq.Dial(ctx, cfg, workerCfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = exch.Close() })

	proc := processor.NewSimpleProcess(echoWorker{}, nil, workerCfg.InstanceID)
	go proc.Run()
	t.Cleanup(proc.Close)

	pub := publisher.New(exch.Publisher())
	p := processor.New(exch, pub, proc, workerCfg)
	runDone := make(chan error, 1)
	runCtx, runCancel := context.WithCancel(ctx)
	t.Cleanup(runCancel)
	go func() { runDone <- p.Run(runCtx) }()

	publishConn, err := amqp.DialConfig(cfg.AMQPAddress(), amqp.Config{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = publishConn.Close() })
	publishCh, err := publishConn.Channel()
	require.NoError(t, err)

	jobBody := []byte(`{"type":"job","job_id":1,"parameters":[{"id":"x","type":"string","value":"ok"}]}`)
	err = publishCh.PublishWithContext(ctx, "job_submit", cfg.AMQPQueue, false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        jobBody,
	})
	require.NoError(t, err)

	consumeCh, err := publishConn.Channel()
	require.NoError(t, err)
	completions, err := consumeCh.Consume("job_completed", "", true, false, false, false, nil)
	require.NoError(t, err)

	select {
	case msg := <-completions:
		var result domain.JobResult
		require.NoError(t, json.Unmarshal(msg.Body, &result))
		require.Equal(t, uint64(1), result.JobID)
		require.Equal(t, domain.StatusCompleted, result.Status)
	case <-time.After(20 * time.Second):
		t.Fatal("timeout waiting for job_completed message")
	}

	runCancel()
	<-runDone
}
