// Package main provides the worker runtime's entry point: it loads
// configuration, wires the credential resolver, selects a Message Exchange
// (broker, offline replay, or describe-and-exit), and drives a Processor
// over a bundled example MessageEvent implementation.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"gopkg.in/yaml.v3"

	"github.com/fairyhunter13/mcai-worker-runtime/internal/adapter/credential"
	"github.com/fairyhunter13/mcai-worker-runtime/internal/adapter/credential/cache"
	"github.com/fairyhunter13/mcai-worker-runtime/internal/adapter/exchange/local"
	"github.com/fairyhunter13/mcai-worker-runtime/internal/adapter/exchange/rabbitmq"
	"github.com/fairyhunter13/mcai-worker-runtime/internal/adapter/httpserver"
	"github.com/fairyhunter13/mcai-worker-runtime/internal/adapter/observability"
	"github.com/fairyhunter13/mcai-worker-runtime/internal/config"
	"github.com/fairyhunter13/mcai-worker-runtime/internal/domain"
	"github.com/fairyhunter13/mcai-worker-runtime/internal/media"
	"github.com/fairyhunter13/mcai-worker-runtime/internal/param"
	"github.com/fairyhunter13/mcai-worker-runtime/internal/processor"
	"github.com/fairyhunter13/mcai-worker-runtime/internal/publisher"
	"github.com/fairyhunter13/mcai-worker-runtime/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("error", err))
		os.Exit(1)
	}

	instanceID := cfg.InstanceID()
	logger := observability.SetupLogger(cfg, instanceID)
	slog.SetDefault(logger)
	observability.InitMetrics()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	store, mediaWorker, simpleWorker := buildWorker(cfg)
	workerCfg := buildWorkerConfiguration(cfg, instanceID, simpleWorker, mediaWorker)

	if err := validateSchema(cfg, workerCfg); err != nil {
		slog.Error("worker configuration invalid", slog.Any("error", err))
		os.Exit(1)
	}

	if cfg.Describe {
		printDescribe(cfg, workerCfg)
		return
	}

	slog.Info("starting worker", slog.String("instance_id", instanceID), slog.String("kind", cfg.WorkerKind))

	go serveHTTP(cfg, workerCfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	proc := buildProcess(cfg, instanceID, store, mediaWorker, simpleWorker)
	go proc.Run()

	if cfg.SourceOrders != "" {
		runOffline(ctx, cfg, workerCfg, proc)
		return
	}

	runBroker(ctx, cfg, workerCfg, proc)
}

// buildWorker constructs the credential-resolving parameter store and the
// bundled example MessageEvent/MediaMessageEvent per WORKER_KIND.
func buildWorker(cfg config.Config) (*param.Store, worker.MediaMessageEvent, worker.MessageEvent) {
	var credCache *cache.Cache
	if cfg.CredentialCacheRedisAddr != "" {
		credCache = cache.New(cfg.CredentialCacheRedisAddr, cfg.CredentialCacheTTL)
	}
	resolver := credential.New(credCache)
	store := param.NewStore(resolver)

	if cfg.WorkerKind == "media" {
		mw := &passthroughMediaWorker{passthroughWorker: passthroughWorker{store: store}}
		return store, mw, nil
	}
	sw := &passthroughWorker{store: store}
	return store, nil, sw
}

func buildWorkerConfiguration(cfg config.Config, instanceID string, simpleWorker worker.MessageEvent, mediaWorker worker.MediaMessageEvent) domain.WorkerConfiguration {
	w := simpleWorker
	if w == nil {
		w = mediaWorker
	}
	schema := []domain.Parameter{}
	if pw, ok := w.(*passthroughWorker); ok {
		schema = pw.schema()
	} else if mw, ok := w.(*passthroughMediaWorker); ok {
		schema = mw.schema()
	}

	return domain.WorkerConfiguration{
		InstanceID:       instanceID,
		JobQueueName:     cfg.AMQPQueue,
		ControlQueueName: "direct_messaging_" + instanceID,
		Label:            w.Name(),
		ShortDescription: w.ShortDescription(),
		LongDescription:  w.Description(),
		WorkerVersion:    w.Version(),
		SdkVersion:       "1.0.0",
		ParameterSchema:  schema,
	}
}

func validateSchema(cfg config.Config, workerCfg domain.WorkerConfiguration) error {
	if cfg.WorkerKind != "media" {
		return nil
	}
	return domain.ValidateMediaSchema(workerCfg.ParameterSchema)
}

func printDescribe(cfg config.Config, workerCfg domain.WorkerConfiguration) {
	if cfg.DescribeFormat == "yaml" {
		enc := yaml.NewEncoder(os.Stdout)
		defer enc.Close()
		_ = enc.Encode(workerCfg)
		return
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(workerCfg)
}

func serveHTTP(cfg config.Config, workerCfg domain.WorkerConfiguration) {
	mux := httpserver.New(func() domain.WorkerConfiguration { return workerCfg })
	addr := fmt.Sprintf(":%d", cfg.HTTPPort)
	if err := http.ListenAndServe(addr, mux); err != nil {
		slog.Error("http server error", slog.Any("error", err))
	}
}

func buildProcess(cfg config.Config, instanceID string, store *param.Store, mediaWorker worker.MediaMessageEvent, simpleWorker worker.MessageEvent) processor.Process {
	if mediaWorker != nil {
		return processor.NewMediaProcess(mediaWorker, instanceID, openMediaSource, nil)
	}
	if simpleWorker.Init() != nil {
		slog.Warn("worker init returned an error")
	}
	return processor.NewSimpleProcess(simpleWorker, store, instanceID)
}

// openMediaSource opens a Decoder for a job's source_path (spec §4.4 phase
// 1). Only file sources are opened; an srt:// URI returns an error, since
// this binary wires no SRT connection into media.SRTIngest/media.OpenSRT.
func openMediaSource(ctx context.Context, sourceURI string) (media.Decoder, error) {
	kind, _, _, err := media.ClassifySourceURI(sourceURI)
	if err != nil {
		return nil, err
	}
	if kind == media.SourceFile {
		return media.OpenFile(ctx, sourceURI)
	}
	return nil, fmt.Errorf("op=main.openMediaSource: live SRT ingest requires a transport-specific connection, not wired in the bundled example worker")
}

func runOffline(ctx context.Context, cfg config.Config, workerCfg domain.WorkerConfiguration, proc processor.Process) {
	exch := local.New(32)
	pub := publisher.New(exch.Publisher())
	p := processor.New(exch, pub, proc, workerCfg)

	go local.FeedSourceOrderFiles(ctx, exch, cfg.SourceOrderFiles())

	if err := p.Run(ctx); err != nil && err != context.Canceled {
		slog.Error("offline replay ended with error", slog.Any("error", err))
	}
	for routingKey, payloads := range exch.DrainResponses() {
		for _, payload := range payloads {
			slog.Info("response", slog.String("routing_key", routingKey), slog.String("payload", string(payload)))
		}
	}
}

func runBroker(ctx context.Context, cfg config.Config, workerCfg domain.WorkerConfiguration, proc processor.Process) {
	err := rabbitmq.Run(ctx, cfg, workerCfg, func(exch *rabbitmq.Exchange) {
		pub := publisher.New(exch.Publisher())
		p := processor.New(exch, pub, proc, workerCfg)
		if err := p.Run(ctx); err != nil {
			slog.Error("processor run ended", slog.Any("error", err))
		}
	})
	if err != nil && err != context.Canceled {
		slog.Error("broker exchange ended with error", slog.Any("error", err))
		os.Exit(1)
	}
	slog.Info("worker stopped")
}
