package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/fairyhunter13/mcai-worker-runtime/internal/domain"
	"github.com/fairyhunter13/mcai-worker-runtime/internal/media"
	"github.com/fairyhunter13/mcai-worker-runtime/internal/param"
	"github.com/fairyhunter13/mcai-worker-runtime/internal/worker"
)

// passthroughWorker is a minimal MessageEvent implementation bundled with
// the binary so it has something concrete to process: it copies the
// source_path parameter's content to destination_path unchanged. Real
// deployments replace this with their own worker.MessageEvent.
type passthroughWorker struct {
	store *param.Store
}

func (w *passthroughWorker) Name() string            { return "passthrough" }
func (w *passthroughWorker) ShortDescription() string { return "Copies source to destination" }
func (w *passthroughWorker) Description() string {
	return "Example worker bundled with the runtime: copies source_path to destination_path."
}
func (w *passthroughWorker) Version() string { return "1.0.0" }
func (w *passthroughWorker) Init() error     { return nil }

func (w *passthroughWorker) schema() []domain.Parameter {
	return []domain.Parameter{
		{ID: "source_path", Kind: domain.KindString},
		{ID: "destination_path", Kind: domain.KindString},
	}
}

func (w *passthroughWorker) Process(sender worker.ResponseSender, parameters []domain.Parameter, result *domain.JobResult) (*domain.JobResult, error) {
	ctx := context.Background()
	source, mErr := w.store.GetString(ctx, parameters, "source_path")
	if mErr != nil {
		return result, mErr
	}
	destination, mErr := w.store.GetString(ctx, parameters, "destination_path")
	if mErr != nil {
		return result, mErr
	}

	if sender.IsStopped() {
		return result, nil
	}

	content, err := os.ReadFile(source)
	if err != nil {
		return result, domain.NewRuntimeError(fmt.Sprintf("read %s: %v", source, err))
	}
	if err := os.WriteFile(destination, content, 0o644); err != nil {
		return result, domain.NewRuntimeError(fmt.Sprintf("write %s: %v", destination, err))
	}

	return result.WithDestinationPaths([]string{destination}), nil
}

// passthroughMediaWorker is a minimal MediaMessageEvent implementation: it
// selects every stream of the source unfiltered, tagged as video, and
// counts decoded frames. Each frame yields an empty ProcessResult; the
// count is only logged by EndingProcess.
type passthroughMediaWorker struct {
	passthroughWorker
	frameCount int
}

func (w *passthroughMediaWorker) InitProcess(parameters []domain.Parameter, format *media.FormatContext, sender worker.ResponseSender) ([]media.StreamDescriptor, error) {
	var selected []media.StreamDescriptor
	for _, s := range format.Streams {
		selected = append(selected, media.StreamDescriptor{StreamIndex: s.Index, Kind: media.StreamVideo})
	}
	return selected, nil
}

func (w *passthroughMediaWorker) ProcessFrame(result *domain.JobResult, streamIndex int, frame media.Frame) (media.ProcessResult, error) {
	w.frameCount++
	return media.ProcessResult{}, nil
}

func (w *passthroughMediaWorker) EndingProcess() error {
	slog.Info("passthrough media worker finished", slog.Int("frames_decoded", w.frameCount))
	return nil
}
