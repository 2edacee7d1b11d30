package domain_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/mcai-worker-runtime/internal/domain"
)

func TestOrderMessage_MatchesJobID(t *testing.T) {
	jobOrder := domain.OrderMessage{Kind: domain.OrderJob, Job: &domain.Job{JobID: 1}}
	assert.Nil(t, jobOrder.MatchesJobID(nil))

	current := uint64(1)
	assert.NotNil(t, jobOrder.MatchesJobID(&current))

	stop := domain.OrderMessage{Kind: domain.OrderStopProcess, Job: &domain.Job{JobID: 1}}
	assert.Nil(t, stop.MatchesJobID(&current))

	other := uint64(2)
	assert.NotNil(t, stop.MatchesJobID(&other))
	assert.NotNil(t, stop.MatchesJobID(nil))
}

func TestMessageError_Taxonomy(t *testing.T) {
	result := domain.NewJobResult(7).WithMessage("boom")
	err := domain.NewProcessingError(result)
	require.Equal(t, domain.ErrKindProcessing, err.Kind)
	assert.Equal(t, result, err.Result)
	assert.Contains(t, err.Error(), "boom")
}

func TestResponseMessage_RoutingKey(t *testing.T) {
	r := domain.ResponseMessage{Kind: domain.ResponseCompleted}
	assert.Equal(t, "job_completed", r.RoutingKey())
}
