package domain_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/mcai-worker-runtime/internal/domain"
)

func TestParseOrder_BareJobIsBackwardCompatible(t *testing.T) {
	raw := []byte(`{"job_id":1,"parameters":[{"id":"x","type":"string","value":"ok"}]}`)
	order, err := domain.ParseOrder(raw)
	require.Nil(t, err)
	assert.Equal(t, domain.OrderJob, order.Kind)
	require.NotNil(t, order.Job)
	assert.EqualValues(t, 1, order.Job.JobID)
}

func TestParseOrder_TypedStatus(t *testing.T) {
	order, err := domain.ParseOrder([]byte(`{"type":"status"}`))
	require.Nil(t, err)
	assert.Equal(t, domain.OrderStatus, order.Kind)
	assert.Nil(t, order.Job)
}

func TestParseOrder_TypedStop(t *testing.T) {
	order, err := domain.ParseOrder([]byte(`{"type":"stop","job":{"job_id":2,"parameters":[]}}`))
	require.Nil(t, err)
	assert.Equal(t, domain.OrderStopProcess, order.Kind)
	require.NotNil(t, order.Job)
	assert.EqualValues(t, 2, order.Job.JobID)
}

func TestParseOrder_UnrecognizedType(t *testing.T) {
	_, err := domain.ParseOrder([]byte(`{"type":"bogus"}`))
	require.NotNil(t, err)
	assert.Equal(t, domain.ErrKindRuntime, err.Kind)
}

func TestMarshalResponse_Progression(t *testing.T) {
	raw, err := domain.MarshalResponse(domain.ResponseMessage{
		Kind:        domain.ResponseFeedbackProgress,
		Progression: &domain.JobProgression{JobID: 1, Progression: 42},
	})
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"progression":42`)
}
