package param_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/mcai-worker-runtime/internal/domain"
	"github.com/fairyhunter13/mcai-worker-runtime/internal/param"
)

type fakeResolver struct {
	values map[string]any
}

func (f fakeResolver) Resolve(_ context.Context, key, _ string) (any, error) {
	return f.values[key], nil
}

func TestGetString(t *testing.T) {
	s := param.NewStore(nil)
	params := []domain.Parameter{{ID: "x", Kind: domain.KindString, Value: "ok"}}
	v, err := s.GetString(context.Background(), params, "x")
	require.Nil(t, err)
	assert.Equal(t, "ok", v)
}

func TestGetString_MissingUsesDefault(t *testing.T) {
	s := param.NewStore(nil)
	params := []domain.Parameter{{ID: "x", Kind: domain.KindString, Default: "fallback"}}
	v, err := s.GetString(context.Background(), params, "x")
	require.Nil(t, err)
	assert.Equal(t, "fallback", v)
}

func TestGetString_NoParameterErrors(t *testing.T) {
	s := param.NewStore(nil)
	_, err := s.GetString(context.Background(), nil, "missing")
	require.NotNil(t, err)
	assert.Equal(t, domain.ErrKindParameter, err.Kind)
}

func TestGetString_KindMismatchSkips(t *testing.T) {
	s := param.NewStore(nil)
	params := []domain.Parameter{{ID: "x", Kind: domain.KindInteger, Value: float64(3)}}
	_, err := s.GetString(context.Background(), params, "x")
	require.NotNil(t, err)
}

func TestGetInteger_FromNumericString(t *testing.T) {
	s := param.NewStore(nil)
	params := []domain.Parameter{{ID: "n", Kind: domain.KindInteger, Value: "42"}}
	v, err := s.GetInteger(context.Background(), params, "n")
	require.Nil(t, err)
	assert.EqualValues(t, 42, v)
}

func TestGetBoolean_FromNumeric(t *testing.T) {
	s := param.NewStore(nil)
	params := []domain.Parameter{{ID: "b", Kind: domain.KindBoolean, Value: float64(1)}}
	v, err := s.GetBoolean(context.Background(), params, "b")
	require.Nil(t, err)
	assert.True(t, v)
}

func TestGetArrayOfStrings(t *testing.T) {
	s := param.NewStore(nil)
	params := []domain.Parameter{{ID: "a", Kind: domain.KindArrayOfStrings, Value: []any{"a", "b"}}}
	v, err := s.GetArrayOfStrings(context.Background(), params, "a")
	require.Nil(t, err)
	assert.Equal(t, []string{"a", "b"}, v)
}

// storeRecordingResolver records the store name of every Resolve call.
type storeRecordingResolver struct {
	fakeResolver
	stores *[]string
}

func (r storeRecordingResolver) Resolve(ctx context.Context, key, store string) (any, error) {
	*r.stores = append(*r.stores, store)
	return r.fakeResolver.Resolve(ctx, key, store)
}

func TestGetCredential_AlwaysUsesBackendStore(t *testing.T) {
	var stores []string
	resolver := storeRecordingResolver{fakeResolver: fakeResolver{values: map[string]any{"my-key": "secret-value"}}, stores: &stores}
	s := param.NewStore(resolver)
	params := []domain.Parameter{{ID: "cred", Kind: domain.KindCredential, Value: "my-key", Store: "OTHER"}}
	v, err := s.GetCredential(context.Background(), params, "cred")
	require.Nil(t, err)
	assert.Equal(t, "secret-value", v)
	assert.Equal(t, []string{"BACKEND"}, stores)
}

func TestGetString_StoreBacked(t *testing.T) {
	resolver := fakeResolver{values: map[string]any{"api-key": "abc123"}}
	s := param.NewStore(resolver)
	params := []domain.Parameter{{ID: "token", Kind: domain.KindString, Value: "api-key", Store: "VAULT"}}
	v, err := s.GetString(context.Background(), params, "token")
	require.Nil(t, err)
	assert.Equal(t, "abc123", v)
}

func TestGetRequirement_EmptyPathsSucceeds(t *testing.T) {
	s := param.NewStore(nil)
	params := []domain.Parameter{{ID: "req", Kind: domain.KindRequirements, Value: map[string]any{"paths": []any{}}}}
	req, err := s.GetRequirement(context.Background(), params, "req")
	require.Nil(t, err)
	assert.Empty(t, req.Paths)
}
