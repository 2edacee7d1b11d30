// Package param implements the Parameter Model (spec §4.1): resolution of a
// job's typed, store-aware parameters, with credential dereferencing. The
// package does not generate the parameter schema of the worker
// announcement; a worker supplies that schema itself.
package param

import (
	"context"
	"fmt"
	"strconv"

	"github.com/fairyhunter13/mcai-worker-runtime/internal/domain"
)

// Resolver dereferences a credential key against a named store, per
// spec §6.5. Implemented by internal/adapter/credential.
type Resolver interface {
	Resolve(ctx context.Context, key, store string) (any, error)
}

// defaultCredentialStore is the store name the legacy "credential" kind
// always resolves against, regardless of the parameter's own Store field
// (spec §4.1: "credential: legacy alias - always resolves via the default
// store BACKEND").
const defaultCredentialStore = "BACKEND"

// Store resolves Parameter values against a set of declared parameters and
// an optional credential Resolver.
type Store struct {
	Resolver Resolver
}

// NewStore constructs a Store. Resolver may be nil if no parameter in use
// carries a Store tag or a credential kind.
func NewStore(resolver Resolver) *Store {
	return &Store{Resolver: resolver}
}

func find(params []domain.Parameter, id string) (domain.Parameter, bool) {
	for _, p := range params {
		if p.ID == id {
			return p, true
		}
	}
	return domain.Parameter{}, false
}

// resolveRaw implements steps 1-2 of spec §4.1: choose the raw payload,
// then dereference through the store if the parameter carries one (or is
// the legacy credential kind).
func (s *Store) resolveRaw(ctx context.Context, p domain.Parameter) (any, *domain.MessageError) {
	raw := p.RawValue()
	if raw == nil {
		return nil, domain.NewParameterValueError(fmt.Sprintf("no parameter for %s", p.ID))
	}

	store := p.Store
	if p.Kind == domain.KindCredential {
		store = defaultCredentialStore
	}
	if store == "" {
		return raw, nil
	}

	key, ok := raw.(string)
	if !ok {
		return nil, domain.NewParameterValueError(fmt.Sprintf("parameter %s: store-backed value must be a string key", p.ID))
	}
	if s.Resolver == nil {
		return nil, domain.NewParameterValueError(fmt.Sprintf("parameter %s: no credential resolver configured", p.ID))
	}
	resolved, err := s.Resolver.Resolve(ctx, key, store)
	if err != nil {
		return nil, domain.NewParameterValueError(fmt.Sprintf("parameter %s: %v", p.ID, err))
	}
	return resolved, nil
}

// GetString resolves a string parameter.
func (s *Store) GetString(ctx context.Context, params []domain.Parameter, id string) (string, *domain.MessageError) {
	p, ok := find(params, id)
	if !ok || p.Kind != domain.KindString {
		return "", domain.NewParameterValueError(fmt.Sprintf("no parameter for %s", id))
	}
	raw, mErr := s.resolveRaw(ctx, p)
	if mErr != nil {
		return "", mErr
	}
	str, ok := raw.(string)
	if !ok {
		return "", domain.NewParameterValueError(fmt.Sprintf("parameter %s: expected string", id))
	}
	return str, nil
}

// GetInteger resolves an integer parameter, accepting a JSON number or a
// numeric string per spec §4.1.
func (s *Store) GetInteger(ctx context.Context, params []domain.Parameter, id string) (int64, *domain.MessageError) {
	p, ok := find(params, id)
	if !ok || p.Kind != domain.KindInteger {
		return 0, domain.NewParameterValueError(fmt.Sprintf("no parameter for %s", id))
	}
	raw, mErr := s.resolveRaw(ctx, p)
	if mErr != nil {
		return 0, mErr
	}
	switch v := raw.(type) {
	case float64:
		return int64(v), nil
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, domain.NewParameterValueError(fmt.Sprintf("parameter %s: not an integer: %v", id, err))
		}
		return n, nil
	default:
		return 0, domain.NewParameterValueError(fmt.Sprintf("parameter %s: expected integer", id))
	}
}

// GetFloat resolves a float parameter, accepting a JSON number or a
// numeric string.
func (s *Store) GetFloat(ctx context.Context, params []domain.Parameter, id string) (float64, *domain.MessageError) {
	p, ok := find(params, id)
	if !ok || p.Kind != domain.KindFloat {
		return 0, domain.NewParameterValueError(fmt.Sprintf("no parameter for %s", id))
	}
	raw, mErr := s.resolveRaw(ctx, p)
	if mErr != nil {
		return 0, mErr
	}
	switch v := raw.(type) {
	case float64:
		return v, nil
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, domain.NewParameterValueError(fmt.Sprintf("parameter %s: not a float: %v", id, err))
		}
		return f, nil
	default:
		return 0, domain.NewParameterValueError(fmt.Sprintf("parameter %s: expected float", id))
	}
}

// GetBoolean resolves a boolean parameter, accepting a bool, a numeric
// value (non-zero iff true), or a parseable string, per spec §4.1.
func (s *Store) GetBoolean(ctx context.Context, params []domain.Parameter, id string) (bool, *domain.MessageError) {
	p, ok := find(params, id)
	if !ok || p.Kind != domain.KindBoolean {
		return false, domain.NewParameterValueError(fmt.Sprintf("no parameter for %s", id))
	}
	raw, mErr := s.resolveRaw(ctx, p)
	if mErr != nil {
		return false, mErr
	}
	switch v := raw.(type) {
	case bool:
		return v, nil
	case float64:
		return v != 0, nil
	case string:
		b, err := strconv.ParseBool(v)
		if err != nil {
			return false, domain.NewParameterValueError(fmt.Sprintf("parameter %s: not a boolean: %v", id, err))
		}
		return b, nil
	default:
		return false, domain.NewParameterValueError(fmt.Sprintf("parameter %s: expected boolean", id))
	}
}

// GetArrayOfStrings resolves an array_of_strings parameter.
func (s *Store) GetArrayOfStrings(ctx context.Context, params []domain.Parameter, id string) ([]string, *domain.MessageError) {
	p, ok := find(params, id)
	if !ok || p.Kind != domain.KindArrayOfStrings {
		return nil, domain.NewParameterValueError(fmt.Sprintf("no parameter for %s", id))
	}
	raw, mErr := s.resolveRaw(ctx, p)
	if mErr != nil {
		return nil, mErr
	}
	items, ok := raw.([]any)
	if !ok {
		return nil, domain.NewParameterValueError(fmt.Sprintf("parameter %s: expected array of strings", id))
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		str, ok := it.(string)
		if !ok {
			return nil, domain.NewParameterValueError(fmt.Sprintf("parameter %s: expected array of strings", id))
		}
		out = append(out, str)
	}
	return out, nil
}

// GetRequirement resolves a requirements parameter.
func (s *Store) GetRequirement(ctx context.Context, params []domain.Parameter, id string) (domain.Requirement, *domain.MessageError) {
	p, ok := find(params, id)
	if !ok || p.Kind != domain.KindRequirements {
		return domain.Requirement{}, domain.NewParameterValueError(fmt.Sprintf("no parameter for %s", id))
	}
	raw, mErr := s.resolveRaw(ctx, p)
	if mErr != nil {
		return domain.Requirement{}, mErr
	}
	m, ok := raw.(map[string]any)
	if !ok {
		return domain.Requirement{}, domain.NewParameterValueError(fmt.Sprintf("parameter %s: expected requirements object", id))
	}
	paths, _ := m["paths"].([]any)
	req := domain.Requirement{}
	for _, p := range paths {
		if s, ok := p.(string); ok {
			req.Paths = append(req.Paths, s)
		}
	}
	return req, nil
}

// GetCredential resolves a legacy credential parameter: the raw value is a
// key string that always dereferences through the default "BACKEND" store,
// independent of the parameter's own Store field.
func (s *Store) GetCredential(ctx context.Context, params []domain.Parameter, id string) (any, *domain.MessageError) {
	p, ok := find(params, id)
	if !ok || p.Kind != domain.KindCredential {
		return nil, domain.NewParameterValueError(fmt.Sprintf("no parameter for %s", id))
	}
	return s.resolveRaw(ctx, p)
}
