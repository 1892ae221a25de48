// Package source fetches raw trail records from upstream providers and maps them
// into the canonical trail shape. Each provider is one Adapter.
package source

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/go-resty/resty/v2"

	apperrors "github.com/trail-importer/internal/errors"
	"github.com/trail-importer/internal/models"
	"github.com/trail-importer/internal/types"
)

// Adapter is everything the pipeline needs from one upstream provider
type Adapter interface {
	Type() types.SourceType
	// Credential names the API key in the credential store. Empty means none is required.
	Credential() string
	Fetch(ctx context.Context, region models.Region, limit int, apiKey string) ([]models.RawSourceRecord, error)
	// Normalize is pure: the same record always yields the same trail or error.
	Normalize(raw models.RawSourceRecord) (*models.NormalizedTrail, error)
}

// StatusError is a non-2xx upstream response
type StatusError struct {
	Source     types.SourceType
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned HTTP %d: %s", e.Source, e.StatusCode, e.Body)
}

// Retryable reports whether the status is worth another attempt (429 and 5xx)
func (e *StatusError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// ErrDecode marks an upstream body that could not be parsed
var ErrDecode = errors.New("undecodable upstream response")

func checkResponse(source types.SourceType, resp *resty.Response) error {
	if resp.IsSuccess() {
		return nil
	}
	body := strings.TrimSpace(resp.String())
	if len(body) > 200 {
		body = body[:200]
	}
	return &StatusError{Source: source, StatusCode: resp.StatusCode(), Body: body}
}

func newClient(baseURL, userAgent string) *resty.Client {
	client := resty.New()
	client.SetBaseURL(strings.TrimSuffix(baseURL, "/"))
	client.SetHeader("Accept", "application/json")
	if userAgent != "" {
		client.SetHeader("User-Agent", userAgent)
	}
	return client
}

// Registry is the lookup table from source type to adapter
type Registry struct {
	mu       sync.RWMutex
	adapters map[types.SourceType]Adapter
}

// NewRegistry registers adapters. A repeated type panics since it is a wiring bug.
func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[types.SourceType]Adapter, len(adapters))}
	for _, a := range adapters {
		if err := r.Register(a); err != nil {
			panic(err)
		}
	}
	return r
}

// Register adds an adapter
func (r *Registry) Register(a Adapter) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.adapters[a.Type()]; ok {
		return fmt.Errorf("source %s already registered", a.Type())
	}
	r.adapters[a.Type()] = a
	return nil
}

// Get returns the adapter for t
func (r *Registry) Get(t types.SourceType) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[t]
	return a, ok
}

// Types lists the registered sources in name order
func (r *Registry) Types() []types.SourceType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]types.SourceType, 0, len(r.adapters))
	for t := range r.adapters {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Normalize dispatches raw to its adapter. An unregistered source is a normalization failure.
func (r *Registry) Normalize(raw models.RawSourceRecord) (*models.NormalizedTrail, error) {
	a, ok := r.Get(raw.Source)
	if !ok {
		return nil, apperrors.NewNormalizationError(raw.Source, raw.SourceID, "source", "no adapter registered")
	}
	return a.Normalize(raw)
}
