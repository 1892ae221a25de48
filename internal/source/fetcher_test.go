package source

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trail-importer/internal/circuitbreaker"
	apperrors "github.com/trail-importer/internal/errors"
	"github.com/trail-importer/internal/models"
	"github.com/trail-importer/internal/ratelimit"
	"github.com/trail-importer/internal/retry"
	"github.com/trail-importer/internal/types"
)

// scriptedAdapter returns errs[region] for the first failures[region] calls, then
// limit records
type scriptedAdapter struct {
	mu         sync.Mutex
	credential string
	failures   map[string]int
	errs       map[string]error
	calls      map[string]int
	limits     map[string]int
	block      bool
}

func newScripted(credential string) *scriptedAdapter {
	return &scriptedAdapter{
		credential: credential,
		failures:   map[string]int{},
		errs:       map[string]error{},
		calls:      map[string]int{},
		limits:     map[string]int{},
	}
}

func (a *scriptedAdapter) Type() types.SourceType { return types.SourceParks }
func (a *scriptedAdapter) Credential() string     { return a.credential }

func (a *scriptedAdapter) Fetch(ctx context.Context, region models.Region, limit int, _ string) ([]models.RawSourceRecord, error) {
	a.mu.Lock()
	a.calls[region.Name]++
	a.limits[region.Name] = limit
	n := a.calls[region.Name]
	a.mu.Unlock()

	if a.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if n <= a.failures[region.Name] {
		return nil, a.errs[region.Name]
	}
	out := make([]models.RawSourceRecord, limit)
	for i := range out {
		out[i] = models.RawSourceRecord{Source: a.Type(), SourceID: fmt.Sprintf("%s-%d", region.Name, i), Region: region.Name}
	}
	return out, nil
}

func (a *scriptedAdapter) Normalize(models.RawSourceRecord) (*models.NormalizedTrail, error) {
	return nil, errors.New("not used")
}

var threeRegions = []models.Region{{Name: "a"}, {Name: "b"}, {Name: "c"}}

func testFetcher(creds CredentialStore, quota Quota) *Fetcher {
	return NewFetcher(creds, nil, quota, FetcherConfig{
		Timeout:     time.Second,
		MaxAttempts: 3,
		Backoff:     retry.NoBackoff,
	})
}

func TestPerRegionLimit(t *testing.T) {
	assert.Equal(t, 34, PerRegionLimit(100, 3))
	assert.Equal(t, 25, PerRegionLimit(100, 4))
	assert.Equal(t, 1, PerRegionLimit(2, 4))
	assert.Equal(t, 5, PerRegionLimit(5, 1))
	assert.Equal(t, 0, PerRegionLimit(5, 0))
}

func TestFetcher_SplitsLimitAcrossRegions(t *testing.T) {
	a := newScripted("")
	res := testFetcher(nil, nil).Fetch(context.Background(), a, threeRegions, 100)

	require.NoError(t, res.Err)
	assert.Len(t, res.Records, 100)
	assert.Equal(t, 34, a.limits["a"])
	assert.Equal(t, 34, a.limits["b"])
	assert.Equal(t, 32, a.limits["c"], "last region is truncated to the limit")
	assert.Len(t, res.Regions, 3)
}

func TestFetcher_MissingCredentials(t *testing.T) {
	a := newScripted("PARKS_API_KEY")
	res := testFetcher(StaticCredentials{}, nil).Fetch(context.Background(), a, threeRegions, 10)

	assert.NoError(t, res.Err)
	assert.True(t, res.Skipped)
	assert.Equal(t, SkipMissingCredentials, res.SkipReason)
	assert.Empty(t, res.Records)
	assert.Empty(t, a.calls)
}

func TestFetcher_EmptyCredentials(t *testing.T) {
	a := newScripted("PARKS_API_KEY")
	res := testFetcher(StaticCredentials{"PARKS_API_KEY": "  "}, nil).Fetch(context.Background(), a, threeRegions, 10)

	assert.True(t, res.Skipped)
	assert.Equal(t, SkipEmptyCredentials, res.SkipReason)
}

type brokenStore struct{}

func (brokenStore) Lookup(string) (string, bool, error) {
	return "", false, ErrCredentialStoreUnavailable
}

func TestFetcher_CredentialStoreUnreachableIsFatal(t *testing.T) {
	a := newScripted("PARKS_API_KEY")
	res := testFetcher(brokenStore{}, nil).Fetch(context.Background(), a, threeRegions, 10)

	require.Error(t, res.Err)
	assert.True(t, apperrors.IsJobFatal(res.Err))
	assert.False(t, res.Skipped)
}

func TestFetcher_RetriesTransientFailures(t *testing.T) {
	a := newScripted("")
	a.failures["a"] = 2
	a.errs["a"] = &StatusError{StatusCode: http.StatusServiceUnavailable}

	res := testFetcher(nil, nil).Fetch(context.Background(), a, threeRegions[:1], 5)
	require.NoError(t, res.Err)
	assert.Equal(t, 3, a.calls["a"])
	assert.Equal(t, 3, res.Regions[0].Attempts)
	assert.Len(t, res.Records, 5)
}

func TestFetcher_DoesNotRetryClientErrors(t *testing.T) {
	a := newScripted("")
	a.failures["a"] = 10
	a.errs["a"] = &StatusError{StatusCode: http.StatusUnauthorized}

	res := testFetcher(nil, nil).Fetch(context.Background(), a, threeRegions, 30)
	require.NoError(t, res.Err, "other regions still succeed")
	assert.Equal(t, 1, a.calls["a"])
	assert.Error(t, res.Regions[0].Err)
	assert.Equal(t, types.ReasonFetch, apperrors.ReasonOf(res.Regions[0].Err))
	assert.Len(t, res.Records, 20)
}

func TestFetcher_AllRegionsFail(t *testing.T) {
	a := newScripted("")
	for _, r := range threeRegions {
		a.failures[r.Name] = 10
		a.errs[r.Name] = &StatusError{StatusCode: http.StatusInternalServerError}
	}

	res := testFetcher(nil, nil).Fetch(context.Background(), a, threeRegions, 30)
	var fe *apperrors.FetchError
	require.True(t, errors.As(res.Err, &fe))
	assert.Equal(t, types.SourceParks, fe.Source)
	assert.Equal(t, 9, a.calls["a"]+a.calls["b"]+a.calls["c"], "3 attempts per region")
}

func TestFetcher_TimeoutIsPerSourceFailure(t *testing.T) {
	a := newScripted("")
	a.block = true
	f := NewFetcher(nil, nil, nil, FetcherConfig{Timeout: 10 * time.Millisecond, MaxAttempts: 1, Backoff: retry.NoBackoff})

	res := f.Fetch(context.Background(), a, threeRegions[:1], 5)
	var fe *apperrors.FetchError
	require.True(t, errors.As(res.Err, &fe))
	assert.ErrorIs(t, res.Err, context.DeadlineExceeded)
	assert.False(t, apperrors.IsJobFatal(res.Err))

	cat := apperrors.Categorize(res.Regions[0].Err)
	assert.Equal(t, "PROVIDER_TIMEOUT", cat.Code)
	assert.Equal(t, http.StatusGatewayTimeout, cat.StatusCode)
}

func TestFetcher_UpstreamThrottlingIsTagged(t *testing.T) {
	a := newScripted("")
	a.failures["a"] = 10
	a.errs["a"] = &StatusError{StatusCode: http.StatusTooManyRequests}

	res := testFetcher(nil, nil).Fetch(context.Background(), a, threeRegions[:1], 5)
	require.Error(t, res.Err)
	assert.Equal(t, 3, a.calls["a"], "429 is retried before giving up")

	var fe *apperrors.FetchError
	require.True(t, errors.As(res.Regions[0].Err, &fe))
	cat := apperrors.Categorize(res.Regions[0].Err)
	assert.Equal(t, "PROVIDER_RATE_LIMIT", cat.Code)
	assert.Equal(t, http.StatusTooManyRequests, cat.StatusCode)
	assert.Equal(t, "parks", cat.Details["provider"])

	var se *StatusError
	assert.True(t, errors.As(res.Err, &se), "the upstream status stays reachable")
	assert.Equal(t, types.ReasonFetch, apperrors.ReasonOf(res.Err))
}

func TestFetcher_Cancelled(t *testing.T) {
	a := newScripted("")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := testFetcher(nil, nil).Fetch(ctx, a, threeRegions, 30)
	assert.ErrorIs(t, res.Err, context.Canceled)
	assert.Empty(t, res.Records)
}

type countingQuota struct {
	mu    sync.Mutex
	left  int
	calls int
}

func (q *countingQuota) Consume(context.Context, string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.calls++
	if q.left == 0 {
		return ratelimit.ErrQuotaExhausted
	}
	q.left--
	return nil
}

func TestFetcher_QuotaExhaustedFailsRegion(t *testing.T) {
	a := newScripted("")
	q := &countingQuota{left: 2}

	res := testFetcher(nil, q).Fetch(context.Background(), a, threeRegions, 30)
	require.NoError(t, res.Err)
	assert.Len(t, res.Records, 20)
	assert.ErrorIs(t, res.Regions[2].Err, ratelimit.ErrQuotaExhausted)
	assert.Equal(t, 3, q.calls, "exhaustion is not retried")
	assert.Equal(t, 0, a.calls["c"])
}

func TestFetcher_CircuitBreakerOpens(t *testing.T) {
	a := newScripted("")
	a.failures["a"] = 100
	a.errs["a"] = &StatusError{StatusCode: http.StatusBadGateway}

	breakers := circuitbreaker.NewManager(&circuitbreaker.Config{
		MaxFailures:      2,
		FailureThreshold: 0.5,
		Timeout:          time.Hour,
		HalfOpenMaxCalls: 1,
	})
	f := NewFetcher(nil, breakers, nil, FetcherConfig{Timeout: time.Second, MaxAttempts: 3, Backoff: retry.NoBackoff})

	res := f.Fetch(context.Background(), a, threeRegions[:1], 5)
	require.Error(t, res.Err)
	assert.ErrorIs(t, res.Err, circuitbreaker.ErrCircuitOpen)
	assert.Equal(t, 2, a.calls["a"], "open circuit stops further calls")
}
