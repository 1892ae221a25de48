package source

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/trail-importer/internal/circuitbreaker"
	apperrors "github.com/trail-importer/internal/errors"
	"github.com/trail-importer/internal/logging"
	"github.com/trail-importer/internal/models"
	"github.com/trail-importer/internal/ratelimit"
	"github.com/trail-importer/internal/retry"
	"github.com/trail-importer/internal/types"
)

// Skip reasons reported for a source that produced nothing without failing
const (
	SkipMissingCredentials = "skipped: missing credentials"
	SkipEmptyCredentials   = "skipped: empty credentials"
)

// Quota charges one upstream request to a source
type Quota interface {
	Consume(ctx context.Context, source string) error
}

// FetcherConfig holds per-request limits
type FetcherConfig struct {
	Timeout           time.Duration
	InterRequestDelay time.Duration
	MaxAttempts       int
	Backoff           retry.BackoffFunc
}

// DefaultFetcherConfig is a 20s timeout, 1s spacing and 3 attempts
func DefaultFetcherConfig() FetcherConfig {
	return FetcherConfig{
		Timeout:           20 * time.Second,
		InterRequestDelay: time.Second,
		MaxAttempts:       3,
		Backoff:           retry.PowerOfTwoSeconds,
	}
}

// RegionResult is the outcome of one region request
type RegionResult struct {
	Region   string `json:"region"`
	Records  int    `json:"records"`
	Attempts int    `json:"attempts"`
	Err      error  `json:"-"`
}

// FetchResult is everything one source produced for a job
type FetchResult struct {
	Source     types.SourceType
	Records    []models.RawSourceRecord
	Regions    []RegionResult
	Skipped    bool
	SkipReason string
	// Err is a *errors.FetchError when every region failed, a *errors.JobFatalError when
	// the credential store is unreachable, or the context error on cancellation
	Err error
}

// Fetcher runs region-partitioned requests for any adapter
type Fetcher struct {
	creds    CredentialStore
	pacer    *ratelimit.Pacer
	breakers *circuitbreaker.Manager
	quota    Quota
	cfg      FetcherConfig
}

// NewFetcher creates a fetcher. breakers and quota may be nil.
func NewFetcher(creds CredentialStore, breakers *circuitbreaker.Manager, quota Quota, cfg FetcherConfig) *Fetcher {
	def := DefaultFetcherConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.Backoff == nil {
		cfg.Backoff = def.Backoff
	}
	return &Fetcher{
		creds:    creds,
		pacer:    ratelimit.NewPacer(cfg.InterRequestDelay),
		breakers: breakers,
		quota:    quota,
		cfg:      cfg,
	}
}

// PerRegionLimit splits limit across n regions: ceil(limit/n), never more than limit
func PerRegionLimit(limit, n int) int {
	if n <= 0 || limit <= 0 {
		return 0
	}
	per := (limit + n - 1) / n
	if per > limit {
		per = limit
	}
	return per
}

// Fetch collects up to limit records for adapter across regions. A failing region is
// recorded and the rest continue.
func (f *Fetcher) Fetch(ctx context.Context, adapter Adapter, regions []models.Region, limit int) *FetchResult {
	src := adapter.Type()
	out := &FetchResult{Source: src}
	log := logging.FromContext(ctx).WithFields(map[string]interface{}{
		logging.FieldSource:    string(src),
		logging.FieldComponent: "fetcher",
	})

	apiKey, skip, err := f.credential(adapter)
	if err != nil {
		out.Err = apperrors.NewJobFatalError("", fmt.Sprintf("credential lookup for %s", src), err)
		return out
	}
	if skip != "" {
		log.WithField(logging.FieldReason, skip).Warn("Source skipped")
		out.Skipped = true
		out.SkipReason = skip
		return out
	}

	if len(regions) == 0 || limit <= 0 {
		out.Err = &apperrors.FetchError{Source: src, Cause: errors.New("no regions or zero limit")}
		return out
	}

	per := PerRegionLimit(limit, len(regions))
	var lastErr error
	succeeded := 0

	for _, region := range regions {
		want := per
		if remaining := limit - len(out.Records); remaining < want {
			want = remaining
		}
		if want <= 0 {
			break
		}

		if err := f.pacer.Wait(ctx, string(src)); err != nil {
			out.Err = err
			return out
		}

		records, attempts, err := f.fetchRegion(ctx, adapter, region, want, apiKey)
		rr := RegionResult{Region: region.Name, Attempts: attempts}
		if err != nil {
			if ctx.Err() != nil {
				out.Err = ctx.Err()
				return out
			}
			rr.Err = &apperrors.FetchError{Source: src, Region: region.Name, Cause: err}
			lastErr = err
			log.WithError(err).WithField(logging.FieldRegion, region.Name).Warn("Region fetch failed")
		} else {
			if len(records) > want {
				records = records[:want]
			}
			rr.Records = len(records)
			out.Records = append(out.Records, records...)
			succeeded++
		}
		out.Regions = append(out.Regions, rr)
	}

	if succeeded == 0 && lastErr != nil {
		out.Err = &apperrors.FetchError{
			Source: src,
			Cause:  fmt.Errorf("all %d regions failed, last: %w", len(out.Regions), lastErr),
		}
		return out
	}

	log.WithFields(map[string]interface{}{
		"records": len(out.Records),
		"regions": len(out.Regions),
	}).Info("Source fetch finished")
	return out
}

// credential returns the key, a skip reason, or a store failure
func (f *Fetcher) credential(adapter Adapter) (string, string, error) {
	name := adapter.Credential()
	if name == "" {
		return "", "", nil
	}
	if f.creds == nil {
		return "", SkipMissingCredentials, nil
	}

	value, found, err := f.creds.Lookup(name)
	if err != nil {
		return "", "", err
	}
	if !found {
		return "", SkipMissingCredentials, nil
	}
	if strings.TrimSpace(value) == "" {
		return "", SkipEmptyCredentials, nil
	}
	return value, "", nil
}

func (f *Fetcher) fetchRegion(ctx context.Context, adapter Adapter, region models.Region, limit int, apiKey string) ([]models.RawSourceRecord, int, error) {
	src := string(adapter.Type())
	var records []models.RawSourceRecord

	call := func(ctx context.Context) error {
		reqCtx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
		defer cancel()

		var err error
		records, err = adapter.Fetch(reqCtx, region, limit, apiKey)
		return err
	}

	res := retry.Do(ctx, retry.Policy{
		MaxAttempts: f.cfg.MaxAttempts,
		Backoff:     f.cfg.Backoff,
		Retryable:   isRetryableFetchError,
		Operation:   "fetch " + src + " " + region.Name,
	}, func(ctx context.Context, _ int) error {
		if f.quota != nil {
			if err := f.quota.Consume(ctx, src); err != nil {
				return err
			}
		}
		if f.breakers == nil {
			return call(ctx)
		}
		return f.breakers.For(src).Execute(ctx, call)
	})
	if !res.Success {
		return nil, res.Attempts, providerError(src, res.LastError)
	}
	return records, res.Attempts, nil
}

// providerError tags upstream throttling and request timeouts so they surface as
// 429 and 504 in job reports. Other failures pass through.
func providerError(src string, err error) error {
	var statusErr *StatusError
	if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusTooManyRequests {
		return apperrors.NewProviderRateLimitError(src, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return apperrors.NewProviderTimeoutError(src, err)
	}
	return err
}

// isRetryableFetchError retries 429, 5xx, timeouts and network errors
func isRetryableFetchError(err error) bool {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Retryable()
	}
	switch {
	case errors.Is(err, ratelimit.ErrQuotaExhausted),
		errors.Is(err, circuitbreaker.ErrCircuitOpen),
		errors.Is(err, circuitbreaker.ErrTooManyRequests),
		errors.Is(err, ErrDecode),
		errors.Is(err, context.Canceled):
		return false
	case errors.Is(err, context.DeadlineExceeded):
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
