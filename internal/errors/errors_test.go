package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trail-importer/internal/types"
)

func TestReasonOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want types.FailureReason
	}{
		{"nil", nil, ""},
		{"fetch", &FetchError{Source: types.SourceParks, Cause: errors.New("boom")}, types.ReasonFetch},
		{"normalization", NewNormalizationError(types.SourceParks, "1", "latitude", "missing"), types.ReasonNormalization},
		{"quality", &QualityRejected{Score: 0.3, MinScore: 0.6}, types.ReasonQuality},
		{"duplicate", &DuplicateRejected{OriginalID: "t1", Similarity: 0.9}, types.ReasonDuplicate},
		{"batch insert", &BatchInsertError{Attempts: 3, Cause: errors.New("conn reset")}, types.ReasonInsert},
		{"constraint", &ConstraintError{Constraint: "trails_source_uniq"}, types.ReasonConstraint},
		{"fatal", NewJobFatalError("job-1", "no active sources", nil), types.ReasonFatal},
		{"wrapped", fmt.Errorf("insert: %w", &ConstraintError{Constraint: "x"}), types.ReasonConstraint},
		{"cancelled", fmt.Errorf("wait: %w", context.Canceled), types.ReasonCancelled},
		{"unknown", errors.New("mystery"), types.ReasonInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ReasonOf(tt.err))
		})
	}
}

func TestCategorize_JobFatal(t *testing.T) {
	err := fmt.Errorf("start: %w", NewJobFatalError("job-9", "no active sources configured", nil))

	cat := Categorize(err)
	require.NotNil(t, cat)
	assert.Equal(t, CategoryJob, cat.Category)
	assert.Equal(t, http.StatusUnprocessableEntity, cat.StatusCode)
	assert.Equal(t, "JOB_FATAL", cat.Code)
	assert.Equal(t, "job-9", cat.Details["jobId"])
	assert.True(t, IsJobFatal(err))
}

func TestCategorize_Defaults(t *testing.T) {
	assert.Nil(t, Categorize(nil))

	cat := Categorize(errors.New("plain"))
	assert.Equal(t, "INTERNAL_ERROR", cat.Code)

	nf := NewNotFoundError("import job", "abc")
	assert.True(t, IsNotFound(fmt.Errorf("lookup: %w", nf)))
	assert.Equal(t, http.StatusNotFound, GetHTTPStatusCode(nf))

	fetch := &FetchError{Source: types.SourceHikingProject, Cause: errors.New("503")}
	assert.Equal(t, CategoryProvider, Categorize(fetch).Category)
	assert.Equal(t, http.StatusBadGateway, GetHTTPStatusCode(fetch))
}

func TestCategorize_InnerCategoryWins(t *testing.T) {
	throttled := &FetchError{
		Source: types.SourceParks,
		Cause:  NewProviderRateLimitError("parks", errors.New("HTTP 429")),
	}
	cat := Categorize(throttled)
	assert.Equal(t, "PROVIDER_RATE_LIMIT", cat.Code)
	assert.Equal(t, http.StatusTooManyRequests, cat.StatusCode)
	assert.Equal(t, types.ReasonFetch, ReasonOf(throttled))

	db := fmt.Errorf("load: %w", NewDatabaseError("get import job", errors.New("conn refused")))
	assert.Equal(t, CategoryDatabase, Categorize(db).Category)
	assert.Equal(t, http.StatusInternalServerError, GetHTTPStatusCode(db))
	assert.False(t, IsUserError(db))

	cache := NewCacheError("get job status", errors.New("i/o timeout"))
	assert.Equal(t, "get job status", cache.Details["operation"])
	assert.Contains(t, cache.Error(), "i/o timeout")

	limited := NewRateLimitError(2)
	assert.True(t, IsUserError(limited))
	assert.Equal(t, 2, limited.Details["retryAfter"])
}

func TestIsUserError(t *testing.T) {
	assert.True(t, IsUserError(NewInvalidParameterError("batchSize", "must be positive")))
	assert.False(t, IsUserError(NewDatabaseError("insert", errors.New("x"))))
	assert.True(t, IsConstraint(fmt.Errorf("row: %w", &ConstraintError{})))
	assert.False(t, IsConstraint(errors.New("x")))
}
