package api

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/trail-importer/internal/errors"
	"github.com/trail-importer/internal/job"
	"github.com/trail-importer/internal/models"
	"github.com/trail-importer/internal/types"
)

// Mock services for testing
type mockImportService struct {
	startFunc  func(ctx context.Context, cfg models.ImportConfig) (*job.StartImportResult, error)
	getFunc    func(ctx context.Context, jobID string) (*models.ImportJob, error)
	cancelFunc func(ctx context.Context, jobID string) (*job.CancelImportResult, error)
	listFunc   func(ctx context.Context, status types.JobStatus, limit int) ([]*models.ImportJob, error)

	lastConfig models.ImportConfig
	lastStatus types.JobStatus
	lastLimit  int
}

func (m *mockImportService) StartImport(ctx context.Context, cfg models.ImportConfig) (*job.StartImportResult, error) {
	m.lastConfig = cfg
	if m.startFunc != nil {
		return m.startFunc(ctx, cfg)
	}
	return &job.StartImportResult{
		JobID:   "job-123",
		Status:  types.JobStatusQueued,
		Sources: []types.SourceType{types.SourceParks},
	}, nil
}

func (m *mockImportService) GetJobStatus(ctx context.Context, jobID string) (*models.ImportJob, error) {
	if m.getFunc != nil {
		return m.getFunc(ctx, jobID)
	}
	return nil, apperrors.NewNotFoundError("import job", jobID)
}

func (m *mockImportService) Cancel(ctx context.Context, jobID string) (*job.CancelImportResult, error) {
	if m.cancelFunc != nil {
		return m.cancelFunc(ctx, jobID)
	}
	return &job.CancelImportResult{Success: true, JobID: jobID}, nil
}

func (m *mockImportService) ListJobs(ctx context.Context, status types.JobStatus, limit int) ([]*models.ImportJob, error) {
	m.lastStatus = status
	m.lastLimit = limit
	if m.listFunc != nil {
		return m.listFunc(ctx, status, limit)
	}
	return nil, nil
}

type mockTrailStore struct {
	lastFilter models.TrailFilter
	count      int64
	err        error

	trails     map[string]*models.PersistedTrail
	duplicates map[string][]*models.DuplicateRecord
}

func (m *mockTrailStore) Count(ctx context.Context, filter models.TrailFilter) (int64, error) {
	m.lastFilter = filter
	return m.count, m.err
}

func (m *mockTrailStore) GetByID(ctx context.Context, id string) (*models.PersistedTrail, error) {
	if t, ok := m.trails[id]; ok {
		return t, nil
	}
	return nil, apperrors.NewNotFoundError("trail", id)
}

func (m *mockTrailStore) ListByJob(ctx context.Context, jobID string) ([]*models.DuplicateRecord, error) {
	return m.duplicates[jobID], m.err
}

type staticCatalog []types.SourceType

func (c staticCatalog) Types() []types.SourceType { return c }

func createTestServer(svc *mockImportService, trails *mockTrailStore, checks map[string]HealthCheck) *Server {
	return NewServer(&ServerConfig{
		Host:              "localhost",
		Port:              "0",
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      5 * time.Second,
		RequestsPerSecond: 100,
		Burst:             100,
	}, svc, trails, trails, staticCatalog{types.SourceParks, types.SourceOpenStreetMap}, checks)
}

func doRequest(s *Server, method, path string, body []byte) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestStartImport_Accepted(t *testing.T) {
	svc := &mockImportService{}
	server := createTestServer(svc, &mockTrailStore{}, nil)

	body := []byte(`{"trailsPerSource": 25, "batchSize": 5, "enableDuplicateDetection": false, "sources": ["parks"]}`)
	w := doRequest(server, "POST", "/api/imports", body)

	assert.Equal(t, http.StatusAccepted, w.Code)
	resp := decodeBody(t, w)
	assert.Equal(t, "job-123", resp["jobId"])
	assert.Equal(t, "queued", resp["status"])

	assert.Equal(t, 25, svc.lastConfig.TrailsPerSource)
	assert.Equal(t, 5, svc.lastConfig.BatchSize)
	require.NotNil(t, svc.lastConfig.EnableDuplicateDetection)
	assert.False(t, *svc.lastConfig.EnableDuplicateDetection)
	assert.Equal(t, []types.SourceType{types.SourceParks}, svc.lastConfig.Sources)
}

func TestStartImport_EmptyBodyUsesDefaults(t *testing.T) {
	svc := &mockImportService{}
	server := createTestServer(svc, &mockTrailStore{}, nil)

	w := doRequest(server, "POST", "/api/imports", nil)
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, 0, svc.lastConfig.TrailsPerSource)
}

func TestStartImport_InvalidJSON(t *testing.T) {
	server := createTestServer(&mockImportService{}, &mockTrailStore{}, nil)

	w := doRequest(server, "POST", "/api/imports", []byte("invalid json"))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(server, "POST", "/api/imports", []byte(`{"unknownField": 1}`))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStartImport_ValidationError(t *testing.T) {
	svc := &mockImportService{
		startFunc: func(ctx context.Context, cfg models.ImportConfig) (*job.StartImportResult, error) {
			return nil, apperrors.NewInvalidParameterError("batchSize", "must be between 1 and 500")
		},
	}
	server := createTestServer(svc, &mockTrailStore{}, nil)

	w := doRequest(server, "POST", "/api/imports", []byte(`{"batchSize": 900}`))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	resp := decodeBody(t, w)
	errBody := resp["error"].(map[string]interface{})
	assert.Equal(t, "INVALID_PARAMETER", errBody["code"])
}

func TestStartImport_ZeroSourcesIsUnprocessable(t *testing.T) {
	svc := &mockImportService{
		startFunc: func(ctx context.Context, cfg models.ImportConfig) (*job.StartImportResult, error) {
			return &job.StartImportResult{JobID: "job-0", Status: types.JobStatusError},
				apperrors.NewJobFatalError("job-0", "no active sources configured", nil)
		},
	}
	server := createTestServer(svc, &mockTrailStore{}, nil)

	w := doRequest(server, "POST", "/api/imports", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	errBody := decodeBody(t, w)["error"].(map[string]interface{})
	assert.Equal(t, "JOB_FATAL", errBody["code"])
	details := errBody["details"].(map[string]interface{})
	assert.Equal(t, "job-0", details["jobId"])
}

func TestGetImport(t *testing.T) {
	now := time.Now().UTC()
	svc := &mockImportService{
		getFunc: func(ctx context.Context, jobID string) (*models.ImportJob, error) {
			if jobID != "job-1" {
				return nil, apperrors.NewNotFoundError("import job", jobID)
			}
			j := models.NewImportJob("job-1", models.ImportConfig{TrailsPerSource: 10}, []types.SourceType{types.SourceParks}, now)
			j.ApplyBatch(types.SourceParks, 3, 1, []models.RecordFailure{
				{Source: types.SourceParks, Reason: types.ReasonNormalization},
				{Source: types.SourceParks, Reason: types.ReasonDuplicate},
			}, 0)
			return j, nil
		},
	}
	server := createTestServer(svc, &mockTrailStore{}, nil)

	w := doRequest(server, "GET", "/api/imports/job-1", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var got models.ImportJob
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, 3, got.ProcessedCount)
	assert.Equal(t, 1, got.AddedCount)
	assert.Equal(t, 2, got.FailedCount)

	w = doRequest(server, "GET", "/api/imports/nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListImports(t *testing.T) {
	svc := &mockImportService{}
	server := createTestServer(svc, &mockTrailStore{}, nil)

	w := doRequest(server, "GET", "/api/imports?status=completed&limit=10000", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, types.JobStatusCompleted, svc.lastStatus)
	assert.Equal(t, maxListLimit, svc.lastLimit)
	assert.Equal(t, float64(0), decodeBody(t, w)["count"])

	w = doRequest(server, "GET", "/api/imports?limit=-3", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, defaultListLimit, svc.lastLimit)

	w = doRequest(server, "GET", "/api/imports?status=done", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCancelImport(t *testing.T) {
	msg := "Job already completed, cannot cancel"
	svc := &mockImportService{
		cancelFunc: func(ctx context.Context, jobID string) (*job.CancelImportResult, error) {
			if jobID == "done" {
				return &job.CancelImportResult{Success: false, JobID: jobID, Message: &msg}, nil
			}
			return &job.CancelImportResult{Success: true, JobID: jobID}, nil
		},
	}
	server := createTestServer(svc, &mockTrailStore{}, nil)

	w := doRequest(server, "POST", "/api/imports/running/cancel", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doRequest(server, "POST", "/api/imports/done/cancel", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, msg, decodeBody(t, w)["message"])
}

func TestCountTrails(t *testing.T) {
	trails := &mockTrailStore{count: 42}
	server := createTestServer(&mockImportService{}, trails, nil)

	w := doRequest(server, "GET", "/api/trails/count?source=parks&difficulty=hard&jobId=job-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(42), decodeBody(t, w)["count"])
	assert.Equal(t, models.TrailFilter{Source: types.SourceParks, Difficulty: types.DifficultyHard, JobID: "job-1"}, trails.lastFilter)

	w = doRequest(server, "GET", "/api/trails/count?difficulty=brutal", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(server, "GET", "/api/trails/count?source=trailforks", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	trails.err = errors.New("connection refused")
	w = doRequest(server, "GET", "/api/trails/count", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "connection refused")
}

func TestGetTrail(t *testing.T) {
	trails := &mockTrailStore{trails: map[string]*models.PersistedTrail{
		"trail-1": {ID: "trail-1", NormalizedTrail: models.NormalizedTrail{Name: "Mesa Trail", Source: types.SourceParks}, JobID: "job-1"},
	}}
	server := createTestServer(&mockImportService{}, trails, nil)

	w := doRequest(server, "GET", "/api/trails/trail-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decodeBody(t, w)
	assert.Equal(t, "trail-1", resp["id"])
	assert.Equal(t, "Mesa Trail", resp["name"])

	w = doRequest(server, "GET", "/api/trails/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListDuplicates(t *testing.T) {
	svc := &mockImportService{
		getFunc: func(ctx context.Context, jobID string) (*models.ImportJob, error) {
			if jobID != "job-1" {
				return nil, apperrors.NewNotFoundError("import job", jobID)
			}
			return &models.ImportJob{ID: jobID, Status: types.JobStatusCompleted}, nil
		},
	}
	trails := &mockTrailStore{duplicates: map[string][]*models.DuplicateRecord{
		"job-1": {{JobID: "job-1", CandidateName: "Mesa Trail", OriginalID: "trail-1", Similarity: 0.92}},
	}}
	server := createTestServer(svc, trails, nil)

	w := doRequest(server, "GET", "/api/imports/job-1/duplicates", nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decodeBody(t, w)
	assert.Equal(t, float64(1), resp["count"])

	w = doRequest(server, "GET", "/api/imports/job-2/duplicates", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListSources(t *testing.T) {
	server := createTestServer(&mockImportService{}, &mockTrailStore{}, nil)

	w := doRequest(server, "GET", "/api/sources", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Sources []struct {
			Source  string `json:"source"`
			Enabled bool   `json:"enabled"`
		} `json:"sources"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Sources, 3)
	assert.Equal(t, "hiking_project", resp.Sources[0].Source)
	assert.False(t, resp.Sources[0].Enabled)
	assert.True(t, resp.Sources[1].Enabled)
	assert.True(t, resp.Sources[2].Enabled)
}

func TestHealth(t *testing.T) {
	server := createTestServer(&mockImportService{}, &mockTrailStore{}, map[string]HealthCheck{
		"postgres": func(ctx context.Context) error { return nil },
	})
	w := doRequest(server, "GET", "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", decodeBody(t, w)["status"])

	server = createTestServer(&mockImportService{}, &mockTrailStore{}, map[string]HealthCheck{
		"redis": func(ctx context.Context) error { return errors.New("down") },
	})
	w = doRequest(server, "GET", "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "degraded", decodeBody(t, w)["status"])
}

func TestHealth_RuntimeStats(t *testing.T) {
	server := createTestServer(&mockImportService{}, &mockTrailStore{}, nil).
		WithRuntimeStats(func() map[string]interface{} {
			return map[string]interface{}{"queuedJobs": 3}
		})

	w := doRequest(server, "GET", "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	runtime, ok := decodeBody(t, w)["runtime"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, float64(3), runtime["queuedJobs"])
}

func TestRateLimitMiddleware(t *testing.T) {
	server := NewServer(&ServerConfig{RequestsPerSecond: 1, Burst: 2}, &mockImportService{}, &mockTrailStore{}, &mockTrailStore{}, staticCatalog{}, nil)

	codes := make([]int, 0, 3)
	var last *httptest.ResponseRecorder
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest("GET", "/api/sources", nil)
		req.Header.Set("X-Client-ID", "client-a")
		last = httptest.NewRecorder()
		server.Handler().ServeHTTP(last, req)
		codes = append(codes, last.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
	assert.Equal(t, "1", last.Header().Get("Retry-After"))

	body := decodeBody(t, last)["error"].(map[string]interface{})
	assert.Equal(t, "RATE_LIMIT_EXCEEDED", body["code"])
	assert.Equal(t, float64(1), body["details"].(map[string]interface{})["retryAfter"])

	// a different client has its own bucket
	req := httptest.NewRequest("GET", "/api/sources", nil)
	req.Header.Set("X-Client-ID", "client-b")
	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCompressionAndCORS(t *testing.T) {
	server := createTestServer(&mockImportService{}, &mockTrailStore{}, nil)

	req := httptest.NewRequest("GET", "/api/sources", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "gzip", w.Header().Get("Content-Encoding"))
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	gz, err := gzip.NewReader(w.Body)
	require.NoError(t, err)
	plain, err := io.ReadAll(gz)
	require.NoError(t, err)
	assert.Contains(t, string(plain), "openstreetmap")
}

func TestRecoveryMiddleware(t *testing.T) {
	handler := RecoveryMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("GET", "/", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}
