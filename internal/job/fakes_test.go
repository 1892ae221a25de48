package job

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	apperrors "github.com/trail-importer/internal/errors"
	"github.com/trail-importer/internal/ingest"
	"github.com/trail-importer/internal/models"
	"github.com/trail-importer/internal/retry"
	"github.com/trail-importer/internal/source"
	"github.com/trail-importer/internal/types"
)

// memoryJobStore keeps deep copies so the test sees exactly what was persisted
type memoryJobStore struct {
	mu       sync.Mutex
	jobs     map[string]*models.ImportJob
	updates  int
	onUpdate func(job *models.ImportJob)
}

func newMemoryJobStore() *memoryJobStore {
	return &memoryJobStore{jobs: make(map[string]*models.ImportJob)}
}

func (m *memoryJobStore) Create(ctx context.Context, job *models.ImportJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[job.ID]; ok {
		return fmt.Errorf("duplicate job %s", job.ID)
	}
	m.jobs[job.ID] = job.Clone()
	return nil
}

func (m *memoryJobStore) Update(ctx context.Context, job *models.ImportJob) error {
	m.mu.Lock()
	if _, ok := m.jobs[job.ID]; !ok {
		m.mu.Unlock()
		return apperrors.NewNotFoundError("import job", job.ID)
	}
	snapshot := job.Clone()
	m.jobs[job.ID] = snapshot
	m.updates++
	hook := m.onUpdate
	m.mu.Unlock()

	if hook != nil {
		hook(snapshot.Clone())
	}
	return nil
}

func (m *memoryJobStore) GetByID(ctx context.Context, id string) (*models.ImportJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, apperrors.NewNotFoundError("import job", id)
	}
	return job.Clone(), nil
}

func (m *memoryJobStore) ListByStatus(ctx context.Context, status types.JobStatus, limit int) ([]*models.ImportJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.ImportJob
	for _, job := range m.jobs {
		if status != "" && job.Status != status {
			continue
		}
		out = append(out, job.Clone())
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (m *memoryJobStore) get(t *testing.T, id string) *models.ImportJob {
	t.Helper()
	job, err := m.GetByID(context.Background(), id)
	require.NoError(t, err)
	return job
}

// memoryTrailStore is both the insert target and the duplicate lookup
type memoryTrailStore struct {
	mu       sync.Mutex
	trails   []*models.PersistedTrail
	batchErr error
}

func (m *memoryTrailStore) persist(jobID string, t *models.NormalizedTrail) *models.PersistedTrail {
	p := &models.PersistedTrail{
		ID:              fmt.Sprintf("trail-%d", len(m.trails)+1),
		NormalizedTrail: *t,
		JobID:           jobID,
		CreatedAt:       time.Now(),
	}
	m.trails = append(m.trails, p)
	return p
}

func (m *memoryTrailStore) InsertBatch(ctx context.Context, jobID string, trails []*models.NormalizedTrail) ([]*models.PersistedTrail, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.batchErr != nil {
		return nil, m.batchErr
	}
	out := make([]*models.PersistedTrail, 0, len(trails))
	for _, t := range trails {
		out = append(out, m.persist(jobID, t))
	}
	return out, nil
}

func (m *memoryTrailStore) InsertOne(ctx context.Context, jobID string, t *models.NormalizedTrail) (*models.PersistedTrail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.persist(jobID, t), nil
}

func (m *memoryTrailStore) FindInBoundingBox(ctx context.Context, box models.BoundingBox, limit int) ([]models.TrailRef, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.TrailRef
	for _, p := range m.trails {
		if box.Contains(p.Latitude, p.Longitude) {
			out = append(out, models.TrailRef{ID: p.ID, Name: p.Name, Latitude: p.Latitude, Longitude: p.Longitude})
		}
	}
	return out, nil
}

func (m *memoryTrailStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.trails)
}

// testTrail is the payload testAdapter understands
type testTrail struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Lat         float64 `json:"lat"`
	Lng         float64 `json:"lng"`
	Length      float64 `json:"length"`
}

type testAdapter struct {
	src types.SourceType
}

func (a testAdapter) Type() types.SourceType { return a.src }
func (a testAdapter) Credential() string     { return "" }

func (a testAdapter) Fetch(ctx context.Context, region models.Region, limit int, apiKey string) ([]models.RawSourceRecord, error) {
	return nil, nil
}

func (a testAdapter) Normalize(raw models.RawSourceRecord) (*models.NormalizedTrail, error) {
	var p testTrail
	if err := json.Unmarshal(raw.Payload, &p); err != nil {
		return nil, apperrors.NewNormalizationError(a.src, raw.SourceID, "payload", err.Error())
	}
	if p.Name == "" {
		return nil, apperrors.NewNormalizationError(a.src, raw.SourceID, "name", "name is required")
	}
	return &models.NormalizedTrail{
		Name:        p.Name,
		Description: p.Description,
		Location:    "Cascades, WA",
		Country:     "United States",
		Latitude:    p.Lat,
		Longitude:   p.Lng,
		Difficulty:  types.DifficultyModerate,
		LengthMiles: p.Length,
		Source:      a.src,
		SourceID:    raw.SourceID,
	}, nil
}

func rawTrail(t *testing.T, src types.SourceType, id string, p testTrail) models.RawSourceRecord {
	t.Helper()
	payload, err := json.Marshal(p)
	require.NoError(t, err)
	return models.RawSourceRecord{Source: src, SourceID: id, Region: "test", FetchedAt: time.Now(), Payload: payload}
}

func goodTrail(name string, lat, lng float64) testTrail {
	return testTrail{Name: name, Description: "A well described trail", Lat: lat, Lng: lng, Length: 4.2}
}

// scriptedFetcher returns a fixed result per source. A source listed in block waits
// for cancellation before returning.
type scriptedFetcher struct {
	mu      sync.Mutex
	results map[types.SourceType]*source.FetchResult
	block   map[types.SourceType]bool
	calls   []types.SourceType
}

func newScriptedFetcher() *scriptedFetcher {
	return &scriptedFetcher{
		results: make(map[types.SourceType]*source.FetchResult),
		block:   make(map[types.SourceType]bool),
	}
}

func (f *scriptedFetcher) withRecords(src types.SourceType, records ...models.RawSourceRecord) *scriptedFetcher {
	f.results[src] = &source.FetchResult{
		Source:  src,
		Records: records,
		Regions: []source.RegionResult{{Region: "test", Records: len(records), Attempts: 1}},
	}
	return f
}

func (f *scriptedFetcher) Fetch(ctx context.Context, adapter source.Adapter, regions []models.Region, limit int) *source.FetchResult {
	src := adapter.Type()
	f.mu.Lock()
	f.calls = append(f.calls, src)
	res, ok := f.results[src]
	blocking := f.block[src]
	f.mu.Unlock()

	if blocking {
		<-ctx.Done()
		return &source.FetchResult{Source: src, Err: ctx.Err()}
	}
	if !ok {
		return &source.FetchResult{Source: src}
	}
	return res
}

// recordingRunner stands in for the queue
type recordingRunner struct {
	mu        sync.Mutex
	submitted []string
	removed   []string
	err       error
}

func (r *recordingRunner) Submit(jobID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.submitted = append(r.submitted, jobID)
	return nil
}

func (r *recordingRunner) Remove(jobID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removed = append(r.removed, jobID)
	return true
}

type recordingSink struct {
	mu     sync.Mutex
	events []models.RejectionEvent
}

func (s *recordingSink) Write(ctx context.Context, events []models.RejectionEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, events...)
	return nil
}

type recordingArchive struct {
	mu   sync.Mutex
	jobs []*models.ImportJob
	err  error
}

func (a *recordingArchive) Archive(ctx context.Context, job *models.ImportJob) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return "", a.err
	}
	a.jobs = append(a.jobs, job)
	return "reports/" + job.ID + ".json", nil
}

type testEnv struct {
	service *ImportService
	jobs    *memoryJobStore
	trails  *memoryTrailStore
	fetcher *scriptedFetcher
	sink    *recordingSink
	archive *recordingArchive
}

func newTestEnv(t *testing.T, sources ...types.SourceType) *testEnv {
	t.Helper()

	adapters := make([]source.Adapter, 0, len(sources))
	for _, src := range sources {
		adapters = append(adapters, testAdapter{src: src})
	}

	env := &testEnv{
		jobs:    newMemoryJobStore(),
		trails:  &memoryTrailStore{},
		fetcher: newScriptedFetcher(),
		sink:    &recordingSink{},
		archive: &recordingArchive{},
	}

	svc, err := NewImportService(Dependencies{
		Jobs:       env.jobs,
		Archive:    env.archive,
		Rejections: env.sink,
		Registry:   source.NewRegistry(adapters...),
		Fetcher:    env.fetcher,
		Trails:     env.trails,
		Finder:     env.trails,
	}, Options{
		Defaults:            models.ImportDefaults{TrailsPerSource: 50, BatchSize: 10, MinQualityScore: 0.6},
		MaxRecordedFailures: 100,
		Insert:              ingest.Config{MaxAttempts: 2, Backoff: retry.NoBackoff},
	})
	require.NoError(t, err)

	env.service = svc
	return env
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}
