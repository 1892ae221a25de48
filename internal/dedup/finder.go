package dedup

import (
	"context"
	"sync"

	"github.com/trail-importer/internal/models"
)

// MultiFinder queries each finder in order and concatenates the results
type MultiFinder []TrailFinder

// FindInBoundingBox implements TrailFinder
func (m MultiFinder) FindInBoundingBox(ctx context.Context, box models.BoundingBox, limit int) ([]models.TrailRef, error) {
	var out []models.TrailRef
	for _, f := range m {
		if f == nil {
			continue
		}
		refs, err := f.FindInBoundingBox(ctx, box, limit)
		if err != nil {
			return nil, err
		}
		out = append(out, refs...)
	}
	return out, nil
}

// MemoryFinder holds trails accepted in the current batch but not yet stored
type MemoryFinder struct {
	mu     sync.RWMutex
	trails []models.TrailRef
}

// NewMemoryFinder creates an empty finder
func NewMemoryFinder() *MemoryFinder {
	return &MemoryFinder{}
}

// Add remembers a trail under a provisional id
func (f *MemoryFinder) Add(id string, t *models.NormalizedTrail) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.trails = append(f.trails, models.TrailRef{ID: id, Name: t.Name, Latitude: t.Latitude, Longitude: t.Longitude})
}

// Reset forgets everything
func (f *MemoryFinder) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.trails = f.trails[:0]
}

// Len returns the number of remembered trails
func (f *MemoryFinder) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.trails)
}

// FindInBoundingBox implements TrailFinder
func (f *MemoryFinder) FindInBoundingBox(ctx context.Context, box models.BoundingBox, limit int) ([]models.TrailRef, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	var out []models.TrailRef
	for _, t := range f.trails {
		if !box.Contains(t.Latitude, t.Longitude) {
			continue
		}
		out = append(out, t)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}
