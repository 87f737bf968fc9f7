package store

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/kjstillabower/airquality-dashboard/internal/models"
)

// MemoryRepository is an in-memory Repository. Used when no database is configured and in tests.
type MemoryRepository struct {
	mu   sync.RWMutex
	docs map[int]StationDocument
}

// NewMemoryRepository creates an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{docs: make(map[int]StationDocument)}
}

func (r *MemoryRepository) Upsert(_ context.Context, doc StationDocument) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.docs[doc.Idx] = copyDocument(doc)
	return nil
}

func (r *MemoryRepository) Get(_ context.Context, idx int) (StationDocument, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	doc, ok := r.docs[idx]
	if !ok {
		return StationDocument{}, ErrNotFound
	}
	return copyDocument(doc), nil
}

func (r *MemoryRepository) SearchByCity(_ context.Context, substr string, limit int) ([]StationDocument, error) {
	needle := strings.ToLower(strings.TrimSpace(substr))
	r.mu.RLock()
	out := make([]StationDocument, 0)
	for _, doc := range r.docs {
		if needle == "" || strings.Contains(strings.ToLower(doc.Station), needle) {
			out = append(out, copyDocument(doc))
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].FetchedAt.Equal(out[j].FetchedAt) {
			return out[i].FetchedAt.After(out[j].FetchedAt)
		}
		return out[i].Idx < out[j].Idx
	})
	return truncate(out, limit), nil
}

func (r *MemoryRepository) TopByAQI(_ context.Context, limit int) ([]StationDocument, error) {
	r.mu.RLock()
	out := make([]StationDocument, 0)
	for _, doc := range r.docs {
		if doc.AQI != nil {
			out = append(out, copyDocument(doc))
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if *out[i].AQI != *out[j].AQI {
			return *out[i].AQI > *out[j].AQI
		}
		return strings.ToLower(out[i].Station) < strings.ToLower(out[j].Station)
	})
	return truncate(out, limit), nil
}

// Len returns the number of stored documents.
func (r *MemoryRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.docs)
}

func truncate(docs []StationDocument, limit int) []StationDocument {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if len(docs) > limit {
		return docs[:limit]
	}
	return docs
}

func copyDocument(d StationDocument) StationDocument {
	if d.AQI != nil {
		v := *d.AQI
		d.AQI = &v
	}
	if d.Pollutants != nil {
		p := make(map[string]float64, len(d.Pollutants))
		for k, v := range d.Pollutants {
			p[k] = v
		}
		d.Pollutants = p
	}
	if d.Forecast != nil {
		d.Forecast = append([]models.ForecastDay(nil), d.Forecast...)
	}
	if d.Geo != nil {
		g := *d.Geo
		d.Geo = &g
	}
	return d
}
