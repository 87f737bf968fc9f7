// Package ranking orders the stations of a bulk map feed by AQI.
package ranking

import (
	"sort"
	"strings"

	"github.com/kjstillabower/airquality-dashboard/internal/client"
	"github.com/kjstillabower/airquality-dashboard/internal/models"
)

const (
	// InitialReveal is the number of rows shown before any "more" request.
	InitialReveal = 50
	// RevealStep is how many rows each "more" request adds.
	RevealStep = 2000
)

// Ranking is an immutable, sorted view of one map feed.
type Ranking struct {
	entries     []models.RankingEntry
	fingerprint uint64
	dropped     int
}

// Build filters and sorts feed. Stations with a blank name or without a
// finite numeric AQI are dropped. Order is AQI descending, then location
// case-insensitively, then location as written.
func Build(feed client.MapFeed) *Ranking {
	entries := make([]models.RankingEntry, 0, len(feed.Stations))
	for _, st := range feed.Stations {
		name := strings.TrimSpace(st.Station.Name)
		aqi := st.AQI.Int()
		if name == "" || aqi == nil {
			continue
		}
		entries = append(entries, models.RankingEntry{Location: name, AQI: *aqi})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return less(entries[i], entries[j])
	})
	return &Ranking{
		entries:     entries,
		fingerprint: feed.Fingerprint,
		dropped:     len(feed.Stations) - len(entries),
	}
}

func less(a, b models.RankingEntry) bool {
	if a.AQI != b.AQI {
		return a.AQI > b.AQI
	}
	la, lb := strings.ToLower(a.Location), strings.ToLower(b.Location)
	if la != lb {
		return la < lb
	}
	return a.Location < b.Location
}

// Len returns the number of ranked stations.
func (r *Ranking) Len() int { return len(r.entries) }

// Dropped returns the number of feed stations left out of the ranking.
func (r *Ranking) Dropped() int { return r.dropped }

// Fingerprint identifies the feed the ranking was built from.
func (r *Ranking) Fingerprint() uint64 { return r.fingerprint }

// Page returns the first k entries. k <= 0 yields an empty page and k past
// the end yields everything. The result must not be modified.
func (r *Ranking) Page(k int) []models.RankingEntry {
	if k <= 0 {
		return r.entries[:0:0]
	}
	if k > len(r.entries) {
		k = len(r.entries)
	}
	return r.entries[:k:k]
}

// Reveal is a cursor over a ranking that grows on demand without re-sorting.
type Reveal struct {
	r     *Ranking
	shown int
}

// NewReveal starts a cursor showing InitialReveal rows.
func (r *Ranking) NewReveal() *Reveal {
	return &Reveal{r: r, shown: min(InitialReveal, r.Len())}
}

// Visible returns the rows revealed so far.
func (v *Reveal) Visible() []models.RankingEntry { return v.r.Page(v.shown) }

// More extends the visible prefix by RevealStep and reports whether rows were added.
func (v *Reveal) More() bool {
	if v.shown >= v.r.Len() {
		return false
	}
	v.shown = min(v.shown+RevealStep, v.r.Len())
	return true
}

// HasMore reports whether rows remain hidden.
func (v *Reveal) HasMore() bool { return v.shown < v.r.Len() }
