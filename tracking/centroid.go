package tracking

import (
	"image"
	"math"
	"sort"
	"sync"
)

// CentroidTracker assigns stable integer identities to per-tick detection
// centroids. Matching is greedy nearest-neighbor: detections are considered
// in input order and each takes the closest unclaimed known centroid within
// MaxDistance. Identities unmatched for more than MaxAge ticks are evicted.
// IDs increase monotonically and are never reused.
type CentroidTracker struct {
	mu sync.Mutex

	maxDistance float64
	maxAge      int

	nextID    int
	centroids map[int]image.Point
	ages      map[int]int
}

// NewCentroidTracker creates a tracker. maxDistance is the px radius for a
// match, maxAge the number of unmatched ticks before eviction.
func NewCentroidTracker(maxDistance float64, maxAge int) *CentroidTracker {
	if maxDistance <= 0 {
		maxDistance = 50
	}
	if maxAge <= 0 {
		maxAge = 30
	}
	return &CentroidTracker{
		maxDistance: maxDistance,
		maxAge:      maxAge,
		nextID:      1,
		centroids:   make(map[int]image.Point),
		ages:        make(map[int]int),
	}
}

// Assign matches this tick's centroids against known identities and returns
// ids[i] for centers[i], plus the identities evicted this tick. A call with
// no centers still ages every identity, so an empty scene eventually evicts
// everything.
func (t *CentroidTracker) Assign(centers []image.Point) (ids []int, evicted []int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	// Age first; matched identities are reset below.
	for id := range t.ages {
		t.ages[id]++
	}

	ids = make([]int, len(centers))
	claimed := make(map[int]bool, len(centers))
	for i, c := range centers {
		id, ok := t.nearest(c, claimed)
		if !ok {
			id = t.nextID
			t.nextID++
		}
		claimed[id] = true
		t.centroids[id] = c
		t.ages[id] = 0
		ids[i] = id
	}

	for id, age := range t.ages {
		if age > t.maxAge {
			delete(t.centroids, id)
			delete(t.ages, id)
			evicted = append(evicted, id)
		}
	}
	sort.Ints(evicted)
	return ids, evicted
}

// nearest finds the closest unclaimed identity within maxDistance.
// Known identities are scanned in ascending ID order so ties resolve
// deterministically.
func (t *CentroidTracker) nearest(c image.Point, claimed map[int]bool) (int, bool) {
	known := make([]int, 0, len(t.centroids))
	for id := range t.centroids {
		if !claimed[id] {
			known = append(known, id)
		}
	}
	sort.Ints(known)

	best := -1
	bestDist := t.maxDistance
	for _, id := range known {
		p := t.centroids[id]
		d := math.Hypot(float64(c.X-p.X), float64(c.Y-p.Y))
		if d < bestDist {
			best = id
			bestDist = d
		}
	}
	if best < 0 {
		return 0, false
	}
	return best, true
}

// Count returns the number of live identities.
func (t *CentroidTracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.centroids)
}

// Centroid returns the last known centroid for an identity.
func (t *CentroidTracker) Centroid(id int) (image.Point, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.centroids[id]
	return p, ok
}

// Reset drops all identities. The ID counter is not reset, preserving the
// no-reuse guarantee across resets.
func (t *CentroidTracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.centroids = make(map[int]image.Point)
	t.ages = make(map[int]int)
}
