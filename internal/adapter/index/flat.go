package index

import (
	"fmt"
	"math"
	"sort"
	"sync"

	"kbrag/internal/domain"
	"kbrag/internal/port"
)

const (
	MetricL2           = "l2"
	MetricInnerProduct = "inner_product"
	MetricCosine       = "cosine"
)

// FlatIndex is an exact nearest-neighbour index. Vectors are addressed by
// insertion position and every search scans all of them.
type FlatIndex struct {
	mu        sync.RWMutex
	metric    string
	distance  func(a, b []float32) float64
	dimension int
	vectors   [][]float32
}

// NewFlatIndex creates an empty index for the given metric.
func NewFlatIndex(metric string) (*FlatIndex, error) {
	if metric == "" {
		metric = MetricL2
	}
	dist, err := distanceFunc(metric)
	if err != nil {
		return nil, err
	}
	return &FlatIndex{metric: metric, distance: dist}, nil
}

// ValidMetric reports whether metric names a supported distance.
func ValidMetric(metric string) bool {
	_, err := distanceFunc(metric)
	return err == nil
}

func distanceFunc(metric string) (func(a, b []float32) float64, error) {
	switch metric {
	case MetricL2:
		return squaredL2, nil
	case MetricInnerProduct:
		return negativeDot, nil
	case MetricCosine:
		return cosineDistance, nil
	default:
		return nil, fmt.Errorf("unknown metric %q: %w", metric, domain.ErrInvalidArgument)
	}
}

// Add appends vectors. The first non-empty call fixes the dimension; a
// vector of any other length rejects the whole batch.
func (x *FlatIndex) Add(vectors [][]float32) error {
	if len(vectors) == 0 {
		return nil
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	dim := x.dimension
	if dim == 0 {
		dim = len(vectors[0])
		if dim == 0 {
			return fmt.Errorf("zero-length vector: %w", domain.ErrDimensionMismatch)
		}
	}
	for i, v := range vectors {
		if len(v) != dim {
			return fmt.Errorf("vector %d: expected %d, got %d: %w", i, dim, len(v), domain.ErrDimensionMismatch)
		}
	}

	for _, v := range vectors {
		cp := make([]float32, dim)
		copy(cp, v)
		x.vectors = append(x.vectors, cp)
	}
	x.dimension = dim

	return nil
}

// Search returns the k nearest vectors by ascending distance. Ties keep
// insertion order. k is clamped to the index size.
func (x *FlatIndex) Search(query []float32, k int) ([]port.Neighbor, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	if len(x.vectors) == 0 || k <= 0 {
		return nil, nil
	}
	if len(query) != x.dimension {
		return nil, fmt.Errorf("query: expected %d, got %d: %w", x.dimension, len(query), domain.ErrDimensionMismatch)
	}

	scores := make([]port.Neighbor, len(x.vectors))
	for i, v := range x.vectors {
		scores[i] = port.Neighbor{Position: i, Distance: x.distance(query, v)}
	}

	sort.SliceStable(scores, func(i, j int) bool {
		return scores[i].Distance < scores[j].Distance
	})

	if k > len(scores) {
		k = len(scores)
	}
	return scores[:k], nil
}

func (x *FlatIndex) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.vectors)
}

func (x *FlatIndex) Dimension() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.dimension
}

func (x *FlatIndex) Metric() string {
	return x.metric
}

func (x *FlatIndex) Vectors() [][]float32 {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.vectors
}

func squaredL2(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return sum
}

func negativeDot(a, b []float32) float64 {
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return -dot
}

// cosineDistance is 1 - cos(a, b). Zero vectors are at distance 1.
func cosineDistance(a, b []float32) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(normA)*math.Sqrt(normB))
}
