package main

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestScoreQuery(t *testing.T) {
	q := scoreQuery([]string{"dostawa", "zwrot", "dostawa"}, "dostawa")

	assert.InDelta(t, 2.0/3.0, q.precision, 1e-9)
	assert.InDelta(t, 1.0, q.recall, 1e-9)
	assert.InDelta(t, 1.0, q.rr, 1e-9)
	ideal := 1 + 1/math.Log2(3) + 0.5
	assert.InDelta(t, 1.5/ideal, q.ndcg, 1e-9)

	miss := scoreQuery([]string{"zwrot"}, "dostawa")
	assert.Equal(t, quality{}, miss)
}

func TestQualityMean(t *testing.T) {
	var total quality
	total.add(quality{precision: 1, recall: 1, rr: 1, ndcg: 1})
	total.add(quality{precision: 0, recall: 1, rr: 0.5, ndcg: 0})

	assert.Equal(t, quality{precision: 0.5, recall: 1, rr: 0.75, ndcg: 0.5}, total.mean(2))
}

func TestPercentiles(t *testing.T) {
	var d []time.Duration
	for i := 100; i >= 1; i-- {
		d = append(d, time.Duration(i)*time.Millisecond)
	}

	p50, p95 := percentiles(d)
	assert.Equal(t, 51*time.Millisecond, p50)
	assert.Equal(t, 96*time.Millisecond, p95)

	p50, p95 = percentiles(nil)
	assert.Zero(t, p50)
	assert.Zero(t, p95)
}
