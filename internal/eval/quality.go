// Package eval scores ranked retrieval results against labelled
// expectations.
package eval

import (
	"math"

	"kbrag/internal/domain"
)

// Labels returns the metadata value under key for each result, in rank order.
func Labels(results []domain.ScoredChunk, key string) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.Chunk.Metadata.String(key)
	}
	return out
}

// PrecisionAtK is the share of retrieved labels that are relevant.
// Duplicate labels count once per occurrence.
func PrecisionAtK(retrieved, relevant []string) float64 {
	if len(retrieved) == 0 {
		return 0
	}
	set := toSet(relevant)
	hits := 0
	for _, r := range retrieved {
		if _, ok := set[r]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(retrieved))
}

// RecallAtK is the share of relevant labels that were retrieved at least once.
func RecallAtK(retrieved, relevant []string) float64 {
	set := toSet(relevant)
	if len(set) == 0 {
		return 0
	}
	found := make(map[string]struct{})
	for _, r := range retrieved {
		if _, ok := set[r]; ok {
			found[r] = struct{}{}
		}
	}
	return float64(len(found)) / float64(len(set))
}

// ReciprocalRank is 1/rank of the first relevant label, or 0.
func ReciprocalRank(retrieved []string, relevant string) float64 {
	for i, r := range retrieved {
		if r == relevant {
			return 1.0 / float64(i+1)
		}
	}
	return 0
}

// NDCG normalizes the discounted cumulative gain of gains against ideal.
func NDCG(gains, ideal []float64) float64 {
	idcg := dcg(ideal)
	if idcg == 0 {
		return 0
	}
	return dcg(gains) / idcg
}

// BinaryGains maps each retrieved label to 1 when it equals relevant.
func BinaryGains(retrieved []string, relevant string) []float64 {
	out := make([]float64, len(retrieved))
	for i, r := range retrieved {
		if r == relevant {
			out[i] = 1
		}
	}
	return out
}

func dcg(gains []float64) float64 {
	total := 0.0
	for i, g := range gains {
		total += g / math.Log2(float64(i+2))
	}
	return total
}

func toSet(items []string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, s := range items {
		set[s] = struct{}{}
	}
	return set
}
