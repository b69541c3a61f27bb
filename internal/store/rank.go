package store

import (
	"math"
	"sort"
)

// Cosine returns the cosine similarity of a and b. Vectors of different length
// are compared over their common prefix only, magnitudes included. An empty or
// zero-magnitude vector scores 0.
func Cosine(a, b []float32) float64 {
	n := min(len(a), len(b))
	if n == 0 {
		return 0
	}

	var dot, magA, magB float64
	for i := 0; i < n; i++ {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		magA += x * x
		magB += y * y
	}

	if magA == 0 || magB == 0 {
		return 0
	}
	return dot / (math.Sqrt(magA) * math.Sqrt(magB))
}

// Rank scores every record accepted by keep (nil keeps all) against query and
// returns the best topK in descending score order. Equal scores keep record
// order. A topK of zero or less returns every scored record.
func Rank(records []Record, query []float32, topK int, keep func(*Record) bool) []Result {
	results := make([]Result, 0, len(records))
	for i := range records {
		r := &records[i]
		if keep != nil && !keep(r) {
			continue
		}
		results = append(results, Result{Record: r, Score: Cosine(query, r.Embedding)})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	if topK > 0 && len(results) > topK {
		results = results[:topK]
	}
	return results
}
