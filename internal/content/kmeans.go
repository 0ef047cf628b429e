package content

import (
	"context"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"
)

type clustering struct {
	centroids  [][]float64
	assign     []int
	iterations int
}

// kmeans runs Lloyd iterations from k-means++ seeds. k must be in [1, n].
// An emptied cluster keeps its previous centroid.
func kmeans(ctx context.Context, points [][]float64, k, maxIter int, rng *rand.Rand) (*clustering, error) {
	c := &clustering{
		centroids: seedPlusPlus(points, k, rng),
		assign:    make([]int, len(points)),
	}
	for i := range c.assign {
		c.assign[i] = -1
	}

	dim := len(points[0])
	sums := make([][]float64, k)
	for j := range sums {
		sums[j] = make([]float64, dim)
	}
	counts := make([]int, k)

	for c.iterations < maxIter {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		c.iterations++

		changed := false
		for i, p := range points {
			best := nearest(c.centroids, p)
			if best != c.assign[i] {
				c.assign[i] = best
				changed = true
			}
		}
		if !changed {
			break
		}

		for j := range sums {
			floats.Scale(0, sums[j])
			counts[j] = 0
		}
		for i, p := range points {
			floats.Add(sums[c.assign[i]], p)
			counts[c.assign[i]]++
		}
		for j := range c.centroids {
			if counts[j] == 0 {
				continue
			}
			floats.ScaleTo(c.centroids[j], 1/float64(counts[j]), sums[j])
		}
	}
	return c, nil
}

// seedPlusPlus picks the first centroid uniformly and each next one with
// probability proportional to its squared distance from the chosen set.
func seedPlusPlus(points [][]float64, k int, rng *rand.Rand) [][]float64 {
	n := len(points)
	chosen := make([]bool, n)
	centroids := make([][]float64, 0, k)

	pick := func(i int) {
		chosen[i] = true
		centroids = append(centroids, append([]float64(nil), points[i]...))
	}
	pick(rng.Intn(n))

	dist := make([]float64, n)
	for len(centroids) < k {
		var total float64
		for i, p := range points {
			d := math.Inf(1)
			for _, c := range centroids {
				if dd := sqDist(p, c); dd < d {
					d = dd
				}
			}
			dist[i] = d
			total += d
		}

		next := -1
		if total > 0 {
			target := rng.Float64() * total
			for i, d := range dist {
				target -= d
				if target <= 0 && d > 0 {
					next = i
					break
				}
			}
		}
		if next < 0 {
			// all remaining points coincide with a centroid
			for i := range points {
				if !chosen[i] {
					next = i
					break
				}
			}
		}
		pick(next)
	}
	return centroids
}

func nearest(centroids [][]float64, p []float64) int {
	best, bestDist := 0, math.Inf(1)
	for j, c := range centroids {
		if d := sqDist(p, c); d < bestDist {
			best, bestDist = j, d
		}
	}
	return best
}

func sqDist(a, b []float64) float64 {
	d := floats.Distance(a, b, 2)
	return d * d
}
