package classify

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/greenwave/internal/fsutil"
	"github.com/banshee-data/greenwave/internal/telemetry"
)

// featureDims is the width of a feature vector: queue, wait, occupancy.
const featureDims = 3

// maxLloydIterations bounds the fit loop; assignments converge long before
// this on any plausible batch.
const maxLloydIterations = 100

// KMeans is a clustering classifier fitted once from a batch of historical
// feature vectors. Features are standardized per dimension before distance
// computation; centroids are ordered by congestion score so Label(0) is the
// quietest cluster and Label(k-1) the most congested.
type KMeans struct {
	centroids [][]float64 // standardized space, ordered by congestion
	means     []float64
	scales    []float64
}

// FitKMeans fits k clusters over the batch. Initialization is
// deterministic (farthest-point seeding from the lowest-congestion sample),
// so a fixed batch always produces the same model.
func FitKMeans(batch [][]float64, k int) (*KMeans, error) {
	if k < 2 {
		return nil, fmt.Errorf("%w: cluster count must be at least 2, got %d", ErrFitFailure, k)
	}
	if len(batch) < k {
		return nil, fmt.Errorf("%w: %d samples cannot support %d clusters", ErrFitFailure, len(batch), k)
	}
	for i, v := range batch {
		if len(v) != featureDims {
			return nil, fmt.Errorf("%w: sample %d has %d dimensions, want %d", ErrFitFailure, i, len(v), featureDims)
		}
	}

	means, scales := standardization(batch)
	points := make([][]float64, len(batch))
	for i, v := range batch {
		points[i] = standardize(v, means, scales)
	}

	centroids := seedCentroids(points, k)
	assignments := make([]int, len(points))

	for iter := 0; iter < maxLloydIterations; iter++ {
		changed := false
		for i, p := range points {
			best := nearest(centroids, p)
			if best != assignments[i] {
				assignments[i] = best
				changed = true
			}
		}
		if !changed && iter > 0 {
			break
		}

		// Recompute centroids; an emptied cluster is reseeded with the
		// point farthest from its current centroid assignment.
		counts := make([]int, k)
		sums := make([][]float64, k)
		for c := range sums {
			sums[c] = make([]float64, featureDims)
		}
		for i, p := range points {
			c := assignments[i]
			counts[c]++
			floats.Add(sums[c], p)
		}
		for c := 0; c < k; c++ {
			if counts[c] == 0 {
				centroids[c] = farthestPoint(points, centroids)
				continue
			}
			floats.Scale(1/float64(counts[c]), sums[c])
			centroids[c] = sums[c]
		}
	}

	// Order clusters low→high congestion. Score is the mean standardized
	// coordinate: queues, waits, and occupancy all grow with congestion.
	sort.Slice(centroids, func(i, j int) bool {
		return congestionScore(centroids[i]) < congestionScore(centroids[j])
	})

	return &KMeans{centroids: centroids, means: means, scales: scales}, nil
}

// Classify assigns the nearest cluster. The all-zero rule is explicit: an
// empty intersection always gets the lowest label regardless of where the
// fitted centroids landed.
func (m *KMeans) Classify(f telemetry.IntersectionFeature) Label {
	if f.IsZero() {
		return Label(0)
	}
	p := standardize(f.Vector(), m.means, m.scales)
	return Label(nearest(m.centroids, p))
}

// Labels returns the fitted cluster count.
func (m *KMeans) Labels() int {
	return len(m.centroids)
}

// modelFile is the on-disk classifier model: either pre-computed centroids
// (raw feature space) or a batch of historical samples to fit from.
type modelFile struct {
	Centroids [][]float64 `json:"centroids,omitempty"`
	Samples   [][]float64 `json:"samples,omitempty"`
}

// LoadKMeans reads a model file. A file with centroids is used as-is; a
// file with samples is fitted with k clusters.
func LoadKMeans(fs fsutil.FileSystem, path string, k int) (*KMeans, error) {
	data, err := fs.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read model %s: %v", ErrFitFailure, path, err)
	}
	var mf modelFile
	if err := json.Unmarshal(data, &mf); err != nil {
		return nil, fmt.Errorf("%w: parse model %s: %v", ErrFitFailure, path, err)
	}

	switch {
	case len(mf.Centroids) > 0:
		if len(mf.Centroids) < 2 {
			return nil, fmt.Errorf("%w: model %s has %d centroids, need at least 2", ErrFitFailure, path, len(mf.Centroids))
		}
		centroids := make([][]float64, len(mf.Centroids))
		for i, c := range mf.Centroids {
			if len(c) != featureDims {
				return nil, fmt.Errorf("%w: centroid %d has %d dimensions, want %d", ErrFitFailure, i, len(c), featureDims)
			}
			centroids[i] = append([]float64(nil), c...)
		}
		sort.Slice(centroids, func(i, j int) bool {
			return congestionScore(centroids[i]) < congestionScore(centroids[j])
		})
		// Identity scaling: stored centroids are in raw feature space.
		return &KMeans{
			centroids: centroids,
			means:     make([]float64, featureDims),
			scales:    []float64{1, 1, 1},
		}, nil
	case len(mf.Samples) > 0:
		return FitKMeans(mf.Samples, k)
	default:
		return nil, fmt.Errorf("%w: model %s has neither centroids nor samples", ErrFitFailure, path)
	}
}

// standardization computes per-dimension mean and scale over the batch.
// A constant dimension gets scale 1 so it contributes nothing to distance
// without dividing by zero.
func standardization(batch [][]float64) (means, scales []float64) {
	means = make([]float64, featureDims)
	scales = make([]float64, featureDims)
	column := make([]float64, len(batch))
	for d := 0; d < featureDims; d++ {
		for i, v := range batch {
			column[i] = v[d]
		}
		means[d] = stat.Mean(column, nil)
		sd := stat.StdDev(column, nil)
		if sd == 0 || math.IsNaN(sd) {
			sd = 1
		}
		scales[d] = sd
	}
	return means, scales
}

func standardize(v, means, scales []float64) []float64 {
	out := make([]float64, len(v))
	for d := range v {
		out[d] = (v[d] - means[d]) / scales[d]
	}
	return out
}

func congestionScore(p []float64) float64 {
	return floats.Sum(p) / float64(len(p))
}

func nearest(centroids [][]float64, p []float64) int {
	best := 0
	bestDist := math.Inf(1)
	for i, c := range centroids {
		if d := floats.Distance(p, c, 2); d < bestDist {
			best = i
			bestDist = d
		}
	}
	return best
}

// seedCentroids picks k starting centroids deterministically: the sample
// with the lowest congestion score first, then repeatedly the sample
// farthest from all chosen centroids. Ties break on sample order.
func seedCentroids(points [][]float64, k int) [][]float64 {
	first := 0
	firstScore := math.Inf(1)
	for i, p := range points {
		if s := congestionScore(p); s < firstScore {
			first = i
			firstScore = s
		}
	}

	centroids := make([][]float64, 0, k)
	centroids = append(centroids, append([]float64(nil), points[first]...))
	for len(centroids) < k {
		centroids = append(centroids, append([]float64(nil), farthestPoint(points, centroids)...))
	}
	return centroids
}

// farthestPoint returns the sample with the greatest distance to its
// nearest centroid.
func farthestPoint(points, centroids [][]float64) []float64 {
	best := points[0]
	bestDist := -1.0
	for _, p := range points {
		d := math.Inf(1)
		for _, c := range centroids {
			if dd := floats.Distance(p, c, 2); dd < d {
				d = dd
			}
		}
		if d > bestDist {
			best = p
			bestDist = d
		}
	}
	return best
}
