package similarity

import "math"

// Metric selects how a dimension's numeric fields are compared.
type Metric string

const (
	// MetricDistance is 1 minus the RMS distance between unit-scaled vectors.
	MetricDistance Metric = "distance"
	// MetricCosine is the cosine of the angle between unit-scaled vectors.
	MetricCosine Metric = "cosine"
)

// Vector is a dimension's numeric fields scaled to [0,1].
type Vector = []float64

// CosineSimilarity computes cosine similarity between two vectors.
// Two zero vectors are identical; a zero and a non-zero vector share nothing.
func CosineSimilarity(a, b Vector) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 && normB == 0 {
		return 1
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// DistanceSimilarity is 1 minus the root mean squared difference. For vectors
// in [0,1] the result is in [0,1].
func DistanceSimilarity(a, b Vector) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	sq := 0.0
	for i := range a {
		d := a[i] - b[i]
		sq += d * d
	}
	return 1 - math.Sqrt(sq/float64(len(a)))
}

func (m Metric) compare(a, b Vector) float64 {
	if m == MetricCosine {
		return CosineSimilarity(a, b)
	}
	return DistanceSimilarity(a, b)
}

// signed maps a value in [-1,1] onto [0,1].
func signed(v float64) float64 { return (v + 1) / 2 }
