package features

// RunningMean is an incremental arithmetic mean. Unlike halving the previous
// value on every update it does not depend on the order of observations.
type RunningMean struct {
	Count int
	Mean  float64
}

func (m *RunningMean) Add(x float64) {
	m.Count++
	m.Mean += (x - m.Mean) / float64(m.Count)
}

// Merge folds in n observations whose sum is known.
func (m *RunningMean) Merge(sum float64, n int) {
	if n <= 0 {
		return
	}
	total := m.Count + n
	m.Mean = (m.Mean*float64(m.Count) + sum) / float64(total)
	m.Count = total
}

// BayesianAverage shrinks a sample mean towards priorMean with the weight of
// priorWeight pseudo-observations.
func BayesianAverage(sum float64, n int, priorMean, priorWeight float64) float64 {
	if n <= 0 && priorWeight <= 0 {
		return 0
	}
	return (priorWeight*priorMean + sum) / (priorWeight + float64(n))
}
