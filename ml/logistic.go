package ml

import (
	"errors"
	"math"
	"sort"
)

// Training hyperparameters. Fixed so that identical input data always
// produces the same fitted model.
const (
	randomSeed   = 42
	testRatio    = 0.2
	maxIter      = 1000
	learningRate = 0.1
	l2Penalty    = 1.0
)

// StandardScaler standardizes feature columns to zero mean and unit
// variance. It is fit on the training split only and then applied
// unchanged to the test split.
type StandardScaler struct {
	Mean []float64 `json:"mean"`
	Std  []float64 `json:"std"`
}

// Fit computes per-column mean and standard deviation.
func (s *StandardScaler) Fit(x [][]float64) error {
	if len(x) == 0 {
		return errors.New("cannot fit scaler on empty matrix")
	}
	cols := len(x[0])
	s.Mean = make([]float64, cols)
	s.Std = make([]float64, cols)

	for j := 0; j < cols; j++ {
		sum := 0.0
		for i := range x {
			sum += x[i][j]
		}
		mean := sum / float64(len(x))

		variance := 0.0
		for i := range x {
			d := x[i][j] - mean
			variance += d * d
		}
		variance /= float64(len(x))

		s.Mean[j] = mean
		std := math.Sqrt(variance)
		if std == 0 {
			// Constant column: leave values at zero after centering.
			std = 1
		}
		s.Std[j] = std
	}
	return nil
}

// Transform returns a standardized copy of the matrix.
func (s *StandardScaler) Transform(x [][]float64) ([][]float64, error) {
	if len(s.Mean) == 0 {
		return nil, errors.New("scaler not fitted")
	}
	out := make([][]float64, len(x))
	for i := range x {
		if len(x[i]) != len(s.Mean) {
			return nil, errors.New("column count does not match fitted scaler")
		}
		row := make([]float64, len(x[i]))
		for j := range x[i] {
			row[j] = (x[i][j] - s.Mean[j]) / s.Std[j]
		}
		out[i] = row
	}
	return out, nil
}

// LogisticModel is a fitted binary linear classifier. The decision
// function is monotonic in the weighted linear combination of the
// standardized features.
type LogisticModel struct {
	Weights   []float64 `json:"weights"`
	Intercept float64   `json:"intercept"`
}

// fitLogistic trains the classifier by batch gradient descent on the
// weighted log loss with an L2 penalty. Class weights compensate for
// label imbalance without resampling: weight(c) = n / (2 * count(c)).
func fitLogistic(x [][]float64, y []int) (*LogisticModel, error) {
	n := len(x)
	if n == 0 {
		return nil, errors.New("empty training matrix")
	}
	cols := len(x[0])

	var positives int
	for _, label := range y {
		if label == 1 {
			positives++
		}
	}
	negatives := n - positives
	if positives == 0 || negatives == 0 {
		return nil, errors.New("training split has a single label class")
	}
	classWeight := [2]float64{
		float64(n) / (2 * float64(negatives)),
		float64(n) / (2 * float64(positives)),
	}

	m := &LogisticModel{Weights: make([]float64, cols)}
	grad := make([]float64, cols)

	for iter := 0; iter < maxIter; iter++ {
		for j := range grad {
			grad[j] = 0
		}
		gradIntercept := 0.0

		for i := 0; i < n; i++ {
			p := sigmoid(m.decision(x[i]))
			residual := classWeight[y[i]] * (p - float64(y[i]))
			for j := 0; j < cols; j++ {
				grad[j] += residual * x[i][j]
			}
			gradIntercept += residual
		}

		scale := learningRate / float64(n)
		for j := 0; j < cols; j++ {
			m.Weights[j] -= scale * (grad[j] + l2Penalty*m.Weights[j])
		}
		m.Intercept -= scale * gradIntercept
	}
	return m, nil
}

func (m *LogisticModel) decision(row []float64) float64 {
	z := m.Intercept
	for j, w := range m.Weights {
		z += w * row[j]
	}
	return z
}

// PredictProba returns the churn probability for one standardized
// feature vector.
func (m *LogisticModel) PredictProba(row []float64) (float64, error) {
	if len(row) != len(m.Weights) {
		return 0, errors.New("feature vector length does not match model")
	}
	return sigmoid(m.decision(row)), nil
}

func sigmoid(z float64) float64 {
	return 1 / (1 + math.Exp(-z))
}

// rocAUC computes the area under the ROC curve via the rank statistic,
// averaging ranks across score ties. Returns NaN when the labels contain
// a single class.
func rocAUC(labels []int, scores []float64) float64 {
	type scored struct {
		score float64
		label int
	}
	items := make([]scored, len(labels))
	for i := range labels {
		items[i] = scored{scores[i], labels[i]}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].score < items[j].score })

	ranks := make([]float64, len(items))
	for i := 0; i < len(items); {
		j := i
		for j < len(items) && items[j].score == items[i].score {
			j++
		}
		// Tied scores share the average of their ordinal ranks.
		avg := float64(i+j+1) / 2
		for k := i; k < j; k++ {
			ranks[k] = avg
		}
		i = j
	}

	var positives, rankSum float64
	for i, item := range items {
		if item.label == 1 {
			positives++
			rankSum += ranks[i]
		}
	}
	negatives := float64(len(items)) - positives
	if positives == 0 || negatives == 0 {
		return math.NaN()
	}
	return (rankSum - positives*(positives+1)/2) / (positives * negatives)
}

// roundFP rounds to the given number of decimal places. Non-finite
// values report ok=false and must be treated as missing: they never
// reach persisted metadata.
func roundFP(v float64, decimals int) (float64, bool) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	factor := math.Pow(10, float64(decimals))
	return math.Round(v*factor) / factor, true
}
