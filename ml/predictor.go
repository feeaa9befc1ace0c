// Package ml serves the iris species classifier. The model is a multinomial logistic regression
// exported as JSON and loaded lazily on first use.
package ml

import (
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"sync"

	"github.com/goccy/go-json"
)

var Species = map[int]string{0: "setosa", 1: "versicolor", 2: "virginica"}

// Model holds per-class weights; Coef[i] has one weight per feature.
type Model struct {
	Classes      []int       `json:"classes"`
	FeatureNames []string    `json:"feature_names,omitempty"`
	Coef         [][]float64 `json:"coef"`
	Intercept    []float64   `json:"intercept"`
}

func (m *Model) validate() error {
	if len(m.Coef) == 0 || len(m.Coef) != len(m.Intercept) || len(m.Coef) != len(m.Classes) {
		return errors.New("model shape mismatch between classes, coef and intercept")
	}
	n := len(m.Coef[0])
	for _, row := range m.Coef {
		if len(row) != n {
			return errors.New("ragged coefficient matrix")
		}
	}
	return nil
}

type Probability struct {
	Label string  `json:"label"`
	P     float64 `json:"p"`
}

type Prediction struct {
	OK            bool          `json:"ok"`
	Prediction    int           `json:"prediction"`
	Label         string        `json:"label,omitempty"`
	Probabilities []Probability `json:"probabilities,omitempty"`
	Error         string        `json:"error,omitempty"`
}

type Predictor struct {
	Path string

	mu    sync.Mutex
	model *Model
}

func NewPredictor(path string) *Predictor {
	return &Predictor{Path: path}
}

// load reads the model once. Failed loads are not cached so a model dropped in later is picked up.
func (p *Predictor) load() (*Model, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.model != nil {
		return p.model, nil
	}
	data, err := os.ReadFile(p.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("Model not found at %s", p.Path)
		}
		return nil, err
	}
	var m Model
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode model: %w", err)
	}
	if err := m.validate(); err != nil {
		return nil, err
	}
	p.model = &m
	return p.model, nil
}

func (p *Predictor) Predict(features []float64) Prediction {
	m, err := p.load()
	if err != nil {
		return Prediction{Error: err.Error()}
	}
	probs, err := m.probabilities(features)
	if err != nil {
		return Prediction{Error: fmt.Sprintf("Prediction error: %v", err)}
	}
	best := 0
	for i := range probs {
		if probs[i] > probs[best] {
			best = i
		}
	}
	out := Prediction{OK: true, Prediction: m.Classes[best], Label: Species[m.Classes[best]]}
	for i, pr := range probs {
		out.Probabilities = append(out.Probabilities, Probability{Label: Species[m.Classes[i]], P: pr})
	}
	return out
}

func (m *Model) probabilities(x []float64) ([]float64, error) {
	if len(x) != len(m.Coef[0]) {
		return nil, fmt.Errorf("X has %d features, but the model is expecting %d features as input", len(x), len(m.Coef[0]))
	}
	scores := make([]float64, len(m.Coef))
	maxScore := math.Inf(-1)
	for i, row := range m.Coef {
		s := m.Intercept[i]
		for j, w := range row {
			s += w * x[j]
		}
		scores[i] = s
		maxScore = math.Max(maxScore, s)
	}
	var sum float64
	for i := range scores {
		scores[i] = math.Exp(scores[i] - maxScore)
		sum += scores[i]
	}
	for i := range scores {
		scores[i] /= sum
	}
	return scores, nil
}
