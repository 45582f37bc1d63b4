package classifier

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"

	"github.com/redactai/redactai/internal/safety"
)

// LinearHead is a multinomial logistic regression layer.
type LinearHead struct {
	labels  []safety.ContentCategory
	weights [][]float32
	bias    []float32
	dim     int
}

type headFile struct {
	Labels  []string    `json:"labels"`
	Dim     int         `json:"dim"`
	Weights [][]float32 `json:"weights"`
	Bias    []float32   `json:"bias"`
}

// NewLinearHead validates shapes and label names.
func NewLinearHead(labels []safety.ContentCategory, weights [][]float32, bias []float32) (*LinearHead, error) {
	if err := checkLabels(labels); err != nil {
		return nil, err
	}
	if len(weights) != len(labels) || len(bias) != len(labels) {
		return nil, fmt.Errorf("head shape mismatch: %d labels, %d weight rows, %d biases", len(labels), len(weights), len(bias))
	}
	dim := len(weights[0])
	if dim == 0 {
		return nil, errors.New("head weights are empty")
	}
	for i, row := range weights {
		if len(row) != dim {
			return nil, fmt.Errorf("weight row %d has %d columns, want %d", i, len(row), dim)
		}
	}
	return &LinearHead{labels: labels, weights: weights, bias: bias, dim: dim}, nil
}

// LoadLinearHead reads head.json.
func LoadLinearHead(path string) (*LinearHead, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read head: %w", err)
	}
	var hf headFile
	if err := json.Unmarshal(data, &hf); err != nil {
		return nil, fmt.Errorf("decode head: %w", err)
	}
	labels := make([]safety.ContentCategory, 0, len(hf.Labels))
	for _, l := range hf.Labels {
		c, err := safety.ParseContentCategory(l)
		if err != nil {
			return nil, err
		}
		labels = append(labels, c)
	}
	h, err := NewLinearHead(labels, hf.Weights, hf.Bias)
	if err != nil {
		return nil, err
	}
	if hf.Dim != 0 && hf.Dim != h.dim {
		return nil, fmt.Errorf("head dim %d does not match weights (%d)", hf.Dim, h.dim)
	}
	return h, nil
}

// Save writes head.json.
func (h *LinearHead) Save(path string) error {
	labels := make([]string, len(h.labels))
	for i, l := range h.labels {
		labels[i] = string(l)
	}
	data, err := json.Marshal(headFile{Labels: labels, Dim: h.dim, Weights: h.weights, Bias: h.bias})
	if err != nil {
		return fmt.Errorf("encode head: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

func (h *LinearHead) Labels() []safety.ContentCategory { return h.labels }

func (h *LinearHead) Dim() int { return h.dim }

// Predict returns softmax(W·x + b).
func (h *LinearHead) Predict(x []float32) ([]float64, error) {
	if len(x) != h.dim {
		return nil, fmt.Errorf("embedding has %d dims, head expects %d", len(x), h.dim)
	}
	logits := make([]float64, len(h.labels))
	for i, row := range h.weights {
		sum := float64(h.bias[i])
		for j, w := range row {
			sum += float64(w) * float64(x[j])
		}
		logits[i] = sum
	}
	return softmax(logits), nil
}

func softmax(logits []float64) []float64 {
	if len(logits) == 0 {
		return nil
	}
	maxVal := logits[0]
	for _, v := range logits[1:] {
		if v > maxVal {
			maxVal = v
		}
	}
	out := make([]float64, len(logits))
	sum := 0.0
	for i, v := range logits {
		e := math.Exp(v - maxVal)
		out[i] = e
		sum += e
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}
