// Package classifier scores text against the four content categories using an
// embedding function followed by a linear softmax head.
package classifier

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime"
	"strings"

	"github.com/redactai/redactai/internal/safety"
)

// ErrUnavailable marks every failure that prevents a classification.
var ErrUnavailable = errors.New("classifier unavailable")

// Unavailable wraps err so errors.Is(err, ErrUnavailable) holds.
func Unavailable(err error) error {
	if err == nil {
		return ErrUnavailable
	}
	if errors.Is(err, ErrUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrUnavailable, err)
}

// Encoder turns text into a fixed-size embedding.
type Encoder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dim() int
	Close() error
}

// Predictor maps an embedding to one probability per label.
type Predictor interface {
	Predict(embedding []float32) ([]float64, error)
	Labels() []safety.ContentCategory
}

// Classifier is immutable after construction and safe for concurrent use.
type Classifier struct {
	encoder   Encoder
	predictor Predictor
	slots     chan struct{}
	version   string
}

// New builds a classifier. workers bounds concurrent inference; <=0 uses NumCPU.
func New(enc Encoder, pred Predictor, workers int, version string) (*Classifier, error) {
	if enc == nil || pred == nil {
		return nil, errors.New("encoder and predictor are required")
	}
	if err := checkLabels(pred.Labels()); err != nil {
		return nil, err
	}
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Classifier{
		encoder:   enc,
		predictor: pred,
		slots:     make(chan struct{}, workers),
		version:   version,
	}, nil
}

// Version is the artifact version the classifier was loaded from.
func (c *Classifier) Version() string {
	if c == nil {
		return ""
	}
	return c.version
}

// Classify returns the arg-max category and its probability. Any failure is
// reported as ErrUnavailable and never as a confident Safe.
func (c *Classifier) Classify(ctx context.Context, text string) (safety.ClassificationResult, error) {
	if c == nil || c.encoder == nil || c.predictor == nil {
		return safety.ClassificationResult{}, Unavailable(errors.New("classifier not loaded"))
	}
	if strings.TrimSpace(text) == "" {
		return uniformSafe(), nil
	}

	select {
	case c.slots <- struct{}{}:
	case <-ctx.Done():
		return safety.ClassificationResult{}, Unavailable(ctx.Err())
	}
	defer func() { <-c.slots }()

	vec, err := c.encoder.Embed(ctx, text)
	if err != nil {
		return safety.ClassificationResult{}, Unavailable(fmt.Errorf("embed: %w", err))
	}
	probs, err := c.predictor.Predict(vec)
	if err != nil {
		return safety.ClassificationResult{}, Unavailable(fmt.Errorf("predict: %w", err))
	}
	return resultFromProbs(c.predictor.Labels(), probs)
}

// Close releases encoder resources.
func (c *Classifier) Close() error {
	if c == nil || c.encoder == nil {
		return nil
	}
	return c.encoder.Close()
}

func uniformSafe() safety.ClassificationResult {
	n := len(safety.ContentCategories)
	p := 1.0 / float64(n)
	probs := make(map[safety.ContentCategory]float64, n)
	for _, c := range safety.ContentCategories {
		probs[c] = p
	}
	return safety.ClassificationResult{Category: safety.ContentSafe, Confidence: p, Probabilities: probs}
}

func resultFromProbs(labels []safety.ContentCategory, probs []float64) (safety.ClassificationResult, error) {
	if len(probs) != len(labels) {
		return safety.ClassificationResult{}, Unavailable(fmt.Errorf("got %d probabilities for %d labels", len(probs), len(labels)))
	}
	best := -1
	out := make(map[safety.ContentCategory]float64, len(labels))
	for i, p := range probs {
		if math.IsNaN(p) || p < 0 || p > 1 {
			return safety.ClassificationResult{}, Unavailable(fmt.Errorf("probability %v out of range", p))
		}
		out[labels[i]] = p
		if best < 0 || p > probs[best] {
			best = i
		}
	}
	return safety.ClassificationResult{
		Category:      labels[best],
		Confidence:    probs[best],
		Probabilities: out,
	}, nil
}

func checkLabels(labels []safety.ContentCategory) error {
	if len(labels) != len(safety.ContentCategories) {
		return fmt.Errorf("head must have %d labels, got %d", len(safety.ContentCategories), len(labels))
	}
	seen := make(map[safety.ContentCategory]bool, len(labels))
	for _, l := range labels {
		if _, err := safety.ParseContentCategory(string(l)); err != nil {
			return err
		}
		if seen[l] {
			return fmt.Errorf("duplicate label %q", l)
		}
		seen[l] = true
	}
	return nil
}
