package classifier

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/redactai/redactai/internal/safety"
)

type stubEncoder struct {
	dim int
	vec []float32
	err error
}

func (s stubEncoder) Embed(context.Context, string) ([]float32, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.vec, nil
}
func (s stubEncoder) Dim() int     { return s.dim }
func (s stubEncoder) Close() error { return nil }

type stubPredictor struct {
	probs []float64
	err   error
}

func (s stubPredictor) Predict([]float32) ([]float64, error) { return s.probs, s.err }
func (s stubPredictor) Labels() []safety.ContentCategory  { return safety.ContentCategories }

func TestClassifyPicksArgMax(t *testing.T) {
	c, err := New(stubEncoder{dim: 2, vec: []float32{1, 0}}, stubPredictor{probs: []float64{0.7, 0.1, 0.1, 0.1}}, 1, "v1")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	res, err := c.Classify(context.Background(), "my key is abc")
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if res.Category != safety.ContentCredentials || res.Confidence != 0.7 {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(res.Probabilities) != 4 {
		t.Fatalf("expected 4 probabilities, got %d", len(res.Probabilities))
	}
	if c.Version() != "v1" {
		t.Fatalf("version = %q", c.Version())
	}
}

func TestClassifyEmptyTextIsUniformSafe(t *testing.T) {
	c, err := New(stubEncoder{dim: 2, err: errors.New("must not be called")}, stubPredictor{}, 1, "")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	res, err := c.Classify(context.Background(), "   ")
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if res.Category != safety.ContentSafe || math.Abs(res.Confidence-0.25) > 1e-9 {
		t.Fatalf("expected uniform safe, got %+v", res)
	}
}

func TestClassifyFailuresAreUnavailable(t *testing.T) {
	cases := map[string]*Classifier{}
	var err error
	cases["embed"], err = New(stubEncoder{dim: 2, err: errors.New("boom")}, stubPredictor{probs: []float64{0.25, 0.25, 0.25, 0.25}}, 1, "")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	cases["predict"], _ = New(stubEncoder{dim: 2, vec: []float32{0, 1}}, stubPredictor{err: errors.New("bad shape")}, 1, "")
	cases["nan"], _ = New(stubEncoder{dim: 2, vec: []float32{0, 1}}, stubPredictor{probs: []float64{math.NaN(), 0, 0, 0}}, 1, "")
	cases["short"], _ = New(stubEncoder{dim: 2, vec: []float32{0, 1}}, stubPredictor{probs: []float64{1}}, 1, "")

	for name, c := range cases {
		_, err := c.Classify(context.Background(), "hello")
		if !errors.Is(err, ErrUnavailable) {
			t.Fatalf("%s: expected ErrUnavailable, got %v", name, err)
		}
	}

	var nilClassifier *Classifier
	if _, err := nilClassifier.Classify(context.Background(), "x"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("nil classifier: expected ErrUnavailable, got %v", err)
	}
}

func TestClassifyHonoursContextWhileWaitingForSlot(t *testing.T) {
	c, err := New(stubEncoder{dim: 2, vec: []float32{1, 0}}, stubPredictor{probs: []float64{0.25, 0.25, 0.25, 0.25}}, 1, "")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	c.slots <- struct{}{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.Classify(ctx, "hello"); !errors.Is(err, ErrUnavailable) || !errors.Is(err, context.Canceled) {
		t.Fatalf("expected unavailable wrapping context.Canceled, got %v", err)
	}
}

func TestNewRejectsBadLabels(t *testing.T) {
	bad := badLabelPredictor{}
	if _, err := New(stubEncoder{dim: 2}, bad, 1, ""); err == nil {
		t.Fatalf("expected label validation error")
	}
}

type badLabelPredictor struct{}

func (badLabelPredictor) Predict([]float32) ([]float64, error) { return nil, nil }
func (badLabelPredictor) Labels() []safety.ContentCategory {
	return []safety.ContentCategory{safety.ContentSafe, safety.ContentSafe, safety.ContentCredentials, safety.ContentPersonalData}
}

func TestDecideMode(t *testing.T) {
	mode, err := DecideMode(false, false, nil)
	if err != nil || mode != ModeRegexOnly {
		t.Fatalf("unconfigured: mode=%s err=%v", mode, err)
	}
	if _, err := DecideMode(false, true, nil); err == nil {
		t.Fatalf("expected error when required but not configured")
	}
	mode, err = DecideMode(true, false, nil)
	if err != nil || mode != ModeML {
		t.Fatalf("loaded: mode=%s err=%v", mode, err)
	}
	mode, err = DecideMode(true, false, errors.New("corrupt"))
	if err != nil || mode != ModeRegexOnly {
		t.Fatalf("optional failure: mode=%s err=%v", mode, err)
	}
	if _, err := DecideMode(true, true, errors.New("corrupt")); err == nil {
		t.Fatalf("expected fatal error when required classifier fails")
	}
}
