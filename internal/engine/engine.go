// Package engine combines pattern detection and semantic classification into a
// single scored, explained decision.
package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/redactai/redactai/internal/detect"
	"github.com/redactai/redactai/internal/redact"
	"github.com/redactai/redactai/internal/safety"
	"github.com/redactai/redactai/internal/telemetry"
)

const (
	DefaultMaxTextBytes      = 100_000
	DefaultClassifierTimeout = 2 * time.Second
)

// Classifier is the capability the engine needs from the semantic classifier.
type Classifier interface {
	Classify(ctx context.Context, text string) (safety.ClassificationResult, error)
}

// Context describes where the text came from. It never affects the score.
type Context struct {
	UserID   string
	Platform string
}

// Options configures scoring. Zero values take the package defaults.
type Options struct {
	Thresholds        safety.Thresholds
	CategoryWeights   safety.CategoryWeights
	HighSeverityBonus int
	MaxTextBytes      int
	ClassifierTimeout time.Duration
	Telemetry         *telemetry.Provider
	Now               func() time.Time
}

// Engine is immutable after New and safe for concurrent use.
type Engine struct {
	detector   *detect.Detector
	classifier Classifier
	opts       Options
}

// New validates the scoring tables. cls may be nil for regex-only operation.
func New(detector *detect.Detector, cls Classifier, opts Options) (*Engine, error) {
	if detector == nil {
		return nil, errors.New("engine: detector is required")
	}
	if opts.Thresholds == (safety.Thresholds{}) {
		opts.Thresholds = safety.DefaultThresholds
	}
	if opts.CategoryWeights == nil {
		opts.CategoryWeights = safety.WeightsFor(opts.Thresholds)
	}
	if opts.HighSeverityBonus < 0 {
		opts.HighSeverityBonus = 0
	}
	if opts.MaxTextBytes <= 0 {
		opts.MaxTextBytes = DefaultMaxTextBytes
	}
	if opts.ClassifierTimeout <= 0 {
		opts.ClassifierTimeout = DefaultClassifierTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if err := opts.Thresholds.Validate(); err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	if err := opts.CategoryWeights.Validate(opts.Thresholds); err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	return &Engine{detector: detector, classifier: cls, opts: opts}, nil
}

// Thresholds returns the tier boundaries in use.
func (e *Engine) Thresholds() safety.Thresholds { return e.opts.Thresholds }

// ClassifierConfigured reports whether a classifier was supplied.
func (e *Engine) ClassifierConfigured() bool { return e.classifier != nil }

// Validate applies the input checks Assess runs first.
func (e *Engine) Validate(text string) error {
	if strings.TrimSpace(text) == "" {
		return &ValidationError{Err: ErrEmptyText}
	}
	if len(text) > e.opts.MaxTextBytes {
		return &ValidationError{Err: ErrTextTooLarge, Size: len(text), Limit: e.opts.MaxTextBytes}
	}
	if !utf8.ValidString(text) {
		return &ValidationError{Err: ErrInvalidText}
	}
	return nil
}

type classifyOutcome struct {
	res safety.ClassificationResult
	err error
	dur time.Duration
}

// Assess scores text. The pattern detector and classifier run concurrently;
// a classifier failure or timeout falls back to the pattern score alone and
// is reported through ClassifierAvailable, never as an error.
func (e *Engine) Assess(ctx context.Context, text string, c Context) (*safety.RiskAssessment, error) {
	if err := e.Validate(text); err != nil {
		return nil, err
	}
	start := time.Now()
	ctx, span := e.opts.Telemetry.StartSpan(ctx, "engine.assess", map[string]interface{}{
		"platform":    c.Platform,
		"input_bytes": len(text),
	})
	defer span.End()

	var clsCh chan classifyOutcome
	if e.classifier != nil {
		clsCh = make(chan classifyOutcome, 1)
		go func() {
			cctx, cancel := context.WithTimeout(ctx, e.opts.ClassifierTimeout)
			defer cancel()
			t0 := time.Now()
			res, err := e.classifier.Classify(cctx, text)
			clsCh <- classifyOutcome{res: res, err: err, dur: time.Since(t0)}
		}()
	}

	matches := e.detector.Detect(text)
	patternScore := detect.RawScore(matches, e.opts.HighSeverityBonus)

	var (
		cls       safety.ClassificationResult
		available bool
	)
	if clsCh != nil {
		out := e.awaitClassifier(clsCh)
		if out.err == nil {
			out.err = checkClassification(out.res)
		}
		available = out.err == nil
		e.opts.Telemetry.RecordClassifier(ctx, float64(out.dur.Microseconds())/1000, available)
		if available {
			cls = out.res
		} else {
			redact.Logf("engine: classifier unavailable, using pattern score only: %v", out.err)
		}
	}

	score := float64(patternScore)
	if available {
		score += e.opts.CategoryWeights[cls.Category] * cls.Confidence
	}
	overall := clamp(int(math.Round(score)), 0, 100)
	decision := safety.DecisionFor(overall, e.opts.Thresholds)

	a := &safety.RiskAssessment{
		OverallScore:        overall,
		PatternScore:        patternScore,
		Decision:            decision,
		Detections:          matches,
		AICategory:          safety.ContentSafe,
		ClassifierAvailable: available,
		Timestamp:           e.opts.Now().UTC(),
	}
	if a.Detections == nil {
		a.Detections = []safety.DetectionMatch{}
	}
	// Without a classifier the category stays Safe at zero confidence; the
	// score above is pattern-only and classifier_available is false.
	if available {
		a.AICategory = cls.Category
		a.AIConfidence = cls.Confidence
		a.AIProbabilities = cls.Probabilities
	}
	a.Explanation = Explain(a)

	span.SetAttributes(telemetry.SafeAttributes(map[string]interface{}{
		"decision":             decision,
		"overall_score":        overall,
		"pattern_score":        patternScore,
		"detection_kinds":      a.DetectionKinds(),
		"classifier_available": available,
	})...)
	e.opts.Telemetry.RecordAssessment(ctx, string(decision), available, float64(time.Since(start).Microseconds())/1000)
	return a, nil
}

// awaitClassifier bounds the wait even when a classifier ignores its context.
func (e *Engine) awaitClassifier(ch <-chan classifyOutcome) classifyOutcome {
	timer := time.NewTimer(e.opts.ClassifierTimeout)
	defer timer.Stop()
	select {
	case out := <-ch:
		return out
	case <-timer.C:
		return classifyOutcome{err: fmt.Errorf("classification timed out after %s", e.opts.ClassifierTimeout), dur: e.opts.ClassifierTimeout}
	}
}

func checkClassification(r safety.ClassificationResult) error {
	if _, err := safety.ParseContentCategory(string(r.Category)); err != nil {
		return err
	}
	if math.IsNaN(r.Confidence) || r.Confidence < 0 || r.Confidence > 1 {
		return fmt.Errorf("confidence %v out of range", r.Confidence)
	}
	return nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
