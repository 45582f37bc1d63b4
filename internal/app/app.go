// Package app wires configuration into a ready decision engine, shared by the
// server, the CLI and the benchmark.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redactai/redactai/internal/classifier"
	"github.com/redactai/redactai/internal/config"
	"github.com/redactai/redactai/internal/detect"
	"github.com/redactai/redactai/internal/engine"
	"github.com/redactai/redactai/internal/redact"
	"github.com/redactai/redactai/internal/telemetry"
)

// Engine is a built engine plus the classifier resources behind it.
type Engine struct {
	*engine.Engine
	Mode       string
	classifier *classifier.Classifier
}

// Close releases the classifier sessions, if any.
func (e *Engine) Close() error {
	if e == nil || e.classifier == nil {
		return nil
	}
	return e.classifier.Close()
}

// BuildDetector compiles the pattern catalog plus configured extras.
func BuildDetector(d config.DetectionConfig) (*detect.Detector, error) {
	extra := make([]detect.PatternSpec, 0, len(d.ExtraPatterns))
	for _, p := range d.ExtraPatterns {
		extra = append(extra, detect.PatternSpec{Name: p.Name, Category: p.Category, Pattern: p.Pattern})
	}
	return detect.New(detect.Options{
		ExtraPatterns:    extra,
		EntropyThreshold: d.EntropyThreshold,
		EntropyMinLength: d.EntropyMinLength,
		DisableEntropy:   d.DisableEntropy,
	})
}

// LoadClassifier loads the configured artifact and decides the running mode.
// A nil classifier with a nil error means regex-only operation.
func LoadClassifier(c config.ClassifierConfig) (*classifier.Classifier, string, error) {
	configured := strings.TrimSpace(c.ModelDir) != ""
	var (
		cls     *classifier.Classifier
		loadErr error
	)
	if configured {
		pk, err := classifier.ParsePublicKey(c.ManifestPublicKey)
		// A seed model is unsigned, so it is never fitted when a manifest key is set.
		if err == nil && pk == nil && !c.DisableAutoTrain && !classifier.HasArtifact(c.ModelDir) {
			err = seedModelDir(c.ModelDir)
		}
		if err != nil {
			loadErr = err
		} else {
			cls, loadErr = classifier.Load(classifier.Options{
				ModelDir:  c.ModelDir,
				Workers:   c.Workers,
				PublicKey: pk,
				Runtime: classifier.Runtime{
					SharedLibraryPath: c.SharedLibraryPath,
					Sessions:          c.Workers,
					IntraThreads:      c.IntraThreads,
					InterThreads:      c.InterThreads,
				},
			})
		}
	}
	mode, err := classifier.DecideMode(configured, c.Required, loadErr)
	if err != nil {
		return nil, "", err
	}
	if loadErr != nil {
		redact.Logf("classifier: load failed, running regex only: %v", loadErr)
	}
	return cls, mode, nil
}

// seedModelDir fits the built-in samples into an empty model dir so the
// first start runs with a classifier instead of regex only.
func seedModelDir(dir string) error {
	version := "seed-" + time.Now().UTC().Format("20060102T150405Z")
	redact.Logf("classifier: no model in %s; training seed model %s", dir, version)
	start := time.Now()
	path, report, err := classifier.SeedArtifact(context.Background(), dir, version)
	if err != nil {
		return fmt.Errorf("train seed model: %w", err)
	}
	redact.Logf("classifier: seed model written to %s samples=%d accuracy=%.3f in %s",
		path, report.Samples, report.Accuracy, time.Since(start).Round(time.Millisecond))
	return nil
}

// BuildEngine assembles detector, classifier and scoring tables from cfg.
func BuildEngine(cfg *config.Config, tel *telemetry.Provider) (*Engine, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	det, err := BuildDetector(cfg.Detection)
	if err != nil {
		return nil, err
	}
	weights, err := cfg.Scoring.Weights()
	if err != nil {
		return nil, err
	}
	cls, mode, err := LoadClassifier(cfg.Classifier)
	if err != nil {
		return nil, err
	}

	var ec engine.Classifier
	if cls != nil {
		ec = cls
	}
	eng, err := engine.New(det, ec, engine.Options{
		Thresholds:        cfg.Scoring.Thresholds(),
		CategoryWeights:   weights,
		HighSeverityBonus: cfg.Scoring.HighSeverityBonus,
		MaxTextBytes:      cfg.Detection.MaxTextBytes,
		ClassifierTimeout: cfg.Classifier.Timeout,
		Telemetry:         tel,
	})
	if err != nil {
		if cls != nil {
			_ = cls.Close()
		}
		return nil, err
	}
	redact.Logf("engine: ready mode=%s rules=%d warn=%d block=%d", mode, det.RuleCount(), cfg.Scoring.WarnThreshold, cfg.Scoring.BlockThreshold)
	return &Engine{Engine: eng, Mode: mode, classifier: cls}, nil
}
