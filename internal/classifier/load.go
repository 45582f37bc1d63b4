package classifier

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/redactai/redactai/internal/redact"
)

const (
	ModeML        = "ml"
	ModeRegexOnly = "regex_only"
)

// Options controls where and how the artifact is loaded.
type Options struct {
	ModelDir  string
	Workers   int
	PublicKey ed25519.PublicKey
	Runtime   Runtime
}

// Load resolves the active artifact version and builds a classifier from it.
// When the current version fails verification the previous one is tried.
func Load(opts Options) (*Classifier, error) {
	base := strings.TrimSpace(opts.ModelDir)
	if base == "" {
		return nil, errors.New("classifier model dir is empty")
	}

	st, err := LoadState(base)
	switch {
	case errors.Is(err, ErrStateNotFound):
		// A bare artifact directory without versioning.
		return loadDir(base, "", opts)
	case err != nil:
		return nil, err
	}
	if st.CurrentVersion == "" {
		return nil, errors.New("state.json has no current_version")
	}

	c, err := loadDir(filepath.Join(base, st.CurrentVersion), st.CurrentVersion, opts)
	if err == nil {
		return c, nil
	}
	if st.PreviousVersion == "" {
		return nil, err
	}
	redact.Logf("classifier: version %s failed to load (%v); trying previous version %s", st.CurrentVersion, err, st.PreviousVersion)
	prev, prevErr := loadDir(filepath.Join(base, st.PreviousVersion), st.PreviousVersion, opts)
	if prevErr != nil {
		return nil, errors.Join(err, prevErr)
	}
	return prev, nil
}

func loadDir(dir, version string, opts Options) (*Classifier, error) {
	if _, err := os.Stat(dir); err != nil {
		return nil, fmt.Errorf("artifact dir: %w", err)
	}
	manifest, err := VerifyArtifact(dir, opts.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("verify artifact %s: %w", dir, err)
	}
	if version == "" {
		version = manifest.Version
	}

	spec, err := loadEncoderSpec(dir)
	if err != nil {
		return nil, err
	}
	head, err := LoadLinearHead(filepath.Join(dir, headFileName))
	if err != nil {
		return nil, err
	}

	var enc Encoder
	switch spec.Kind {
	case EncoderHashing:
		enc = NewHashingEncoder(spec.Dim, spec.NgramMin, spec.NgramMax)
	case EncoderONNX:
		enc, err = NewONNXEncoder(dir, spec, opts.Runtime)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown encoder kind %q", spec.Kind)
	}

	if enc.Dim() != head.Dim() {
		_ = enc.Close()
		return nil, fmt.Errorf("encoder dim %d does not match head dim %d", enc.Dim(), head.Dim())
	}

	c, err := New(enc, head, opts.Workers, version)
	if err != nil {
		_ = enc.Close()
		return nil, err
	}
	redact.Logf("classifier: loaded model=%s version=%s encoder=%s dim=%d", manifest.Model, version, spec.Kind, head.Dim())
	return c, nil
}

// DecideMode maps a load outcome onto the running mode. A required classifier
// that failed to load is fatal; otherwise the engine runs regex only.
func DecideMode(configured, required bool, loadErr error) (string, error) {
	if !configured {
		if required {
			return "", errors.New("classifier is required but no model_dir is configured")
		}
		return ModeRegexOnly, nil
	}
	if loadErr == nil {
		return ModeML, nil
	}
	if required {
		return "", fmt.Errorf("classifier is required and failed to load: %w", loadErr)
	}
	return ModeRegexOnly, nil
}
