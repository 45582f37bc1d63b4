package classifier

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

const (
	manifestFileName  = "manifest.json"
	signatureFileName = "manifest.sig"
	encoderFileName   = "encoder.json"
	headFileName      = "head.json"
	stateFileName     = "state.json"

	EncoderHashing = "hashing"
	EncoderONNX    = "onnx"
)

// ErrStateNotFound is returned when state.json is missing.
var ErrStateNotFound = errors.New("classifier state not found")

// State tracks the active and previous artifact versions under the model dir.
type State struct {
	CurrentVersion  string `json:"current_version"`
	PreviousVersion string `json:"previous_version,omitempty"`
}

// ManifestFile describes one file entry in manifest.json.
type ManifestFile struct {
	Path   string `json:"path"`
	SHA256 string `json:"sha256"`
	Size   int64  `json:"size"`
}

// Manifest mirrors manifest.json.
type Manifest struct {
	Model     string         `json:"model"`
	Version   string         `json:"version"`
	CreatedAt string         `json:"created_at"`
	Files     []ManifestFile `json:"files"`
}

// ManifestSignature holds manifest.sig contents.
type ManifestSignature struct {
	Algorithm string `json:"algorithm"`
	Signature string `json:"signature"`
}

// EncoderSpec is encoder.json.
type EncoderSpec struct {
	Kind string `json:"kind"`

	// hashing
	Dim      int `json:"dim,omitempty"`
	NgramMin int `json:"ngram_min,omitempty"`
	NgramMax int `json:"ngram_max,omitempty"`

	// onnx
	Model         string `json:"model,omitempty"`
	Vocab         string `json:"vocab,omitempty"`
	SeqLen        int    `json:"seq_len,omitempty"`
	Normalize     bool   `json:"normalize,omitempty"`
	CaseSensitive bool   `json:"case_sensitive,omitempty"`
}

// LoadState reads <model_dir>/state.json.
func LoadState(baseDir string) (State, error) {
	baseDir = strings.TrimSpace(baseDir)
	if baseDir == "" {
		return State{}, errors.New("model dir is empty")
	}
	data, err := os.ReadFile(filepath.Join(baseDir, stateFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return State{}, ErrStateNotFound
		}
		return State{}, fmt.Errorf("read state: %w", err)
	}
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return State{}, fmt.Errorf("decode state: %w", err)
	}
	return st, nil
}

// SaveState writes <model_dir>/state.json atomically.
func SaveState(baseDir string, st State) error {
	baseDir = strings.TrimSpace(baseDir)
	if baseDir == "" {
		return errors.New("model dir is empty")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return fmt.Errorf("create model dir: %w", err)
	}
	st.CurrentVersion = strings.TrimSpace(st.CurrentVersion)
	st.PreviousVersion = strings.TrimSpace(st.PreviousVersion)

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	tmp, err := os.CreateTemp(baseDir, stateFileName+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp state file: %w", err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(baseDir, stateFileName)); err != nil {
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}

// VerifyArtifact checks the manifest signature (when publicKey is set) and
// every listed file's size and SHA-256.
func VerifyArtifact(dir string, publicKey ed25519.PublicKey) (*Manifest, error) {
	manifestBytes, err := os.ReadFile(filepath.Join(dir, manifestFileName))
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var manifest Manifest
	if err := json.Unmarshal(manifestBytes, &manifest); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	if len(manifest.Files) == 0 {
		return nil, errors.New("manifest lists no files")
	}

	if publicKey != nil {
		if err := verifySignature(filepath.Join(dir, signatureFileName), manifestBytes, publicKey); err != nil {
			return nil, err
		}
	}

	for _, f := range manifest.Files {
		local, err := resolveArtifactPath(dir, f.Path)
		if err != nil {
			return nil, fmt.Errorf("resolve path %s: %w", f.Path, err)
		}
		info, err := os.Stat(local)
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", f.Path, err)
		}
		if f.Size > 0 && info.Size() != f.Size {
			return nil, fmt.Errorf("size mismatch for %s: expected %d got %d", f.Path, f.Size, info.Size())
		}
		sum, err := fileSHA256(local)
		if err != nil {
			return nil, fmt.Errorf("hash %s: %w", f.Path, err)
		}
		if !strings.EqualFold(sum, f.SHA256) {
			return nil, fmt.Errorf("sha256 mismatch for %s", f.Path)
		}
	}
	return &manifest, nil
}

func verifySignature(path string, manifestBytes []byte, pk ed25519.PublicKey) error {
	if len(pk) != ed25519.PublicKeySize {
		return fmt.Errorf("invalid manifest public key length: %d", len(pk))
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read manifest signature: %w", err)
	}
	encoded := strings.TrimSpace(string(data))
	var sig ManifestSignature
	if json.Unmarshal(data, &sig) == nil && strings.TrimSpace(sig.Signature) != "" {
		if alg := strings.ToLower(strings.TrimSpace(sig.Algorithm)); alg != "" && alg != "ed25519" {
			return fmt.Errorf("unsupported signature algorithm %q", sig.Algorithm)
		}
		encoded = strings.TrimSpace(sig.Signature)
	}
	raw, err := decodeKeyMaterial(encoded)
	if err != nil {
		return fmt.Errorf("decode signature: %w", err)
	}
	if len(raw) != ed25519.SignatureSize {
		return fmt.Errorf("manifest signature invalid length: got %d, want %d", len(raw), ed25519.SignatureSize)
	}
	if !ed25519.Verify(pk, manifestBytes, raw) {
		return errors.New("manifest signature verification failed")
	}
	return nil
}

// ParsePublicKey decodes a base64 or hex Ed25519 public key. Empty input yields nil.
func ParsePublicKey(v string) (ed25519.PublicKey, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil, nil
	}
	b, err := decodeKeyMaterial(v)
	if err != nil {
		return nil, err
	}
	if len(b) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("public key must be %d bytes, got %d", ed25519.PublicKeySize, len(b))
	}
	return ed25519.PublicKey(b), nil
}

// ParsePrivateKey decodes a base64 or hex Ed25519 seed or full private key.
func ParsePrivateKey(v string) (ed25519.PrivateKey, error) {
	b, err := decodeKeyMaterial(strings.TrimSpace(v))
	if err != nil {
		return nil, err
	}
	switch len(b) {
	case ed25519.SeedSize:
		return ed25519.NewKeyFromSeed(b), nil
	case ed25519.PrivateKeySize:
		return ed25519.PrivateKey(b), nil
	}
	return nil, fmt.Errorf("private key must be %d or %d bytes, got %d", ed25519.SeedSize, ed25519.PrivateKeySize, len(b))
}

func decodeKeyMaterial(v string) ([]byte, error) {
	if b, err := hex.DecodeString(v); err == nil {
		return b, nil
	}
	decoders := []func(string) ([]byte, error){
		base64.StdEncoding.DecodeString,
		base64.RawStdEncoding.DecodeString,
		base64.URLEncoding.DecodeString,
		base64.RawURLEncoding.DecodeString,
	}
	for _, dec := range decoders {
		if b, err := dec(v); err == nil {
			return b, nil
		}
	}
	return nil, errors.New("value is neither hex nor base64")
}

// resolveArtifactPath joins rel under dir and rejects absolute or escaping paths.
func resolveArtifactPath(dir, rel string) (string, error) {
	rel = strings.TrimSpace(rel)
	if rel == "" {
		return "", errors.New("path is empty")
	}
	if filepath.IsAbs(rel) || strings.HasPrefix(rel, "/") {
		return "", fmt.Errorf("absolute path %q not allowed", rel)
	}
	clean := filepath.Clean(filepath.FromSlash(rel))
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes artifact dir", rel)
	}
	return filepath.Join(dir, clean), nil
}

func fileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func loadEncoderSpec(dir string) (EncoderSpec, error) {
	data, err := os.ReadFile(filepath.Join(dir, encoderFileName))
	if err != nil {
		return EncoderSpec{}, fmt.Errorf("read encoder spec: %w", err)
	}
	var spec EncoderSpec
	if err := json.Unmarshal(data, &spec); err != nil {
		return EncoderSpec{}, fmt.Errorf("decode encoder spec: %w", err)
	}
	spec.Kind = strings.ToLower(strings.TrimSpace(spec.Kind))
	return spec, nil
}
