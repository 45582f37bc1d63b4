package classifier

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/redactai/redactai/internal/redact"
)

const (
	defaultSeqLen       = 128
	defaultIntraThreads = 1
	defaultInterThreads = 1
)

// Runtime tunes the ONNX sessions.
type Runtime struct {
	SharedLibraryPath string
	Sessions          int
	IntraThreads      int
	InterThreads      int
}

// ONNXEncoder runs a sentence-embedding model through onnxruntime. Sessions are
// pooled so concurrent Embed calls never share tensors.
type ONNXEncoder struct {
	tokenizer *WordPieceTokenizer
	seqLen    int
	dim       int
	pooled    bool
	normalize bool
	sessions  chan *encoderSession
	all       []*encoderSession
	closeOnce sync.Once
}

type encoderSession struct {
	session       *ort.AdvancedSession
	inputIDs      *ort.Tensor[int64]
	attentionMask *ort.Tensor[int64]
	tokenTypeIDs  *ort.Tensor[int64]
	output        *ort.Tensor[float32]
}

var ortInitMu sync.Mutex

func initRuntime(dir, libPath string) error {
	ortInitMu.Lock()
	defer ortInitMu.Unlock()
	if ort.IsInitialized() {
		return nil
	}
	if libPath == "" {
		libPath = resolveSharedLibraryPath(dir)
	}
	if libPath == "" {
		return errors.New("onnxruntime shared library not found; set classifier.shared_library_path or ONNXRUNTIME_SHARED_LIBRARY_PATH")
	}
	ort.SetSharedLibraryPath(libPath)
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("initialize onnxruntime: %w", err)
	}
	return nil
}

// NewONNXEncoder loads the model and tokenizer named by spec from dir.
func NewONNXEncoder(dir string, spec EncoderSpec, rt Runtime) (*ONNXEncoder, error) {
	modelPath, err := resolveArtifactPath(dir, spec.Model)
	if err != nil {
		return nil, fmt.Errorf("model path: %w", err)
	}
	vocabPath, err := resolveArtifactPath(dir, spec.Vocab)
	if err != nil {
		return nil, fmt.Errorf("vocab path: %w", err)
	}
	return OpenONNXEncoder(modelPath, vocabPath, spec, rt)
}

// OpenONNXEncoder builds an encoder from explicit model and vocab paths; the
// trainer uses it before the files are staged into an artifact. spec.Model and
// spec.Vocab are ignored.
func OpenONNXEncoder(modelPath, vocabPath string, spec EncoderSpec, rt Runtime) (*ONNXEncoder, error) {
	if _, err := os.Stat(modelPath); err != nil {
		return nil, fmt.Errorf("model file missing at %s: %w", modelPath, err)
	}

	if err := initRuntime(filepath.Dir(modelPath), rt.SharedLibraryPath); err != nil {
		return nil, err
	}

	tokenizer, err := LoadWordPieceTokenizer(vocabPath, !spec.CaseSensitive)
	if err != nil {
		return nil, fmt.Errorf("load tokenizer: %w", err)
	}

	seqLen := spec.SeqLen
	if seqLen <= 0 {
		seqLen = defaultSeqLen
	}

	inputs, outputs, err := ort.GetInputOutputInfoWithOptions(modelPath, nil)
	if err != nil {
		return nil, fmt.Errorf("inspect model: %w", err)
	}
	needsTokenType := false
	for _, in := range inputs {
		if in.Name == "token_type_ids" {
			needsTokenType = true
		}
	}
	outName, outDims, err := selectEmbeddingOutput(outputs)
	if err != nil {
		return nil, err
	}

	pooled := len(outDims) == 2
	dim := spec.Dim
	if len(outDims) > 0 && outDims[len(outDims)-1] > 0 {
		dim = int(outDims[len(outDims)-1])
	}
	if dim <= 0 {
		return nil, fmt.Errorf("cannot determine embedding dim for output %s", outName)
	}
	outShape := ort.NewShape(1, int64(seqLen), int64(dim))
	if pooled {
		outShape = ort.NewShape(1, int64(dim))
	}

	poolSize := rt.Sessions
	if poolSize <= 0 {
		poolSize = runtime.NumCPU()
	}
	intra := rt.IntraThreads
	if intra <= 0 {
		intra = defaultIntraThreads
	}
	inter := rt.InterThreads
	if inter <= 0 {
		inter = defaultInterThreads
	}

	enc := &ONNXEncoder{
		tokenizer: tokenizer,
		seqLen:    seqLen,
		dim:       dim,
		pooled:    pooled,
		normalize: spec.Normalize,
		sessions:  make(chan *encoderSession, poolSize),
	}
	for i := 0; i < poolSize; i++ {
		ss, err := newEncoderSession(modelPath, seqLen, outShape, intra, inter, needsTokenType, outName)
		if err != nil {
			_ = enc.Close()
			return nil, fmt.Errorf("create onnx session %d/%d: %w", i+1, poolSize, err)
		}
		enc.all = append(enc.all, ss)
		enc.sessions <- ss
	}
	redact.Logf("classifier: onnx encoder loaded model=%s dim=%d seq_len=%d sessions=%d", filepath.Base(modelPath), dim, seqLen, poolSize)
	return enc, nil
}

func newEncoderSession(modelPath string, seqLen int, outShape ort.Shape, intraThr, interThr int, includeTokenType bool, outputName string) (*encoderSession, error) {
	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("create session options: %w", err)
	}
	defer opts.Destroy()
	if err := opts.SetGraphOptimizationLevel(ort.GraphOptimizationLevelEnableAll); err != nil {
		return nil, fmt.Errorf("set graph optimization: %w", err)
	}
	if err := opts.SetIntraOpNumThreads(intraThr); err != nil {
		return nil, fmt.Errorf("set intra threads: %w", err)
	}
	if err := opts.SetInterOpNumThreads(interThr); err != nil {
		return nil, fmt.Errorf("set inter threads: %w", err)
	}

	inputShape := ort.NewShape(1, int64(seqLen))
	inputIDs, err := ort.NewEmptyTensor[int64](inputShape)
	if err != nil {
		return nil, fmt.Errorf("allocate input_ids tensor: %w", err)
	}
	attnMask, err := ort.NewEmptyTensor[int64](inputShape)
	if err != nil {
		return nil, fmt.Errorf("allocate attention_mask tensor: %w", err)
	}
	inputNames := []string{"input_ids", "attention_mask"}
	inputValues := []ort.Value{inputIDs, attnMask}
	var tokenType *ort.Tensor[int64]
	if includeTokenType {
		tokenType, err = ort.NewEmptyTensor[int64](inputShape)
		if err != nil {
			return nil, fmt.Errorf("allocate token_type_ids tensor: %w", err)
		}
		inputNames = append(inputNames, "token_type_ids")
		inputValues = append(inputValues, tokenType)
	}
	output, err := ort.NewEmptyTensor[float32](outShape)
	if err != nil {
		return nil, fmt.Errorf("allocate output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(modelPath, inputNames, []string{outputName}, inputValues, []ort.Value{output}, opts)
	if err != nil {
		return nil, fmt.Errorf("create onnx session: %w", err)
	}
	return &encoderSession{
		session:       session,
		inputIDs:      inputIDs,
		attentionMask: attnMask,
		tokenTypeIDs:  tokenType,
		output:        output,
	}, nil
}

func (e *ONNXEncoder) Dim() int { return e.dim }

// Embed tokenizes text, runs the model and mean-pools token states when the
// model does not already emit a sentence embedding.
func (e *ONNXEncoder) Embed(ctx context.Context, text string) ([]float32, error) {
	var ss *encoderSession
	select {
	case ss = <-e.sessions:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { e.sessions <- ss }()

	ids, attn := e.tokenizer.Encode(text, e.seqLen)
	copy(ss.inputIDs.GetData(), ids)
	copy(ss.attentionMask.GetData(), attn)
	if ss.tokenTypeIDs != nil {
		clear(ss.tokenTypeIDs.GetData())
	}
	if err := ss.session.Run(); err != nil {
		return nil, fmt.Errorf("onnx run: %w", err)
	}

	raw := ss.output.GetData()
	out := make([]float32, e.dim)
	if e.pooled {
		copy(out, raw)
	} else {
		meanPool(out, raw, attn, e.dim)
	}
	if e.normalize {
		l2Normalize(out)
	}
	return out, nil
}

// Close destroys every session. Safe to call more than once.
func (e *ONNXEncoder) Close() error {
	var errs []error
	e.closeOnce.Do(func() {
		for _, ss := range e.all {
			if err := ss.session.Destroy(); err != nil {
				errs = append(errs, err)
			}
			_ = ss.inputIDs.Destroy()
			_ = ss.attentionMask.Destroy()
			if ss.tokenTypeIDs != nil {
				_ = ss.tokenTypeIDs.Destroy()
			}
			_ = ss.output.Destroy()
		}
	})
	return errors.Join(errs...)
}

func meanPool(dst []float32, hidden []float32, mask []int64, dim int) {
	count := 0
	for t, m := range mask {
		if m == 0 {
			continue
		}
		row := hidden[t*dim : (t+1)*dim]
		for i, v := range row {
			dst[i] += v
		}
		count++
	}
	if count == 0 {
		return
	}
	for i := range dst {
		dst[i] /= float32(count)
	}
}

func l2Normalize(v []float32) {
	sum := 0.0
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	n := float32(math.Sqrt(sum))
	for i := range v {
		v[i] /= n
	}
}

func selectEmbeddingOutput(outputs []ort.InputOutputInfo) (string, []int64, error) {
	if len(outputs) == 0 {
		return "", nil, errors.New("model has no outputs")
	}
	for _, want := range []string{"sentence_embedding", "last_hidden_state", "token_embeddings"} {
		for _, out := range outputs {
			if strings.EqualFold(out.Name, want) {
				return out.Name, out.Dimensions, nil
			}
		}
	}
	if len(outputs) == 1 {
		return outputs[0].Name, outputs[0].Dimensions, nil
	}
	names := make([]string, 0, len(outputs))
	for _, out := range outputs {
		names = append(names, out.Name)
	}
	return "", nil, fmt.Errorf("cannot pick embedding output among %v", names)
}

// resolveSharedLibraryPath locates the onnxruntime shared library.
// ONNXRUNTIME_SHARED_LIBRARY_PATH wins over the searched locations.
func resolveSharedLibraryPath(dir string) string {
	if env := strings.TrimSpace(os.Getenv("ONNXRUNTIME_SHARED_LIBRARY_PATH")); env != "" {
		return env
	}
	names := []string{"libonnxruntime.so", "libonnxruntime.dylib", "onnxruntime.dll"}
	dirs := []string{dir, filepath.Join(dir, "lib"), "/opt/homebrew/lib", "/usr/local/lib", "/usr/lib"}
	for _, d := range dirs {
		for _, name := range names {
			candidate := filepath.Join(d, name)
			if _, err := os.Stat(candidate); err == nil {
				return candidate
			}
		}
	}
	return ""
}
