package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/redactai/redactai/internal/classifier"
)

var (
	trainOut        string
	trainVersion    string
	trainSamples    string
	trainNoSeed     bool
	trainDim        int
	trainEpochs     int
	trainRate       float64
	trainL2         float64
	trainSignKeyEnv string
	trainEncoder    string
	trainONNXModel  string
	trainVocab      string
	trainSeqLen     int
	trainNormalize  bool
	trainONNXLib    string
)

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Fit the classifier head and write a versioned artifact",
	Long: `Fit a linear softmax head over a text encoder using the built-in
labelled samples and, optionally, a JSONL file of {"text","label"} rows.
The encoder is either the built-in hashing encoder or an ONNX sentence
embedding model (--encoder onnx --onnx-model model.onnx --vocab vocab.txt);
ONNX model and vocab files are copied into the artifact.
The artifact is written to <out>/<version> with a SHA-256 manifest and
becomes the current version in <out>/state.json.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		version := trainVersion
		if version == "" {
			version = time.Now().UTC().Format("20060102T150405Z")
		}

		var samples []classifier.Sample
		if !trainNoSeed {
			samples = append(samples, classifier.SeedSamples()...)
		}
		if trainSamples != "" {
			extra, err := classifier.LoadSamples(trainSamples)
			if err != nil {
				return err
			}
			samples = append(samples, extra...)
		}

		var key []byte
		if env := strings.TrimSpace(trainSignKeyEnv); env != "" {
			v := os.Getenv(env)
			if v == "" {
				return fmt.Errorf("env %s is empty", env)
			}
			pk, err := classifier.ParsePrivateKey(v)
			if err != nil {
				return fmt.Errorf("signing key: %w", err)
			}
			key = pk
		}

		spec, enc, files, err := trainEncoderFromFlags()
		if err != nil {
			return err
		}
		defer enc.Close()

		head, report, err := classifier.Train(cmd.Context(), enc, samples, classifier.TrainOptions{
			Epochs:       trainEpochs,
			LearningRate: trainRate,
			L2:           trainL2,
		})
		if err != nil {
			return err
		}
		model := "redactai-" + spec.Kind + "-linear"
		dir, err := classifier.WriteArtifact(trainOut, version, model, spec, head, key, files...)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "trained encoder=%s dim=%d samples=%d accuracy=%.3f loss=%.4f signed=%t\nartifact %s\n",
			spec.Kind, spec.Dim, report.Samples, report.Accuracy, report.Loss, key != nil, dir)
		return nil
	},
}

// trainEncoderFromFlags builds the encoder to fit against plus the spec and
// source files the artifact needs to rebuild it at load time.
func trainEncoderFromFlags() (classifier.EncoderSpec, classifier.Encoder, []string, error) {
	switch strings.ToLower(strings.TrimSpace(trainEncoder)) {
	case "", classifier.EncoderHashing:
		spec := classifier.EncoderSpec{Kind: classifier.EncoderHashing, Dim: trainDim, NgramMin: 3, NgramMax: 5}
		enc := classifier.NewHashingEncoder(spec.Dim, spec.NgramMin, spec.NgramMax)
		spec.Dim = enc.Dim()
		return spec, enc, nil, nil
	case classifier.EncoderONNX:
		if trainONNXModel == "" || trainVocab == "" {
			return classifier.EncoderSpec{}, nil, nil, errors.New("--encoder onnx requires --onnx-model and --vocab")
		}
		if filepath.Base(trainONNXModel) == filepath.Base(trainVocab) {
			return classifier.EncoderSpec{}, nil, nil, errors.New("--onnx-model and --vocab must have different file names")
		}
		spec := classifier.EncoderSpec{
			Kind:      classifier.EncoderONNX,
			Model:     filepath.Base(trainONNXModel),
			Vocab:     filepath.Base(trainVocab),
			SeqLen:    trainSeqLen,
			Normalize: trainNormalize,
		}
		enc, err := classifier.OpenONNXEncoder(trainONNXModel, trainVocab, spec, classifier.Runtime{SharedLibraryPath: trainONNXLib, Sessions: 1})
		if err != nil {
			return classifier.EncoderSpec{}, nil, nil, err
		}
		spec.Dim = enc.Dim()
		return spec, enc, []string{trainONNXModel, trainVocab}, nil
	default:
		return classifier.EncoderSpec{}, nil, nil, fmt.Errorf("unknown encoder %q (want hashing or onnx)", trainEncoder)
	}
}

func init() {
	trainCmd.Flags().StringVar(&trainOut, "out", "models", "Model directory (classifier.model_dir)")
	trainCmd.Flags().StringVar(&trainVersion, "version", "", "Artifact version (default: UTC timestamp)")
	trainCmd.Flags().StringVar(&trainSamples, "samples", "", "JSONL file of extra labelled samples")
	trainCmd.Flags().BoolVar(&trainNoSeed, "no-seed", false, "Skip the built-in samples")
	trainCmd.Flags().IntVar(&trainDim, "dim", 1024, "Hashing encoder dimension")
	trainCmd.Flags().IntVar(&trainEpochs, "epochs", 500, "Gradient descent epochs")
	trainCmd.Flags().Float64Var(&trainRate, "learning-rate", 1.0, "Learning rate")
	trainCmd.Flags().Float64Var(&trainL2, "l2", 0, "L2 regularisation")
	trainCmd.Flags().StringVar(&trainEncoder, "encoder", "hashing", "Encoder: hashing or onnx")
	trainCmd.Flags().StringVar(&trainONNXModel, "onnx-model", "", "ONNX sentence embedding model (with --encoder onnx)")
	trainCmd.Flags().StringVar(&trainVocab, "vocab", "", "WordPiece vocab.txt for the ONNX model")
	trainCmd.Flags().IntVar(&trainSeqLen, "seq-len", 128, "Token sequence length for the ONNX model")
	trainCmd.Flags().BoolVar(&trainNormalize, "normalize", true, "L2-normalise ONNX embeddings")
	trainCmd.Flags().StringVar(&trainONNXLib, "onnx-lib", "", "onnxruntime shared library path")
	trainCmd.Flags().StringVar(&trainSignKeyEnv, "sign-key-env", "", "Env var holding an Ed25519 private key to sign the manifest")
	rootCmd.AddCommand(trainCmd)
}
