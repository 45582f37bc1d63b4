package classifier

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"unicode"
)

// WordPieceTokenizer implements the BERT-style tokenizer used by MiniLM encoders.
type WordPieceTokenizer struct {
	vocab        map[string]int64
	lowerCase    bool
	clsID        int64
	sepID        int64
	padID        int64
	unkID        int64
	continuation string
	maxWordLen   int
}

// LoadWordPieceTokenizer builds the tokenizer from vocab.txt.
func LoadWordPieceTokenizer(path string, lowerCase bool) (*WordPieceTokenizer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open vocab: %w", err)
	}
	defer f.Close()

	vocab := make(map[string]int64)
	sc := bufio.NewScanner(f)
	var idx int64
	for sc.Scan() {
		token := strings.TrimRight(sc.Text(), "\r\n")
		if token == "" {
			idx++
			continue
		}
		vocab[token] = idx
		idx++
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan vocab: %w", err)
	}
	for _, special := range []string{"[CLS]", "[SEP]", "[PAD]", "[UNK]"} {
		if _, ok := vocab[special]; !ok {
			return nil, fmt.Errorf("vocab missing %s", special)
		}
	}

	return &WordPieceTokenizer{
		vocab:        vocab,
		lowerCase:    lowerCase,
		continuation: "##",
		clsID:        vocab["[CLS]"],
		sepID:        vocab["[SEP]"],
		padID:        vocab["[PAD]"],
		unkID:        vocab["[UNK]"],
		maxWordLen:   100,
	}, nil
}

// Encode converts text into token IDs and an attention mask of length seqLen.
func (t *WordPieceTokenizer) Encode(text string, seqLen int) ([]int64, []int64) {
	if seqLen < 2 {
		return nil, nil
	}

	tokens := make([]int64, 0, seqLen)
	tokens = append(tokens, t.clsID)
	for _, w := range t.basicTokens(text) {
		pieces := t.wordPiece(w)
		if len(tokens)+len(pieces) > seqLen-1 {
			tokens = append(tokens, pieces[:seqLen-1-len(tokens)]...)
			break
		}
		tokens = append(tokens, pieces...)
	}
	tokens = append(tokens, t.sepID)

	attn := make([]int64, seqLen)
	for i := range tokens {
		attn[i] = 1
	}
	for len(tokens) < seqLen {
		tokens = append(tokens, t.padID)
	}
	return tokens, attn
}

// basicTokens lowercases, splits on whitespace and isolates punctuation.
func (t *WordPieceTokenizer) basicTokens(text string) []string {
	if t.lowerCase {
		text = strings.ToLower(text)
	}
	var out []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			out = append(out, cur.String())
			cur.Reset()
		}
	}
	for _, r := range text {
		switch {
		case unicode.IsSpace(r) || unicode.IsControl(r):
			flush()
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			flush()
			out = append(out, string(r))
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return out
}

func (t *WordPieceTokenizer) wordPiece(token string) []int64 {
	if id, ok := t.vocab[token]; ok {
		return []int64{id}
	}
	if len(token) > t.maxWordLen {
		return []int64{t.unkID}
	}

	var pieces []int64
	start := 0
	for start < len(token) {
		end := len(token)
		found := false
		for end > start {
			sub := token[start:end]
			if start > 0 {
				sub = t.continuation + sub
			}
			if id, ok := t.vocab[sub]; ok {
				pieces = append(pieces, id)
				start = end
				found = true
				break
			}
			end--
		}
		if !found {
			return []int64{t.unkID}
		}
	}
	return pieces
}
