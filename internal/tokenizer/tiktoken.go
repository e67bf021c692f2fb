package tokenizer

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"
)

// Tiktoken counts tokens with a local BPE encoding. It needs no server and
// is exact for OpenAI-family models; for other models it is still a far
// better approximation than the character estimator.
type Tiktoken struct {
	enc *tiktoken.Tiktoken
}

// NewTiktoken creates a counter for the given encoding. Empty selects
// cl100k_base.
func NewTiktoken(encoding string) (*Tiktoken, error) {
	if encoding == "" {
		encoding = "cl100k_base"
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("tokenizer: load encoding %s: %w", encoding, err)
	}
	return &Tiktoken{enc: enc}, nil
}

// Count implements Counter.
func (t *Tiktoken) Count(text string) int {
	if text == "" {
		return 0
	}
	return len(t.enc.Encode(text, nil, nil))
}
