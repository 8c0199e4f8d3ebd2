package tokenizer

import (
	"log"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

const (
	// fallbackEncoding is used for model ids tiktoken does not recognize.
	fallbackEncoding = "cl100k_base"

	// fallbackCharsPerToken drives the estimate when no BPE encoding can be
	// loaded at all. Four characters per token is the usual English average.
	fallbackCharsPerToken = 4
)

// Tokenizer counts tokens using the BPE encoding of a model family.
// Counting is deterministic and never fails: if no encoding is available
// the count falls back to a character-length estimate so that billing can
// still proceed.
type Tokenizer struct {
	enc *tiktoken.Tiktoken
}

// New resolves the encoding for the given model id. Unknown models fall
// back to the cl100k_base encoding; if that cannot be loaded either, the
// returned Tokenizer estimates counts from rune length.
func New(model string) *Tokenizer {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding(fallbackEncoding)
		if err != nil {
			log.Printf("tokenizer: no encoding available for model %q, using character estimate: %v", model, err)
			return &Tokenizer{}
		}
	}
	return &Tokenizer{enc: enc}
}

// Count returns the token count of text. It is always >= 0 and the same
// text always yields the same count.
func (t *Tokenizer) Count(text string) int {
	if t.enc == nil {
		n := utf8.RuneCountInString(text)
		return (n + fallbackCharsPerToken - 1) / fallbackCharsPerToken
	}
	return len(t.enc.Encode(text, nil, nil))
}
