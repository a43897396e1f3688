// Package tokens estimates token counts for diagnostics. Claude models do not
// publish a local tokenizer, so cl100k_base is used as an approximation.
package tokens

import (
	"sync"

	"github.com/tiktoken-go/tokenizer"
)

// charsPerToken is the fallback ratio when no codec is available.
const charsPerToken = 4.0

// Counter counts tokens with a lazily loaded tiktoken codec.
type Counter struct {
	encoding tokenizer.Encoding

	once  sync.Once
	codec tokenizer.Codec
	err   error
}

// NewCounter creates a Counter using cl100k_base.
func NewCounter() *Counter {
	return &Counter{encoding: tokenizer.Cl100kBase}
}

// Count returns the estimated number of tokens in text.
func (c *Counter) Count(text string) int {
	if text == "" {
		return 0
	}
	if codec := c.getCodec(); codec != nil {
		ids, _, err := codec.Encode(text)
		if err == nil {
			return len(ids)
		}
	}
	return Estimate(text)
}

// Estimate is the character-ratio fallback.
func Estimate(text string) int {
	if text == "" {
		return 0
	}
	n := int(float64(len(text))/charsPerToken + 0.5)
	if n == 0 {
		n = 1
	}
	return n
}

func (c *Counter) getCodec() tokenizer.Codec {
	if c == nil {
		return nil
	}
	c.once.Do(func() {
		c.codec, c.err = tokenizer.Get(c.encoding)
	})
	if c.err != nil {
		return nil
	}
	return c.codec
}
