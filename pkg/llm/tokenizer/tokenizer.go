// Package tokenizer provides token counting for LLM messages using the
// tiktoken BPE vocabularies.
package tokenizer

import (
	"fmt"

	"github.com/entrhq/anvil/pkg/types"
	"github.com/pkoukk/tiktoken-go"
)

// defaultEncoding is the cl100k_base vocabulary used by current OpenAI chat
// models. Counts for other providers are approximate but close enough for
// budget decisions.
const defaultEncoding = "cl100k_base"

// perMessageOverhead approximates the per-message framing tokens the chat
// format adds (role, separators).
const perMessageOverhead = 4

// Tokenizer counts tokens for text and message lists.
type Tokenizer struct {
	encoding *tiktoken.Tiktoken
}

// New creates a tokenizer with the default encoding.
func New() (*Tokenizer, error) {
	encoding, err := tiktoken.GetEncoding(defaultEncoding)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s encoding: %w", defaultEncoding, err)
	}
	return &Tokenizer{encoding: encoding}, nil
}

// CountTokens returns the number of tokens in the given text.
func (t *Tokenizer) CountTokens(text string) int {
	return len(t.encoding.Encode(text, nil, nil))
}

// CountMessagesTokens returns the approximate token count of a message list,
// including per-message framing overhead.
func (t *Tokenizer) CountMessagesTokens(messages []*types.Message) int {
	total := 0
	for _, msg := range messages {
		total += t.CountTokens(msg.Content) + perMessageOverhead
	}
	return total
}
