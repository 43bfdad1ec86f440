package embedding

import (
	"hash/fnv"
	"strings"

	"github.com/hyperjump/gramaudit/internal/textnorm"
)

const (
	clsTokenID = 101
	sepTokenID = 102
	vocabSize  = 30000
	// Hashed IDs start past the special-token range.
	hashedOffset = 1000
)

// Tokenizer produces token IDs for BERT-style models (input_ids, attention_mask, token_type_ids).
type Tokenizer interface {
	Tokenize(text string, maxTokens int) (inputIDs, attentionMask, tokenTypeIDs []int64)
}

// HashTokenizer folds text, splits it on whitespace and hashes each word into the vocabulary range.
// It has no vocabulary file; models must be exported with a matching hashed embedding table.
type HashTokenizer struct{}

// Tokenize produces [CLS] words... [SEP] padded to maxTokens.
func (t *HashTokenizer) Tokenize(text string, maxTokens int) (inputIDs, attentionMask, tokenTypeIDs []int64) {
	if maxTokens < 2 {
		maxTokens = 64
	}
	inputIDs = make([]int64, maxTokens)
	attentionMask = make([]int64, maxTokens)
	tokenTypeIDs = make([]int64, maxTokens)

	inputIDs[0] = clsTokenID
	attentionMask[0] = 1

	pos := 1
	for _, word := range strings.Fields(textnorm.Fold(text)) {
		if pos >= maxTokens-1 {
			break
		}
		inputIDs[pos] = tokenID(word)
		attentionMask[pos] = 1
		pos++
	}
	inputIDs[pos] = sepTokenID
	attentionMask[pos] = 1
	return inputIDs, attentionMask, tokenTypeIDs
}

func tokenID(word string) int64 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(word))
	return hashedOffset + int64(h.Sum32()%(vocabSize-hashedOffset))
}
