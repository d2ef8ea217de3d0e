// Copyright 2025 Antfly, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package pipelines

import (
	"fmt"
	"os"
	"strings"

	goTokenizers "github.com/gomlx/go-huggingface/tokenizers"
	"github.com/gomlx/go-huggingface/tokenizers/api"
	"github.com/sugarme/tokenizer"
	"github.com/sugarme/tokenizer/decoder"
	"github.com/sugarme/tokenizer/model"
	"github.com/sugarme/tokenizer/model/wordpiece"
	"github.com/sugarme/tokenizer/normalizer"
	"github.com/sugarme/tokenizer/pretokenizer"
	"github.com/sugarme/tokenizer/processor"
	"github.com/sugarme/tokenizer/util"
)

// wordPieceTokenizer adapts a BERT WordPiece vocabulary to the common
// tokenizer capability, for model directories that ship only a vocab.txt.
type wordPieceTokenizer struct {
	tk        *tokenizer.Tokenizer
	vocab     model.Vocab
	idToToken []string
	unkID     int
}

// Ensure wordPieceTokenizer implements tokenizers.Tokenizer
var _ goTokenizers.Tokenizer = (*wordPieceTokenizer)(nil)

// newWordPieceTokenizer builds a BERT WordPiece tokenizer from a vocab file
// (one token per line, ID is line number).
func newWordPieceTokenizer(vocabPath string) (*wordPieceTokenizer, error) {
	content, err := os.ReadFile(vocabPath)
	if err != nil {
		return nil, fmt.Errorf("reading vocab file: %w", err)
	}

	lines := strings.Split(string(content), "\n")
	vocab := make(model.Vocab, len(lines))
	idToToken := make([]string, len(lines))
	for i, line := range lines {
		if line != "" {
			vocab[line] = i
			idToToken[i] = line
		}
	}

	// Create WordPiece model with [UNK] as unknown token
	opts := util.NewParams(map[string]any{
		"unk_token": "[UNK]",
	})
	wp, err := wordpiece.New(vocab, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create wordpiece model: %w", err)
	}

	tk := tokenizer.NewTokenizer(wp)

	// Configure BERT normalizer: clean text, lowercase, handle Chinese chars, strip accents
	tk.WithNormalizer(normalizer.NewBertNormalizer(true, true, true, true))
	tk.WithPreTokenizer(pretokenizer.NewBertPreTokenizer())

	// Configure post-processor with SEP and CLS tokens
	sepID, ok := tk.TokenToId("[SEP]")
	if !ok {
		return nil, fmt.Errorf("cannot find ID for [SEP] token")
	}
	clsID, ok := tk.TokenToId("[CLS]")
	if !ok {
		return nil, fmt.Errorf("cannot find ID for [CLS] token")
	}

	tk.WithPostProcessor(processor.NewBertProcessing(
		processor.PostToken{Id: sepID, Value: "[SEP]"},
		processor.PostToken{Id: clsID, Value: "[CLS]"},
	))

	// Add special tokens
	tk.AddSpecialTokens([]tokenizer.AddedToken{tokenizer.NewAddedToken("[MASK]", true)})
	tk.AddSpecialTokens([]tokenizer.AddedToken{tokenizer.NewAddedToken("[SEP]", true)})
	tk.AddSpecialTokens([]tokenizer.AddedToken{tokenizer.NewAddedToken("[CLS]", true)})

	tk.WithDecoder(decoder.DefaultWordpieceDecoder())

	unkID, ok := tk.TokenToId("[UNK]")
	if !ok {
		return nil, fmt.Errorf("cannot find ID for [UNK] token")
	}

	return &wordPieceTokenizer{
		tk:        tk,
		vocab:     vocab,
		idToToken: idToToken,
		unkID:     unkID,
	}, nil
}

// Encode returns the text encoded into a sequence of token IDs.
// The underlying library has a bounds bug in BertNormalizer.TransformRange
// on some inputs; a panicking input encodes as a single unknown token so
// word alignment survives.
func (t *wordPieceTokenizer) Encode(text string) (ids []int) {
	if text == "" {
		return nil
	}

	defer func() {
		if r := recover(); r != nil {
			ids = []int{t.unkID}
		}
	}()

	enc, err := t.tk.EncodeSingle(text)
	if err != nil {
		return []int{t.unkID}
	}

	ids = make([]int, len(enc.Ids))
	for i, id := range enc.Ids {
		ids[i] = int(id)
	}
	return ids
}

// Decode returns the text from a sequence of token IDs, dropping control
// tokens and rejoining WordPiece continuations.
func (t *wordPieceTokenizer) Decode(ids []int) string {
	var sb strings.Builder
	for _, id := range ids {
		if id < 0 || id >= len(t.idToToken) {
			continue
		}
		tok := t.idToToken[id]
		switch tok {
		case "", "[CLS]", "[SEP]", "[PAD]", "[MASK]":
			continue
		}
		if rest, isContinuation := strings.CutPrefix(tok, "##"); isContinuation {
			sb.WriteString(rest)
			continue
		}
		if sb.Len() > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(tok)
	}
	return sb.String()
}

// SpecialTokenID returns the ID for the given special token. BERT
// vocabularies have no dedicated BOS/EOS tokens; [CLS] and [SEP] play
// those roles.
func (t *wordPieceTokenizer) SpecialTokenID(token api.SpecialToken) (int, error) {
	var name string
	switch token {
	case api.TokUnknown:
		name = "[UNK]"
	case api.TokPad:
		name = "[PAD]"
	case api.TokMask:
		name = "[MASK]"
	case api.TokClassification, api.TokBeginningOfSentence:
		name = "[CLS]"
	case api.TokEndOfSentence:
		name = "[SEP]"
	default:
		return 0, fmt.Errorf("unknown special token: %s (%d)", token, int(token))
	}

	id, ok := t.vocab[name]
	if !ok {
		return 0, fmt.Errorf("special token %s not found in vocabulary", name)
	}
	return id, nil
}
