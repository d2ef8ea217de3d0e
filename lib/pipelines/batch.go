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
	"strings"

	"github.com/gomlx/go-huggingface/tokenizers"
	"github.com/gomlx/go-huggingface/tokenizers/api"

	"github.com/antflydb/gliner/lib/backends"
)

// ============================================================================
// Tensor Names
// ============================================================================

// Input tensor names for the schema-prefixed (uni-encoder) family.
const (
	TensorInputIDs      = "input_ids"
	TensorAttentionMask = "attention_mask"
	TensorWordsMask     = "words_mask"
	TensorTextLengths   = "text_lengths"
	TensorSpanIdx       = "span_idx"
	TensorSpanMask      = "span_mask"
)

// Input tensor names for the parallel-channel (bi-encoder) family, which
// carries label tokens and text tokens in separate tensors.
const (
	TensorLabelInputIDs  = "label_input_ids"
	TensorLabelMask      = "label_attention_mask"
	TensorLabelOffsets   = "label_word_offsets"
	TensorTextInputIDs   = "text_input_ids"
	TensorTextMask       = "text_attention_mask"
	TensorTextOffsets    = "text_word_offsets"
)

// Output tensor names the decoders look for.
const (
	// TensorLogits is the raw [batch, position, width, label] score tensor
	// produced by the schema-prefixed family.
	TensorLogits = "logits"
	// TensorScores is the dense, already sigmoid-activated [batch, span,
	// label] matrix produced by the parallel-channel family.
	TensorScores = "scores"
)

// Sentinel marker strings the schema-prefixed prompt is built from. Both are
// special tokens in GLiNER vocabularies.
const (
	entityMarker    = "<<ENT>>"
	separatorMarker = "<<SEP>>"
)

// ============================================================================
// Batch
// ============================================================================

// Batch is an assembled, padded engine input for one run, plus the
// per-example metadata needed to decode the engine's output back into
// entities. Batches are built fresh per call and never shared.
type Batch struct {
	// Inputs are the named tensors handed to the engine.
	Inputs []backends.NamedTensor

	// Texts are the original inputs, retained for character slicing.
	Texts []string

	// Words holds the word table of each example, in input order.
	Words [][]Word

	// UnitCounts holds the true (unpadded) number of span units per
	// example: words for the schema-prefixed family, sub-tokens for the
	// parallel-channel family. Padding added during assembly never
	// changes these counts.
	UnitCounts []int

	// Spans is the explicit per-example span table in unit space,
	// parallel to the span index tensor (padded entries included).
	Spans [][]Span

	// SpanWords maps each span entry to word indices. For the
	// schema-prefixed family this aliases Spans; for the parallel-channel
	// family it resolves sub-token spans to the words containing them.
	SpanWords [][]Span

	// SpanValid marks which span entries are real candidates, false for
	// clamped lattice entries and padding rows alike.
	SpanValid [][]bool

	// Labels holds the candidate label names in caller order.
	Labels []string

	// LabelNames maps 1-based label ids to names. Id 0 is reserved as the
	// "no label" padding sentinel.
	LabelNames map[int]string

	// Layout declares the score-tensor dimension order for the decode
	// side. Its Positions axis is the padded unit axis of this batch.
	Layout SpanLayout
}

// labelNameMap builds the 1-based id-to-name map for a label set.
func labelNameMap(labels []string) map[int]string {
	m := make(map[int]string, len(labels))
	for i, label := range labels {
		m[i+1] = label
	}
	return m
}

// ============================================================================
// BatchAssembler
// ============================================================================

// BatchAssembler turns raw texts plus candidate labels into a padded Batch
// for one model family. The two families differ only in how label and text
// tokens are arranged; validation, overlap resolution, and score transforms
// are shared downstream.
type BatchAssembler interface {
	// Family identifies the model family this assembler serves.
	Family() ModelType

	// Assemble builds a padded Batch for the given texts and labels. An
	// empty text yields a zero-unit batch entry here; rejecting empty
	// input is the caller's job, not the assembler's.
	Assemble(texts []string, labels []string) (*Batch, error)
}

// NewBatchAssembler returns the assembler for the given model family.
func NewBatchAssembler(family ModelType, tokenizer tokenizers.Tokenizer, maxLength, maxWidth int) BatchAssembler {
	switch family {
	case ModelBiEncoder:
		return newParallelChannelAssembler(tokenizer, maxLength, maxWidth)
	default:
		return newSchemaPrefixAssembler(tokenizer, maxLength, maxWidth)
	}
}

// resolveSpecialIDs resolves the control-token ids assemblers insert. Ids
// the tokenizer does not register fall back to the DeBERTa convention
// ([CLS]=1, [SEP]=2, [PAD]=0) used by the published GLiNER checkpoints.
func resolveSpecialIDs(tok tokenizers.Tokenizer) (bosID, eosID, padID int) {
	bosID, eosID, padID = 1, 2, 0
	if id, err := tok.SpecialTokenID(api.TokBeginningOfSentence); err == nil {
		bosID = id
	} else if id, err := tok.SpecialTokenID(api.TokClassification); err == nil {
		bosID = id
	}
	if id, err := tok.SpecialTokenID(api.TokEndOfSentence); err == nil {
		eosID = id
	}
	if id, err := tok.SpecialTokenID(api.TokPad); err == nil {
		padID = id
	}
	return bosID, eosID, padID
}

// stripControlTokens drops the control ids a tokenizer may wrap around its
// output, leaving assembly in charge of their placement.
func stripControlTokens(ids []int, bosID, eosID, padID int) []int {
	clean := make([]int, 0, len(ids))
	for _, id := range ids {
		if id == bosID || id == eosID || id == padID {
			continue
		}
		clean = append(clean, id)
	}
	return clean
}

// ============================================================================
// Schema-Prefixed Assembly (uni-encoder family)
// ============================================================================

// schemaPrefixAssembler builds single-sequence inputs: every example's token
// row is [BOS] + label prompt + separator + text tokens + [EOS], with a
// word-boundary mask that zeroes the prompt and counts text words 1-based.
type schemaPrefixAssembler struct {
	tokenizer tokenizers.Tokenizer
	maxLength int
	maxWidth  int

	bosID int
	eosID int
	padID int
}

func newSchemaPrefixAssembler(tokenizer tokenizers.Tokenizer, maxLength, maxWidth int) *schemaPrefixAssembler {
	bos, eos, pad := resolveSpecialIDs(tokenizer)
	return &schemaPrefixAssembler{
		tokenizer: tokenizer,
		maxLength: maxLength,
		maxWidth:  maxWidth,
		bosID:     bos,
		eosID:     eos,
		padID:     pad,
	}
}

// Family implements BatchAssembler.
func (a *schemaPrefixAssembler) Family() ModelType { return ModelUniEncoder }

// buildLabelPrompt renders the label prompt: an entity marker before each
// label and a single separator marker closing the prefix.
func buildLabelPrompt(labels []string) string {
	var sb strings.Builder
	for _, label := range labels {
		sb.WriteString(entityMarker)
		sb.WriteString(label)
	}
	sb.WriteString(separatorMarker)
	return sb.String()
}

func (a *schemaPrefixAssembler) encodeClean(text string) []int {
	return stripControlTokens(a.tokenizer.Encode(text), a.bosID, a.eosID, a.padID)
}

// Assemble implements BatchAssembler for the schema-prefixed family.
func (a *schemaPrefixAssembler) Assemble(texts []string, labels []string) (*Batch, error) {
	// The prompt depends only on the label set, so encode it once per batch.
	promptIDs := a.encodeClean(buildLabelPrompt(labels))

	// Sequence budget for text tokens: BOS, prompt, and EOS are fixed cost.
	tokenBudget := a.maxLength - len(promptIDs) - 2
	if tokenBudget < 0 {
		tokenBudget = 0
	}

	batchSize := len(texts)
	words := make([][]Word, batchSize)
	wordTokens := make([][][]int, batchSize)
	wordCounts := make([]int, batchSize)
	seqLens := make([]int, batchSize)

	for i, text := range texts {
		split := SplitWords(text)
		kept := make([]Word, 0, len(split))
		tokens := make([][]int, 0, len(split))
		used := 0
		for _, w := range split {
			ids := a.encodeClean(w.Text)
			if len(ids) == 0 {
				continue
			}
			if used+len(ids) > tokenBudget {
				break
			}
			kept = append(kept, w)
			tokens = append(tokens, ids)
			used += len(ids)
		}
		words[i] = kept
		wordTokens[i] = tokens
		wordCounts[i] = len(kept)
		seqLens[i] = 2 + len(promptIDs) + used
	}

	// Batch-wide padded axis lengths.
	maxSeq := 0
	maxWords := 0
	for i := range texts {
		if seqLens[i] > maxSeq {
			maxSeq = seqLens[i]
		}
		if wordCounts[i] > maxWords {
			maxWords = wordCounts[i]
		}
	}
	if maxSeq == 0 {
		maxSeq = 2 + len(promptIDs)
	}

	layout := SpanLayout{Positions: maxWords, MaxWidth: a.maxWidth, Labels: len(labels)}
	numSpans := maxWords * a.maxWidth

	inputIDs := make([]int64, batchSize*maxSeq)
	attentionMask := make([]int64, batchSize*maxSeq)
	wordsMask := make([]int64, batchSize*maxSeq)
	textLengths := make([]int64, batchSize)
	spanIdx := make([]int64, batchSize*numSpans*2)
	spanMask := make([]bool, batchSize*numSpans)

	spans := make([][]Span, batchSize)
	spanValid := make([][]bool, batchSize)

	for i := range texts {
		row := i * maxSeq
		idx := row

		inputIDs[idx] = int64(a.bosID)
		attentionMask[idx] = 1
		idx++

		// Prompt tokens stay outside the word-boundary mask.
		for _, id := range promptIDs {
			inputIDs[idx] = int64(id)
			attentionMask[idx] = 1
			idx++
		}

		// Text tokens: the first sub-token of each word carries a 1-based
		// word counter, continuations and everything else carry 0.
		word := int64(1)
		for _, toks := range wordTokens[i] {
			for t, id := range toks {
				inputIDs[idx] = int64(id)
				attentionMask[idx] = 1
				if t == 0 {
					wordsMask[idx] = word
				}
				idx++
			}
			word++
		}

		inputIDs[idx] = int64(a.eosID)
		attentionMask[idx] = 1
		idx++

		// Right-pad the row; true length lives in textLengths, so padding
		// never masquerades as content.
		for ; idx < row+maxSeq; idx++ {
			inputIDs[idx] = int64(a.padID)
		}

		textLengths[i] = int64(wordCounts[i])

		// Span lattice over this example's true word count, padded out to
		// the batch-wide grid with invalid entries.
		lattice := NewSpanLattice(wordCounts[i], a.maxWidth)
		exSpans := make([]Span, numSpans)
		exValid := make([]bool, numSpans)
		copy(exSpans, lattice.Spans)
		copy(exValid, lattice.Valid)
		spans[i] = exSpans
		spanValid[i] = exValid

		base := i * numSpans
		for s := 0; s < numSpans; s++ {
			spanIdx[(base+s)*2] = int64(exSpans[s].Start)
			spanIdx[(base+s)*2+1] = int64(exSpans[s].End)
			spanMask[base+s] = exValid[s]
		}
	}

	inputs := []backends.NamedTensor{
		{Name: TensorInputIDs, Shape: []int64{int64(batchSize), int64(maxSeq)}, Data: inputIDs},
		{Name: TensorAttentionMask, Shape: []int64{int64(batchSize), int64(maxSeq)}, Data: attentionMask},
		{Name: TensorWordsMask, Shape: []int64{int64(batchSize), int64(maxSeq)}, Data: wordsMask},
		{Name: TensorTextLengths, Shape: []int64{int64(batchSize), 1}, Data: textLengths},
		{Name: TensorSpanIdx, Shape: []int64{int64(batchSize), int64(numSpans), 2}, Data: spanIdx},
		{Name: TensorSpanMask, Shape: []int64{int64(batchSize), int64(numSpans)}, Data: spanMask},
	}

	return &Batch{
		Inputs:     inputs,
		Texts:      texts,
		Words:      words,
		UnitCounts: wordCounts,
		Spans:      spans,
		SpanWords:  spans,
		SpanValid:  spanValid,
		Labels:     labels,
		LabelNames: labelNameMap(labels),
		Layout:     layout,
	}, nil
}

// ============================================================================
// Parallel-Channel Assembly (bi-encoder family)
// ============================================================================

// parallelChannelAssembler builds two-channel inputs: label tokens and text
// tokens travel in separate tensors, each with an explicit word-offset
// table, and span index pairs reference sub-token positions directly.
type parallelChannelAssembler struct {
	tokenizer tokenizers.Tokenizer
	maxLength int
	maxWidth  int

	bosID int
	eosID int
	padID int
}

func newParallelChannelAssembler(tokenizer tokenizers.Tokenizer, maxLength, maxWidth int) *parallelChannelAssembler {
	bos, eos, pad := resolveSpecialIDs(tokenizer)
	return &parallelChannelAssembler{
		tokenizer: tokenizer,
		maxLength: maxLength,
		maxWidth:  maxWidth,
		bosID:     bos,
		eosID:     eos,
		padID:     pad,
	}
}

// Family implements BatchAssembler.
func (a *parallelChannelAssembler) Family() ModelType { return ModelBiEncoder }

func (a *parallelChannelAssembler) encodeClean(text string) []int {
	return stripControlTokens(a.tokenizer.Encode(text), a.bosID, a.eosID, a.padID)
}

// Assemble implements BatchAssembler for the parallel-channel family.
func (a *parallelChannelAssembler) Assemble(texts []string, labels []string) (*Batch, error) {
	// Label channel: one row holding all label tokens back to back, with
	// an offset table pointing at each label's first sub-token.
	labelIDs := make([]int64, 0, len(labels)*4)
	labelOffsets := make([]int64, len(labels))
	for i, label := range labels {
		labelOffsets[i] = int64(len(labelIDs))
		for _, id := range a.encodeClean(label) {
			labelIDs = append(labelIDs, int64(id))
		}
	}
	labelMask := make([]int64, len(labelIDs))
	for i := range labelMask {
		labelMask[i] = 1
	}

	batchSize := len(texts)
	words := make([][]Word, batchSize)
	tokenIDs := make([][]int, batchSize)
	tokenWord := make([][]int, batchSize) // word index of each sub-token
	wordOffsets := make([][]int, batchSize)
	tokenCounts := make([]int, batchSize)

	for i, text := range texts {
		split := SplitWords(text)
		kept := make([]Word, 0, len(split))
		ids := make([]int, 0, len(split)*2)
		owner := make([]int, 0, len(split)*2)
		offsets := make([]int, 0, len(split))
		for _, w := range split {
			toks := a.encodeClean(w.Text)
			if len(toks) == 0 {
				continue
			}
			if len(ids)+len(toks) > a.maxLength {
				break
			}
			offsets = append(offsets, len(ids))
			for _, id := range toks {
				ids = append(ids, id)
				owner = append(owner, len(kept))
			}
			kept = append(kept, w)
		}
		words[i] = kept
		tokenIDs[i] = ids
		tokenWord[i] = owner
		wordOffsets[i] = offsets
		tokenCounts[i] = len(ids)
	}

	maxTokens := 0
	maxWords := 0
	for i := range texts {
		if tokenCounts[i] > maxTokens {
			maxTokens = tokenCounts[i]
		}
		if len(wordOffsets[i]) > maxWords {
			maxWords = len(wordOffsets[i])
		}
	}

	layout := SpanLayout{Positions: maxTokens, MaxWidth: a.maxWidth, Labels: len(labels)}
	numSpans := maxTokens * a.maxWidth

	textIDs := make([]int64, batchSize*maxTokens)
	textMask := make([]int64, batchSize*maxTokens)
	textOffsets := make([]int64, batchSize*maxWords)
	spanIdx := make([]int64, batchSize*numSpans*2)
	spanMask := make([]bool, batchSize*numSpans)

	spans := make([][]Span, batchSize)
	spanWords := make([][]Span, batchSize)
	spanValid := make([][]bool, batchSize)

	for i := range texts {
		row := i * maxTokens
		for t, id := range tokenIDs[i] {
			textIDs[row+t] = int64(id)
			textMask[row+t] = 1
		}
		for t := tokenCounts[i]; t < maxTokens; t++ {
			textIDs[row+t] = int64(a.padID)
		}
		for w, off := range wordOffsets[i] {
			textOffsets[i*maxWords+w] = int64(off)
		}

		// Span lattice over sub-token positions, padded to the batch grid.
		lattice := NewSpanLattice(tokenCounts[i], a.maxWidth)
		exSpans := make([]Span, numSpans)
		exValid := make([]bool, numSpans)
		exWords := make([]Span, numSpans)
		copy(exSpans, lattice.Spans)
		copy(exValid, lattice.Valid)

		// Resolve each sub-token span to the words containing it, kept as
		// an explicit table so the dense decode path needs no stride math.
		owner := tokenWord[i]
		for s := range exSpans {
			if !exValid[s] {
				continue
			}
			exWords[s] = Span{
				Start: owner[exSpans[s].Start],
				End:   owner[exSpans[s].End],
			}
		}

		spans[i] = exSpans
		spanWords[i] = exWords
		spanValid[i] = exValid

		base := i * numSpans
		for s := 0; s < numSpans; s++ {
			spanIdx[(base+s)*2] = int64(exSpans[s].Start)
			spanIdx[(base+s)*2+1] = int64(exSpans[s].End)
			spanMask[base+s] = exValid[s]
		}
	}

	inputs := []backends.NamedTensor{
		{Name: TensorLabelInputIDs, Shape: []int64{1, int64(len(labelIDs))}, Data: labelIDs},
		{Name: TensorLabelMask, Shape: []int64{1, int64(len(labelMask))}, Data: labelMask},
		{Name: TensorLabelOffsets, Shape: []int64{int64(len(labels))}, Data: labelOffsets},
		{Name: TensorTextInputIDs, Shape: []int64{int64(batchSize), int64(maxTokens)}, Data: textIDs},
		{Name: TensorTextMask, Shape: []int64{int64(batchSize), int64(maxTokens)}, Data: textMask},
		{Name: TensorTextOffsets, Shape: []int64{int64(batchSize), int64(maxWords)}, Data: textOffsets},
		{Name: TensorSpanIdx, Shape: []int64{int64(batchSize), int64(numSpans), 2}, Data: spanIdx},
		{Name: TensorSpanMask, Shape: []int64{int64(batchSize), int64(numSpans)}, Data: spanMask},
	}

	return &Batch{
		Inputs:     inputs,
		Texts:      texts,
		Words:      words,
		UnitCounts: tokenCounts,
		Spans:      spans,
		SpanWords:  spanWords,
		SpanValid:  spanValid,
		Labels:     labels,
		LabelNames: labelNameMap(labels),
		Layout:     layout,
	}, nil
}
