// Copyright 2025 Antfly, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package cmd

import (
	"fmt"

	"github.com/antflydb/gliner"
	"github.com/spf13/cobra"
)

var (
	extractLabels     []string
	extractThreshold  float32
	extractQuantized  bool
	extractNested     bool
	extractMultiLabel bool
)

var extractCmd = &cobra.Command{
	Use:   "extract <model> <text> [text...]",
	Short: "Extract entities from text",
	Long: `Extract named entities from one or more texts using a local GLiNER model.

The model argument is either an owner/name reference under the models
directory or a path to a model directory. Pass "-" as the single text
argument to read the text from stdin.

Examples:
  gliner extract onnx-community/gliner_small-v2.1 "Bill Gates founded Microsoft." --labels person,organization
  cat article.txt | gliner extract onnx-community/gliner_small-v2.1 - --labels person,location`,
	Args: cobra.MinimumNArgs(2),
	RunE: runExtract,
}

func init() {
	extractCmd.Flags().StringSliceVar(&extractLabels, "labels", nil,
		"entity labels to extract (default: model's configured labels)")
	extractCmd.Flags().Float32Var(&extractThreshold, "threshold", 0,
		"score threshold for keeping spans (0 = model default)")
	extractCmd.Flags().BoolVar(&extractQuantized, "quantized", false,
		"prefer the quantized model file if present")
	extractCmd.Flags().BoolVar(&extractNested, "nested", false,
		"allow nested entity spans")
	extractCmd.Flags().BoolVar(&extractMultiLabel, "multi-label", false,
		"allow overlapping spans with different labels")
	rootCmd.AddCommand(extractCmd)
}

type extractResult struct {
	Text     string          `json:"text"`
	Entities []gliner.Entity `json:"entities"`
}

func runExtract(cmd *cobra.Command, args []string) error {
	logger := newLogger()
	defer func() {
		_ = logger.Sync()
	}()

	modelDir, err := resolveModelDir(args[0])
	if err != nil {
		return err
	}
	texts, err := gatherTexts(args[1:])
	if err != nil {
		return err
	}

	opts := []gliner.Option{
		gliner.WithLogger(logger),
		gliner.WithPoolSize(1),
	}
	if extractQuantized {
		opts = append(opts, gliner.WithQuantized(true))
	}
	if extractNested {
		opts = append(opts, gliner.WithFlatNER(false))
	}
	if extractMultiLabel {
		opts = append(opts, gliner.WithMultiLabel(true))
	}

	rec, err := gliner.Load(modelDir, opts...)
	if err != nil {
		return fmt.Errorf("loading model: %w", err)
	}
	defer func() {
		_ = rec.Close()
	}()

	var extractOpts *gliner.ExtractOptions
	if extractThreshold > 0 {
		extractOpts = &gliner.ExtractOptions{Threshold: extractThreshold}
	}

	entities, err := rec.ExtractBatch(cmd.Context(), texts, extractLabels, extractOpts)
	if err != nil {
		return err
	}

	results := make([]extractResult, len(texts))
	for i, text := range texts {
		results[i] = extractResult{Text: text, Entities: entities[i]}
	}
	return writeJSON(results)
}
