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
	classifyLabels     []string
	classifyThreshold  float32
	classifyQuantized  bool
	classifyMultiLabel bool
)

var classifyCmd = &cobra.Command{
	Use:   "classify <model> <text> [text...]",
	Short: "Classify text against a label set",
	Long: `Classify one or more texts against a set of candidate labels using a
local GLiNER model.

The model argument is either an owner/name reference under the models
directory or a path to a model directory. Pass "-" as the single text
argument to read the text from stdin.

Examples:
  gliner classify knowledgator/gliner-multitask-large-v0.5 "The meal was excellent." --labels positive,negative
  cat review.txt | gliner classify knowledgator/gliner-multitask-large-v0.5 - --labels positive,negative --multi-label`,
	Args: cobra.MinimumNArgs(2),
	RunE: runClassify,
}

func init() {
	classifyCmd.Flags().StringSliceVar(&classifyLabels, "labels", nil,
		"candidate labels (default: model's configured labels)")
	classifyCmd.Flags().Float32Var(&classifyThreshold, "threshold", 0,
		"score threshold for multi-label mode (0 = model default)")
	classifyCmd.Flags().BoolVar(&classifyQuantized, "quantized", false,
		"prefer the quantized model file if present")
	classifyCmd.Flags().BoolVar(&classifyMultiLabel, "multi-label", false,
		"return every label above the threshold instead of the best one")
	rootCmd.AddCommand(classifyCmd)
}

type classifyResult struct {
	Text   string                       `json:"text"`
	Result *gliner.ClassificationResult `json:"result"`
}

func runClassify(cmd *cobra.Command, args []string) error {
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
	if classifyQuantized {
		opts = append(opts, gliner.WithQuantized(true))
	}

	rec, err := gliner.Load(modelDir, opts...)
	if err != nil {
		return fmt.Errorf("loading model: %w", err)
	}
	defer func() {
		_ = rec.Close()
	}()

	classifyOpts := &gliner.ClassifyOptions{MultiLabel: classifyMultiLabel}
	if classifyThreshold > 0 {
		classifyOpts.Threshold = classifyThreshold
	}

	classifications, err := rec.ClassifyBatch(cmd.Context(), texts, classifyLabels, classifyOpts)
	if err != nil {
		return err
	}

	results := make([]classifyResult, len(texts))
	for i, text := range texts {
		results[i] = classifyResult{Text: text, Result: classifications[i]}
	}
	return writeJSON(results)
}
