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

	"github.com/antflydb/gliner/lib/cli"
	"github.com/spf13/cobra"
)

var hfToken string

var pullCmd = &cobra.Command{
	Use:   "pull <model-ref> [model-ref...]",
	Short: "Download models from Hugging Face",
	Long: `Download GLiNER models from Hugging Face into the models directory.

Model references take the form owner/name with an optional quantization
variant suffix:
  owner/name            full precision (model.onnx)
  owner/name:fp16       16-bit floating point
  owner/name:int8       8-bit integer quantization
  owner/name:q4         4-bit block quantization
  owner/name:q4f16      4-bit blocks with fp16 scales
  owner/name:quantized  8-bit integer (legacy naming)

Examples:
  gliner pull onnx-community/gliner_small-v2.1
  gliner pull onnx-community/gliner_small-v2.1:quantized
  gliner pull knowledgator/gliner-multitask-large-v0.5 urchade/gliner_multi-v2.1`,
	Args: cobra.MinimumNArgs(1),
	RunE: runPull,
}

func init() {
	pullCmd.Flags().StringVar(&hfToken, "hf-token", "",
		"Hugging Face access token (defaults to HF_TOKEN env var)")
	rootCmd.AddCommand(pullCmd)
}

func runPull(_ *cobra.Command, args []string) error {
	for _, arg := range args {
		fmt.Printf("\n=== Pulling %s ===\n", arg)
		err := cli.PullFromHuggingFace(arg, cli.HuggingFaceOptions{
			ModelsDir: modelsDir,
			HFToken:   hfToken,
		})
		if err != nil {
			return fmt.Errorf("failed to pull %s: %w", arg, err)
		}
	}
	return nil
}
