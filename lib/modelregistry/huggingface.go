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

package modelregistry

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/gomlx/go-huggingface/hub"
	"go.uber.org/zap"
)

// ============================================================================
// Hugging Face client
// ============================================================================

// ProgressHandler receives download progress updates. It is called with
// downloaded == 0 and total == -1 when a file transfer starts, and with
// downloaded == total once the file is on disk.
type ProgressHandler func(downloaded, total int64, filename string)

// HuggingFaceClient pulls span-extraction model repositories from the
// Hugging Face hub into a local models directory.
type HuggingFaceClient struct {
	token           string
	progressHandler ProgressHandler
	logger          *zap.Logger
}

// HFClientOption configures a HuggingFaceClient.
type HFClientOption func(*HuggingFaceClient)

// WithHFToken sets the access token used for gated or private repositories.
func WithHFToken(token string) HFClientOption {
	return func(c *HuggingFaceClient) { c.token = token }
}

// WithHFProgressHandler installs a callback for per-file download progress.
func WithHFProgressHandler(h ProgressHandler) HFClientOption {
	return func(c *HuggingFaceClient) { c.progressHandler = h }
}

// WithHFLogger sets the logger used for download reporting.
func WithHFLogger(logger *zap.Logger) HFClientOption {
	return func(c *HuggingFaceClient) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewHuggingFaceClient creates a client. The HF_TOKEN environment variable
// supplies the default access token.
func NewHuggingFaceClient(opts ...HFClientOption) *HuggingFaceClient {
	c := &HuggingFaceClient{
		token:  os.Getenv("HF_TOKEN"),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *HuggingFaceClient) repo(repoID string) *hub.Repo {
	repo := hub.New(repoID)
	if c.token != "" {
		repo = repo.WithAuth(c.token)
	}
	return repo
}

func (c *HuggingFaceClient) progress(downloaded, total int64, filename string) {
	if c.progressHandler != nil {
		c.progressHandler(downloaded, total, filename)
	}
}

// ============================================================================
// Pulling models
// ============================================================================

// PullModel downloads the files a span-extraction model needs from the
// referenced repository into modelsDir, laid out as modelsDir/owner/name.
// It returns the model directory. Files already present are re-used by the
// underlying hub cache, so pulling an up-to-date model is cheap.
func (c *HuggingFaceClient) PullModel(ctx context.Context, ref ModelRef, modelsDir string) (string, error) {
	if ref.Owner == "" {
		return "", fmt.Errorf("hugging face reference %q must include an owner", ref.String())
	}
	repoID := ref.FullName()
	repo := c.repo(repoID)

	files, err := listRepoFiles(repo)
	if err != nil {
		return "", fmt.Errorf("listing files for %s: %w", repoID, err)
	}

	selected, haveModel := selectModelFiles(files, ref.Variant)
	if !haveModel {
		available := DetectAvailableVariants(files)
		if len(available) > 0 {
			return "", fmt.Errorf("%s has no %q model file (available variants: %s)",
				repoID, variantLabel(ref.Variant), strings.Join(available, ", "))
		}
		return "", fmt.Errorf("%s has no ONNX model file", repoID)
	}

	destDir := ref.DirPath(modelsDir)
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", fmt.Errorf("creating model directory %s: %w", destDir, err)
	}

	for _, name := range selected {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		c.progress(0, -1, name)

		localPath, err := repo.DownloadFile(name)
		if err != nil {
			return "", fmt.Errorf("downloading %s from %s: %w", name, repoID, err)
		}

		destPath := filepath.Join(destDir, path.Base(name))
		if err := copyFile(localPath, destPath); err != nil {
			return "", fmt.Errorf("copying %s into %s: %w", name, destDir, err)
		}

		size := int64(0)
		if info, err := os.Stat(destPath); err == nil {
			size = info.Size()
		}
		c.progress(size, size, name)
		c.logger.Info("pulled model file",
			zap.String("repo", repoID),
			zap.String("file", name),
			zap.Int64("bytes", size))
	}

	c.logger.Info("model ready", zap.String("repo", repoID), zap.String("dir", destDir))
	return destDir, nil
}

// ListRepoFiles returns every file path in the repository.
func (c *HuggingFaceClient) ListRepoFiles(ctx context.Context, repoID string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	files, err := listRepoFiles(c.repo(repoID))
	if err != nil {
		return nil, fmt.Errorf("listing files for %s: %w", repoID, err)
	}
	return files, nil
}

func listRepoFiles(repo *hub.Repo) ([]string, error) {
	var files []string
	for fileName, err := range repo.IterFileNames() {
		if err != nil {
			return nil, err
		}
		files = append(files, fileName)
	}
	return files, nil
}

// ============================================================================
// File selection
// ============================================================================

// metadataFiles are the configuration and tokenizer files that accompany a
// model regardless of variant.
var metadataFiles = map[string]bool{
	"gliner_config.json":      true,
	"config.json":             true,
	"tokenizer.json":          true,
	"tokenizer_config.json":   true,
	"tokenizer.model":         true,
	"special_tokens_map.json": true,
	"added_tokens.json":       true,
	"vocab.txt":               true,
}

// selectModelFiles picks the metadata files plus the ONNX model file for the
// requested variant. Files are accepted from the repository root and from an
// onnx/ subdirectory, and land flattened in the destination so external
// weight files stay next to their model. The second return reports whether a
// model file for the variant was found.
func selectModelFiles(files []string, variant string) ([]string, bool) {
	modelName := variantFileName(variant)
	var selected []string
	haveModel := false

	for _, f := range files {
		dir := path.Dir(f)
		if dir != "." && dir != "onnx" {
			continue
		}
		base := path.Base(f)
		switch {
		case metadataFiles[base]:
			selected = append(selected, f)
		case base == modelName:
			selected = append(selected, f)
			haveModel = true
		case base == modelName+"_data" || base == modelName+".data":
			// External weights referenced by the model file.
			selected = append(selected, f)
		}
	}
	return selected, haveModel
}

func variantFileName(variant string) string {
	if variant == "" {
		return "model.onnx"
	}
	return "model_" + variant + ".onnx"
}

func variantLabel(variant string) string {
	if variant == "" {
		return "default"
	}
	return variant
}

// ============================================================================
// Variants
// ============================================================================

var variantDescriptions = map[string]string{
	"fp16":      "16-bit float weights",
	"int8":      "8-bit integer quantization",
	"q4":        "4-bit integer quantization",
	"q4f16":     "4-bit integer quantization with fp16 activations",
	"quantized": "dynamic uint8 quantization",
}

var variantOrder = []string{"fp16", "int8", "q4", "q4f16", "quantized"}

// ValidVariants lists the quantization variants a model reference may name.
func ValidVariants() []string {
	out := make([]string, len(variantOrder))
	copy(out, variantOrder)
	return out
}

// IsValidVariant reports whether variant names a known quantization variant.
func IsValidVariant(variant string) bool {
	_, ok := variantDescriptions[variant]
	return ok
}

// VariantDescription describes a variant for display. The empty variant is
// the full-precision default.
func VariantDescription(variant string) string {
	if variant == "" {
		return "full precision"
	}
	if desc, ok := variantDescriptions[variant]; ok {
		return desc
	}
	return "unknown"
}

// DetectAvailableVariants reports which quantization variants the listed
// repository files provide, in canonical order.
func DetectAvailableVariants(files []string) []string {
	present := make(map[string]bool)
	for _, f := range files {
		dir := path.Dir(f)
		if dir != "." && dir != "onnx" {
			continue
		}
		base := path.Base(f)
		for _, v := range variantOrder {
			if base == variantFileName(v) {
				present[v] = true
			}
		}
	}
	var available []string
	for _, v := range variantOrder {
		if present[v] {
			available = append(available, v)
		}
	}
	return available
}

// ============================================================================
// Helpers
// ============================================================================

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
