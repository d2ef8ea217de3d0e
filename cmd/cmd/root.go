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
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/antflydb/antfly-go/libaf/logging"
	"github.com/antflydb/gliner/lib/modelregistry"
	"github.com/bytedance/sonic/encoder"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Version is set by the main package from build metadata.
var Version = "dev"

var modelsDir string

var rootCmd = &cobra.Command{
	Use:   "gliner",
	Short: "Zero-shot entity extraction and classification",
	Long: `gliner runs GLiNER-family ONNX models locally for zero-shot
named-entity extraction and text classification.

Models live under the models directory (default ~/.gliner/models) and are
downloaded from Hugging Face with "gliner pull".`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	rootCmd.Version = Version
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&modelsDir, "models-dir", defaultModelsDir(),
		"directory holding local models")
	mustBindPFlag("models_dir", rootCmd.PersistentFlags().Lookup("models-dir"))

	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	mustBindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))

	rootCmd.PersistentFlags().String("log-style", "console", "log style (console, json)")
	mustBindPFlag("log.style", rootCmd.PersistentFlags().Lookup("log-style"))

	viper.SetEnvPrefix("GLINER")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()
}

func mustBindPFlag(key string, flag *pflag.Flag) {
	if err := viper.BindPFlag(key, flag); err != nil {
		panic(fmt.Sprintf("binding flag %s: %v", key, err))
	}
}

func defaultModelsDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "models"
	}
	return filepath.Join(home, ".gliner", "models")
}

// newLogger creates the CLI logger from viper config.
func newLogger() *zap.Logger {
	return logging.NewLogger(&logging.Config{
		Level: logging.Level(viper.GetString("log.level")),
		Style: logging.Style(viper.GetString("log.style")),
	})
}

// writeJSON streams v to stdout as JSON.
func writeJSON(v any) error {
	return encoder.NewStreamEncoder(os.Stdout).Encode(v)
}

// resolveModelDir maps a model argument to a directory: an existing
// directory path is used directly, otherwise the argument is resolved as an
// owner/name reference under the models directory.
func resolveModelDir(ref string) (string, error) {
	if info, err := os.Stat(ref); err == nil && info.IsDir() {
		return ref, nil
	}

	parsed, err := modelregistry.ParseModelRef(ref)
	if err != nil {
		return "", err
	}
	if dir := modelregistry.ResolveLocalModel(parsed, modelsDir); dir != "" {
		return dir, nil
	}
	return "", fmt.Errorf("model %s not found under %s (try \"gliner pull %s\")",
		parsed.FullName(), modelsDir, ref)
}

// gatherTexts returns the text arguments, reading stdin when the single
// argument "-" is given.
func gatherTexts(args []string) ([]string, error) {
	if len(args) == 1 && args[0] == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, fmt.Errorf("reading stdin: %w", err)
		}
		text := strings.TrimSpace(string(data))
		if text == "" {
			return nil, fmt.Errorf("stdin is empty")
		}
		return []string{text}, nil
	}
	return args, nil
}
