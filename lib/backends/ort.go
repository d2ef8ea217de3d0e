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

//go:build onnx

package backends

import (
	"fmt"
	"os"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"
)

var (
	ortInitOnce sync.Once
	ortInitErr  error
)

// ensureORTEnvironment initializes the ONNX Runtime environment once per
// process. The shared library path can be set with ONNXRUNTIME_SHARED_LIB
// or ORT_SHLIB. The environment stays alive for the process lifetime since
// sessions come and go independently.
func ensureORTEnvironment() error {
	ortInitOnce.Do(func() {
		if shlib := os.Getenv("ONNXRUNTIME_SHARED_LIB"); shlib != "" {
			ort.SetSharedLibraryPath(shlib)
		} else if shlib := os.Getenv("ORT_SHLIB"); shlib != "" {
			ort.SetSharedLibraryPath(shlib)
		}
		if !ort.IsInitialized() {
			ortInitErr = ort.InitializeEnvironment()
		}
	})
	return ortInitErr
}

// ortSessionFactory creates ONNX Runtime backed sessions.
type ortSessionFactory struct {
	logger *zap.Logger
}

// NewORTSessionFactory returns a SessionFactory backed by ONNX Runtime.
// Requires the onnx build tag and a reachable onnxruntime shared library.
func NewORTSessionFactory(logger *zap.Logger) (SessionFactory, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := ensureORTEnvironment(); err != nil {
		return nil, fmt.Errorf("initializing onnx runtime: %w", err)
	}
	return &ortSessionFactory{logger: logger}, nil
}

// Backend implements SessionFactory.
func (f *ortSessionFactory) Backend() BackendType { return BackendORT }

// CreateSession implements SessionFactory. Input and output names are taken
// from the model itself, so callers only need to supply tensors under the
// names the model declares.
func (f *ortSessionFactory) CreateSession(modelPath string, opts ...SessionOption) (Session, error) {
	cfg := ApplySessionOptions(opts...)

	inputsInfo, outputsInfo, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		return nil, fmt.Errorf("inspecting model io for %s: %w", modelPath, err)
	}
	if len(outputsInfo) == 0 {
		return nil, fmt.Errorf("model %s reports no outputs", modelPath)
	}

	inputNames := make([]string, len(inputsInfo))
	inputMeta := make([]TensorInfo, len(inputsInfo))
	for i, info := range inputsInfo {
		inputNames[i] = info.Name
		inputMeta[i] = TensorInfo{Name: info.Name, Shape: copySlice(info.Dimensions)}
	}
	outputNames := make([]string, len(outputsInfo))
	outputMeta := make([]TensorInfo, len(outputsInfo))
	for i, info := range outputsInfo {
		outputNames[i] = info.Name
		outputMeta[i] = TensorInfo{Name: info.Name, Shape: copySlice(info.Dimensions)}
	}

	sessOpts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("creating session options: %w", err)
	}
	defer sessOpts.Destroy()

	if cfg.GraphOptimizationLevel >= 3 {
		if err := sessOpts.SetGraphOptimizationLevel(ort.GraphOptimizationLevelEnableAll); err != nil {
			return nil, fmt.Errorf("setting graph optimization: %w", err)
		}
	}
	if cfg.NumThreads > 0 {
		if err := sessOpts.SetIntraOpNumThreads(cfg.NumThreads); err != nil {
			return nil, fmt.Errorf("setting intra-op threads: %w", err)
		}
		if err := sessOpts.SetInterOpNumThreads(1); err != nil {
			return nil, fmt.Errorf("setting inter-op threads: %w", err)
		}
	}

	sess, err := ort.NewDynamicAdvancedSession(modelPath, inputNames, outputNames, sessOpts)
	if err != nil {
		return nil, fmt.Errorf("creating onnx session: %w", err)
	}

	f.logger.Info("onnx session ready",
		zap.String("model", modelPath),
		zap.Strings("inputs", inputNames),
		zap.Strings("outputs", outputNames))

	return &ortSession{
		session:     sess,
		inputNames:  inputNames,
		outputNames: outputNames,
		inputMeta:   inputMeta,
		outputMeta:  outputMeta,
		logger:      f.logger,
	}, nil
}

// ortSession adapts an ONNX Runtime dynamic session to the Session interface.
type ortSession struct {
	mu          sync.Mutex
	session     *ort.DynamicAdvancedSession
	inputNames  []string
	outputNames []string
	inputMeta   []TensorInfo
	outputMeta  []TensorInfo
	logger      *zap.Logger
}

// InputInfo implements Session. Dynamic dimensions are reported as -1 and
// element types are not reported by the runtime inspection call.
func (s *ortSession) InputInfo() []TensorInfo { return s.inputMeta }

// OutputInfo implements Session.
func (s *ortSession) OutputInfo() []TensorInfo { return s.outputMeta }

// Run implements Session. Inputs are matched to the model's declared input
// names; every tensor the model expects must be present.
func (s *ortSession) Run(inputs []NamedTensor) ([]NamedTensor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return nil, fmt.Errorf("session is closed")
	}

	byName := make(map[string]NamedTensor, len(inputs))
	for _, in := range inputs {
		byName[in.Name] = in
	}

	values := make([]ort.Value, 0, len(s.inputNames))
	defer func() {
		for _, v := range values {
			if v != nil {
				_ = v.Destroy()
			}
		}
	}()
	for _, name := range s.inputNames {
		in, ok := byName[name]
		if !ok {
			return nil, fmt.Errorf("model expects input %q which was not provided", name)
		}
		value, err := newORTValue(in)
		if err != nil {
			return nil, err
		}
		values = append(values, value)
	}

	// Nil slots let the runtime allocate each output.
	outputs := make([]ort.Value, len(s.outputNames))
	if err := s.session.Run(values, outputs); err != nil {
		return nil, fmt.Errorf("onnx run failed: %w", err)
	}
	defer func() {
		for _, out := range outputs {
			if out != nil {
				_ = out.Destroy()
			}
		}
	}()

	results := make([]NamedTensor, 0, len(outputs))
	for i, out := range outputs {
		if out == nil {
			continue
		}
		named, ok := namedFromValue(s.outputNames[i], out)
		if !ok {
			s.logger.Debug("skipping output with unsupported element type",
				zap.String("name", s.outputNames[i]))
			continue
		}
		results = append(results, named)
	}
	return results, nil
}

// Close implements Session.
func (s *ortSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session != nil {
		s.session.Destroy()
		s.session = nil
	}
	return nil
}

// newORTValue converts a NamedTensor into a runtime tensor.
func newORTValue(t NamedTensor) (ort.Value, error) {
	shape := ort.NewShape(t.Shape...)
	switch data := t.Data.(type) {
	case []float32:
		v, err := ort.NewTensor[float32](shape, data)
		if err != nil {
			return nil, fmt.Errorf("creating tensor %s: %w", t.Name, err)
		}
		return v, nil
	case []int64:
		v, err := ort.NewTensor[int64](shape, data)
		if err != nil {
			return nil, fmt.Errorf("creating tensor %s: %w", t.Name, err)
		}
		return v, nil
	case []int32:
		v, err := ort.NewTensor[int32](shape, data)
		if err != nil {
			return nil, fmt.Errorf("creating tensor %s: %w", t.Name, err)
		}
		return v, nil
	case []bool:
		v, err := ort.NewTensor[bool](shape, data)
		if err != nil {
			return nil, fmt.Errorf("creating tensor %s: %w", t.Name, err)
		}
		return v, nil
	default:
		return nil, fmt.Errorf("input %s has unsupported data type %T", t.Name, t.Data)
	}
}

// namedFromValue copies a runtime tensor into a NamedTensor so the value can
// be destroyed before the data is used.
func namedFromValue(name string, v ort.Value) (NamedTensor, bool) {
	switch t := v.(type) {
	case *ort.Tensor[float32]:
		return NamedTensor{Name: name, Shape: copySlice(t.GetShape()), Data: copySlice(t.GetData())}, true
	case *ort.Tensor[int64]:
		return NamedTensor{Name: name, Shape: copySlice(t.GetShape()), Data: copySlice(t.GetData())}, true
	case *ort.Tensor[int32]:
		return NamedTensor{Name: name, Shape: copySlice(t.GetShape()), Data: copySlice(t.GetData())}, true
	case *ort.Tensor[bool]:
		return NamedTensor{Name: name, Shape: copySlice(t.GetShape()), Data: copySlice(t.GetData())}, true
	default:
		return NamedTensor{}, false
	}
}

func copySlice[T any](src []T) []T {
	out := make([]T, len(src))
	copy(out, src)
	return out
}
