package model

import (
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// ortEnv guards the process-wide ONNX Runtime environment.
var ortEnv struct {
	once sync.Once
	err  error
}

func initORT(libPath string) error {
	ortEnv.once.Do(func() {
		if libPath != "" {
			ort.SetSharedLibraryPath(libPath)
		}
		ortEnv.err = ort.InitializeEnvironment()
	})
	return ortEnv.err
}

// ReleaseRuntime tears down the ONNX Runtime environment. Call once at exit,
// after every session has been closed.
func ReleaseRuntime() error {
	if !ort.IsInitialized() {
		return nil
	}
	return ort.DestroyEnvironment()
}

// ONNXOptions configures sessions created by ONNXLoader.
type ONNXOptions struct {
	// LibraryPath points at the onnxruntime shared library. Empty uses the
	// runtime's default lookup.
	LibraryPath string
	// IntraOpThreads caps intra-op parallelism; 0 keeps the runtime default.
	IntraOpThreads int
}

// ONNXLoader returns a Loader backed by ONNX Runtime.
func ONNXLoader(opts ONNXOptions) Loader {
	return func(path string) (Session, error) {
		return newONNXSession(path, opts)
	}
}

// onnxSession wraps a DynamicAdvancedSession so the batch dimension can vary
// from call to call. Only the model's first output is fetched.
type onnxSession struct {
	session    *ort.DynamicAdvancedSession
	inputNames []string
	outputName string
}

func newONNXSession(modelPath string, opts ONNXOptions) (*onnxSession, error) {
	if err := initORT(opts.LibraryPath); err != nil {
		return nil, fmt.Errorf("onnx: failed to initialize runtime: %w", err)
	}

	inputs, outputs, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		return nil, fmt.Errorf("onnx: failed to read model info: %w", err)
	}
	if len(inputs) == 0 {
		return nil, ErrNoInputs
	}
	if len(outputs) == 0 {
		return nil, fmt.Errorf("onnx: model has no outputs")
	}

	inputNames := make([]string, len(inputs))
	for i, in := range inputs {
		inputNames[i] = in.Name
	}
	outputName := outputs[0].Name

	sessOpts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("onnx: failed to create session options: %w", err)
	}
	defer sessOpts.Destroy()
	if opts.IntraOpThreads > 0 {
		if err := sessOpts.SetIntraOpNumThreads(opts.IntraOpThreads); err != nil {
			return nil, fmt.Errorf("onnx: failed to set intra-op threads: %w", err)
		}
	}

	// Only the first input is bound at run time; models with several inputs
	// fail inside Run, as they would with any single-input caller.
	session, err := ort.NewDynamicAdvancedSession(
		modelPath,
		inputNames[:1],
		[]string{outputName},
		sessOpts,
	)
	if err != nil {
		return nil, fmt.Errorf("onnx: failed to create session: %w", err)
	}

	return &onnxSession{
		session:    session,
		inputNames: inputNames,
		outputName: outputName,
	}, nil
}

func (s *onnxSession) InputNames() []string {
	names := make([]string, len(s.inputNames))
	copy(names, s.inputNames)
	return names
}

func (s *onnxSession) Run(input string, t Tensor) ([]float64, error) {
	if input != s.inputNames[0] {
		return nil, fmt.Errorf("onnx: unknown input %q (session is bound to %q)", input, s.inputNames[0])
	}

	in, err := ort.NewTensor(ort.NewShape(t.Shape...), t.Data)
	if err != nil {
		return nil, fmt.Errorf("onnx: failed to create input tensor: %w", err)
	}
	defer in.Destroy()

	// A nil output is allocated by the runtime with whatever shape and
	// element type the graph produces.
	outputs := []ort.Value{nil}
	if err := s.session.Run([]ort.Value{in}, outputs); err != nil {
		return nil, fmt.Errorf("onnx: inference failed: %w", err)
	}
	if outputs[0] == nil {
		return nil, ErrNoOutput
	}
	defer outputs[0].Destroy()

	return tensorValues(outputs[0])
}

// tensorValues copies a numeric output tensor into a float64 slice before the
// tensor is destroyed.
func tensorValues(v ort.Value) ([]float64, error) {
	switch t := v.(type) {
	case *ort.Tensor[int64]:
		return widen(t.GetData()), nil
	case *ort.Tensor[int32]:
		return widen(t.GetData()), nil
	case *ort.Tensor[float32]:
		return widen(t.GetData()), nil
	case *ort.Tensor[float64]:
		return widen(t.GetData()), nil
	default:
		return nil, fmt.Errorf("onnx: unsupported output type %T", v)
	}
}

func widen[T int64 | int32 | float32 | float64](src []T) []float64 {
	out := make([]float64, len(src))
	for i, v := range src {
		out[i] = float64(v)
	}
	return out
}

func (s *onnxSession) Close() error {
	return s.session.Destroy()
}
