package transcribe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// RuntimeLibraryEnv overrides the onnxruntime shared library location.
const RuntimeLibraryEnv = "ONNXRUNTIME_LIB"

var (
	runtimeOnce sync.Once
	runtimeErr  error
)

// initRuntime loads the onnxruntime shared library once per process.
func initRuntime(libPath string) error {
	runtimeOnce.Do(func() {
		if libPath == "" {
			libPath = os.Getenv(RuntimeLibraryEnv)
		}
		if libPath != "" {
			ort.SetSharedLibraryPath(libPath)
		}
		if ort.IsInitialized() {
			return
		}
		if err := ort.InitializeEnvironment(); err != nil {
			runtimeErr = fmt.Errorf("initializing onnxruntime: %w", err)
		}
	})
	return runtimeErr
}

// onnxGraph is a Graph backed by an onnxruntime session.
type onnxGraph struct {
	name     string
	session  *ort.DynamicAdvancedSession
	inputs   map[string]ort.InputOutputInfo
	inNames  []string
	outNames []string
	mu       sync.Mutex
}

// openGraph loads the model at path. If the requested accelerator cannot
// be used the session is created on the CPU instead.
func openGraph(path, accelerator string, threads int) (*onnxGraph, error) {
	ins, outs, err := ort.GetInputOutputInfo(path)
	if err != nil {
		return nil, fmt.Errorf("reading graph info %q: %w", path, err)
	}

	g := &onnxGraph{name: path, inputs: make(map[string]ort.InputOutputInfo, len(ins))}
	for _, in := range ins {
		g.inputs[in.Name] = in
		g.inNames = append(g.inNames, in.Name)
		slog.Debug("[onnx] graph input", "graph", path, "name", in.Name, "shape", in.Dimensions, "type", in.DataType)
	}
	for _, out := range outs {
		g.outNames = append(g.outNames, out.Name)
		slog.Debug("[onnx] graph output", "graph", path, "name", out.Name, "shape", out.Dimensions)
	}

	session, err := newSession(path, g.inNames, g.outNames, accelerator, threads)
	if err != nil && accelerator != "" && accelerator != "cpu" {
		slog.Debug("[onnx] accelerator session failed, using cpu", "graph", path, "accelerator", accelerator, "error", err)
		session, err = newSession(path, g.inNames, g.outNames, "", threads)
	}
	if err != nil {
		return nil, fmt.Errorf("creating session %q: %w", path, err)
	}
	g.session = session
	return g, nil
}

func newSession(path string, inNames, outNames []string, accelerator string, threads int) (*ort.DynamicAdvancedSession, error) {
	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("session options: %w", err)
	}
	defer opts.Destroy()

	if err := opts.SetIntraOpNumThreads(threads); err != nil {
		return nil, fmt.Errorf("setting intra-op threads: %w", err)
	}

	switch accelerator {
	case "coreml":
		if err := opts.AppendExecutionProviderCoreML(0); err != nil {
			slog.Debug("[onnx] coreml provider unavailable", "error", err)
		}
	case "cuda":
		if err := appendCUDA(opts); err != nil {
			slog.Debug("[onnx] cuda provider unavailable", "error", err)
		}
	}

	return ort.NewDynamicAdvancedSession(path, inNames, outNames, opts)
}

func appendCUDA(opts *ort.SessionOptions) error {
	cuda, err := ort.NewCUDAProviderOptions()
	if err != nil {
		return err
	}
	defer cuda.Destroy()
	return opts.AppendExecutionProviderCUDA(cuda)
}

func (g *onnxGraph) InputShape(name string) ([]int64, bool) {
	in, ok := g.inputs[name]
	if !ok {
		return nil, false
	}
	return []int64(in.Dimensions), true
}

// Run evaluates the session. Every declared input must be supplied.
// Cancellation is only observed before the session starts.
func (g *onnxGraph) Run(ctx context.Context, inputs map[string]Tensor, outputs ...string) (map[string]Tensor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.session == nil {
		return nil, errors.New("graph is closed")
	}

	in := make([]ort.Value, len(g.inNames))
	defer destroyAll(in)
	for i, name := range g.inNames {
		t, ok := inputs[name]
		if !ok {
			return nil, fmt.Errorf("missing input %q", name)
		}
		v, err := toValue(t)
		if err != nil {
			return nil, fmt.Errorf("input %q: %w", name, err)
		}
		in[i] = v
	}

	out := make([]ort.Value, len(g.outNames))
	defer destroyAll(out)
	if err := g.session.Run(in, out); err != nil {
		return nil, fmt.Errorf("running %s: %w", g.name, err)
	}

	result := make(map[string]Tensor, len(outputs))
	for _, want := range outputs {
		idx := -1
		for i, name := range g.outNames {
			if name == want {
				idx = i
				break
			}
		}
		if idx < 0 {
			return nil, fmt.Errorf("graph has no output %q", want)
		}
		t, err := fromValue(out[idx])
		if err != nil {
			return nil, fmt.Errorf("output %q: %w", want, err)
		}
		result[want] = t
	}
	return result, nil
}

func (g *onnxGraph) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.session == nil {
		return nil
	}
	err := g.session.Destroy()
	g.session = nil
	return err
}

func toValue(t Tensor) (ort.Value, error) {
	shape := ort.NewShape(t.Shape...)
	switch {
	case t.Float32 != nil:
		return ort.NewTensor(shape, t.Float32)
	case t.Int64 != nil:
		return ort.NewTensor(shape, t.Int64)
	case t.Int32 != nil:
		return ort.NewTensor(shape, t.Int32)
	default:
		return nil, errors.New("tensor has no data")
	}
}

// fromValue copies an output out of onnxruntime-owned memory.
func fromValue(v ort.Value) (Tensor, error) {
	switch tv := v.(type) {
	case *ort.Tensor[float32]:
		return Float32Tensor(append([]float32(nil), tv.GetData()...), tv.GetShape()...), nil
	case *ort.Tensor[int64]:
		return Int64Tensor(append([]int64(nil), tv.GetData()...), tv.GetShape()...), nil
	case *ort.Tensor[int32]:
		return Int32Tensor(append([]int32(nil), tv.GetData()...), tv.GetShape()...), nil
	default:
		return Tensor{}, fmt.Errorf("unsupported output type %T", v)
	}
}

func destroyAll(values []ort.Value) {
	for _, v := range values {
		if v != nil {
			v.Destroy()
		}
	}
}
