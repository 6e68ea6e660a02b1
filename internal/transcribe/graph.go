package transcribe

import (
	"context"
	"fmt"
)

// Tensor is a dense tensor with exactly one populated data slice.
type Tensor struct {
	Shape   []int64
	Float32 []float32
	Int64   []int64
	Int32   []int32
}

// Float32Tensor wraps data with the given shape.
func Float32Tensor(data []float32, shape ...int64) Tensor {
	return Tensor{Shape: shape, Float32: data}
}

// Int64Tensor wraps data with the given shape.
func Int64Tensor(data []int64, shape ...int64) Tensor {
	return Tensor{Shape: shape, Int64: data}
}

// Int32Tensor wraps data with the given shape.
func Int32Tensor(data []int32, shape ...int64) Tensor {
	return Tensor{Shape: shape, Int32: data}
}

// Graph is a loaded inference graph addressed by tensor name.
type Graph interface {
	// Run evaluates the graph and returns the named outputs.
	Run(ctx context.Context, inputs map[string]Tensor, outputs ...string) (map[string]Tensor, error)
	// InputShape returns the declared shape of an input. Dynamic
	// dimensions are negative.
	InputShape(name string) ([]int64, bool)
	Close() error
}

// firstInt returns the first element of an integer tensor.
func firstInt(t Tensor) (int, error) {
	switch {
	case len(t.Int64) > 0:
		return int(t.Int64[0]), nil
	case len(t.Int32) > 0:
		return int(t.Int32[0]), nil
	default:
		return 0, fmt.Errorf("expected an integer tensor, got shape %v", t.Shape)
	}
}

func output(out map[string]Tensor, name string) (Tensor, error) {
	t, ok := out[name]
	if !ok {
		return Tensor{}, fmt.Errorf("missing output %q", name)
	}
	return t, nil
}
