package transcribe

import (
	"context"
	"fmt"
)

// maxSymbolsPerFrame bounds how many tokens one encoder frame may emit
// before the decoder is forced forward.
const maxSymbolsPerFrame = 10

// defaultStateShape is used when the decoder does not declare a usable
// rank-3 state shape.
var defaultStateShape = []int64{2, 1, 640}

// jointStepper runs the prediction and joint networks for one step.
type jointStepper interface {
	step(ctx context.Context, frame []float32, target int32, states [2]Tensor) (logits []float32, next [2]Tensor, err error)
}

// tdtDecode runs greedy Token-and-Duration Transducer decoding over encoder
// frames and returns the emitted token ids.
//
// The stepper's logits hold vocabSize token scores followed by duration
// scores. The decoder state advances only when a non-blank token is
// emitted.
func tdtDecode(
	ctx context.Context,
	frames [][]float32,
	validLength, blank, vocabSize int,
	stateShapes [2][]int64,
	stepper jointStepper,
) ([]int, error) {
	states := [2]Tensor{zeroState(stateShapes[0]), zeroState(stateShapes[1])}

	maxT := min(validLength, len(frames))
	var tokens []int
	t, emitted := 0, 0

	for t < maxT {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		target := blank
		if len(tokens) > 0 {
			target = tokens[len(tokens)-1]
		}

		logits, next, err := stepper.step(ctx, frames[t], int32(target), states)
		if err != nil {
			return nil, fmt.Errorf("decoder step at frame %d: %w", t, err)
		}
		if len(logits) < vocabSize {
			return nil, fmt.Errorf("decoder step at frame %d: got %d logits, want at least %d", t, len(logits), vocabSize)
		}

		token := argmax(logits[:vocabSize])
		step := -1
		if len(logits) > vocabSize {
			step = argmax(logits[vocabSize:])
		}

		if token != blank {
			states = next
			tokens = append(tokens, token)
			emitted++
		}

		switch {
		case step > 0:
			t += step
			emitted = 0
		case token == blank || emitted >= maxSymbolsPerFrame:
			t++
			emitted = 0
		}
	}

	return tokens, nil
}

// argmax returns the index of the first maximum.
func argmax(xs []float32) int {
	best := 0
	for i := 1; i < len(xs); i++ {
		if xs[i] > xs[best] {
			best = i
		}
	}
	return best
}

// stateShape returns [d0, 1, d2] for a rank-3 declared shape with known
// outer dimensions, and the default shape otherwise.
func stateShape(dims []int64, ok bool) []int64 {
	if !ok || len(dims) != 3 || dims[0] <= 0 || dims[2] <= 0 {
		return defaultStateShape
	}
	return []int64{dims[0], 1, dims[2]}
}

func zeroState(shape []int64) Tensor {
	n := int64(1)
	for _, d := range shape {
		n *= d
	}
	return Float32Tensor(make([]float32, n), shape...)
}
