package transcribe

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
)

// scriptStep is one scripted joint decision.
type scriptStep struct {
	token    int
	duration int
}

// mockStepper returns scripted decisions over a two-token vocabulary with
// five duration bins. Unscripted calls decide blank with duration 1.
type mockStepper struct {
	vocabSize int
	script    []scriptStep
	calls     int
	targets   []int32
	// inStates records the first state value seen on each call.
	inStates []float32
	noDur    bool
}

func (m *mockStepper) step(ctx context.Context, frame []float32, target int32, states [2]Tensor) ([]float32, [2]Tensor, error) {
	s := scriptStep{token: 0, duration: 1}
	if m.calls < len(m.script) {
		s = m.script[m.calls]
	}
	m.calls++
	m.targets = append(m.targets, target)
	m.inStates = append(m.inStates, states[0].Float32[0])

	logits := make([]float32, m.vocabSize)
	logits[s.token] = 10
	if !m.noDur {
		dur := make([]float32, 5)
		dur[s.duration] = 10
		logits = append(logits, dur...)
	}

	next := [2]Tensor{
		Float32Tensor([]float32{float32(m.calls)}, 1, 1, 1),
		Float32Tensor([]float32{float32(m.calls)}, 1, 1, 1),
	}
	return logits, next, nil
}

var testShapes = [2][]int64{{1, 1, 1}, {1, 1, 1}}

func testFrames(n int) [][]float32 {
	out := make([][]float32, n)
	for i := range out {
		out[i] = []float32{float32(i)}
	}
	return out
}

func TestTDTDecodeHi(t *testing.T) {
	vocab, err := ParseVocabulary(strings.NewReader("<blk> 0\nhi 1\n"))
	if err != nil {
		t.Fatalf("ParseVocabulary() error = %v", err)
	}
	m := &mockStepper{vocabSize: 2, script: []scriptStep{
		{token: 1, duration: 1},
		{token: 0, duration: 0},
	}}

	tokens, err := tdtDecode(context.Background(), testFrames(2), 2, vocab.Blank, vocab.Size(), testShapes, m)
	if err != nil {
		t.Fatalf("tdtDecode() error = %v", err)
	}
	if got := vocab.Decode(tokens); got != "hi" {
		t.Errorf("Decode() = %q, want %q", got, "hi")
	}
	if m.calls != 2 {
		t.Errorf("stepper called %d times, want 2", m.calls)
	}
	if want := []int32{0, 1}; !reflect.DeepEqual(m.targets, want) {
		t.Errorf("targets = %v, want %v", m.targets, want)
	}
}

func TestTDTDecodeEmptyLength(t *testing.T) {
	for _, length := range []int{0, -3} {
		m := &mockStepper{vocabSize: 2}
		tokens, err := tdtDecode(context.Background(), testFrames(4), length, 0, 2, testShapes, m)
		if err != nil {
			t.Fatalf("tdtDecode(length=%d) error = %v", length, err)
		}
		if len(tokens) != 0 || m.calls != 0 {
			t.Errorf("length %d: tokens = %v, calls = %d, want none", length, tokens, m.calls)
		}
	}
}

func TestTDTDecodeLengthCappedByFrames(t *testing.T) {
	m := &mockStepper{vocabSize: 2}
	if _, err := tdtDecode(context.Background(), testFrames(3), 50, 0, 2, testShapes, m); err != nil {
		t.Fatalf("tdtDecode() error = %v", err)
	}
	if m.calls != 3 {
		t.Errorf("stepper called %d times, want 3", m.calls)
	}
}

func TestTDTDecodeMaxSymbolsPerFrame(t *testing.T) {
	script := make([]scriptStep, 40)
	for i := range script {
		script[i] = scriptStep{token: 1, duration: 0}
	}
	m := &mockStepper{vocabSize: 2, script: script}

	tokens, err := tdtDecode(context.Background(), testFrames(2), 2, 0, 2, testShapes, m)
	if err != nil {
		t.Fatalf("tdtDecode() error = %v", err)
	}
	if len(tokens) != 2*maxSymbolsPerFrame {
		t.Errorf("got %d tokens, want %d", len(tokens), 2*maxSymbolsPerFrame)
	}
}

func TestTDTDecodeWithoutDurations(t *testing.T) {
	script := make([]scriptStep, 40)
	for i := range script {
		script[i] = scriptStep{token: 1}
	}
	m := &mockStepper{vocabSize: 2, script: script, noDur: true}

	tokens, err := tdtDecode(context.Background(), testFrames(3), 3, 0, 2, testShapes, m)
	if err != nil {
		t.Fatalf("tdtDecode() error = %v", err)
	}
	if len(tokens) != 3*maxSymbolsPerFrame {
		t.Errorf("got %d tokens, want %d", len(tokens), 3*maxSymbolsPerFrame)
	}
}

func TestTDTDecodeDurationSkipsFrames(t *testing.T) {
	m := &mockStepper{vocabSize: 2, script: []scriptStep{
		{token: 1, duration: 3},
		{token: 1, duration: 2},
	}}
	tokens, err := tdtDecode(context.Background(), testFrames(5), 5, 0, 2, testShapes, m)
	if err != nil {
		t.Fatalf("tdtDecode() error = %v", err)
	}
	if !reflect.DeepEqual(tokens, []int{1, 1}) || m.calls != 2 {
		t.Errorf("tokens = %v after %d calls, want [1 1] after 2", tokens, m.calls)
	}
}

func TestTDTDecodeStatesOnlyAdvanceOnTokens(t *testing.T) {
	m := &mockStepper{vocabSize: 2, script: []scriptStep{
		{token: 0, duration: 1}, // blank: states from call 1 discarded
		{token: 1, duration: 1}, // token: states from call 2 committed
		{token: 0, duration: 1},
	}}
	if _, err := tdtDecode(context.Background(), testFrames(3), 3, 0, 2, testShapes, m); err != nil {
		t.Fatalf("tdtDecode() error = %v", err)
	}
	if want := []float32{0, 0, 2}; !reflect.DeepEqual(m.inStates, want) {
		t.Errorf("states seen = %v, want %v", m.inStates, want)
	}
}

func TestTDTDecodeTieGoesToLowestIndex(t *testing.T) {
	tie := stepFunc(func(frame []float32, target int32) []float32 {
		return []float32{1, 1, 0, 1, 1}
	})
	tokens, err := tdtDecode(context.Background(), testFrames(2), 2, 0, 2, testShapes, tie)
	if err != nil {
		t.Fatalf("tdtDecode() error = %v", err)
	}
	if len(tokens) != 0 {
		t.Errorf("tokens = %v, want none (blank wins ties)", tokens)
	}
}

func TestTDTDecodeDeterministic(t *testing.T) {
	f := stepFunc(func(frame []float32, target int32) []float32 {
		tok := int(frame[0]+float32(target)) % 3
		logits := make([]float32, 3+5)
		logits[tok] = 1
		logits[3+int(frame[0])%2] = 1
		return logits
	})
	in := testFrames(12)
	first, err := tdtDecode(context.Background(), in, 12, 0, 3, testShapes, f)
	if err != nil {
		t.Fatalf("tdtDecode() error = %v", err)
	}
	for i := 0; i < 3; i++ {
		again, err := tdtDecode(context.Background(), in, 12, 0, 3, testShapes, f)
		if err != nil {
			t.Fatalf("tdtDecode() error = %v", err)
		}
		if !reflect.DeepEqual(first, again) {
			t.Fatalf("run %d = %v, want %v", i, again, first)
		}
	}
}

func TestTDTDecodeShortLogits(t *testing.T) {
	short := stepFunc(func([]float32, int32) []float32 { return []float32{1} })
	if _, err := tdtDecode(context.Background(), testFrames(1), 1, 0, 2, testShapes, short); err == nil {
		t.Error("tdtDecode() should fail when logits are shorter than the vocabulary")
	}
}

func TestTDTDecodeCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := tdtDecode(ctx, testFrames(2), 2, 0, 2, testShapes, &mockStepper{vocabSize: 2})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("tdtDecode() error = %v, want context.Canceled", err)
	}
}

func TestStateShape(t *testing.T) {
	tests := []struct {
		dims []int64
		ok   bool
		want []int64
	}{
		{[]int64{2, -1, 640}, true, []int64{2, 1, 640}},
		{[]int64{1, 4, 8}, true, []int64{1, 1, 8}},
		{[]int64{2, 640}, true, defaultStateShape},
		{[]int64{-1, 1, 640}, true, defaultStateShape},
		{nil, false, defaultStateShape},
	}
	for _, tt := range tests {
		if got := stateShape(tt.dims, tt.ok); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("stateShape(%v) = %v, want %v", tt.dims, got, tt.want)
		}
	}
}

// stepFunc adapts a pure function to jointStepper. States pass through.
type stepFunc func(frame []float32, target int32) []float32

func (f stepFunc) step(_ context.Context, frame []float32, target int32, states [2]Tensor) ([]float32, [2]Tensor, error) {
	return f(frame, target), states, nil
}

func BenchmarkTDTDecode(b *testing.B) {
	f := stepFunc(func(frame []float32, target int32) []float32 {
		logits := make([]float32, 1025+5)
		logits[int(frame[0])%1025] = 1
		logits[1025+1] = 1
		return logits
	})
	in := testFrames(750) // 60 s of audio at 80 ms per frame
	shapes := [2][]int64{defaultStateShape, defaultStateShape}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := tdtDecode(context.Background(), in, len(in), 1024, 1025, shapes, f); err != nil {
			b.Fatal(err)
		}
	}
}
