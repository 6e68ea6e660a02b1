package audio

import (
	"fmt"
	"math"

	webrtcvad "github.com/maxhawkins/go-webrtcvad"
)

// SilenceRMSThreshold is the RMS amplitude, on int16 samples, below which
// a chunk counts as silence.
const SilenceRMSThreshold = 300.0

// Classifier decides whether a chunk of audio is silence.
type Classifier interface {
	Silent(chunk []int16) (bool, error)
}

// RMS returns the root-mean-square amplitude of chunk.
func RMS(chunk []int16) float64 {
	if len(chunk) == 0 {
		return 0
	}
	var sum int64
	for _, s := range chunk {
		sum += int64(s) * int64(s)
	}
	return math.Sqrt(float64(sum) / float64(len(chunk)))
}

// RMSClassifier treats chunks below Threshold as silence.
type RMSClassifier struct {
	Threshold float64
}

func (c RMSClassifier) Silent(chunk []int16) (bool, error) {
	return RMS(chunk) < c.Threshold, nil
}

// WebRTCClassifier uses the WebRTC voice activity detector. A chunk is
// speech if any complete 10 ms frame in it is voiced.
type WebRTCClassifier struct {
	vad *webrtcvad.VAD
}

// webrtcFrame is 10 ms at SampleRate.
const webrtcFrame = SampleRate / 100

// NewWebRTCClassifier creates a detector with aggressiveness mode 0-3.
func NewWebRTCClassifier(mode int) (*WebRTCClassifier, error) {
	if mode < 0 || mode > 3 {
		return nil, fmt.Errorf("webrtc vad mode must be between 0 and 3, got %d", mode)
	}
	vad, err := webrtcvad.New()
	if err != nil {
		return nil, fmt.Errorf("creating webrtc vad: %w", err)
	}
	if err := vad.SetMode(mode); err != nil {
		return nil, fmt.Errorf("setting webrtc vad mode: %w", err)
	}
	return &WebRTCClassifier{vad: vad}, nil
}

func (c *WebRTCClassifier) Silent(chunk []int16) (bool, error) {
	if len(chunk) < webrtcFrame {
		padded := make([]int16, webrtcFrame)
		copy(padded, chunk)
		chunk = padded
	}
	for i := 0; i+webrtcFrame <= len(chunk); i += webrtcFrame {
		active, err := c.vad.Process(SampleRate, int16ToBytes(chunk[i:i+webrtcFrame]))
		if err != nil {
			return false, fmt.Errorf("webrtc vad: %w", err)
		}
		if active {
			return false, nil
		}
	}
	return true, nil
}

// ClassifierFor returns the classifier for a configured name.
func ClassifierFor(name string, webrtcMode int) (Classifier, error) {
	switch name {
	case "rms", "":
		return RMSClassifier{Threshold: SilenceRMSThreshold}, nil
	case "webrtc":
		return NewWebRTCClassifier(webrtcMode)
	default:
		return nil, fmt.Errorf("audio: unknown classifier %q (supported: rms, webrtc)", name)
	}
}
