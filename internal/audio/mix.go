package audio

import (
	"fmt"

	"github.com/satindergrewal/stereosplit/internal/domain"
)

// Downmix averages all channels into one. Mono input is returned as is.
func Downmix(a *Asset) []float32 {
	if a.ChannelCount() == 1 {
		return a.Channels[0]
	}
	frames := a.FrameCount()
	n := float64(a.ChannelCount())
	out := make([]float32, frames)
	for i := 0; i < frames; i++ {
		var sum float64
		for _, ch := range a.Channels {
			sum += float64(ch[i])
		}
		out[i] = float32(sum / n)
	}
	return out
}

// Tile repeats signal end to end and truncates to exactly length samples.
// signal must not be empty.
func Tile(signal []float32, length int) []float32 {
	if len(signal) == length {
		return signal
	}
	out := make([]float32, length)
	for off := 0; off < length; off += len(signal) {
		copy(out[off:], signal)
	}
	return out
}

// Mix puts a on the left channel and b on the right, looping the shorter one
// up to the longer one's length. The result plays at a's sample rate; b is not
// resampled, so a rate mismatch shifts b's pitch and tempo by
// b.SampleRate/a.SampleRate.
func Mix(a, b *Asset) (*Stereo, error) {
	if a == nil || a.FrameCount() == 0 {
		return nil, fmt.Errorf("left source: %w", domain.ErrEmptySignal)
	}
	if b == nil || b.FrameCount() == 0 {
		return nil, fmt.Errorf("right source: %w", domain.ErrEmptySignal)
	}

	left := Downmix(a)
	right := Downmix(b)

	target := max(len(left), len(right))

	return &Stereo{
		Left:       Tile(left, target),
		Right:      Tile(right, target),
		SampleRate: a.SampleRate,
	}, nil
}

// PitchRatio is the speed factor applied to b when mixed against a.
// 1 means no shift.
func PitchRatio(a, b *Asset) float64 {
	if a.SampleRate == 0 {
		return 1
	}
	return float64(b.SampleRate) / float64(a.SampleRate)
}
