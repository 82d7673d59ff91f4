package audio

import (
	"encoding/base64"
	"math"
)

// FloatToPCM16 converts float samples in [-1,1] to little-endian signed 16-bit
// PCM. Samples are clamped before scaling; negative values scale by 32768 and
// non-negative values by 32767 so that ±1.0 maps exactly onto the int16 range
// without overflow.
func FloatToPCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		var v int16
		if s < 0 {
			v = int16(s * 32768)
		} else {
			v = int16(s * 32767)
		}
		out[i*2] = byte(v)
		out[i*2+1] = byte(uint16(v) >> 8)
	}
	return out
}

// PCM16ToFloat converts little-endian signed 16-bit PCM to float samples by
// dividing each sample by 32768. A trailing odd byte is ignored.
func PCM16ToFloat(pcm []byte) []float32 {
	n := len(pcm) / 2
	out := make([]float32, n)
	for i := range n {
		v := int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
		out[i] = float32(v) / 32768.0
	}
	return out
}

// EncodeTransport converts raw bytes to the text-safe representation used on
// the session transport. The encoding is standard base64 and round-trips
// exactly for all byte values.
func EncodeTransport(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// DecodeTransport is the inverse of [EncodeTransport].
func DecodeTransport(text string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(text)
}

// RMS computes the root-mean-square loudness of the samples, in [0,1] for
// input in [-1,1]. Returns 0 for an empty slice.
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// ApplyGain multiplies every sample by gain in place, clamping the result to
// [-1,1]. A gain of 1 leaves the slice untouched.
func ApplyGain(samples []float32, gain float64) {
	if gain == 1 {
		return
	}
	for i, s := range samples {
		v := float64(s) * gain
		if v > 1 {
			v = 1
		} else if v < -1 {
			v = -1
		}
		samples[i] = float32(v)
	}
}

// Drain reads from ch until the channel is closed, discarding all values.
// Use this to prevent goroutine leaks when the data from a streaming channel
// is not needed.
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}
