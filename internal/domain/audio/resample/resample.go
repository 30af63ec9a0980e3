// Package resample converts mono float sample streams between rates and
// between float and 16-bit PCM.
package resample

import (
	"encoding/binary"
	"math"
)

// Common rates on the live call path.
const (
	Rate16kHz = 16000
	Rate24kHz = 24000
	Rate48kHz = 48000
)

// OutputLen is ceil(n*toHz/fromHz), the length Resample produces.
func OutputLen(n, fromHz, toHz int) int {
	if n <= 0 || fromHz <= 0 || toHz <= 0 {
		return 0
	}
	num := int64(n) * int64(toHz)
	return int((num + int64(fromHz) - 1) / int64(fromHz))
}

// Resample converts samples from fromHz to toHz by linear interpolation.
// Equal rates return a copy. Each call is independent; no state carries
// over between frames.
func Resample(samples []float32, fromHz, toHz int) []float32 {
	if fromHz == toHz {
		out := make([]float32, len(samples))
		copy(out, samples)
		return out
	}

	n := len(samples)
	outLen := OutputLen(n, fromHz, toHz)
	if outLen == 0 {
		return []float32{}
	}

	out := make([]float32, outLen)
	ratio := float64(fromHz) / float64(toHz)
	last := n - 1
	for i := range out {
		pos := float64(i) * ratio
		idx := int(pos)
		if idx >= last {
			out[i] = samples[last]
			continue
		}
		frac := pos - float64(idx)
		s0 := float64(samples[idx])
		s1 := float64(samples[idx+1])
		out[i] = float32(s0 + (s1-s0)*frac)
	}
	return out
}

// FloatToPCM16 encodes samples in [-1, 1] as little-endian int16, rounding
// half away from zero and clamping to [-32768, 32767].
func FloatToPCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(toInt16(s)))
	}
	return out
}

func toInt16(s float32) int16 {
	v := math.Round(float64(s) * 32768)
	switch {
	case math.IsNaN(v):
		return 0
	case v > math.MaxInt16:
		return math.MaxInt16
	case v < math.MinInt16:
		return math.MinInt16
	}
	return int16(v)
}

// PCM16ToFloat decodes little-endian int16 PCM into floats in [-1, 1).
// A trailing odd byte is ignored.
func PCM16ToFloat(pcm []byte) []float32 {
	out := make([]float32, len(pcm)/2)
	for i := range out {
		out[i] = float32(int16(binary.LittleEndian.Uint16(pcm[i*2:]))) / 32768
	}
	return out
}

// DownmixToMono averages interleaved PCM16 channels into one.
func DownmixToMono(pcm []byte, channels int) []byte {
	if channels <= 1 {
		out := make([]byte, len(pcm))
		copy(out, pcm)
		return out
	}
	frame := channels * 2
	frames := len(pcm) / frame
	out := make([]byte, frames*2)
	for i := 0; i < frames; i++ {
		sum := 0
		for c := 0; c < channels; c++ {
			sum += int(int16(binary.LittleEndian.Uint16(pcm[i*frame+c*2:])))
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(sum/channels)))
	}
	return out
}

// Stream resamples consecutive frames of one signal, carrying the
// fractional read position and the last input sample across calls so
// frame edges do not click. The live call path uses the stateless
// Resample per frame; Stream serves longer playback where continuity
// matters more than frame independence.
type Stream struct {
	fromHz, toHz int
	pos          float64
	prev         float32
	primed       bool
}

func NewStream(fromHz, toHz int) *Stream {
	return &Stream{fromHz: fromHz, toHz: toHz}
}

// Process resamples the next frame.
func (s *Stream) Process(samples []float32) []float32 {
	if s.fromHz == s.toHz || s.fromHz <= 0 || s.toHz <= 0 {
		return Resample(samples, s.fromHz, s.fromHz)
	}
	if len(samples) == 0 {
		return []float32{}
	}

	// Virtual input: prev (index -1 once primed) followed by samples.
	at := func(i int) float32 {
		if i < 0 {
			return s.prev
		}
		return samples[i]
	}
	start := 0.0
	if !s.primed {
		s.primed = true
	} else {
		start = -1
	}

	ratio := float64(s.fromHz) / float64(s.toHz)
	out := make([]float32, 0, OutputLen(len(samples), s.fromHz, s.toHz)+1)
	pos := s.pos + start
	for pos < float64(len(samples)-1) {
		idx := int(math.Floor(pos))
		frac := pos - float64(idx)
		s0, s1 := float64(at(idx)), float64(at(idx+1))
		out = append(out, float32(s0+(s1-s0)*frac))
		pos += ratio
	}
	// position relative to the last sample, which becomes index -1
	s.pos = pos - float64(len(samples)-1)
	s.prev = samples[len(samples)-1]
	return out
}
