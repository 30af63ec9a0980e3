package resample

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutputLen(t *testing.T) {
	tests := []struct {
		n, from, to int
		want        int
	}{
		{4096, 48000, 16000, 1366}, // ceil(1365.33)
		{4800, 48000, 16000, 1600},
		{1000, 24000, 48000, 2000},
		{1, 48000, 16000, 1},
		{3, 44100, 16000, 2},
		{0, 48000, 16000, 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, OutputLen(tt.n, tt.from, tt.to), "n=%d %d->%d", tt.n, tt.from, tt.to)
	}
}

func TestResample_Lengths(t *testing.T) {
	for _, n := range []int{1, 2, 7, 441, 4096} {
		for _, rates := range [][2]int{{48000, 16000}, {24000, 48000}, {44100, 16000}, {16000, 24000}} {
			in := make([]float32, n)
			out := Resample(in, rates[0], rates[1])
			want := int(math.Ceil(float64(n) * float64(rates[1]) / float64(rates[0])))
			assert.Len(t, out, want)
		}
	}
}

func TestResample_Identity(t *testing.T) {
	in := []float32{0.1, -0.2, 0.3}
	out := Resample(in, 16000, 16000)
	assert.Equal(t, in, out)

	out[0] = 9
	assert.Equal(t, float32(0.1), in[0], "identity must return a copy")
}

func TestResample_Interpolation(t *testing.T) {
	// Upsampling a ramp by 2 yields midpoints.
	out := Resample([]float32{0, 1, 2, 3}, 8000, 16000)
	require.Len(t, out, 8)
	expected := []float32{0, 0.5, 1, 1.5, 2, 2.5, 3, 3}
	for i := range expected {
		assert.InDelta(t, expected[i], out[i], 1e-6, "index %d", i)
	}

	// Downsampling by 3 picks every third sample.
	down := Resample([]float32{0, 1, 2, 3, 4, 5}, 48000, 16000)
	assert.Equal(t, []float32{0, 3}, down)
}

func TestResample_Empty(t *testing.T) {
	assert.Empty(t, Resample(nil, 48000, 16000))
}

func TestFloatToPCM16_RoundingAndClamp(t *testing.T) {
	in := []float32{0, 1, -1, 2, -2, 0.5, -0.5, 1.5 / 32768, -1.5 / 32768}
	pcm := FloatToPCM16(in)
	require.Len(t, pcm, len(in)*2)

	got := make([]int16, len(in))
	for i := range got {
		got[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	assert.Equal(t, []int16{0, 32767, -32768, 32767, -32768, 16384, -16384, 2, -2}, got)
}

func TestPCM16RoundTrip(t *testing.T) {
	values := []int16{0, 1, -1, 1234, -32768, 32767}
	pcm := make([]byte, len(values)*2)
	for i, v := range values {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(v))
	}
	assert.Equal(t, pcm, FloatToPCM16(PCM16ToFloat(pcm)))
	assert.Len(t, PCM16ToFloat([]byte{1, 2, 3}), 1)
}

func TestDownmixToMono(t *testing.T) {
	stereo := make([]byte, 8)
	binary.LittleEndian.PutUint16(stereo[0:], uint16(int16(100)))
	binary.LittleEndian.PutUint16(stereo[2:], uint16(int16(300)))
	neg100, neg300 := int16(-100), int16(-300)
	binary.LittleEndian.PutUint16(stereo[4:], uint16(neg100))
	binary.LittleEndian.PutUint16(stereo[6:], uint16(neg300))

	mono := DownmixToMono(stereo, 2)
	require.Len(t, mono, 4)
	assert.Equal(t, int16(200), int16(binary.LittleEndian.Uint16(mono[0:])))
	assert.Equal(t, int16(-200), int16(binary.LittleEndian.Uint16(mono[2:])))
}

func TestStream_ContinuousAcrossFrames(t *testing.T) {
	ramp := make([]float32, 12)
	for i := range ramp {
		ramp[i] = float32(i)
	}

	s := NewStream(8000, 16000)
	var out []float32
	out = append(out, s.Process(ramp[:4])...)
	out = append(out, s.Process(ramp[4:8])...)
	out = append(out, s.Process(ramp[8:])...)

	// A continuous ramp upsampled by 2 steps by 0.5 everywhere,
	// including across frame boundaries.
	require.Greater(t, len(out), 20)
	for i := 1; i < len(out); i++ {
		assert.InDelta(t, 0.5, out[i]-out[i-1], 1e-6, "index %d", i)
	}
}
