package container

import (
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pcmRamp(samples int) []byte {
	out := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(i*7-1000)))
	}
	return out
}

func TestEncodeDecode_RoundTrip(t *testing.T) {
	formats := []Format{
		PCM16Mono(24000),
		{SampleRateHz: 44100, Channels: 2, BitsPerSample: 16},
		PCM16Mono(16000),
	}
	for _, f := range formats {
		pcm := pcmRamp(480 * f.Channels)

		wav, err := Encode(pcm, f)
		require.NoError(t, err)
		assert.Len(t, wav, HeaderSize+len(pcm))
		assert.True(t, IsValid(wav))

		gotPCM, gotFormat, err := Decode(wav)
		require.NoError(t, err)
		assert.Equal(t, pcm, gotPCM)
		assert.Equal(t, f, gotFormat)
	}
}

func TestEncode_HeaderFields(t *testing.T) {
	wav, err := Encode(pcmRamp(100), PCM16Mono(24000))
	require.NoError(t, err)

	le := binary.LittleEndian
	assert.Equal(t, "RIFF", string(wav[0:4]))
	assert.Equal(t, uint32(36+200), le.Uint32(wav[4:8]))
	assert.Equal(t, "WAVE", string(wav[8:12]))
	assert.Equal(t, "fmt ", string(wav[12:16]))
	assert.Equal(t, uint16(1), le.Uint16(wav[20:22]))
	assert.Equal(t, uint32(48000), le.Uint32(wav[28:32]))
	assert.Equal(t, uint16(2), le.Uint16(wav[32:34]))
	assert.Equal(t, "data", string(wav[36:40]))
	assert.Equal(t, uint32(200), le.Uint32(wav[40:44]))
}

func TestEncode_RejectsBadInput(t *testing.T) {
	_, err := Encode(pcmRamp(10), Format{SampleRateHz: 0, Channels: 1, BitsPerSample: 16})
	assert.ErrorIs(t, err, ErrInvalidAudio)

	_, err = Encode([]byte{1, 2, 3}, PCM16Mono(16000))
	assert.ErrorIs(t, err, ErrInvalidAudio)
}

func TestIsValid(t *testing.T) {
	good, err := Encode(pcmRamp(64), PCM16Mono(24000))
	require.NoError(t, err)

	zeroed := append([]byte(nil), good...)
	copy(zeroed[0:4], []byte{0, 0, 0, 0})

	// magic present further in, but the prefix is zeroed
	shifted := append(make([]byte, 8), good...)

	noWave := append([]byte(nil), good...)
	copy(noWave[8:12], "AVI ")

	tests := []struct {
		name string
		buf  []byte
		want bool
	}{
		{"valid", good, true},
		{"empty", nil, false},
		{"short", good[:20], false},
		{"zero prefix", zeroed, false},
		{"zero prefix with later magic", shifted, false},
		{"missing wave", noWave, false},
		{"mp3 bytes", append([]byte("ID3"), make([]byte, 64)...), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsValid(tt.buf))
		})
	}
}

func TestDecode_SkipsExtraChunks(t *testing.T) {
	f := PCM16Mono(22050)
	pcm := pcmRamp(32)
	base, err := Encode(pcm, f)
	require.NoError(t, err)

	// insert a LIST chunk between fmt and data
	list := []byte("LIST\x05\x00\x00\x00INFOx\x00")
	buf := append([]byte(nil), base[:36]...)
	buf = append(buf, list...)
	buf = append(buf, base[36:]...)

	got, gotF, err := Decode(buf)
	require.NoError(t, err)
	assert.Equal(t, pcm, got)
	assert.Equal(t, f, gotF)
}

func TestDecode_StreamingSizes(t *testing.T) {
	pcm := pcmRamp(50)
	wav, err := Encode(pcm, PCM16Mono(24000))
	require.NoError(t, err)

	binary.LittleEndian.PutUint32(wav[4:8], 0xFFFFFFFF)
	binary.LittleEndian.PutUint32(wav[40:44], 0xFFFFFFFF)

	got, _, err := Decode(wav)
	require.NoError(t, err)
	assert.Equal(t, pcm, got)
}

func TestDecode_Errors(t *testing.T) {
	good, err := Encode(pcmRamp(8), PCM16Mono(8000))
	require.NoError(t, err)

	float := append([]byte(nil), good...)
	binary.LittleEndian.PutUint16(float[20:22], 3)
	_, _, err = Decode(float)
	assert.True(t, errors.Is(err, ErrInvalidAudio))

	noData := append([]byte(nil), good[:36]...)
	noData = append(noData, []byte("junk\x00\x00\x00\x00")...)
	_, _, err = Decode(noData)
	assert.ErrorIs(t, err, ErrInvalidAudio)
}

func TestDurationAndSampleCount(t *testing.T) {
	f := PCM16Mono(24000)
	assert.Equal(t, 24000, SampleCount(f, 48000))
	assert.Equal(t, time.Second, Duration(f, 48000))
	assert.Equal(t, 500*time.Millisecond, Duration(Format{SampleRateHz: 16000, Channels: 2, BitsPerSample: 16}, 32000))
	assert.Zero(t, Duration(Format{}, 100))
}

func TestNormalize(t *testing.T) {
	pcm := pcmRamp(120)

	t.Run("raw pcm with hint", func(t *testing.T) {
		out, f, err := Normalize(pcm, PCM16Mono(24000))
		require.NoError(t, err)
		assert.True(t, IsValid(out))
		assert.Equal(t, 24000, f.SampleRateHz)
	})

	t.Run("wav with broken sizes is repaired", func(t *testing.T) {
		wav, err := Encode(pcm, PCM16Mono(16000))
		require.NoError(t, err)
		binary.LittleEndian.PutUint32(wav[40:44], 0)

		out, _, err := Normalize(wav, Format{})
		require.NoError(t, err)
		assert.Equal(t, uint32(len(pcm)), binary.LittleEndian.Uint32(out[40:44]))
	})

	t.Run("zeroed container is not rewrapped", func(t *testing.T) {
		wav, err := Encode(pcm, PCM16Mono(16000))
		require.NoError(t, err)
		copy(wav[0:4], []byte{0, 0, 0, 0})

		_, _, err = Normalize(wav, PCM16Mono(16000))
		assert.ErrorIs(t, err, ErrInvalidAudio)
	})

	t.Run("empty", func(t *testing.T) {
		_, _, err := Normalize(nil, PCM16Mono(16000))
		assert.ErrorIs(t, err, ErrInvalidAudio)
	})

	t.Run("garbage mp3 frame", func(t *testing.T) {
		_, _, err := Normalize([]byte{0xFF, 0xFB, 0x00, 0x01, 0x02}, Format{})
		assert.ErrorIs(t, err, ErrInvalidAudio)
	})

	t.Run("unknown bytes without hint", func(t *testing.T) {
		_, _, err := Normalize([]byte("hello world"), Format{})
		assert.ErrorIs(t, err, ErrInvalidAudio)
	})
}
