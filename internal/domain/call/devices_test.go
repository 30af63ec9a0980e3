package call

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voice-server-go/internal/domain/audio/container"
	"voice-server-go/internal/domain/audio/resample"
)

func stereoWAV(t *testing.T, frames int) []byte {
	t.Helper()
	left := make([]float32, frames)
	for i := range left {
		left[i] = 0.5
	}
	mono := resample.FloatToPCM16(left)
	stereo := make([]byte, 0, len(mono)*2)
	for i := 0; i < len(mono); i += 2 {
		stereo = append(stereo, mono[i], mono[i+1], 0, 0)
	}
	wav, err := container.Encode(stereo, container.Format{SampleRateHz: 8000, Channels: 2, BitsPerSample: 16})
	require.NoError(t, err)
	return wav
}

func TestWAVCapture_DownmixesAndEnds(t *testing.T) {
	c, err := NewWAVCapture(stereoWAV(t, 10), false)
	require.NoError(t, err)
	assert.Equal(t, 8000, c.SampleRate())

	frame := make([]float32, 6)
	require.NoError(t, c.ReadFrame(context.Background(), frame))
	assert.InDelta(t, 0.25, frame[0], 1e-3)

	require.NoError(t, c.ReadFrame(context.Background(), frame))
	assert.InDelta(t, 0.25, frame[3], 1e-3)
	assert.Zero(t, frame[4])
	assert.ErrorIs(t, c.ReadFrame(context.Background(), frame), io.EOF)
}

func TestWAVCapture_PacedReadHonoursContext(t *testing.T) {
	c, err := NewWAVCapture(stereoWAV(t, 80000), true)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	// one frame is 10s at 8kHz
	frame := make([]float32, 80000)
	begin := time.Now()
	assert.ErrorIs(t, c.ReadFrame(ctx, frame), context.Canceled)
	assert.Less(t, time.Since(begin), time.Second)
}

func TestOpenWAVCapture_Errors(t *testing.T) {
	_, err := OpenWAVCapture(filepath.Join(t.TempDir(), "missing.wav"), false)
	var de *DeviceError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "open", de.Op)

	_, err = NewWAVCapture([]byte("not a wav"), false)
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "decode", de.Op)
}

func TestWAVSink_RecordsAndWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.wav")
	sink := NewWAVSink(path, 16000, 5*time.Millisecond)
	sched := NewSchedule(4)
	require.NoError(t, sched.Push(ramp(1, 160)))
	require.NoError(t, sink.Start(sched, nil))
	assert.Error(t, sink.Start(sched, nil))

	require.Eventually(t, func() bool { return sched.Pending() == 0 }, time.Second, 5*time.Millisecond)
	require.NoError(t, sink.Close())
	require.NoError(t, sink.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	pcm, format, err := container.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, 16000, format.SampleRateHz)
	assert.Equal(t, 1, format.Channels)
	samples := resample.PCM16ToFloat(pcm)
	require.GreaterOrEqual(t, len(samples), 160)
	assert.InDelta(t, 0.001, samples[0], 1e-3)
	assert.InDelta(t, 0.160, samples[159], 1e-3)
}
