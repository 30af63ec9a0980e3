package container

import (
	"bytes"
	"fmt"
	"io"

	"github.com/hajimehoshi/go-mp3"
)

// Normalize turns whatever a provider returned into a valid WAV container.
// WAV input is re-encoded with corrected sizes. A usable hint means the
// caller asked for raw PCM, which is wrapped as is. Without a hint MP3 is
// sniffed and decoded.
func Normalize(buf []byte, hint Format) ([]byte, Format, error) {
	if len(buf) == 0 {
		return nil, Format{}, fmt.Errorf("%w: empty buffer", ErrInvalidAudio)
	}

	switch {
	case IsValid(buf):
		pcm, f, err := Decode(buf)
		if err != nil {
			return nil, Format{}, err
		}
		out, err := Encode(pcm, f)
		return out, f, err

	case looksLikeContainer(buf):
		return nil, Format{}, fmt.Errorf("%w: damaged container", ErrInvalidAudio)

	case hint.validate() == nil:
		out, err := Encode(buf, hint)
		return out, hint, err

	case isMP3(buf):
		pcm, f, err := decodeMP3(buf)
		if err != nil {
			return nil, Format{}, err
		}
		out, err := Encode(pcm, f)
		return out, f, err
	}

	return nil, Format{}, fmt.Errorf("%w: unrecognised payload", ErrInvalidAudio)
}

// looksLikeContainer catches damaged WAV buffers that must not be wrapped
// again as if they were PCM.
func looksLikeContainer(buf []byte) bool {
	if len(buf) >= 12 && string(buf[8:12]) == "WAVE" {
		return true
	}
	return bytes.Contains(buf[:min(len(buf), 64)], []byte("RIFF"))
}

func isMP3(buf []byte) bool {
	if len(buf) >= 3 && string(buf[:3]) == "ID3" {
		return true
	}
	// MPEG audio frame sync: 11 set bits
	return len(buf) >= 2 && buf[0] == 0xFF && buf[1]&0xE0 == 0xE0
}

// decodeMP3 yields 16-bit little-endian stereo PCM, which is what go-mp3
// always produces.
func decodeMP3(buf []byte) ([]byte, Format, error) {
	dec, err := mp3.NewDecoder(bytes.NewReader(buf))
	if err != nil {
		return nil, Format{}, fmt.Errorf("%w: mp3: %v", ErrInvalidAudio, err)
	}
	pcm, err := io.ReadAll(dec)
	if err != nil && len(pcm) == 0 {
		return nil, Format{}, fmt.Errorf("%w: mp3: %v", ErrInvalidAudio, err)
	}
	f := Format{SampleRateHz: dec.SampleRate(), Channels: 2, BitsPerSample: 16}
	pcm = pcm[:len(pcm)-len(pcm)%f.blockAlign()]
	if len(pcm) == 0 {
		return nil, Format{}, fmt.Errorf("%w: mp3 decoded to no samples", ErrInvalidAudio)
	}
	return pcm, f, nil
}
