// Package container wraps, unwraps and validates the canonical WAV
// container every synthesized clip is delivered in.
package container

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

// HeaderSize is the size of the canonical RIFF/WAVE PCM header.
const HeaderSize = 44

// ZeroPrefixLen is how many leading zero bytes mark a buffer as corrupted.
// Some providers return a buffer whose header was overwritten with zeros
// while the magic bytes survive further in.
const ZeroPrefixLen = 4

const (
	formatPCM        = 1
	formatExtensible = 0xFFFE
	streamingSize    = 0xFFFFFFFF
)

// ErrInvalidAudio is returned for buffers that are not a usable WAV clip.
var ErrInvalidAudio = errors.New("invalid audio")

// Format describes raw PCM samples. Every buffer that crosses a component
// boundary carries one.
type Format struct {
	SampleRateHz  int `json:"sampleRateHz"`
	Channels      int `json:"channels"`
	BitsPerSample int `json:"bitsPerSample"`
}

// PCM16Mono is the format most providers produce.
func PCM16Mono(rate int) Format {
	return Format{SampleRateHz: rate, Channels: 1, BitsPerSample: 16}
}

func (f Format) blockAlign() int {
	return f.Channels * f.BitsPerSample / 8
}

func (f Format) validate() error {
	if f.SampleRateHz <= 0 {
		return fmt.Errorf("%w: sample rate %d", ErrInvalidAudio, f.SampleRateHz)
	}
	if f.Channels <= 0 {
		return fmt.Errorf("%w: channels %d", ErrInvalidAudio, f.Channels)
	}
	switch f.BitsPerSample {
	case 8, 16, 24, 32:
	default:
		return fmt.Errorf("%w: bits per sample %d", ErrInvalidAudio, f.BitsPerSample)
	}
	return nil
}

// SampleCount returns the number of sample frames in pcmBytes of PCM.
func SampleCount(f Format, pcmBytes int) int {
	if align := f.blockAlign(); align > 0 {
		return pcmBytes / align
	}
	return 0
}

// Duration is the playback length of pcmBytes of PCM in format f.
func Duration(f Format, pcmBytes int) time.Duration {
	if f.SampleRateHz <= 0 {
		return 0
	}
	return time.Duration(SampleCount(f, pcmBytes)) * time.Second / time.Duration(f.SampleRateHz)
}

// Encode prepends a 44-byte little-endian RIFF/WAVE header to pcm.
func Encode(pcm []byte, f Format) ([]byte, error) {
	if err := f.validate(); err != nil {
		return nil, err
	}
	if len(pcm)%f.blockAlign() != 0 {
		return nil, fmt.Errorf("%w: %d bytes is not a whole number of %d-byte frames", ErrInvalidAudio, len(pcm), f.blockAlign())
	}

	out := make([]byte, HeaderSize+len(pcm))
	le := binary.LittleEndian

	copy(out[0:4], "RIFF")
	le.PutUint32(out[4:8], uint32(HeaderSize-8+len(pcm)))
	copy(out[8:12], "WAVE")

	copy(out[12:16], "fmt ")
	le.PutUint32(out[16:20], 16)
	le.PutUint16(out[20:22], formatPCM)
	le.PutUint16(out[22:24], uint16(f.Channels))
	le.PutUint32(out[24:28], uint32(f.SampleRateHz))
	le.PutUint32(out[28:32], uint32(f.SampleRateHz*f.blockAlign()))
	le.PutUint16(out[32:34], uint16(f.blockAlign()))
	le.PutUint16(out[34:36], uint16(f.BitsPerSample))

	copy(out[36:40], "data")
	le.PutUint32(out[40:44], uint32(len(pcm)))
	copy(out[HeaderSize:], pcm)
	return out, nil
}

// IsValid reports whether buf looks like a playable WAV container. It
// rejects empty and short buffers, buffers with a zeroed prefix, and
// buffers without the RIFF/WAVE magic at the expected offsets.
func IsValid(buf []byte) bool {
	if len(buf) < HeaderSize {
		return false
	}
	if hasZeroPrefix(buf) {
		return false
	}
	return string(buf[0:4]) == "RIFF" && string(buf[8:12]) == "WAVE"
}

func hasZeroPrefix(buf []byte) bool {
	if len(buf) < ZeroPrefixLen {
		return false
	}
	for _, b := range buf[:ZeroPrefixLen] {
		if b != 0 {
			return false
		}
	}
	return true
}

// Decode returns the PCM payload and format of a WAV buffer. Chunks other
// than "fmt " and "data" are skipped, and a data chunk whose declared size
// is zero, 0xFFFFFFFF or past the end (streamed headers) runs to the end
// of the buffer.
func Decode(buf []byte) ([]byte, Format, error) {
	if !IsValid(buf) {
		return nil, Format{}, ErrInvalidAudio
	}

	le := binary.LittleEndian
	var (
		f       Format
		haveFmt bool
	)

	pos := 12
	for pos+8 <= len(buf) {
		id := string(buf[pos : pos+4])
		size := le.Uint32(buf[pos+4 : pos+8])
		body := pos + 8

		switch id {
		case "fmt ":
			if size < 16 || body+16 > len(buf) {
				return nil, Format{}, fmt.Errorf("%w: short fmt chunk", ErrInvalidAudio)
			}
			code := le.Uint16(buf[body : body+2])
			if code != formatPCM && code != formatExtensible {
				return nil, Format{}, fmt.Errorf("%w: unsupported format code %d", ErrInvalidAudio, code)
			}
			f = Format{
				Channels:      int(le.Uint16(buf[body+2 : body+4])),
				SampleRateHz:  int(le.Uint32(buf[body+4 : body+8])),
				BitsPerSample: int(le.Uint16(buf[body+14 : body+16])),
			}
			if err := f.validate(); err != nil {
				return nil, Format{}, err
			}
			haveFmt = true
		case "data":
			if !haveFmt {
				return nil, Format{}, fmt.Errorf("%w: data chunk before fmt chunk", ErrInvalidAudio)
			}
			end := body + int(size)
			if size == 0 || size == streamingSize || end > len(buf) {
				end = len(buf)
			}
			pcm := buf[body:end]
			// drop a trailing partial frame
			pcm = pcm[:len(pcm)-len(pcm)%f.blockAlign()]
			return pcm, f, nil
		}

		next := body + int(size)
		if size%2 == 1 {
			next++
		}
		if size == streamingSize || next <= pos {
			break
		}
		pos = next
	}

	return nil, Format{}, fmt.Errorf("%w: missing data chunk", ErrInvalidAudio)
}
