package strum

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// SampleRate is the fixed output sample rate of the engine, in frames per
// second. All rendering, effect coefficients and resource playback assume it;
// resources recorded at other rates are resampled when their voices play.
const SampleRate = 44100

type (
	// AudioBuffer is a buffer of stereo audio samples of the form [][2]float32,
	// where [i][0] is the left and [i][1] the right channel sample of frame i.
	AudioBuffer [][2]float32

	// AudioSource is the pull side of audio rendering: ReadAudio fills buf with
	// the next frames and returns how many frames were written. A source that
	// has nothing more to produce returns io.EOF.
	AudioSource interface {
		ReadAudio(buf AudioBuffer) (int, error)
	}

	// AudioSink is the push side of an audio backend. WriteAudio may block
	// until the device has consumed enough of the previous writes.
	AudioSink interface {
		WriteAudio(buf AudioBuffer) error
		Close() error
	}

	// AudioContext is an audio backend capable of playing an AudioSource or
	// opening a raw sink.
	AudioContext interface {
		Play(src AudioSource) CloserWaiter
		Output() AudioSink
		Close() error
	}

	// CloserWaiter allows waiting until a playback started with
	// AudioContext.Play has finished, or stopping it early.
	CloserWaiter interface {
		Wait()
		Close() error
	}
)

// Source returns an AudioSource that reads through the buffer once and then
// returns io.EOF.
func (b AudioBuffer) Source() AudioSource {
	return &bufferSource{buffer: b}
}

type bufferSource struct {
	buffer AudioBuffer
	pos    int
}

func (s *bufferSource) ReadAudio(buf AudioBuffer) (int, error) {
	n := copy(buf, s.buffer[s.pos:])
	s.pos += n
	if n == 0 {
		return 0, io.EOF
	}
	return n, nil
}

// Raw returns the raw audio data, either as little-endian float32 or, if pcm16
// is set, as little-endian signed 16-bit integers.
func (b AudioBuffer) Raw(pcm16 bool) ([]byte, error) {
	if !pcm16 {
		ret := make([]byte, 0, len(b)*8)
		for _, frame := range b {
			for _, smp := range frame {
				ret = binary.LittleEndian.AppendUint32(ret, math.Float32bits(smp))
			}
		}
		return ret, nil
	}
	ret := make([]byte, 0, len(b)*4)
	for _, frame := range b {
		for _, smp := range frame {
			ret = binary.LittleEndian.AppendUint16(ret, uint16(sampleToInt16(smp)))
		}
	}
	return ret, nil
}

func sampleToInt16(s float32) int16 {
	v := int32(s * 32767)
	if v < -32768 {
		v = -32768
	}
	if v > 32767 {
		v = 32767
	}
	return int16(v)
}

// Peak returns the largest absolute sample value in the buffer.
func (b AudioBuffer) Peak() float32 {
	var ret float32
	for _, frame := range b {
		for _, smp := range frame {
			if smp < 0 {
				smp = -smp
			}
			if smp > ret {
				ret = smp
			}
		}
	}
	return ret
}

// Pump reads from src and writes to sink until src is exhausted or either side
// returns an error. It is the glue between offline rendering and an
// AudioSink-only backend.
func Pump(src AudioSource, sink AudioSink) error {
	buf := make(AudioBuffer, 2048)
	for {
		n, err := src.ReadAudio(buf)
		if n > 0 {
			if werr := sink.WriteAudio(buf[:n]); werr != nil {
				return fmt.Errorf("writing audio failed: %w", werr)
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading audio failed: %w", err)
		}
	}
}
