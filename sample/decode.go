package sample

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"

	"github.com/strumlab/strum"
)

// PCM is a decoded resource: planar stereo float samples at the source rate.
// It is immutable after decoding; playback state lives in Instances.
type PCM struct {
	Left, Right []float32
	Rate        int
}

// Frames returns the number of sample frames in the resource.
func (p *PCM) Frames() int { return len(p.Left) }

// Duration returns the length of the resource in seconds.
func (p *PCM) Duration() float64 {
	if p.Rate == 0 {
		return 0
	}
	return float64(len(p.Left)) / float64(p.Rate)
}

func decodeWAV(data []byte) (*PCM, error) {
	d := wav.NewDecoder(bytes.NewReader(data))
	if !d.IsValidFile() {
		return nil, fmt.Errorf("%w: not a wav file", strum.ErrDecodeFailed)
	}
	if err := d.FwdToPCM(); err != nil {
		return nil, fmt.Errorf("%w: %v", strum.ErrDecodeFailed, err)
	}
	bitDepth := int(d.SampleBitDepth())
	if bitDepth == 0 {
		return nil, fmt.Errorf("%w: unknown wav bit depth", strum.ErrDecodeFailed)
	}
	buf, err := d.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", strum.ErrDecodeFailed, err)
	}
	return pcmFromIntBuffer(buf, bitDepth)
}

func pcmFromIntBuffer(buf *audio.IntBuffer, bitDepth int) (*PCM, error) {
	nch := buf.Format.NumChannels
	if nch < 1 || nch > 2 {
		return nil, fmt.Errorf("%w: %d channels", strum.ErrDecodeFailed, nch)
	}
	nframes := len(buf.Data) / nch
	if nframes == 0 {
		return nil, fmt.Errorf("%w: no sample frames", strum.ErrDecodeFailed)
	}
	factor := float32(math.Pow(2, float64(bitDepth-1)))
	ret := &PCM{
		Left:  make([]float32, nframes),
		Right: make([]float32, nframes),
		Rate:  buf.Format.SampleRate,
	}
	for i := 0; i < nframes; i++ {
		l := float32(buf.Data[i*nch]) / factor
		r := l
		if nch == 2 {
			r = float32(buf.Data[i*nch+1]) / factor
		}
		ret.Left[i] = l
		ret.Right[i] = r
	}
	return ret, nil
}

func decodeMP3(data []byte) (*PCM, error) {
	d, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", strum.ErrDecodeFailed, err)
	}
	// go-mp3 always outputs signed 16-bit little-endian stereo at the
	// source rate.
	raw, err := io.ReadAll(d)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", strum.ErrDecodeFailed, err)
	}
	nframes := len(raw) / 4
	if nframes == 0 {
		return nil, fmt.Errorf("%w: no sample frames", strum.ErrDecodeFailed)
	}
	ret := &PCM{
		Left:  make([]float32, nframes),
		Right: make([]float32, nframes),
		Rate:  d.SampleRate(),
	}
	for i := 0; i < nframes; i++ {
		ret.Left[i] = float32(int16(binary.LittleEndian.Uint16(raw[i*4:]))) / 32768
		ret.Right[i] = float32(int16(binary.LittleEndian.Uint16(raw[i*4+2:]))) / 32768
	}
	return ret, nil
}
