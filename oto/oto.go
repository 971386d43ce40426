// Package oto adapts the engine's audio interfaces to the oto library, which
// talks to the actual sound device on all supported platforms.
package oto

import (
	"fmt"
	"io"
	"time"

	oto "github.com/ebitengine/oto/v3"

	"github.com/strumlab/strum"
)

// Context wraps an oto context opened at the engine's fixed output format.
type Context struct {
	ctx *oto.Context
}

// NewContext opens the system audio device and blocks until it is ready.
func NewContext() (*Context, error) {
	op := &oto.NewContextOptions{
		SampleRate:   strum.SampleRate,
		ChannelCount: 2,
		Format:       oto.FormatFloat32LE,
	}
	ctx, ready, err := oto.NewContext(op)
	if err != nil {
		return nil, fmt.Errorf("cannot create oto context: %w", err)
	}
	<-ready
	return &Context{ctx: ctx}, nil
}

// Close implements strum.AudioContext. An oto context has no close; the
// device stays shared with the process.
func (c *Context) Close() error {
	return nil
}

// Play starts pulling audio from src into a new device player. The returned
// CloserWaiter can wait for the source to run out or stop playback early.
func (c *Context) Play(src strum.AudioSource) strum.CloserWaiter {
	p := c.ctx.NewPlayer(&sourceReader{src: src, buf: make(strum.AudioBuffer, 2048)})
	p.Play()
	return &playback{player: p}
}

// Output opens a push-style sink on the device. Writes block while the device
// has enough buffered, which is what paces an engine pumping into it.
func (c *Context) Output() strum.AudioSink {
	pr, pw := io.Pipe()
	p := c.ctx.NewPlayer(pr)
	p.Play()
	return &Output{player: p, pw: pw}
}

type playback struct {
	player *oto.Player
}

func (p *playback) Wait() {
	for p.player.IsPlaying() {
		time.Sleep(10 * time.Millisecond)
	}
}

func (p *playback) Close() error {
	if err := p.player.Close(); err != nil {
		return fmt.Errorf("cannot close oto player: %w", err)
	}
	return nil
}

// sourceReader turns an AudioSource into the io.Reader an oto player pulls
// from, encoding frames as interleaved little-endian float32.
type sourceReader struct {
	src     strum.AudioSource
	buf     strum.AudioBuffer
	scratch []byte
	pending []byte
	err     error
}

func (r *sourceReader) Read(p []byte) (int, error) {
	for len(r.pending) == 0 {
		if r.err != nil {
			return 0, r.err
		}
		n, err := r.src.ReadAudio(r.buf)
		r.err = err
		r.scratch = FloatBufferToBytesLE(r.buf[:n], r.scratch[:0])
		r.pending = r.scratch
	}
	n := copy(p, r.pending)
	r.pending = r.pending[n:]
	return n, nil
}

// Output is the sink side: WriteAudio pushes frames into the device through a
// pipe, blocking when the device is ahead.
type Output struct {
	player *oto.Player
	pw     *io.PipeWriter
	tmp    []byte
}

func (o *Output) WriteAudio(buf strum.AudioBuffer) error {
	// we reuse the old capacity of tmp by setting its length to zero, then
	// keep the grown buffer around for the next write
	o.tmp = FloatBufferToBytesLE(buf, o.tmp[:0])
	if _, err := o.pw.Write(o.tmp); err != nil {
		return fmt.Errorf("cannot write to player: %w", err)
	}
	return nil
}

func (o *Output) Close() error {
	o.pw.Close()
	if err := o.player.Close(); err != nil {
		return fmt.Errorf("cannot close oto player: %w", err)
	}
	return nil
}

var _ strum.AudioContext = (*Context)(nil)
