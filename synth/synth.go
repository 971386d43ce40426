// Package synth provides the synthesized fallback voices the engine triggers
// when a clip has no playable recorded resource. Voices are self-contained:
// each carries its own oscillators and envelope, mixes additively into planar
// buffers and dies on its own once its bounded lifetime is over.
package synth

import (
	"math"

	"github.com/strumlab/strum"
)

type (
	// Voice is one synthesized sound: a bank of oscillators (one per chord
	// tone) through a shared envelope. A voice holds for its sounding
	// duration, then releases; it never sounds past its hard lifetime cap, so
	// a triggered voice needs no external cleanup.
	Voice struct {
		oscs     []oscillator
		env      envelope
		gain     float32
		holdLeft int
		lifeLeft int
		randSeed uint32
	}

	oscillator struct {
		phase float32
		delta float32
		shape waveShape
		color float32
	}

	envelope struct {
		state                           envState
		level                           float32
		attack, decay, sustain, release float32
	}

	waveShape int
	envState  int
)

const (
	shapeTriangle waveShape = iota
	shapeSaw
	shapePulse
	shapeNoise
)

const (
	envAttack envState = iota
	envDecay
	envRelease
)

// releaseCapFrames caps how long a voice may ring after its hold time.
const releaseCapFrames = strum.SampleRate * 3 / 2

// NewChordVoice voices the given MIDI notes as one soft chord: triangle
// oscillators with a gentle attack, phase-staggered so the tones do not start
// in phase.
func NewChordVoice(midi []int, dur float64, gain float32) *Voice {
	v := &Voice{
		gain:     gain / float32(max(len(midi), 1)),
		env:      envelope{attack: 0.45, decay: 0.5, sustain: 0.7, release: 0.6},
		randSeed: 1,
	}
	for i, n := range midi {
		v.oscs = append(v.oscs, oscillator{
			phase: float32(i) * 0.0833333,
			delta: strum.NoteFreq(n) / strum.SampleRate,
			shape: shapeTriangle,
			color: 0.5,
		})
	}
	v.setHold(dur)
	return v
}

// NewNoteVoice voices a single MIDI note with a brighter saw-like oscillator
// and a faster attack, for lead lines.
func NewNoteVoice(midi int, dur float64, gain float32) *Voice {
	v := &Voice{
		gain:     gain,
		env:      envelope{attack: 0.25, decay: 0.45, sustain: 0.8, release: 0.5},
		randSeed: 1,
	}
	v.oscs = append(v.oscs, oscillator{
		delta: strum.NoteFreq(midi) / strum.SampleRate,
		shape: shapeSaw,
		color: 0.9,
	})
	v.setHold(dur)
	return v
}

// NewHitVoice is the unpitched rhythm fallback: a short noise burst with no
// sustain.
func NewHitVoice(dur float64, gain float32) *Voice {
	v := &Voice{
		gain:     gain,
		env:      envelope{attack: 0.1, decay: 0.55, sustain: 0, release: 0.5},
		randSeed: 1,
	}
	v.oscs = append(v.oscs, oscillator{shape: shapeNoise})
	v.setHold(dur)
	return v
}

func (v *Voice) setHold(dur float64) {
	if dur < 0 {
		dur = 0
	}
	v.holdLeft = int(dur * strum.SampleRate)
	v.lifeLeft = v.holdLeft + releaseCapFrames
}

// Release puts the envelope into its release phase regardless of how much
// hold time is left.
func (v *Voice) Release() {
	v.holdLeft = 0
	v.env.state = envRelease
}

// Mix adds the next len(l) frames of the voice into the planar buffers and
// reports whether the voice is still alive. Both buffers must have the same
// length.
func (v *Voice) Mix(l, r []float32) bool {
	for i := range l {
		if v.lifeLeft <= 0 {
			return false
		}
		if v.holdLeft > 0 {
			v.holdLeft--
			if v.holdLeft == 0 {
				v.env.state = envRelease
			}
		}
		level := v.env.step()
		if v.env.state == envRelease && level <= 0 {
			return false
		}
		var out float32
		for j := range v.oscs {
			out += v.oscs[j].step(v)
		}
		out *= level * v.gain
		l[i] += out
		r[i] += out
		v.lifeLeft--
	}
	return true
}

// step advances the envelope one frame and returns the new level. The state
// machine and the nonLinearMap parameter scaling follow the usual
// attack/decay/sustain/release shape with all four parameters in 0..1.
func (e *envelope) step() float32 {
	switch e.state {
	case envAttack:
		e.level += nonLinearMap(e.attack)
		if e.level >= 1 {
			e.level = 1
			e.state = envDecay
		}
	case envDecay:
		e.level -= nonLinearMap(e.decay)
		if e.level <= e.sustain {
			e.level = e.sustain
		}
	case envRelease:
		e.level -= nonLinearMap(e.release)
		if e.level <= 0 {
			e.level = 0
		}
	}
	return e.level
}

func (o *oscillator) step(v *Voice) float32 {
	if o.shape == shapeNoise {
		return v.rand()
	}
	o.phase += o.delta
	o.phase -= float32(int(o.phase))
	phase := o.phase
	color := o.color
	switch o.shape {
	case shapeTriangle, shapeSaw:
		if phase >= color {
			phase = 1 - phase
			color = 1 - color
		}
		return phase/color*2 - 1
	case shapePulse:
		if phase >= color {
			return -1
		}
		return 1
	}
	return 0
}

func (v *Voice) rand() float32 {
	v.randSeed *= 16007
	return float32(int32(v.randSeed)) / -2147483648.0
}

func nonLinearMap(value float32) float32 {
	return float32(math.Exp2(float64(-24 * value)))
}
