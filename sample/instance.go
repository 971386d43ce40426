package sample

import (
	"github.com/strumlab/strum"
)

// declickFrames is the attack ramp applied to every instance and the fade
// applied when an instance stops before its data runs out.
const declickFrames = 220 // 5 ms

// Instance is one independent playback of a PCM resource. Two overlapping
// plays of the same resource are two Instances over the same shared samples:
// neither can steal or restart the other. An instance carries its own bounded
// stop time and fades itself out, so a triggered instance needs no external
// cleanup.
type Instance struct {
	pcm      *PCM
	pos      float64
	step     float64
	gain     float32
	age      int
	holdLeft int
	fadeLeft int
	fading   bool
}

// Instance starts a playback at offset seconds into the resource. A positive
// dur bounds the playback to that many seconds of output; dur <= 0 plays to
// the end of the data.
func (p *PCM) Instance(offset, dur float64, gain float32) *Instance {
	if offset < 0 {
		offset = 0
	}
	step := float64(p.Rate) / strum.SampleRate
	hold := int(dur * strum.SampleRate)
	if dur <= 0 {
		hold = int(float64(p.Frames()) / step)
	}
	return &Instance{
		pcm:      p,
		pos:      offset * float64(p.Rate),
		step:     step,
		gain:     gain,
		holdLeft: hold,
		fadeLeft: declickFrames,
	}
}

// Release starts the fade-out immediately, regardless of remaining hold time.
func (i *Instance) Release() {
	i.holdLeft = 0
}

// Mix adds the next len(l) frames into the planar buffers, resampling from
// the source rate by linear interpolation, and reports whether the instance
// is still alive.
func (i *Instance) Mix(l, r []float32) bool {
	last := float64(i.pcm.Frames() - 1)
	for n := range l {
		if i.pos >= last {
			return false
		}
		if i.holdLeft <= 0 {
			if !i.fading {
				i.fading = true
				i.fadeLeft = declickFrames
			}
			if i.fadeLeft <= 0 {
				return false
			}
		}
		level := i.gain
		if i.age < declickFrames {
			level *= float32(i.age) / declickFrames
		}
		if i.fading {
			level *= float32(i.fadeLeft) / declickFrames
			i.fadeLeft--
		}
		idx := int(i.pos)
		frac := float32(i.pos - float64(idx))
		l[n] += level * (i.pcm.Left[idx] + (i.pcm.Left[idx+1]-i.pcm.Left[idx])*frac)
		r[n] += level * (i.pcm.Right[idx] + (i.pcm.Right[idx+1]-i.pcm.Right[idx])*frac)
		i.pos += i.step
		i.age++
		if i.holdLeft > 0 {
			i.holdLeft--
		}
	}
	return true
}
