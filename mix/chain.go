package mix

import (
	"github.com/strumlab/strum"
)

// Chain is the signal path applied to one lane of voices. Its stage order is
// fixed: pitch shift, distortion, bitcrush, chorus, filter, delay, reverb.
// Every stage is always present; a stage whose setting is zero is skipped, so
// a zeroed chain passes audio through untouched.
type Chain struct {
	settings strum.EffectSettings
	pitch    *pitchStage
	distort  *distortStage
	crush    *crushStage
	chorus   *chorusStage
	filter   *filterStage
	delay    *delayStage
	reverb   *reverbStage
	stages   []stage
}

func NewChain() *Chain {
	c := &Chain{
		pitch:   &pitchStage{ratio: 1},
		distort: &distortStage{},
		crush:   &crushStage{},
		chorus:  &chorusStage{},
		filter:  &filterStage{},
		delay:   &delayStage{},
		reverb:  &reverbStage{},
	}
	c.stages = []stage{c.pitch, c.distort, c.crush, c.chorus, c.filter, c.delay, c.reverb}
	c.Reset()
	return c
}

// Configure applies the settings without touching stage state, so a sounding
// chain can be retuned live without clicks or dropped tails.
func (c *Chain) Configure(s strum.EffectSettings) {
	s = s.Clamp()
	c.settings = s
	c.pitch.set(s.PitchShift)
	c.distort.amount = float32(s.Distortion)
	c.crush.amount = float32(s.Bitcrush)
	c.chorus.amount = float32(s.Chorus)
	c.filter.amount = float32(s.Filter)
	c.delay.amount = float32(s.Delay)
	c.reverb.amount = float32(s.Reverb)
}

// Settings returns the settings the chain was last configured with.
func (c *Chain) Settings() strum.EffectSettings {
	return c.settings
}

// Process runs the buffers through every active stage in order, in place.
func (c *Chain) Process(l, r []float32) {
	for _, st := range c.stages {
		if st.active() {
			st.process(l, r)
		}
	}
}

// Reset clears all stage state: delay lines, filter memory and LFO phases.
func (c *Chain) Reset() {
	for _, st := range c.stages {
		st.reset()
	}
}

// valid reports whether the chain still has its full stage complement. A
// chain that fails the check is rebuilt rather than trusted.
func (c *Chain) valid() bool {
	return c != nil &&
		c.pitch != nil && c.distort != nil && c.crush != nil &&
		c.chorus != nil && c.filter != nil && c.delay != nil &&
		c.reverb != nil && len(c.stages) == 7
}
