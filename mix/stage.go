package mix

import (
	"math"

	"github.com/strumlab/strum"
)

// A stage is one processor in a signal chain. Stages report whether they are
// active so the chain can skip them entirely: a stage at its zero setting is
// an exact pass-through, not a unity-gain approximation of one.
type stage interface {
	process(l, r []float32)
	reset()
	active() bool
}

func nonLinearMap(value float32) float32 {
	return float32(math.Exp2(float64(-24 * value)))
}

func clip(value float32) float32 {
	if value < -1 {
		return -1
	}
	if value > 1 {
		return 1
	}
	return value
}

func crush(value, amount float32) float32 {
	n := nonLinearMap(amount)
	return float32(math.Round(float64(value/n)) * float64(n))
}

func waveshape(value, amount float32) float32 {
	absVal := value
	if absVal < 0 {
		absVal = -absVal
	}
	return value * amount / (1 - amount + (2*amount-1)*absVal)
}

const (
	pitchRing   = 4096
	pitchWindow = 2048
)

// pitchStage transposes without changing speed: two taps chase the write head
// at a drifted rate, half a window apart, and a triangular crossfade hides
// each tap's jump back. ratio 1 (0 semitones) is handled as a bypass by the
// chain, so the stage never needs a unity special case.
type pitchStage struct {
	semitones  float64
	ratio      float64
	bufL, bufR [pitchRing]float32
	write      int
	phase      float64
}

func (p *pitchStage) set(semitones float64) {
	p.semitones = semitones
	p.ratio = math.Exp2(semitones / 12)
}

func (p *pitchStage) active() bool { return p.semitones != 0 }

func (p *pitchStage) reset() {
	p.bufL = [pitchRing]float32{}
	p.bufR = [pitchRing]float32{}
	p.write = 0
	p.phase = 0
}

func (p *pitchStage) tap(buf *[pitchRing]float32, delay float64) float32 {
	pos := float64(p.write) - delay
	if pos < 0 {
		pos += pitchRing
	}
	idx := int(pos)
	frac := float32(pos - float64(idx))
	a := buf[idx&(pitchRing-1)]
	b := buf[(idx+1)&(pitchRing-1)]
	return a + (b-a)*frac
}

func (p *pitchStage) process(l, r []float32) {
	for n := range l {
		p.bufL[p.write] = l[n]
		p.bufR[p.write] = r[n]
		d1 := p.phase
		d2 := d1 + pitchWindow/2
		if d2 >= pitchWindow {
			d2 -= pitchWindow
		}
		g1 := 1 - float32(math.Abs(2*d1/pitchWindow-1))
		g2 := 1 - g1
		l[n] = g1*p.tap(&p.bufL, d1) + g2*p.tap(&p.bufL, d2)
		r[n] = g1*p.tap(&p.bufR, d1) + g2*p.tap(&p.bufR, d2)
		p.write = (p.write + 1) & (pitchRing - 1)
		p.phase += 1 - p.ratio
		if p.phase >= pitchWindow {
			p.phase -= pitchWindow
		} else if p.phase < 0 {
			p.phase += pitchWindow
		}
	}
}

type distortStage struct {
	amount float32
}

func (d *distortStage) active() bool { return d.amount > 0 }
func (d *distortStage) reset()       {}

func (d *distortStage) process(l, r []float32) {
	// drive 0.5 is the waveshape identity, so the knee grows from there
	drive := 0.5 + d.amount*0.49
	for n := range l {
		l[n] = clip(waveshape(l[n], drive))
		r[n] = clip(waveshape(r[n], drive))
	}
}

type crushStage struct {
	amount float32
}

func (c *crushStage) active() bool { return c.amount > 0 }
func (c *crushStage) reset()       {}

func (c *crushStage) process(l, r []float32) {
	res := 1 - c.amount
	for n := range l {
		l[n] = crush(l[n], res)
		r[n] = crush(r[n], res)
	}
}

const (
	chorusRing  = 4096
	chorusBase  = 660 // 15 ms
	chorusDepth = 300
	chorusRate  = 0.8 // Hz
)

// chorusStage mixes in a slowly wobbling delayed copy, with the right channel
// LFO a quarter cycle ahead for width.
type chorusStage struct {
	amount     float32
	bufL, bufR [chorusRing]float32
	write      int
	phase      float64
}

func (c *chorusStage) active() bool { return c.amount > 0 }

func (c *chorusStage) reset() {
	c.bufL = [chorusRing]float32{}
	c.bufR = [chorusRing]float32{}
	c.write = 0
	c.phase = 0
}

func (c *chorusStage) tap(buf *[chorusRing]float32, delay float64) float32 {
	pos := float64(c.write) - delay
	if pos < 0 {
		pos += chorusRing
	}
	idx := int(pos)
	frac := float32(pos - float64(idx))
	a := buf[idx&(chorusRing-1)]
	b := buf[(idx+1)&(chorusRing-1)]
	return a + (b-a)*frac
}

func (c *chorusStage) process(l, r []float32) {
	mix := c.amount * 0.5
	for n := range l {
		c.bufL[c.write] = l[n]
		c.bufR[c.write] = r[n]
		lfoL := 0.5 + 0.5*math.Sin(2*math.Pi*c.phase)
		lfoR := 0.5 + 0.5*math.Sin(2*math.Pi*(c.phase+0.25))
		wetL := c.tap(&c.bufL, chorusBase+chorusDepth*lfoL)
		wetR := c.tap(&c.bufR, chorusBase+chorusDepth*lfoR)
		l[n] += (wetL - l[n]) * mix
		r[n] += (wetR - r[n]) * mix
		c.write = (c.write + 1) & (chorusRing - 1)
		c.phase += chorusRate / strum.SampleRate
		if c.phase >= 1 {
			c.phase -= 1
		}
	}
}

// filterStage is a state variable lowpass. The amount closes the cutoff, so
// small settings take the top end off and large settings leave only lows.
type filterStage struct {
	amount      float32
	lowL, bandL float32
	lowR, bandR float32
}

const filterRes = 0.8

func (f *filterStage) active() bool { return f.amount > 0 }

func (f *filterStage) reset() {
	f.lowL, f.bandL = 0, 0
	f.lowR, f.bandR = 0, 0
}

func (f *filterStage) process(l, r []float32) {
	freq := 0.7 - 0.65*f.amount
	freq2 := freq * freq
	for n := range l {
		f.lowL += freq2 * f.bandL
		highL := l[n] - f.lowL - filterRes*f.bandL
		f.bandL += freq2 * highL
		l[n] = f.lowL

		f.lowR += freq2 * f.bandR
		highR := r[n] - f.lowR - filterRes*f.bandR
		f.bandR += freq2 * highR
		r[n] = f.lowR
	}
}

const (
	delayRing = 16384
	delayTime = 11025 // quarter second at 44100 Hz
	delayDamp = 0.4
)

// delayStage is a damped feedback echo with the DC blocker on the way out.
type delayStage struct {
	amount       float32
	bufL, bufR   []float32
	write        int
	dampL, dampR float32
	dcL, dcR     dcFilter
}

type dcFilter struct {
	state, in float32
}

func (f *dcFilter) step(value float32) float32 {
	f.state = value + (0.99609375*f.state - f.in)
	f.in = value
	return f.state
}

func (d *delayStage) active() bool { return d.amount > 0 }

func (d *delayStage) reset() {
	if d.bufL == nil {
		d.bufL = make([]float32, delayRing)
		d.bufR = make([]float32, delayRing)
	} else {
		clear(d.bufL)
		clear(d.bufR)
	}
	d.write = 0
	d.dampL, d.dampR = 0, 0
	d.dcL, d.dcR = dcFilter{}, dcFilter{}
}

func (d *delayStage) process(l, r []float32) {
	if d.bufL == nil {
		d.reset()
	}
	feedback := 0.4 + 0.25*d.amount
	wet := d.amount * 0.5
	for n := range l {
		read := (d.write - delayTime) & (delayRing - 1)

		delSignal := d.bufL[read]
		d.dampL = delayDamp*d.dampL + (1-delayDamp)*delSignal
		d.bufL[d.write] = feedback*d.dampL + l[n]
		l[n] = d.dcL.step(l[n] + wet*delSignal)

		delSignal = d.bufR[read]
		d.dampR = delayDamp*d.dampR + (1-delayDamp)*delSignal
		d.bufR[d.write] = feedback*d.dampR + r[n]
		r[n] = d.dcR.step(r[n] + wet*delSignal)

		d.write = (d.write + 1) & (delayRing - 1)
	}
}

var (
	combTimes    = [4]int{1116, 1188, 1277, 1356}
	allpassTimes = [2]int{556, 441}
)

const (
	stereoSpread = 23
	combFeedback = 0.84
	combDamp     = 0.2
	reverbGain   = 0.03
)

type comb struct {
	buf       []float32
	pos       int
	dampState float32
}

func (c *comb) step(in float32) float32 {
	out := c.buf[c.pos]
	c.dampState = out*(1-combDamp) + c.dampState*combDamp
	c.buf[c.pos] = in + c.dampState*combFeedback
	c.pos++
	if c.pos == len(c.buf) {
		c.pos = 0
	}
	return out
}

type allpass struct {
	buf []float32
	pos int
}

func (a *allpass) step(in float32) float32 {
	b := a.buf[a.pos]
	out := -in + b
	a.buf[a.pos] = in + b*0.5
	a.pos++
	if a.pos == len(a.buf) {
		a.pos = 0
	}
	return out
}

// reverbStage is a small Schroeder tank: four damped combs in parallel into
// two allpasses in series, the right channel offset to keep the tail wide.
type reverbStage struct {
	amount float32
	combL  [4]comb
	combR  [4]comb
	passL  [2]allpass
	passR  [2]allpass
}

func (v *reverbStage) active() bool { return v.amount > 0 }

func (v *reverbStage) reset() {
	if v.combL[0].buf == nil {
		for i, t := range combTimes {
			v.combL[i] = comb{buf: make([]float32, t)}
			v.combR[i] = comb{buf: make([]float32, t+stereoSpread)}
		}
		for i, t := range allpassTimes {
			v.passL[i] = allpass{buf: make([]float32, t)}
			v.passR[i] = allpass{buf: make([]float32, t+stereoSpread)}
		}
		return
	}
	for i := range v.combL {
		clear(v.combL[i].buf)
		clear(v.combR[i].buf)
		v.combL[i].pos, v.combL[i].dampState = 0, 0
		v.combR[i].pos, v.combR[i].dampState = 0, 0
	}
	for i := range v.passL {
		clear(v.passL[i].buf)
		clear(v.passR[i].buf)
		v.passL[i].pos = 0
		v.passR[i].pos = 0
	}
}

func (v *reverbStage) process(l, r []float32) {
	if v.combL[0].buf == nil {
		v.reset()
	}
	wet := v.amount * 0.4
	for n := range l {
		in := (l[n] + r[n]) * reverbGain
		var outL, outR float32
		for i := range v.combL {
			outL += v.combL[i].step(in)
			outR += v.combR[i].step(in)
		}
		for i := range v.passL {
			outL = v.passL[i].step(outL)
			outR = v.passR[i].step(outR)
		}
		l[n] += wet * outL
		r[n] += wet * outR
	}
}
