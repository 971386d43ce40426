// Package mix renders triggered voices into a stereo master bus. Each track
// owns a bus with a cached signal chain; clips that override the track sound
// borrow a transient chain from a small per-bus pool and hand it back once
// their audio has rung out. All processing is planar float32, interleaved
// only at the final output.
package mix

import (
	"math"
	"sync"

	"github.com/rs/zerolog"
	"github.com/viterin/vek/vek32"

	"github.com/strumlab/strum"
)

// Voice is anything that can add audio into planar buffers: a sample
// playback instance or a synthesized fallback voice. Mix reports whether the
// voice is still alive; a dead voice is dropped by the mixer. Release asks
// the voice to begin a short fade instead of stopping abruptly.
type Voice interface {
	Mix(l, r []float32) bool
	Release()
}

const (
	// transientPoolSize caps how many clip-specific chains one track can
	// have sounding at once. Beyond that, triggers fall back to the track
	// chain instead of allocating without bound.
	transientPoolSize = 4

	// transientHoldMargin keeps a returned chain alive long enough for its
	// delay and reverb tails to finish.
	transientHoldMargin = int64(1.5 * strum.SampleRate)

	peakDecayPerFrame = 1.0 / (0.3 * strum.SampleRate)
)

type lane struct {
	voices   []Voice
	chain    *Chain
	returnAt int64
}

type bus struct {
	id         string
	track      strum.Track
	audible    bool
	main       *lane
	transients []*lane
	free       []*Chain
	peak       float32
}

// checkout takes a chain from the pool, growing it up to the cap. A nil
// return means the pool is exhausted.
func (b *bus) checkout() *Chain {
	if n := len(b.free); n > 0 {
		c := b.free[n-1]
		b.free = b.free[:n-1]
		return c
	}
	if len(b.transients) < transientPoolSize {
		return NewChain()
	}
	return nil
}

func (b *bus) releaseVoices() {
	for _, v := range b.main.voices {
		v.Release()
	}
	for _, ln := range b.transients {
		for _, v := range ln.voices {
			v.Release()
		}
	}
}

type Mixer struct {
	mu  sync.Mutex
	log zerolog.Logger

	buses    []*bus
	busIndex map[string]*bus
	master   []Voice // voices with no routable bus

	masterVolume float32
	running      bool
	metro        metronome
	frames       int64

	laneL, laneR     []float32
	busL, busR       []float32
	tmpL, tmpR       []float32
	masterL, masterR []float32
}

func NewMixer(log zerolog.Logger) *Mixer {
	return &Mixer{
		log:          log.With().Str("component", "mixer").Logger(),
		busIndex:     map[string]*bus{},
		masterVolume: strum.DefaultMasterVolume,
	}
}

// SetTracks reconciles the buses with the given tracks. Buses keep their
// identity by track ID so chains and sounding voices survive edits; buses
// whose track vanished hand their voices to the master so releases can
// finish. Tracks that became inaudible through mute or another track's solo
// get their voices released immediately.
func (m *Mixer) SetTracks(tracks []strum.Track) {
	m.mu.Lock()
	defer m.mu.Unlock()
	anySolo := false
	for _, tr := range tracks {
		if tr.Solo {
			anySolo = true
			break
		}
	}
	seen := make(map[string]bool, len(tracks))
	buses := make([]*bus, 0, len(tracks))
	for _, tr := range tracks {
		b := m.busIndex[tr.ID]
		if b == nil {
			b = &bus{id: tr.ID, main: &lane{chain: NewChain()}, audible: true}
			m.busIndex[tr.ID] = b
		}
		b.track = tr.Copy()
		if !b.main.chain.valid() {
			m.log.Warn().Str("track", tr.ID).Msg("rebuilding corrupted track chain")
			b.main.chain = NewChain()
		}
		b.main.chain.Configure(tr.Effects)
		audible := !tr.Muted && (!anySolo || tr.Solo)
		if b.audible && !audible {
			b.releaseVoices()
		}
		b.audible = audible
		seen[tr.ID] = true
		buses = append(buses, b)
	}
	for id, b := range m.busIndex {
		if seen[id] {
			continue
		}
		for _, v := range b.main.voices {
			v.Release()
			m.master = append(m.master, v)
		}
		for _, ln := range b.transients {
			for _, v := range ln.voices {
				v.Release()
				m.master = append(m.master, v)
			}
		}
		delete(m.busIndex, id)
	}
	m.buses = buses
}

// AddVoice routes a voice to its track bus. A transient voice carries its
// own effect settings and borrows a pooled chain; when the pool is exhausted
// the voice plays through the track chain instead. Voices for unknown tracks
// go straight to the master rather than being dropped.
func (m *Mixer) AddVoice(trackID string, v Voice, transient bool, fx strum.EffectSettings, holdFrames int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b := m.busIndex[trackID]
	if b == nil {
		m.log.Debug().Str("track", trackID).Msg("no bus for voice, routing to master")
		m.master = append(m.master, v)
		return
	}
	if !transient {
		b.main.voices = append(b.main.voices, v)
		return
	}
	ch := b.checkout()
	if ch == nil {
		m.log.Debug().Str("track", trackID).Msg("transient chain pool exhausted")
		b.main.voices = append(b.main.voices, v)
		return
	}
	ch.Configure(fx)
	ch.Reset()
	b.transients = append(b.transients, &lane{
		voices:   []Voice{v},
		chain:    ch,
		returnAt: m.frames + holdFrames + transientHoldMargin,
	})
}

func (m *Mixer) SetMasterVolume(vol float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !(vol >= 0) {
		vol = 0
	}
	if vol > 1 {
		vol = 1
	}
	m.masterVolume = float32(vol)
}

// SetRunning gates the metronome; voices render regardless so releases can
// ring out after a stop.
func (m *Mixer) SetRunning(running bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.running = running
}

func (m *Mixer) SetMetronome(enabled bool, secondsPerBeat float64, beatsPerBar int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.metro.enabled = enabled
	m.metro.spb = secondsPerBeat
	m.metro.bpb = beatsPerBar
}

// SyncBeat aligns the metronome to the transport, given the position in
// beats. Landing exactly on a beat clicks immediately.
func (m *Mixer) SyncBeat(beats float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.metro.sync(beats)
}

// ReleaseAll fades out every sounding voice.
func (m *Mixer) ReleaseAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range m.buses {
		b.releaseVoices()
	}
	for _, v := range m.master {
		v.Release()
	}
}

// Reset drops every voice immediately and clears all chain state, leaving the
// bus layout and settings in place. Tails do not survive a reset.
func (m *Mixer) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range m.buses {
		b.main.voices = b.main.voices[:0]
		for _, ln := range b.transients {
			ln.voices = nil
			b.free = append(b.free, ln.chain)
		}
		b.transients = b.transients[:0]
		b.main.chain.Reset()
		for _, c := range b.free {
			c.Reset()
		}
		b.peak = 0
	}
	m.master = m.master[:0]
	m.metro.clickLeft = 0
	m.metro.beatPhase = 0
	m.metro.beat = 0
	m.frames = 0
}

// Levels returns the current pre-fader peak per track, decayed over time.
func (m *Mixer) Levels() map[string]float32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	levels := make(map[string]float32, len(m.buses))
	for _, b := range m.buses {
		levels[b.id] = b.peak
	}
	return levels
}

func (m *Mixer) ensure(n int) {
	setSliceLength(&m.laneL, n)
	setSliceLength(&m.laneR, n)
	setSliceLength(&m.busL, n)
	setSliceLength(&m.busR, n)
	setSliceLength(&m.tmpL, n)
	setSliceLength(&m.tmpR, n)
	setSliceLength(&m.masterL, n)
	setSliceLength(&m.masterR, n)
}

// ReadAudio renders the next len(buf) frames. It always fills the whole
// buffer; silence is an empty mix, not an error.
func (m *Mixer) ReadAudio(buf strum.AudioBuffer) (int, error) {
	n := len(buf)
	if n == 0 {
		return 0, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ensure(n)
	m.masterL = vek32.Zeros_Into(m.masterL, n)
	m.masterR = vek32.Zeros_Into(m.masterR, n)
	for _, b := range m.buses {
		m.renderBus(b, n)
	}
	if len(m.master) > 0 {
		m.laneL = vek32.Zeros_Into(m.laneL, n)
		m.laneR = vek32.Zeros_Into(m.laneR, n)
		alive := m.master[:0]
		for _, v := range m.master {
			if v.Mix(m.laneL, m.laneR) {
				alive = append(alive, v)
			}
		}
		m.master = alive
		vek32.Add_Inplace(m.masterL, m.laneL)
		vek32.Add_Inplace(m.masterR, m.laneR)
	}
	if m.running {
		m.metro.render(m.masterL, m.masterR)
	}
	vol := m.masterVolume
	for i := 0; i < n; i++ {
		buf[i][0] = clip(m.masterL[i] * vol)
		buf[i][1] = clip(m.masterR[i] * vol)
	}
	m.frames += int64(n)
	return n, nil
}

func (m *Mixer) renderBus(b *bus, n int) {
	m.busL = vek32.Zeros_Into(m.busL, n)
	m.busR = vek32.Zeros_Into(m.busR, n)
	m.renderLane(b.main, n)
	kept := b.transients[:0]
	for _, ln := range b.transients {
		m.renderLane(ln, n)
		if len(ln.voices) == 0 && m.frames >= ln.returnAt {
			b.free = append(b.free, ln.chain)
			continue
		}
		kept = append(kept, ln)
	}
	b.transients = kept

	pan := float32((1 - b.track.Pan) / 2)
	gain := float32(b.track.Volume)
	vek32.MulNumber_Into(m.tmpL, m.busL, gain*pan)
	vek32.Add_Inplace(m.masterL, m.tmpL)
	vek32.MulNumber_Into(m.tmpR, m.busR, gain*(1-pan))
	vek32.Add_Inplace(m.masterR, m.tmpR)

	vek32.Abs_Inplace(m.busL)
	vek32.Abs_Inplace(m.busR)
	peak := vek32.Max(m.busL)
	if p := vek32.Max(m.busR); p > peak {
		peak = p
	}
	decayed := b.peak - float32(n)*peakDecayPerFrame
	if peak > decayed {
		b.peak = peak
	} else {
		b.peak = decayed
	}
	if b.peak < 0 {
		b.peak = 0
	}
}

// renderLane mixes the lane's voices, runs them through the lane chain and
// accumulates into the bus. Chains keep processing after their voices die so
// delay and reverb tails ring out.
func (m *Mixer) renderLane(ln *lane, n int) {
	m.laneL = vek32.Zeros_Into(m.laneL, n)
	m.laneR = vek32.Zeros_Into(m.laneR, n)
	alive := ln.voices[:0]
	for _, v := range ln.voices {
		if v.Mix(m.laneL, m.laneR) {
			alive = append(alive, v)
		}
	}
	ln.voices = alive
	if ln.chain != nil {
		ln.chain.Process(m.laneL, m.laneR)
	}
	vek32.Add_Inplace(m.busL, m.laneL)
	vek32.Add_Inplace(m.busR, m.laneR)
}

const metronomeClickFrames = 1764 // 40 ms

// metronome renders a short click on every beat, accented on the first beat
// of each bar. It free-runs from wherever the transport last synced it.
type metronome struct {
	enabled    bool
	spb        float64
	bpb        int
	beatPhase  float64
	beat       int
	clickLeft  int
	clickPhase float64
	clickFreq  float64
}

func (t *metronome) sync(beats float64) {
	whole := math.Floor(beats)
	t.beat = int(whole)
	t.beatPhase = beats - whole
	if t.beatPhase < 1e-9 && t.enabled {
		t.startClick()
	}
}

func (t *metronome) startClick() {
	t.clickLeft = metronomeClickFrames
	t.clickPhase = 0
	t.clickFreq = 880
	bpb := t.bpb
	if bpb <= 0 {
		bpb = 4
	}
	if t.beat%bpb == 0 {
		t.clickFreq = 1320
	}
}

func (t *metronome) render(l, r []float32) {
	if !t.enabled || t.spb <= 0 {
		return
	}
	for n := range l {
		t.beatPhase += 1 / (t.spb * strum.SampleRate)
		if t.beatPhase >= 1 {
			t.beatPhase -= 1
			t.beat++
			t.startClick()
		}
		if t.clickLeft > 0 {
			env := float32(t.clickLeft) / metronomeClickFrames
			v := float32(math.Sin(2*math.Pi*t.clickPhase)) * env * env * 0.35
			t.clickPhase += t.clickFreq / strum.SampleRate
			t.clickLeft--
			l[n] += v
			r[n] += v
		}
	}
}

func setSliceLength[T any](slice *[]T, length int) {
	if len(*slice) < length {
		*slice = append(*slice, make([]T, length-len(*slice))...)
	}
	*slice = (*slice)[:length]
}
