// Package engine turns a song document into scheduled, rendered audio. The
// Engine owns the transport: it computes the song's triggers, arms one timer
// per trigger on an injectable clock, and routes every fired trigger into the
// mixer as either a resolved sample or a synthesized fallback voice. All
// transport math runs on the clock so the same engine drives a live audio
// device and a faster-than-real-time offline render.
package engine

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/strumlab/strum"
	"github.com/strumlab/strum/mix"
	"github.com/strumlab/strum/sample"
	"github.com/strumlab/strum/synth"
)

const (
	// tickInterval is how often the engine emits position updates and checks
	// for the end of the song as a fallback to the end timer.
	tickInterval = 50 * time.Millisecond

	updateBuffer = 64

	// Gains for the voices an engine starts. Samples are recorded hot and
	// play near unity; the synthesized fallbacks are quieter so a mixed
	// sample/synth song stays balanced.
	sampleGain = float32(0.9)
	chordGain  = float32(0.5)
	noteGain   = float32(0.35)
	hitGain    = float32(0.4)
)

// playbackMode remembers per track whether its notes resolved to samples or
// fell back to synthesis, so a track does not flip sources mid-song while
// resolutions trickle in.
type playbackMode int

const (
	modeAuto playbackMode = iota
	modeSample
	modeSynth
)

// Options configures a new Engine. The zero value is usable: a wall clock,
// no sample manager (every note synthesizes) and no sink.
type Options struct {
	// Clock drives all scheduling. Nil means the wall clock.
	Clock Clock
	// Samples resolves note and resource references to PCM. Nil disables
	// sample playback entirely.
	Samples *sample.Manager
	// Sink, when set, has the engine's audio pumped into it from a
	// background goroutine until Close.
	Sink   strum.AudioSink
	Logger zerolog.Logger
}

// Engine is the playback engine. All methods are safe for concurrent use.
type Engine struct {
	mu    sync.Mutex
	clock Clock
	log   zerolog.Logger

	samples *sample.Manager
	mixer   *mix.Mixer

	song  strum.Song
	state State

	// The transport position is anchored: posAtAnchor is the song position
	// at clock time anchor, and while playing the current position is
	// posAtAnchor plus the time elapsed since.
	anchor      time.Time
	posAtAnchor float64

	// Armed trigger timers, keyed by an id so fired timers can remove
	// themselves. The epoch invalidates stale callbacks: canceling bumps
	// it, and a callback from an older epoch is ignored.
	timers   map[int]Timer
	timerSeq int
	epoch    uint64

	modeCache map[string]playbackMode

	updates chan Update
	ticker  Ticker
	done    chan struct{}
	closed  bool
}

// New creates an engine with an empty song and starts its background tick
// loop. Close releases the goroutine.
func New(opt Options) *Engine {
	clock := opt.Clock
	if clock == nil {
		clock = WallClock{}
	}
	e := &Engine{
		clock:     clock,
		log:       opt.Logger.With().Str("component", "engine").Logger(),
		samples:   opt.Samples,
		mixer:     mix.NewMixer(opt.Logger),
		timers:    make(map[int]Timer),
		modeCache: make(map[string]playbackMode),
		updates:   make(chan Update, updateBuffer),
		done:      make(chan struct{}),
	}
	e.song.Sanitize()
	e.mixer.SetMasterVolume(e.song.MasterVolume)
	e.ticker = clock.NewTicker(tickInterval)
	go e.run()
	if opt.Sink != nil {
		go func() {
			if err := strum.Pump(e, opt.Sink); err != nil {
				e.log.Warn().Err(err).Msg("audio pump stopped")
			}
		}()
	}
	return e
}

func (e *Engine) run() {
	for {
		select {
		case <-e.done:
			return
		case <-e.ticker.C():
			e.tick()
		}
	}
}

// tick emits the periodic position update and catches the end of the song if
// the end timer was lost to a reschedule.
func (e *Engine) tick() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed || e.state != StatePlaying {
		return
	}
	pos := e.positionLocked()
	if pos >= e.song.Duration {
		e.songEndLocked()
		return
	}
	e.emitLocked(Update{Kind: UpdatePosition, State: e.state, Position: pos, Levels: e.mixer.Levels()})
}

func (e *Engine) positionLocked() float64 {
	pos := e.posAtAnchor
	if e.state == StatePlaying {
		pos += e.clock.Now().Sub(e.anchor).Seconds()
	}
	if pos > e.song.Duration {
		pos = e.song.Duration
	}
	return pos
}

// songEndLocked handles the transport reaching the end: wrap when looping,
// stop otherwise.
func (e *Engine) songEndLocked() {
	if e.song.Loop {
		e.cancelTimersLocked()
		e.posAtAnchor = 0
		e.anchor = e.clock.Now()
		e.mixer.SyncBeat(0)
		e.scheduleFromLocked(0)
		e.emitLocked(Update{Kind: UpdatePosition, State: e.state, Position: 0})
		return
	}
	e.stopLocked()
}

func (e *Engine) stopLocked() {
	e.cancelTimersLocked()
	changed := e.state != StateStopped || e.posAtAnchor != 0
	e.state = StateStopped
	e.posAtAnchor = 0
	e.mixer.ReleaseAll()
	e.mixer.SetRunning(false)
	if changed {
		e.emitStateLocked()
	}
}

func (e *Engine) cancelTimersLocked() {
	for id, t := range e.timers {
		t.Stop()
		delete(e.timers, id)
	}
	e.epoch++
}

func (e *Engine) armTimerLocked(delay time.Duration, f func(epoch uint64, id int)) {
	if delay < 0 {
		delay = 0
	}
	id := e.timerSeq
	e.timerSeq++
	epoch := e.epoch
	e.timers[id] = e.clock.AfterFunc(delay, func() { f(epoch, id) })
}

// scheduleFromLocked arms a timer per remaining trigger plus the end-of-song
// timer. A trigger already underway at from gets a zero delay and fires right
// away.
func (e *Engine) scheduleFromLocked(from float64) {
	trigs := Triggers(e.song, from)
	for _, tg := range trigs {
		delay := time.Duration((tg.At - from) * float64(time.Second))
		e.armTimerLocked(delay, func(epoch uint64, id int) { e.triggerFired(epoch, id, tg) })
	}
	if remaining := e.song.Duration - from; remaining > 0 {
		e.armTimerLocked(time.Duration(remaining*float64(time.Second)), e.endFired)
	}
	e.log.Debug().Float64("from", from).Int("triggers", len(trigs)).Msg("scheduled")
}

func (e *Engine) triggerFired(epoch uint64, id int, tg Trigger) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.timers, id)
	if e.closed || epoch != e.epoch || e.state != StatePlaying {
		return
	}
	e.fireLocked(tg)
}

func (e *Engine) endFired(epoch uint64, id int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.timers, id)
	if e.closed || epoch != e.epoch || e.state != StatePlaying {
		return
	}
	e.songEndLocked()
}

// fireLocked turns one trigger into a mixer voice. Direct resources play only
// when already resolved; a miss starts background resolution so a looped pass
// or a retrigger gets them. Note triggers prefer samples but fall back to
// synthesis, and the chosen source sticks per track via the mode cache.
func (e *Engine) fireLocked(tg Trigger) {
	holdFrames := int64(tg.Duration * strum.SampleRate)
	vol := float32(tg.Volume)
	if !(vol > 0) || vol > 1 {
		vol = 1
	}
	if tg.Resource != nil {
		if e.samples == nil {
			e.log.Debug().Str("track", tg.TrackID).Msg("no sample manager, dropping resource clip")
			return
		}
		pcm, state := e.samples.Peek(*tg.Resource)
		switch state {
		case sample.StateReady:
			e.mixer.AddVoice(tg.TrackID, pcm.Instance(tg.Offset, tg.Duration, sampleGain*vol), tg.Transient, tg.Effects, holdFrames)
		case sample.StateFailed:
			e.log.Debug().Str("track", tg.TrackID).Msg("resource unavailable, dropping clip")
		default:
			e.samples.StartResolve(*tg.Resource)
		}
		return
	}

	mode := e.modeCache[tg.TrackID]
	if e.samples == nil {
		mode = modeSynth
	}
	if mode != modeSynth && tg.Note != "" && tg.Instrument.Category != "" {
		ref := strum.ResourceRef{
			Category:   tg.Instrument.Category,
			Instrument: tg.Instrument.Name,
			Variant:    tg.Note,
		}
		pcm, state := e.samples.Peek(ref)
		switch state {
		case sample.StateReady:
			e.modeCache[tg.TrackID] = modeSample
			e.mixer.AddVoice(tg.TrackID, pcm.Instance(0, tg.Duration, sampleGain*vol), tg.Transient, tg.Effects, holdFrames)
			return
		case sample.StateFailed:
			e.modeCache[tg.TrackID] = modeSynth
		default:
			// Still resolving: synthesize this note without deciding
			// the track's mode yet.
			e.samples.StartResolve(ref)
		}
	}
	if v := e.synthVoice(tg, vol); v != nil {
		e.mixer.AddVoice(tg.TrackID, v, tg.Transient, tg.Effects, holdFrames)
	}
}

func (e *Engine) synthVoice(tg Trigger, vol float32) mix.Voice {
	if tg.Note != "" {
		if midi, err := strum.LabelMIDI(tg.Note); err == nil {
			if len(midi) > 1 {
				return synth.NewChordVoice(midi, tg.Duration, chordGain*vol)
			}
			return synth.NewNoteVoice(midi[0], tg.Duration, noteGain*vol)
		} else if tg.Kind != strum.TrackRhythm {
			e.log.Debug().Str("note", tg.Note).Err(err).Msg("unplayable note label")
			return nil
		}
	}
	if tg.Kind == strum.TrackRhythm {
		return synth.NewHitVoice(tg.Duration, hitGain*vol)
	}
	return nil
}

// Play starts playback: from the beginning when stopped, from the frozen
// position when paused. Playing again while playing is a no-op.
func (e *Engine) Play() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return strum.ErrEngineNotReady
	}
	if !e.song.HasContent() {
		return strum.ErrEmptySong
	}
	if e.state == StatePlaying {
		return nil
	}
	from := e.posAtAnchor
	if e.state == StateStopped || from >= e.song.Duration {
		from = 0
	}
	e.state = StatePlaying
	e.posAtAnchor = from
	e.anchor = e.clock.Now()
	e.mixer.SetRunning(true)
	e.mixer.SyncBeat(from / e.song.SecondsPerBeat())
	e.scheduleFromLocked(from)
	e.emitStateLocked()
	return nil
}

// Pause freezes the transport at the current position and fades out whatever
// is sounding. Play resumes from the same position.
func (e *Engine) Pause() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed || e.state != StatePlaying {
		return
	}
	pos := e.positionLocked()
	e.cancelTimersLocked()
	e.posAtAnchor = pos
	e.state = StatePaused
	e.mixer.ReleaseAll()
	e.mixer.SetRunning(false)
	e.emitStateLocked()
}

// Stop halts playback and rewinds to the beginning.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.stopLocked()
}

// Reset stops playback and clears all runtime state: sounding voices, effect
// tails and the per-track sample/synth decisions. The song document and the
// sample cache survive.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.stopLocked()
	e.modeCache = make(map[string]playbackMode)
	e.mixer.Reset()
}

// ResetHard is Reset plus dropping the sample cache, so failed resolutions
// are retried from scratch.
func (e *Engine) ResetHard() {
	e.Reset()
	if e.samples != nil {
		e.samples.Reset()
	}
}

// applySongLocked pushes song-derived settings into the mixer and, when
// playing, reschedules the remaining triggers from the current position.
func (e *Engine) applySongLocked() {
	e.mixer.SetTracks(e.song.Tracks)
	e.mixer.SetMasterVolume(e.song.MasterVolume)
	e.mixer.SetMetronome(e.song.Metronome, e.song.SecondsPerBeat(), e.song.BeatsPerBar())
	if e.state != StatePlaying {
		return
	}
	pos := e.positionLocked()
	e.cancelTimersLocked()
	e.posAtAnchor = pos
	e.anchor = e.clock.Now()
	if pos >= e.song.Duration {
		e.songEndLocked()
		return
	}
	e.scheduleFromLocked(pos)
}

func ensureIDs(song *strum.Song) {
	for i := range song.Tracks {
		ensureTrackIDs(&song.Tracks[i])
	}
}

func ensureTrackIDs(tr *strum.Track) {
	if tr.ID == "" {
		tr.ID = uuid.NewString()
	}
	for j := range tr.Clips {
		if tr.Clips[j].ID == "" {
			tr.Clips[j].ID = uuid.NewString()
		}
	}
}

// SetSong replaces the whole song document. The document is sanitized and
// validated first; an invalid document is rejected and the current song keeps
// playing. Setting a song while playing reschedules from the current
// position.
func (e *Engine) SetSong(song strum.Song) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return strum.ErrEngineNotReady
	}
	song = song.Copy()
	ensureIDs(&song)
	song.Sanitize()
	if err := song.Validate(); err != nil {
		return err
	}
	e.song = song
	e.modeCache = make(map[string]playbackMode)
	e.applySongLocked()
	e.emitSongLocked()
	return nil
}

// LoadSong parses a document and replaces the current song with it.
func (e *Engine) LoadSong(data []byte) error {
	song, err := strum.ParseSong(data)
	if err != nil {
		return err
	}
	return e.SetSong(song)
}

// ExportSong serializes the current song document.
func (e *Engine) ExportSong() ([]byte, error) {
	e.mu.Lock()
	song := e.song.Copy()
	e.mu.Unlock()
	return song.Marshal()
}

// Song returns a deep copy of the current song document.
func (e *Engine) Song() strum.Song {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.song.Copy()
}

// AddTrack appends a track to the song and returns its ID, minting one if the
// track came without.
func (e *Engine) AddTrack(tr strum.Track) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return "", strum.ErrEngineNotReady
	}
	tr = tr.Copy()
	ensureTrackIDs(&tr)
	if e.song.TrackIndex(tr.ID) >= 0 {
		return "", fmt.Errorf("track %v already exists", tr.ID)
	}
	e.song.Tracks = append(e.song.Tracks, tr)
	e.song.Sanitize()
	e.applySongLocked()
	e.emitSongLocked()
	return tr.ID, nil
}

// UpdateTrack replaces the track with the same ID.
func (e *Engine) UpdateTrack(tr strum.Track) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return strum.ErrEngineNotReady
	}
	idx := e.song.TrackIndex(tr.ID)
	if idx < 0 {
		return fmt.Errorf("%v: %w", tr.ID, strum.ErrTrackNotFound)
	}
	tr = tr.Copy()
	ensureTrackIDs(&tr)
	if e.song.Tracks[idx].Instrument != tr.Instrument {
		delete(e.modeCache, tr.ID)
	}
	e.song.Tracks[idx] = tr
	e.song.Sanitize()
	e.applySongLocked()
	e.emitSongLocked()
	return nil
}

// RemoveTrack deletes a track. Its sounding voices are handed to the master
// bus so their releases can finish.
func (e *Engine) RemoveTrack(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return strum.ErrEngineNotReady
	}
	idx := e.song.TrackIndex(id)
	if idx < 0 {
		return fmt.Errorf("%v: %w", id, strum.ErrTrackNotFound)
	}
	e.song.Tracks = append(e.song.Tracks[:idx], e.song.Tracks[idx+1:]...)
	delete(e.modeCache, id)
	e.song.Sanitize()
	e.applySongLocked()
	e.emitSongLocked()
	return nil
}

// AddClip places a clip on a track and returns the clip ID, minting one if
// the clip came without.
func (e *Engine) AddClip(trackID string, c strum.Clip) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return "", strum.ErrEngineNotReady
	}
	idx := e.song.TrackIndex(trackID)
	if idx < 0 {
		return "", fmt.Errorf("%v: %w", trackID, strum.ErrTrackNotFound)
	}
	c = c.Copy()
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	e.song.Tracks[idx].Clips = append(e.song.Tracks[idx].Clips, c)
	e.song.Sanitize()
	e.applySongLocked()
	e.emitSongLocked()
	return c.ID, nil
}

// UpdateClip replaces the clip with the same ID on the given track. An
// invalid duration in the update keeps the clip's existing duration instead
// of silently zeroing a clip that used to play.
func (e *Engine) UpdateClip(trackID string, c strum.Clip) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return strum.ErrEngineNotReady
	}
	idx := e.song.TrackIndex(trackID)
	if idx < 0 {
		return fmt.Errorf("%v: %w", trackID, strum.ErrTrackNotFound)
	}
	ci := e.song.Tracks[idx].ClipIndex(c.ID)
	if ci < 0 {
		return fmt.Errorf("%v: %w", c.ID, strum.ErrClipNotFound)
	}
	c = c.Copy()
	c.Duration = strum.SanitizeDurationUpdate(c.Duration, e.song.Tracks[idx].Clips[ci].Duration)
	e.song.Tracks[idx].Clips[ci] = c
	e.song.Sanitize()
	e.applySongLocked()
	e.emitSongLocked()
	return nil
}

// RemoveClip deletes a clip from a track.
func (e *Engine) RemoveClip(trackID, clipID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return strum.ErrEngineNotReady
	}
	idx := e.song.TrackIndex(trackID)
	if idx < 0 {
		return fmt.Errorf("%v: %w", trackID, strum.ErrTrackNotFound)
	}
	ci := e.song.Tracks[idx].ClipIndex(clipID)
	if ci < 0 {
		return fmt.Errorf("%v: %w", clipID, strum.ErrClipNotFound)
	}
	clips := e.song.Tracks[idx].Clips
	e.song.Tracks[idx].Clips = append(clips[:ci], clips[ci+1:]...)
	e.song.Sanitize()
	e.applySongLocked()
	e.emitSongLocked()
	return nil
}

// SetTempo changes the song tempo, clamped to the valid range. The schedule
// is not recomputed: clip starts are in seconds, so already-armed triggers
// stay where they are and only the metronome grid moves.
func (e *Engine) SetTempo(bpm float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	if !(bpm > 0) {
		bpm = strum.DefaultTempo
	}
	if bpm < strum.MinTempo {
		bpm = strum.MinTempo
	}
	if bpm > strum.MaxTempo {
		bpm = strum.MaxTempo
	}
	e.song.Tempo = bpm
	e.mixer.SetMetronome(e.song.Metronome, e.song.SecondsPerBeat(), e.song.BeatsPerBar())
	if e.state == StatePlaying {
		e.mixer.SyncBeat(e.positionLocked() / e.song.SecondsPerBeat())
	}
	e.emitSongLocked()
}

// SetMasterVolume sets the master gain in [0, 1]. Unlike a loaded document,
// an explicit zero here means silence.
func (e *Engine) SetMasterVolume(vol float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	if !(vol >= 0) {
		vol = 0
	}
	if vol > 1 {
		vol = 1
	}
	e.song.MasterVolume = vol
	e.mixer.SetMasterVolume(vol)
	e.emitSongLocked()
}

// ToggleLoop flips looping and returns the new setting. The end-of-song
// behavior reads the flag when the end is reached, so toggling mid-play works.
func (e *Engine) ToggleLoop() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return false
	}
	e.song.Loop = !e.song.Loop
	e.emitSongLocked()
	return e.song.Loop
}

// ToggleMetronome flips the metronome and returns the new setting.
func (e *Engine) ToggleMetronome() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return false
	}
	e.song.Metronome = !e.song.Metronome
	e.mixer.SetMetronome(e.song.Metronome, e.song.SecondsPerBeat(), e.song.BeatsPerBar())
	if e.state == StatePlaying && e.song.Metronome {
		e.mixer.SyncBeat(e.positionLocked() / e.song.SecondsPerBeat())
	}
	e.emitSongLocked()
	return e.song.Metronome
}

// Audition plays one note on a track outside the schedule, in any transport
// state. It is the path live input uses.
func (e *Engine) Audition(trackID, note string, dur float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return strum.ErrEngineNotReady
	}
	idx := e.song.TrackIndex(trackID)
	if idx < 0 {
		return fmt.Errorf("%v: %w", trackID, strum.ErrTrackNotFound)
	}
	tr := e.song.Tracks[idx]
	if !(dur > 0) || dur > strum.MaxClipSeconds {
		dur = 1
	}
	e.fireLocked(Trigger{
		TrackID:    tr.ID,
		Kind:       tr.Kind,
		Instrument: tr.Instrument,
		Note:       note,
		Duration:   dur,
		Effects:    tr.Effects,
	})
	return nil
}

// Position returns the current transport position in seconds.
func (e *Engine) Position() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.positionLocked()
}

// State returns the transport state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Levels returns the current per-track peak levels.
func (e *Engine) Levels() map[string]float32 {
	return e.mixer.Levels()
}

// Updates returns the engine's event stream. The channel is never closed
// before Close; slow consumers lose updates rather than stalling the engine.
func (e *Engine) Updates() <-chan Update {
	return e.updates
}

// ReadAudio renders the next len(buf) frames of the master output. A stopped
// or paused engine renders silence and effect tails; only a closed engine
// returns io.EOF.
func (e *Engine) ReadAudio(buf strum.AudioBuffer) (int, error) {
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return 0, io.EOF
	}
	return e.mixer.ReadAudio(buf)
}

// Close stops the engine for good: the tick loop exits, ReadAudio starts
// returning io.EOF and the update channel is closed. Close is idempotent.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.cancelTimersLocked()
	e.state = StateStopped
	e.posAtAnchor = 0
	e.mu.Unlock()
	close(e.done)
	e.ticker.Stop()
	e.mixer.ReleaseAll()
	close(e.updates)
	return nil
}

func (e *Engine) emitLocked(u Update) {
	if e.closed {
		return
	}
	if !TrySend(e.updates, u) {
		e.log.Debug().Msg("dropping update, consumer is slow")
	}
}

func (e *Engine) emitStateLocked() {
	e.emitLocked(Update{Kind: UpdateState, State: e.state, Position: e.positionLocked()})
}

func (e *Engine) emitSongLocked() {
	e.emitLocked(Update{Kind: UpdateSong, State: e.state, Position: e.positionLocked()})
}

var _ strum.AudioSource = (*Engine)(nil)
