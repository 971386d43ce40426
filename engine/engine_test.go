package engine_test

import (
	"context"
	"errors"
	"io"
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/strumlab/strum"
	"github.com/strumlab/strum/engine"
)

// newTestEngine returns an engine on a virtual clock with a simple one-track
// song loaded: a chordal track "t1" with the given clips. No sample manager,
// so every note synthesizes.
func newTestEngine(t *testing.T, clips ...strum.Clip) (*engine.Engine, *engine.VirtualClock) {
	t.Helper()
	clock := engine.NewVirtualClock()
	eng := engine.New(engine.Options{Clock: clock, Logger: zerolog.Nop()})
	t.Cleanup(func() { eng.Close() })
	song := strum.Song{
		Tempo: 120,
		Tracks: []strum.Track{{
			ID:    "t1",
			Kind:  strum.TrackChordal,
			Clips: clips,
		}},
	}
	if err := eng.SetSong(song); err != nil {
		t.Fatalf("SetSong: %v", err)
	}
	return eng, clock
}

func readFrames(t *testing.T, eng *engine.Engine, frames int) strum.AudioBuffer {
	t.Helper()
	buf := make(strum.AudioBuffer, frames)
	got := 0
	for got < frames {
		n, err := eng.ReadAudio(buf[got:])
		if err != nil {
			t.Fatalf("ReadAudio: %v", err)
		}
		got += n
	}
	return buf
}

func TestPlayEmptySong(t *testing.T) {
	eng := engine.New(engine.Options{Clock: engine.NewVirtualClock(), Logger: zerolog.Nop()})
	defer eng.Close()
	if err := eng.Play(); !errors.Is(err, strum.ErrEmptySong) {
		t.Errorf("Play on empty song got %v, expected %v", err, strum.ErrEmptySong)
	}
}

func TestClosedEngine(t *testing.T) {
	eng, _ := newTestEngine(t, strum.Clip{Start: 0, Duration: 2, Notes: []string{"Em"}})
	if err := eng.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := eng.Close(); err != nil {
		t.Errorf("second Close got %v, expected nil", err)
	}
	if err := eng.Play(); !errors.Is(err, strum.ErrEngineNotReady) {
		t.Errorf("Play after Close got %v, expected %v", err, strum.ErrEngineNotReady)
	}
	if err := eng.SetSong(strum.Song{}); !errors.Is(err, strum.ErrEngineNotReady) {
		t.Errorf("SetSong after Close got %v, expected %v", err, strum.ErrEngineNotReady)
	}
	buf := make(strum.AudioBuffer, 64)
	if _, err := eng.ReadAudio(buf); err != io.EOF {
		t.Errorf("ReadAudio after Close got %v, expected io.EOF", err)
	}
}

func TestPauseResumeKeepsPosition(t *testing.T) {
	eng, clock := newTestEngine(t, strum.Clip{Start: 0, Duration: 4, Notes: []string{"Em"}})
	if err := eng.Play(); err != nil {
		t.Fatalf("Play: %v", err)
	}
	clock.Advance(1700 * time.Millisecond)
	if pos := eng.Position(); math.Abs(pos-1.7) > 1e-6 {
		t.Errorf("position got %v, expected 1.7", pos)
	}

	eng.Pause()
	if state := eng.State(); state != engine.StatePaused {
		t.Errorf("state got %v, expected %v", state, engine.StatePaused)
	}
	clock.Advance(5 * time.Second)
	if pos := eng.Position(); math.Abs(pos-1.7) > 1e-6 {
		t.Errorf("paused position got %v, expected 1.7", pos)
	}

	if err := eng.Play(); err != nil {
		t.Fatalf("resume: %v", err)
	}
	clock.Advance(300 * time.Millisecond)
	if pos := eng.Position(); math.Abs(pos-2.0) > 1e-6 {
		t.Errorf("resumed position got %v, expected 2.0", pos)
	}
	if state := eng.State(); state != engine.StatePlaying {
		t.Errorf("state got %v, expected %v", state, engine.StatePlaying)
	}
}

func TestStopRewinds(t *testing.T) {
	eng, clock := newTestEngine(t, strum.Clip{Start: 0, Duration: 4, Notes: []string{"Em"}})
	if err := eng.Play(); err != nil {
		t.Fatalf("Play: %v", err)
	}
	clock.Advance(2 * time.Second)
	eng.Stop()
	if state := eng.State(); state != engine.StateStopped {
		t.Errorf("state got %v, expected %v", state, engine.StateStopped)
	}
	if pos := eng.Position(); pos != 0 {
		t.Errorf("position got %v, expected 0", pos)
	}

	// Play after Stop starts over.
	if err := eng.Play(); err != nil {
		t.Fatalf("Play: %v", err)
	}
	clock.Advance(1 * time.Second)
	if pos := eng.Position(); math.Abs(pos-1.0) > 1e-6 {
		t.Errorf("position got %v, expected 1.0", pos)
	}
}

func TestSongEndStopsWithoutLoop(t *testing.T) {
	eng, clock := newTestEngine(t, strum.Clip{Start: 0, Duration: 2, Notes: []string{"Em"}})
	if d := eng.Song().Duration; d != 8 {
		t.Fatalf("duration got %v, expected 8", d)
	}
	if err := eng.Play(); err != nil {
		t.Fatalf("Play: %v", err)
	}
	clock.Advance(8050 * time.Millisecond)
	if state := eng.State(); state != engine.StateStopped {
		t.Errorf("state got %v, expected %v", state, engine.StateStopped)
	}
	if pos := eng.Position(); pos != 0 {
		t.Errorf("position got %v, expected 0", pos)
	}
}

func TestLoopWrapsAround(t *testing.T) {
	eng, clock := newTestEngine(t, strum.Clip{Start: 0, Duration: 2, Notes: []string{"Em"}})
	if !eng.ToggleLoop() {
		t.Fatal("ToggleLoop got false, expected true")
	}
	if err := eng.Play(); err != nil {
		t.Fatalf("Play: %v", err)
	}
	clock.Advance(8050 * time.Millisecond)
	if state := eng.State(); state != engine.StatePlaying {
		t.Errorf("state got %v, expected %v", state, engine.StatePlaying)
	}
	if pos := eng.Position(); math.Abs(pos-0.05) > 1e-6 {
		t.Errorf("wrapped position got %v, expected 0.05", pos)
	}
}

func TestTriggersProduceAudio(t *testing.T) {
	eng, clock := newTestEngine(t, strum.Clip{Start: 0, Duration: 2, Notes: []string{"Em"}})
	if err := eng.Play(); err != nil {
		t.Fatalf("Play: %v", err)
	}
	clock.Advance(100 * time.Millisecond)
	buf := readFrames(t, eng, 8192)
	if peak := buf.Peak(); peak <= 0.01 {
		t.Errorf("peak got %v, expected audible output", peak)
	}
}

func TestEditWhilePlayingReschedules(t *testing.T) {
	eng, clock := newTestEngine(t, strum.Clip{Start: 0, Duration: 1, Notes: []string{"Em"}})
	if err := eng.Play(); err != nil {
		t.Fatalf("Play: %v", err)
	}
	clock.Advance(100 * time.Millisecond)

	// The only voice holds 0.9s and rings well under 1.5s total.
	buf := readFrames(t, eng, int(1.5*strum.SampleRate))
	if peak := buf.Peak(); peak <= 0.01 {
		t.Fatalf("peak got %v, expected the first clip to sound", peak)
	}
	buf = readFrames(t, eng, 8820)
	if peak := buf.Peak(); peak > 1e-6 {
		t.Fatalf("peak got %v, expected silence after the voice died", peak)
	}

	// A clip added mid-play lands on the live schedule.
	if _, err := eng.AddClip("t1", strum.Clip{Start: 5, Duration: 1, Notes: []string{"C"}}); err != nil {
		t.Fatalf("AddClip: %v", err)
	}
	clock.Advance(5 * time.Second)
	buf = readFrames(t, eng, 8192)
	if peak := buf.Peak(); peak <= 0.01 {
		t.Errorf("peak got %v, expected the added clip to sound", peak)
	}
}

func TestAudition(t *testing.T) {
	eng, _ := newTestEngine(t, strum.Clip{Start: 0, Duration: 2, Notes: []string{"Em"}})
	if err := eng.Audition("nope", "C", 0.5); !errors.Is(err, strum.ErrTrackNotFound) {
		t.Errorf("Audition on unknown track got %v, expected %v", err, strum.ErrTrackNotFound)
	}
	// Audition sounds even while the transport is stopped.
	if err := eng.Audition("t1", "C", 0.5); err != nil {
		t.Fatalf("Audition: %v", err)
	}
	buf := readFrames(t, eng, 8192)
	if peak := buf.Peak(); peak <= 0.01 {
		t.Errorf("peak got %v, expected the audition to sound", peak)
	}
}

func TestSetTempoClamps(t *testing.T) {
	eng, _ := newTestEngine(t, strum.Clip{Start: 0, Duration: 2, Notes: []string{"Em"}})
	eng.SetTempo(1000)
	if got := eng.Song().Tempo; got != strum.MaxTempo {
		t.Errorf("tempo got %v, expected %v", got, strum.MaxTempo)
	}
	eng.SetTempo(1)
	if got := eng.Song().Tempo; got != strum.MinTempo {
		t.Errorf("tempo got %v, expected %v", got, strum.MinTempo)
	}
	eng.SetTempo(math.NaN())
	if got := eng.Song().Tempo; got != strum.DefaultTempo {
		t.Errorf("tempo got %v, expected %v", got, strum.DefaultTempo)
	}
}

func TestSetSongRejectsInvalid(t *testing.T) {
	eng, _ := newTestEngine(t, strum.Clip{Start: 0, Duration: 2, Notes: []string{"Em"}})
	bad := strum.Song{
		Tempo: 120,
		Tracks: []strum.Track{{
			ID:    "x",
			Clips: []strum.Clip{{Start: 0, Duration: 2, Notes: []string{"H#9"}}},
		}},
	}
	if err := eng.SetSong(bad); err == nil {
		t.Fatal("SetSong with unparseable note got nil, expected error")
	}
	// The previous song is untouched.
	if got := len(eng.Song().Tracks); got != 1 {
		t.Errorf("tracks got %v, expected 1", got)
	}
	if got := eng.Song().Tracks[0].ID; got != "t1" {
		t.Errorf("track id got %v, expected t1", got)
	}
}

func TestMutatorsMintIDs(t *testing.T) {
	eng, _ := newTestEngine(t)
	id, err := eng.AddTrack(strum.Track{Kind: strum.TrackLead})
	if err != nil {
		t.Fatalf("AddTrack: %v", err)
	}
	if id == "" {
		t.Fatal("AddTrack minted no ID")
	}
	clipID, err := eng.AddClip(id, strum.Clip{Start: 0, Duration: 2})
	if err != nil {
		t.Fatalf("AddClip: %v", err)
	}
	if clipID == "" {
		t.Fatal("AddClip minted no ID")
	}
	song := eng.Song()
	idx := song.TrackIndex(id)
	if idx < 0 {
		t.Fatalf("track %v not in song", id)
	}
	if got := len(song.Tracks[idx].Clips); got != 1 {
		t.Errorf("clips got %v, expected 1", got)
	}
	if err := eng.RemoveClip(id, "missing"); !errors.Is(err, strum.ErrClipNotFound) {
		t.Errorf("RemoveClip got %v, expected %v", err, strum.ErrClipNotFound)
	}
	if err := eng.RemoveTrack(id); err != nil {
		t.Fatalf("RemoveTrack: %v", err)
	}
	if got := eng.Song().TrackIndex(id); got != -1 {
		t.Errorf("track index after removal got %v, expected -1", got)
	}
}

func TestUpdateClipKeepsDurationOnInvalid(t *testing.T) {
	eng, _ := newTestEngine(t, strum.Clip{ID: "c1", Start: 0, Duration: 4, Notes: []string{"Em"}})
	update := strum.Clip{ID: "c1", Start: 1, Duration: math.NaN(), Notes: []string{"Am"}}
	if err := eng.UpdateClip("t1", update); err != nil {
		t.Fatalf("UpdateClip: %v", err)
	}
	got := eng.Song().Tracks[0].Clips[0]
	if got.Duration != 4 {
		t.Errorf("duration got %v, expected the existing 4 to survive", got.Duration)
	}
	if got.Start != 1 || got.Notes[0] != "Am" {
		t.Errorf("valid fields of the update were dropped: %+v", got)
	}

	// A valid duration still replaces the old one.
	update.Duration = 2
	if err := eng.UpdateClip("t1", update); err != nil {
		t.Fatalf("UpdateClip: %v", err)
	}
	if got := eng.Song().Tracks[0].Clips[0].Duration; got != 2 {
		t.Errorf("duration got %v, expected 2", got)
	}
}

func TestUpdatesCarryStateChanges(t *testing.T) {
	eng, _ := newTestEngine(t, strum.Clip{Start: 0, Duration: 2, Notes: []string{"Em"}})
	// Drain whatever the setup emitted.
	for {
		select {
		case <-eng.Updates():
			continue
		default:
		}
		break
	}
	if err := eng.Play(); err != nil {
		t.Fatalf("Play: %v", err)
	}
	eng.Pause()
	var states []engine.State
	for {
		select {
		case u := <-eng.Updates():
			if u.Kind == engine.UpdateState {
				states = append(states, u.State)
			}
			continue
		default:
		}
		break
	}
	if len(states) != 2 || states[0] != engine.StatePlaying || states[1] != engine.StatePaused {
		t.Errorf("state updates got %v, expected [playing paused]", states)
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	eng, _ := newTestEngine(t, strum.Clip{Start: 0, Duration: 2, Notes: []string{"Em", "Am"}})
	data, err := eng.ExportSong()
	if err != nil {
		t.Fatalf("ExportSong: %v", err)
	}
	other := engine.New(engine.Options{Clock: engine.NewVirtualClock(), Logger: zerolog.Nop()})
	defer other.Close()
	if err := other.LoadSong(data); err != nil {
		t.Fatalf("LoadSong: %v", err)
	}
	a, b := eng.Song(), other.Song()
	if len(b.Tracks) != len(a.Tracks) {
		t.Fatalf("tracks got %v, expected %v", len(b.Tracks), len(a.Tracks))
	}
	if b.Tracks[0].ID != a.Tracks[0].ID {
		t.Errorf("track id got %v, expected %v", b.Tracks[0].ID, a.Tracks[0].ID)
	}
	if got := b.Tracks[0].Clips[0].Notes[1]; got != "Am" {
		t.Errorf("notes got %v, expected Am", got)
	}
}

func TestRender(t *testing.T) {
	song := strum.Song{
		Tempo: 120,
		Tracks: []strum.Track{
			{ID: "chords", Kind: strum.TrackChordal, Clips: []strum.Clip{
				{ID: "c1", Start: 0, Duration: 2, Notes: []string{"Em", "C"}},
			}},
			{ID: "drums", Kind: strum.TrackRhythm, Clips: []strum.Clip{
				{ID: "c2", Start: 0, Duration: 2, GrainDuration: 0.5},
			}},
		},
	}
	buf, err := engine.Render(context.Background(), song, nil, zerolog.Nop())
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	expected := int(math.Ceil(9.5 * strum.SampleRate))
	if len(buf) != expected {
		t.Errorf("frames got %v, expected %v", len(buf), expected)
	}
	peak := buf.Peak()
	if peak <= 0.01 {
		t.Errorf("peak got %v, expected audible output", peak)
	}
	if peak > 1 {
		t.Errorf("peak got %v, expected output within the clip ceiling", peak)
	}
}

func TestRenderEmptySong(t *testing.T) {
	if _, err := engine.Render(context.Background(), strum.Song{}, nil, zerolog.Nop()); !errors.Is(err, strum.ErrEmptySong) {
		t.Errorf("Render got %v, expected %v", err, strum.ErrEmptySong)
	}
}

func TestResetClearsRuntimeState(t *testing.T) {
	eng, clock := newTestEngine(t, strum.Clip{Start: 0, Duration: 2, Notes: []string{"Em"}})
	if err := eng.Play(); err != nil {
		t.Fatalf("Play: %v", err)
	}
	clock.Advance(100 * time.Millisecond)
	eng.Reset()
	if state := eng.State(); state != engine.StateStopped {
		t.Errorf("state got %v, expected %v", state, engine.StateStopped)
	}
	// Voices are dropped outright, not faded.
	buf := readFrames(t, eng, 4096)
	if peak := buf.Peak(); peak > 1e-6 {
		t.Errorf("peak got %v, expected silence after reset", peak)
	}
	// The song itself survives.
	if got := len(eng.Song().Tracks); got != 1 {
		t.Errorf("tracks got %v, expected 1", got)
	}
}
