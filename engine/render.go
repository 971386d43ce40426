package engine

import (
	"context"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/strumlab/strum"
	"github.com/strumlab/strum/sample"
)

const (
	// renderTail is the extra audio rendered past the end of the song so
	// delay and reverb tails are not cut off.
	renderTail = 1.5

	renderChunk = 1024
)

// Render plays the song once on a virtual clock and returns the rendered
// audio, faster than real time. Looping is ignored. Sample references are
// resolved up front so the offline result does not depend on resolution
// timing; references that fail resolve to the synthesized fallback, same as
// live playback. A nil manager renders the whole song synthesized.
func Render(ctx context.Context, song strum.Song, samples *sample.Manager, log zerolog.Logger) (strum.AudioBuffer, error) {
	song = song.Copy()
	song.Loop = false
	song.Sanitize()
	if !song.HasContent() {
		return nil, strum.ErrEmptySong
	}
	if samples != nil {
		for _, ref := range renderRefs(song) {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			if _, err := samples.Resolve(ctx, ref); err != nil {
				log.Debug().Str("variant", ref.Variant).Err(err).Msg("reference will synthesize")
			}
		}
	}

	clock := NewVirtualClock()
	eng := New(Options{Clock: clock, Samples: samples, Logger: log})
	defer eng.Close()
	if err := eng.SetSong(song); err != nil {
		return nil, err
	}
	if err := eng.Play(); err != nil {
		return nil, err
	}

	total := int(math.Ceil((song.Duration + renderTail) * strum.SampleRate))
	out := make(strum.AudioBuffer, 0, total)
	buf := make(strum.AudioBuffer, renderChunk)
	for len(out) < total {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n := renderChunk
		if rem := total - len(out); rem < n {
			n = rem
		}
		clock.Advance(time.Duration(float64(n) / strum.SampleRate * float64(time.Second)))
		if _, err := eng.ReadAudio(buf[:n]); err != nil {
			return nil, err
		}
		out = append(out, buf[:n]...)
	}
	return out, nil
}

// renderRefs collects the distinct sample references the song's triggers will
// ask for.
func renderRefs(song strum.Song) []strum.ResourceRef {
	seen := make(map[strum.ResourceRef]bool)
	var refs []strum.ResourceRef
	for _, tg := range Triggers(song, 0) {
		var ref strum.ResourceRef
		switch {
		case tg.Resource != nil:
			ref = *tg.Resource
		case tg.Note != "" && tg.Instrument.Category != "":
			ref = strum.ResourceRef{
				Category:   tg.Instrument.Category,
				Instrument: tg.Instrument.Name,
				Variant:    tg.Note,
			}
		default:
			continue
		}
		if !seen[ref] {
			seen[ref] = true
			refs = append(refs, ref)
		}
	}
	return refs
}
