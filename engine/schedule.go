package engine

import (
	"math"
	"sort"

	"github.com/strumlab/strum"
)

// triggerSustain is the fraction of the grain a generated note actually
// sounds, leaving a gap before the next one.
const triggerSustain = 0.9

// Trigger is one scheduled sound: fire the described source at song position
// At. Triggers computes them; the engine arms a timer per trigger.
type Trigger struct {
	At         float64
	TrackID    string
	Kind       strum.TrackKind
	Instrument strum.Instrument
	Note       string
	Resource   *strum.ResourceRef
	Offset     float64
	Duration   float64
	Volume     float64
	Effects    strum.EffectSettings
	Transient  bool
}

// Triggers computes every trigger of the song at or after from, sorted by
// fire time. It is a pure function of its inputs: the same song and position
// always give the same triggers, which is what makes mid-song rescheduling
// after an edit safe.
//
// Track selection honors solo and mute: if any track is soloed only the solo
// set plays, and muted tracks never play. A clip that ends at or before from
// contributes nothing. A direct-resource clip yields a single trigger, caught
// up to from with its offset advanced correspondingly. A granular clip yields
// one trigger per whole grain, reusing its notes cyclically when it has fewer
// notes than grains; a clip with no notes gets them from the key's default
// generator. A grain already underway at from (started before, not yet over)
// is kept with its original fire time, so the engine fires it immediately on
// resume rather than leaving a hole until the next grain boundary.
func Triggers(song strum.Song, from float64) []Trigger {
	key, err := strum.ParseKey(song.Key)
	if err != nil {
		key = strum.Key{}
	}
	anySolo := false
	for _, tr := range song.Tracks {
		if tr.Solo {
			anySolo = true
			break
		}
	}
	var out []Trigger
	for _, tr := range song.Tracks {
		if tr.Muted || (anySolo && !tr.Solo) {
			continue
		}
		for _, clip := range tr.Clips {
			out = appendClipTriggers(out, tr, clip, key, from)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].At < out[j].At })
	return out
}

func appendClipTriggers(out []Trigger, tr strum.Track, clip strum.Clip, key strum.Key, from float64) []Trigger {
	// A duration sanitized to zero means the clip has nothing to play.
	if clip.Duration <= 0 || clip.End() <= from {
		return out
	}
	effects := tr.Effects.Merge(clip.Effects)
	transient := !clip.Effects.IsZero()
	if clip.Resource != nil {
		at := clip.Start
		if at < from {
			at = from
		}
		ref := *clip.Resource
		return append(out, Trigger{
			At:         at,
			TrackID:    tr.ID,
			Kind:       tr.Kind,
			Instrument: tr.Instrument,
			Resource:   &ref,
			Offset:     clip.Offset + (at - clip.Start),
			Duration:   clip.End() - at,
			Volume:     clip.Volume,
			Effects:    effects,
			Transient:  transient,
		})
	}
	grain := clip.Grain()
	n := int(math.Floor(clip.Duration / grain))
	if n <= 0 {
		return out
	}
	notes := clip.Notes
	if len(notes) == 0 {
		notes = generateNotes(tr.Kind, key, clip.ID, n)
	}
	for i := 0; i < n; i++ {
		at := clip.Start + float64(i)*grain
		if at+grain <= from {
			continue
		}
		out = append(out, Trigger{
			At:         at,
			TrackID:    tr.ID,
			Kind:       tr.Kind,
			Instrument: tr.Instrument,
			Note:       notes[i%len(notes)],
			Duration:   grain * triggerSustain,
			Volume:     clip.Volume,
			Effects:    effects,
			Transient:  transient,
		})
	}
	return out
}
