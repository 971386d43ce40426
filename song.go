package strum

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

type (
	// Song is a complete declarative song document: global settings plus the
	// tracks carrying the content. Duration is derived from the content and
	// recomputed on every mutation; documents may carry a stale value, it is
	// overwritten by Sanitize. Identity and timestamps belong to the document
	// layer; the engine carries them through untouched.
	Song struct {
		ID            string    `yaml:"id,omitempty" json:"id,omitempty"`
		Name          string    `yaml:"name,omitempty" json:"name,omitempty"`
		Tempo         float64   `yaml:"tempo" json:"tempo" validate:"gte=0,lte=999"`
		TimeSignature string    `yaml:"timeSignature,omitempty" json:"timeSignature,omitempty"`
		Key           string    `yaml:"key,omitempty" json:"key,omitempty"`
		Duration      float64   `yaml:"duration,omitempty" json:"duration,omitempty"`
		MasterVolume  float64   `yaml:"masterVolume,omitempty" json:"masterVolume,omitempty" validate:"gte=0,lte=1"`
		Loop          bool      `yaml:"loop,omitempty" json:"loop,omitempty"`
		Metronome     bool      `yaml:"metronome,omitempty" json:"metronome,omitempty"`
		Tracks        []Track   `yaml:"tracks" json:"tracks" validate:"dive"`
		CreatedAt     time.Time `yaml:"createdAt,omitempty" json:"createdAt,omitempty"`
		UpdatedAt     time.Time `yaml:"updatedAt,omitempty" json:"updatedAt,omitempty"`
	}
)

const (
	// MaxClipSeconds caps a single clip's duration; MaxSongSeconds caps how
	// far out on the timeline content can start.
	MaxClipSeconds = 120
	MaxSongSeconds = 600

	// DefaultGrain is the grain duration used when a clip does not set one.
	DefaultGrain = 1.0

	MinTempo     = 40.0
	MaxTempo     = 300.0
	DefaultTempo = 120.0

	DefaultMasterVolume  = 0.8
	DefaultTrackVolume   = 0.8
	DefaultKey           = "C"
	DefaultTimeSignature = "4/4"

	// minSongSeconds and durationPadding define the derived song duration:
	// the timeline is always at least minSongSeconds long and keeps
	// durationPadding seconds of air after the last clip, rounded up to a
	// multiple of four seconds.
	minSongSeconds  = 8.0
	durationPadding = 2.0
)

var songValidator = validator.New()

// SanitizeDuration forces a clip duration into [0, MaxClipSeconds]. NaN,
// infinities and negative values collapse to 0, which downstream means the
// clip is skipped rather than treated as an error.
func SanitizeDuration(v float64) float64 {
	if !isFinite(v) {
		return 0
	}
	return clamp(v, 0, MaxClipSeconds)
}

// SanitizeDurationUpdate sanitizes a duration arriving as an update to an
// existing clip. An invalid value never silently wipes out a previously valid
// duration; the existing one is kept instead.
func SanitizeDurationUpdate(v, existing float64) float64 {
	if (!isFinite(v) || v <= 0) && existing > 0 {
		return existing
	}
	return SanitizeDuration(v)
}

// SanitizeStartTime forces a clip start into [0, MaxSongSeconds]. NaN and
// infinities collapse to 0.
func SanitizeStartTime(v float64) float64 {
	if !isFinite(v) {
		return 0
	}
	return clamp(v, 0, MaxSongSeconds)
}

// MaxClipEnd returns the end of the last playable clip on any track, or 0 for
// an empty song. Clips whose duration sanitized to zero are not content and
// do not count.
func (s *Song) MaxClipEnd() float64 {
	var ret float64
	for i := range s.Tracks {
		for j := range s.Tracks[i].Clips {
			c := &s.Tracks[i].Clips[j]
			if c.Duration <= 0 {
				continue
			}
			if end := c.End(); end > ret {
				ret = end
			}
		}
	}
	return ret
}

// RecomputeDuration derives the song duration from the content: the end of
// the last clip plus padding, rounded up to a multiple of four seconds, and
// never below the minimum.
func (s *Song) RecomputeDuration() {
	d := math.Ceil((s.MaxClipEnd()+durationPadding)/4) * 4
	if d < minSongSeconds {
		d = minSongSeconds
	}
	s.Duration = d
}

// Sanitize forces the whole document into its valid ranges: global settings,
// every track and clip, and finally the derived duration. It never fails.
func (s *Song) Sanitize() {
	if !isFinite(s.Tempo) || s.Tempo == 0 {
		s.Tempo = DefaultTempo
	}
	s.Tempo = clamp(s.Tempo, MinTempo, MaxTempo)
	if _, ok := beatsPerBar(s.TimeSignature); !ok {
		s.TimeSignature = DefaultTimeSignature
	}
	if _, err := ParseKey(s.Key); err != nil {
		s.Key = DefaultKey
	}
	if !isFinite(s.MasterVolume) || s.MasterVolume <= 0 {
		s.MasterVolume = DefaultMasterVolume
	}
	if s.MasterVolume > 1 {
		s.MasterVolume = 1
	}
	for i := range s.Tracks {
		s.Tracks[i].Sanitize()
	}
	s.RecomputeDuration()
}

// Validate checks the document against the declared field constraints and the
// few structural rules sanitization cannot express: parseable key and note
// labels and unique track IDs. Unlike Sanitize it reports problems instead of
// fixing them.
func (s *Song) Validate() error {
	if err := songValidator.Struct(s); err != nil {
		return fmt.Errorf("song failed validation: %w", err)
	}
	if s.Key != "" {
		if _, err := ParseKey(s.Key); err != nil {
			return err
		}
	}
	seen := make(map[string]bool, len(s.Tracks))
	for i := range s.Tracks {
		id := s.Tracks[i].ID
		if id == "" {
			continue
		}
		if seen[id] {
			return fmt.Errorf("duplicate track id %q", id)
		}
		seen[id] = true
	}
	for _, t := range s.Tracks {
		for _, c := range t.Clips {
			for _, n := range c.Notes {
				if _, err := LabelMIDI(n); err != nil {
					return fmt.Errorf("track %q: %w", t.ID, err)
				}
			}
		}
	}
	return nil
}

// HasContent reports whether any track carries at least one clip.
func (s *Song) HasContent() bool {
	for i := range s.Tracks {
		if len(s.Tracks[i].Clips) > 0 {
			return true
		}
	}
	return false
}

// SecondsPerBeat returns the beat length at the song's tempo.
func (s *Song) SecondsPerBeat() float64 {
	if s.Tempo <= 0 {
		return 60 / DefaultTempo
	}
	return 60 / s.Tempo
}

// BeatsPerBar returns the bar length in beats from the time signature,
// falling back to four when it is missing or malformed.
func (s *Song) BeatsPerBar() int {
	if n, ok := beatsPerBar(s.TimeSignature); ok {
		return n
	}
	return 4
}

func beatsPerBar(sig string) (int, bool) {
	num, den, ok := strings.Cut(sig, "/")
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(num)
	if err != nil || n < 1 || n > 32 {
		return 0, false
	}
	if d, err := strconv.Atoi(den); err != nil || d < 1 || d > 64 {
		return 0, false
	}
	return n, true
}

// TrackIndex returns the index of the track with the given ID, or -1.
func (s *Song) TrackIndex(id string) int {
	for i := range s.Tracks {
		if s.Tracks[i].ID == id {
			return i
		}
	}
	return -1
}

// Copy makes a deep copy of a Song.
func (s *Song) Copy() Song {
	tracks := make([]Track, len(s.Tracks))
	for i := range s.Tracks {
		tracks[i] = s.Tracks[i].Copy()
	}
	ret := *s
	ret.Tracks = tracks
	return ret
}

func clamp(v, low, high float64) float64 {
	if v < low {
		return low
	}
	if v > high {
		return high
	}
	return v
}

func clampFinite(v, low, high float64) float64 {
	if !isFinite(v) {
		return 0
	}
	return clamp(v, low, high)
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
