package sample

import (
	"net/url"
	"strings"
	"unicode"

	"github.com/strumlab/strum"
)

type codecKind int

const (
	codecWAV codecKind = iota
	codecMP3
)

type (
	// candidate is one concrete thing to try: a resource path and the codec
	// to decode it with.
	candidate struct {
		path  string
		codec codecKind
	}

	// strategy is one step of the resolution cascade. Strategies are
	// declarative: each turns a reference into the candidates it would try,
	// and the resolver walks them strictly in order.
	strategy struct {
		name       string
		candidates func(ref strum.ResourceRef) []candidate
	}
)

// resolveOrder is the resolution cascade. The order is part of the engine's
// observable behavior: the canonical wav first, the mp3 rendition second, then
// the historical alternate casing of the instrument directory, then the
// parallel chord (minor for major and vice versa), and as a last resort the C
// major chord of the same instrument, which every chord library ships.
var resolveOrder = []strategy{
	{"primary format", func(ref strum.ResourceRef) []candidate {
		return []candidate{{resourcePath(ref, codecWAV), codecWAV}}
	}},
	{"alternate format", func(ref strum.ResourceRef) []candidate {
		return []candidate{{resourcePath(ref, codecMP3), codecMP3}}
	}},
	{"alternate casing", func(ref strum.ResourceRef) []candidate {
		flipped := ref
		flipped.Instrument = flipCase(ref.Instrument)
		if flipped.Instrument == ref.Instrument {
			return nil
		}
		return []candidate{
			{resourcePath(flipped, codecWAV), codecWAV},
			{resourcePath(flipped, codecMP3), codecMP3},
		}
	}},
	{"parallel chord", func(ref strum.ResourceRef) []candidate {
		chord, err := strum.ParseChord(ref.Variant)
		if err != nil {
			return nil
		}
		swapped := ref
		swapped.Variant = chord.Parallel().Label()
		return []candidate{
			{resourcePath(swapped, codecWAV), codecWAV},
			{resourcePath(swapped, codecMP3), codecMP3},
		}
	}},
	{"fallback chord", func(ref strum.ResourceRef) []candidate {
		if ref.Variant == fallbackVariant {
			return nil
		}
		fallback := ref
		fallback.Variant = fallbackVariant
		return []candidate{
			{resourcePath(fallback, codecWAV), codecWAV},
			{resourcePath(fallback, codecMP3), codecMP3},
		}
	}},
}

// fallbackVariant is the chord assumed to exist for every instrument.
const fallbackVariant = "C"

// resourcePath builds the path of a resource relative to the base URL. The
// instrument keeps the casing of the reference; lookups being
// case-insensitive is a cache property, not a path property.
func resourcePath(ref strum.ResourceRef, codec codecKind) string {
	ext := ".wav"
	if codec == codecMP3 {
		ext = ".mp3"
	}
	return url.PathEscape(ref.Category) + "/" + url.PathEscape(ref.Instrument) + "/" + url.PathEscape(ref.Variant) + ext
}

// flipCase returns the other historical spelling of an instrument directory:
// capitalized for a lowercase name, all lowercase for a capitalized one.
func flipCase(name string) string {
	if name == "" {
		return name
	}
	runes := []rune(name)
	if unicode.IsUpper(runes[0]) {
		return strings.ToLower(name)
	}
	return string(unicode.ToUpper(runes[0])) + string(runes[1:])
}
