// Package sample resolves, validates, decodes and caches the recorded chord
// resources songs reference. Resolution runs a fixed cascade of fallbacks so
// that a missing or broken resource degrades the sound instead of stopping
// playback; every successful resolution is cached, and so is every definitive
// failure.
package sample

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/strumlab/strum"
)

// minValidBytes rejects payloads too small to be a real recording; short
// error bodies served with a success status are the usual culprit.
const minValidBytes = 512

// ResolveState is the lifecycle of one cache entry.
type ResolveState int

const (
	StateUnresolved ResolveState = iota
	StatePending
	StateReady
	StateFailed
)

type (
	// Manager is the resource cache. All methods are safe for concurrent use;
	// Resolve calls for the same resource are coalesced so the cascade runs
	// only once per key.
	Manager struct {
		mu                sync.Mutex
		cache             map[cacheKey]*entry
		fetcher           Fetcher
		baseURL           string
		defaultInstrument string
		log               zerolog.Logger
	}

	// cacheKey identifies a resource. The instrument is lowercased so that
	// the two historical spellings of an instrument directory share one
	// entry; the path is still built from the reference's original casing.
	cacheKey struct {
		category   string
		instrument string
		variant    string
	}

	entry struct {
		done chan struct{}
		pcm  *PCM
		err  error
	}

	// Options configures a Manager. Fetcher defaults to an HTTPFetcher with a
	// 10 second timeout; Logger should be zerolog.Nop() when logging is not
	// wanted. DefaultInstrument, when set, is the last resort: the fallback
	// chord on that instrument when nothing on the requested one resolves.
	Options struct {
		BaseURL           string
		DefaultInstrument string
		Fetcher           Fetcher
		Logger            zerolog.Logger
	}
)

func NewManager(opt Options) *Manager {
	fetcher := opt.Fetcher
	if fetcher == nil {
		fetcher = NewHTTPFetcher(0)
	}
	return &Manager{
		cache:             make(map[cacheKey]*entry),
		fetcher:           fetcher,
		baseURL:           strings.TrimSuffix(opt.BaseURL, "/"),
		defaultInstrument: opt.DefaultInstrument,
		log:               opt.Logger.With().Str("component", "samples").Logger(),
	}
}

func keyFor(ref strum.ResourceRef) cacheKey {
	return cacheKey{
		category:   ref.Category,
		instrument: strings.ToLower(ref.Instrument),
		variant:    ref.Variant,
	}
}

// Resolve returns the decoded resource for ref, running the resolution
// cascade on a cache miss. Concurrent calls for the same resource share one
// cascade run. A failed resolution is cached too: the cascade is not retried
// until Reset.
func (m *Manager) Resolve(ctx context.Context, ref strum.ResourceRef) (*PCM, error) {
	key := keyFor(ref)
	m.mu.Lock()
	if e, ok := m.cache[key]; ok {
		m.mu.Unlock()
		select {
		case <-e.done:
			return e.pcm, e.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	e := &entry{done: make(chan struct{})}
	m.cache[key] = e
	m.mu.Unlock()

	e.pcm, e.err = m.runCascade(ctx, ref)
	if e.err != nil && ctx.Err() != nil {
		// do not cache a resolution that was merely interrupted
		m.mu.Lock()
		delete(m.cache, key)
		m.mu.Unlock()
	}
	close(e.done)
	return e.pcm, e.err
}

func (m *Manager) runCascade(ctx context.Context, ref strum.ResourceRef) (*PCM, error) {
	for _, strat := range resolveOrder {
		for _, cand := range strat.candidates(ref) {
			pcm, ok, err := m.tryLogged(ctx, strat.name, cand)
			if ok {
				return pcm, nil
			}
			if err != nil {
				return nil, err
			}
		}
	}
	if m.defaultInstrument != "" && !strings.EqualFold(m.defaultInstrument, ref.Instrument) {
		alt := strum.ResourceRef{Category: ref.Category, Instrument: m.defaultInstrument, Variant: fallbackVariant}
		for _, cand := range []candidate{
			{path: resourcePath(alt, codecWAV), codec: codecWAV},
			{path: resourcePath(alt, codecMP3), codec: codecMP3},
		} {
			pcm, ok, err := m.tryLogged(ctx, "default instrument", cand)
			if ok {
				return pcm, nil
			}
			if err != nil {
				return nil, err
			}
		}
	}
	m.log.Warn().Str("category", ref.Category).Str("instrument", ref.Instrument).
		Str("variant", ref.Variant).Msg("no candidate resolved")
	return nil, fmt.Errorf("%v/%v/%v: %w", ref.Category, ref.Instrument, ref.Variant, strum.ErrResourceNotFound)
}

// tryLogged runs one candidate, logging the outcome. ok reports success; a
// non-nil error means the context ended and the cascade should abort.
func (m *Manager) tryLogged(ctx context.Context, strategy string, cand candidate) (*PCM, bool, error) {
	pcm, err := m.try(ctx, cand)
	if err == nil {
		m.log.Debug().Str("path", cand.path).Str("strategy", strategy).
			Int("frames", pcm.Frames()).Msg("resolved resource")
		return pcm, true, nil
	}
	if ctx.Err() != nil {
		return nil, false, ctx.Err()
	}
	m.log.Debug().Str("path", cand.path).Str("strategy", strategy).
		Err(err).Msg("candidate failed")
	return nil, false, nil
}

func (m *Manager) try(ctx context.Context, cand candidate) (*PCM, error) {
	data, contentType, err := m.fetcher.Fetch(ctx, m.baseURL+"/"+cand.path)
	if err != nil {
		return nil, err
	}
	if err := validatePayload(data, contentType); err != nil {
		return nil, err
	}
	if cand.codec == codecMP3 {
		return decodeMP3(data)
	}
	return decodeWAV(data)
}

// validatePayload rejects responses that are not plausibly audio: error pages
// served with a success status and payloads too small to be a recording.
func validatePayload(data []byte, contentType string) error {
	if strings.HasPrefix(strings.ToLower(contentType), "text/html") {
		return fmt.Errorf("%w: server returned an html page", strum.ErrResourceInvalid)
	}
	head := bytes.TrimLeft(data, " \t\r\n")
	if len(head) > 0 && head[0] == '<' {
		lower := bytes.ToLower(head[:min(len(head), 16)])
		if bytes.HasPrefix(lower, []byte("<!doctype")) || bytes.HasPrefix(lower, []byte("<html")) {
			return fmt.Errorf("%w: payload is an html document", strum.ErrResourceInvalid)
		}
	}
	if len(data) < minValidBytes {
		return fmt.Errorf("%w: payload is only %v bytes", strum.ErrResourceInvalid, len(data))
	}
	return nil
}

// Peek reports the cache state of a resource without triggering resolution.
func (m *Manager) Peek(ref strum.ResourceRef) (*PCM, ResolveState) {
	m.mu.Lock()
	e, ok := m.cache[keyFor(ref)]
	m.mu.Unlock()
	if !ok {
		return nil, StateUnresolved
	}
	select {
	case <-e.done:
	default:
		return nil, StatePending
	}
	if e.err != nil {
		return nil, StateFailed
	}
	return e.pcm, StateReady
}

// StartResolve kicks off resolution in the background unless the resource is
// already cached or in flight. It is what the trigger path uses so that a
// cache miss never delays a note.
func (m *Manager) StartResolve(ref strum.ResourceRef) {
	m.mu.Lock()
	_, ok := m.cache[keyFor(ref)]
	m.mu.Unlock()
	if ok {
		return
	}
	go m.Resolve(context.Background(), ref)
}

// Reset drops the whole cache, including remembered failures.
func (m *Manager) Reset() {
	m.mu.Lock()
	m.cache = make(map[cacheKey]*entry)
	m.mu.Unlock()
}

// PreloadVariants is the warm-up set: the twelve sharp-spelled major and
// minor chords plus the five flat spellings that documents commonly use.
func PreloadVariants() []string {
	sharps := []string{"C", "C#", "D", "D#", "E", "F", "F#", "G", "G#", "A", "A#", "B"}
	ret := make([]string, 0, 2*len(sharps)+len(strum.EnharmonicFlats))
	ret = append(ret, sharps...)
	for _, s := range sharps {
		ret = append(ret, s+"m")
	}
	for _, f := range strum.EnharmonicFlats {
		ret = append(ret, f)
	}
	return ret
}

// preloadWorkers bounds how many resolutions run at once during preload.
const preloadWorkers = 8

// Preload warms the cache for one instrument with the chords songs most
// commonly use. Failures are logged and dropped; preloading never fails the
// caller.
func (m *Manager) Preload(ctx context.Context, inst strum.Instrument) {
	var wg sync.WaitGroup
	sem := make(chan struct{}, preloadWorkers)
	for _, variant := range PreloadVariants() {
		ref := strum.ResourceRef{Category: inst.Category, Instrument: inst.Name, Variant: variant}
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			if _, err := m.Resolve(ctx, ref); err != nil {
				m.log.Debug().Str("variant", ref.Variant).Err(err).Msg("preload skipped")
			}
		}()
	}
	wg.Wait()
}
