package sample_test

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/strumlab/strum"
	"github.com/strumlab/strum/sample"
)

// makeWAV builds a 16-bit stereo PCM wav file with a quiet sine so decoded
// resources are non-silent.
func makeWAV(frames, rate int) []byte {
	var b bytes.Buffer
	dataLen := frames * 4
	b.WriteString("RIFF")
	binary.Write(&b, binary.LittleEndian, uint32(36+dataLen))
	b.WriteString("WAVE")
	b.WriteString("fmt ")
	binary.Write(&b, binary.LittleEndian, uint32(16))
	binary.Write(&b, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(&b, binary.LittleEndian, uint16(2))
	binary.Write(&b, binary.LittleEndian, uint32(rate))
	binary.Write(&b, binary.LittleEndian, uint32(rate*4))
	binary.Write(&b, binary.LittleEndian, uint16(4))
	binary.Write(&b, binary.LittleEndian, uint16(16))
	b.WriteString("data")
	binary.Write(&b, binary.LittleEndian, uint32(dataLen))
	for i := 0; i < frames; i++ {
		s := int16(8000 * math.Sin(2*math.Pi*220*float64(i)/float64(rate)))
		binary.Write(&b, binary.LittleEndian, s)
		binary.Write(&b, binary.LittleEndian, s)
	}
	return b.Bytes()
}

type fakeResponse struct {
	data        []byte
	contentType string
	err         error
}

type fakeFetcher struct {
	mu        sync.Mutex
	requests  []string
	responses map[string]fakeResponse
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string) ([]byte, string, error) {
	f.mu.Lock()
	f.requests = append(f.requests, url)
	resp, ok := f.responses[url]
	f.mu.Unlock()
	if !ok {
		return nil, "", fmt.Errorf("%v: %w", url, strum.ErrResourceNotFound)
	}
	if resp.err != nil {
		return nil, "", resp.err
	}
	return resp.data, resp.contentType, nil
}

func (f *fakeFetcher) requestLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.requests...)
}

func newTestManager(responses map[string]fakeResponse) (*sample.Manager, *fakeFetcher) {
	f := &fakeFetcher{responses: responses}
	m := sample.NewManager(sample.Options{
		BaseURL: "http://samples",
		Fetcher: f,
		Logger:  zerolog.Nop(),
	})
	return m, f
}

var guitarEm = strum.ResourceRef{Category: "guitar", Instrument: "Acoustic", Variant: "Em"}

func TestResolvePrimaryHit(t *testing.T) {
	m, f := newTestManager(map[string]fakeResponse{
		"http://samples/guitar/Acoustic/Em.wav": {data: makeWAV(2000, 44100), contentType: "audio/wav"},
	})
	pcm, err := m.Resolve(context.Background(), guitarEm)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if pcm.Frames() != 2000 || pcm.Rate != 44100 {
		t.Errorf("decoded pcm: got %v frames at %v Hz, expected 2000 at 44100", pcm.Frames(), pcm.Rate)
	}
	if reqs := f.requestLog(); len(reqs) != 1 {
		t.Errorf("expected a single request, got %v", reqs)
	}
}

func TestCascadeOrder(t *testing.T) {
	m, f := newTestManager(map[string]fakeResponse{
		"http://samples/guitar/Acoustic/C.wav": {data: makeWAV(1000, 44100), contentType: "audio/wav"},
	})
	if _, err := m.Resolve(context.Background(), guitarEm); err != nil {
		t.Fatalf("Resolve should have found the fallback chord: %v", err)
	}
	expected := []string{
		"http://samples/guitar/Acoustic/Em.wav",
		"http://samples/guitar/Acoustic/Em.mp3",
		"http://samples/guitar/acoustic/Em.wav",
		"http://samples/guitar/acoustic/Em.mp3",
		"http://samples/guitar/Acoustic/E.wav",
		"http://samples/guitar/Acoustic/E.mp3",
		"http://samples/guitar/Acoustic/C.wav",
	}
	got := f.requestLog()
	if len(got) != len(expected) {
		t.Fatalf("request sequence: got %v, expected %v", got, expected)
	}
	for i := range expected {
		if got[i] != expected[i] {
			t.Errorf("request %v: got %v, expected %v", i, got[i], expected[i])
		}
	}
}

func TestHTMLPayloadRejected(t *testing.T) {
	page := append([]byte("<!DOCTYPE html><html><body>missing</body></html>"), bytes.Repeat([]byte("x"), 600)...)
	m, _ := newTestManager(map[string]fakeResponse{
		// success status, html content type
		"http://samples/guitar/Acoustic/Em.wav": {data: makeWAV(1000, 44100), contentType: "text/html; charset=utf-8"},
		// success status, lying content type, html payload
		"http://samples/guitar/Acoustic/Em.mp3": {data: page, contentType: "audio/mpeg"},
	})
	_, err := m.Resolve(context.Background(), guitarEm)
	if !errors.Is(err, strum.ErrResourceNotFound) {
		t.Errorf("expected ErrResourceNotFound after rejecting html, got %v", err)
	}
}

func TestTinyPayloadRejected(t *testing.T) {
	m, _ := newTestManager(map[string]fakeResponse{
		"http://samples/guitar/Acoustic/Em.wav": {data: makeWAV(10, 44100), contentType: "audio/wav"},
	})
	_, err := m.Resolve(context.Background(), guitarEm)
	if !errors.Is(err, strum.ErrResourceNotFound) {
		t.Errorf("expected ErrResourceNotFound after rejecting tiny payload, got %v", err)
	}
}

func TestDecodeFailureFallsThrough(t *testing.T) {
	garbage := bytes.Repeat([]byte{0xde, 0xad}, 600)
	m, f := newTestManager(map[string]fakeResponse{
		"http://samples/guitar/Acoustic/Em.wav": {data: garbage, contentType: "audio/wav"},
		"http://samples/guitar/acoustic/Em.wav": {data: makeWAV(1500, 44100), contentType: "audio/wav"},
	})
	pcm, err := m.Resolve(context.Background(), guitarEm)
	if err != nil {
		t.Fatalf("Resolve should have recovered via alternate casing: %v", err)
	}
	if pcm.Frames() != 1500 {
		t.Errorf("got %v frames, expected 1500", pcm.Frames())
	}
	reqs := f.requestLog()
	if len(reqs) != 3 || reqs[2] != "http://samples/guitar/acoustic/Em.wav" {
		t.Errorf("unexpected request sequence: %v", reqs)
	}
}

func TestCacheSharedAcrossCasings(t *testing.T) {
	m, f := newTestManager(map[string]fakeResponse{
		"http://samples/guitar/Acoustic/Em.wav": {data: makeWAV(1000, 44100), contentType: "audio/wav"},
	})
	if _, err := m.Resolve(context.Background(), guitarEm); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	lower := strum.ResourceRef{Category: "guitar", Instrument: "acoustic", Variant: "Em"}
	if _, state := m.Peek(lower); state != sample.StateReady {
		t.Errorf("lowercase lookup should hit the same cache entry, got state %v", state)
	}
	if _, err := m.Resolve(context.Background(), lower); err != nil {
		t.Fatalf("cached Resolve failed: %v", err)
	}
	if reqs := f.requestLog(); len(reqs) != 1 {
		t.Errorf("cache miss on alternate casing, requests: %v", reqs)
	}
}

func TestFailuresAreCachedUntilReset(t *testing.T) {
	m, f := newTestManager(nil)
	if _, err := m.Resolve(context.Background(), guitarEm); !errors.Is(err, strum.ErrResourceNotFound) {
		t.Fatalf("expected ErrResourceNotFound, got %v", err)
	}
	n := len(f.requestLog())
	if _, err := m.Resolve(context.Background(), guitarEm); err == nil {
		t.Fatalf("negative cache lost the failure")
	}
	if got := len(f.requestLog()); got != n {
		t.Errorf("cascade re-ran for a cached failure: %v -> %v requests", n, got)
	}
	if _, state := m.Peek(guitarEm); state != sample.StateFailed {
		t.Errorf("expected StateFailed, got %v", state)
	}
	m.Reset()
	if _, state := m.Peek(guitarEm); state != sample.StateUnresolved {
		t.Errorf("Reset should clear failures, got state %v", state)
	}
	m.Resolve(context.Background(), guitarEm)
	if got := len(f.requestLog()); got <= n {
		t.Errorf("cascade should re-run after Reset")
	}
}

func TestDefaultInstrumentIsLastResort(t *testing.T) {
	f := &fakeFetcher{responses: map[string]fakeResponse{
		"http://samples/guitar/Nylon/C.wav": {data: makeWAV(800, 44100), contentType: "audio/wav"},
	}}
	m := sample.NewManager(sample.Options{
		BaseURL:           "http://samples",
		DefaultInstrument: "Nylon",
		Fetcher:           f,
		Logger:            zerolog.Nop(),
	})
	pcm, err := m.Resolve(context.Background(), guitarEm)
	if err != nil {
		t.Fatalf("Resolve should have landed on the default instrument: %v", err)
	}
	if pcm.Frames() != 800 {
		t.Errorf("got %v frames, expected 800", pcm.Frames())
	}
	reqs := f.requestLog()
	if reqs[len(reqs)-1] != "http://samples/guitar/Nylon/C.wav" {
		t.Errorf("default instrument should be queried last, got %v", reqs)
	}
}

func TestPreloadWarmsCache(t *testing.T) {
	responses := make(map[string]fakeResponse)
	for _, v := range sample.PreloadVariants() {
		responses["http://samples/guitar/Acoustic/"+v+".wav"] = fakeResponse{data: makeWAV(600, 44100), contentType: "audio/wav"}
	}
	m, f := newTestManager(responses)
	m.Preload(context.Background(), strum.Instrument{Category: "guitar", Name: "Acoustic"})
	for _, v := range []string{"C", "Am", "F#m", "Bb"} {
		ref := strum.ResourceRef{Category: "guitar", Instrument: "Acoustic", Variant: v}
		if _, state := m.Peek(ref); state != sample.StateReady {
			t.Errorf("variant %v not preloaded, state %v", v, state)
		}
	}
	if got, expected := len(f.requestLog()), len(sample.PreloadVariants()); got != expected {
		t.Errorf("preload made %v requests, expected %v", got, expected)
	}
}

func TestPreloadVariantCount(t *testing.T) {
	if got := len(sample.PreloadVariants()); got != 29 {
		t.Errorf("preload set: got %v variants, expected 29", got)
	}
}
