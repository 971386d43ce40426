// Command strum-jam plays notes live on top of a song: MIDI note-ons audition
// notes on a chosen track while the transport, optionally, loops the song
// underneath.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/rs/zerolog"

	"github.com/strumlab/strum"
	"github.com/strumlab/strum/engine"
	"github.com/strumlab/strum/internal/config"
	"github.com/strumlab/strum/oto"
	"github.com/strumlab/strum/sample"
	"github.com/strumlab/strum/version"
)

// midiInput is the platform MIDI layer. Listen starts delivering note-on
// events to the callback; Close releases the device and the driver.
type midiInput interface {
	Listen(namePrefix string, onNote func(note, velocity int)) error
	Close()
}

func main() {
	songFile := flag.String("f", "", "Song file to load as the jam backing (yaml or json). Without one, a small default groove is used.")
	trackFlag := flag.String("t", "", "ID or name of the track to play notes on. Defaults to the first track.")
	inputFlag := flag.String("i", "", "MIDI input name prefix. Defaults to the first available input.")
	durFlag := flag.Float64("d", 0.75, "How long each played note sounds, in seconds.")
	playFlag := flag.Bool("p", false, "Start transport playback of the loaded song, looped.")
	versionFlag := flag.Bool("v", false, "Print version.")
	flag.Usage = printUsage
	flag.Parse()
	if *versionFlag {
		fmt.Println(version.String())
		os.Exit(0)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "could not load configuration: %v\n", err)
		os.Exit(1)
	}
	logger := newLogger(cfg.Log.Level)

	var samples *sample.Manager
	if cfg.Samples.BaseURL != "" {
		samples = sample.NewManager(sample.Options{
			BaseURL:           cfg.Samples.BaseURL,
			DefaultInstrument: cfg.Samples.DefaultInstrument,
			Fetcher:           sample.NewHTTPFetcher(time.Duration(cfg.Samples.TimeoutSeconds) * time.Second),
			Logger:            logger,
		})
	}

	audioContext, err := oto.NewContext()
	if err != nil {
		fmt.Fprintf(os.Stderr, "could not acquire oto AudioContext: %v\n", err)
		os.Exit(1)
	}
	defer audioContext.Close()
	sink := audioContext.Output()
	defer sink.Close()

	eng := engine.New(engine.Options{Samples: samples, Sink: sink, Logger: logger})
	defer eng.Close()

	song := defaultJamSong()
	if *songFile != "" {
		data, err := os.ReadFile(*songFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "could not read file %v: %v\n", *songFile, err)
			os.Exit(1)
		}
		if song, err = strum.ParseSong(data); err != nil {
			fmt.Fprintf(os.Stderr, "could not parse song: %v\n", err)
			os.Exit(1)
		}
	}
	if err := eng.SetSong(song); err != nil {
		fmt.Fprintf(os.Stderr, "could not load song: %v\n", err)
		os.Exit(1)
	}

	track := pickTrack(eng.Song(), *trackFlag)
	if track == nil {
		fmt.Fprintf(os.Stderr, "no track matching %q in the song\n", *trackFlag)
		os.Exit(1)
	}
	if samples != nil {
		go samples.Preload(context.Background(), track.Instrument)
	}

	in := newMIDIInput()
	defer in.Close()
	err = in.Listen(*inputFlag, func(note, velocity int) {
		if velocity == 0 {
			return
		}
		if err := eng.Audition(track.ID, strum.NoteLabel(note), *durFlag); err != nil {
			logger.Warn().Err(err).Msg("audition failed")
		}
	})
	if err != nil {
		logger.Warn().Err(err).Msg("MIDI input unavailable, transport only")
	}

	if *playFlag {
		if !eng.Song().Loop {
			eng.ToggleLoop()
		}
		if err := eng.Play(); err != nil {
			logger.Warn().Err(err).Msg("could not start playback")
		}
	}

	fmt.Printf("jamming on track %q; ctrl-c to quit\n", track.ID)
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)
	<-sig
}

// defaultJamSong is the backing used when no song file is given: one chordal
// guitar track whose generated progression loops underneath the playing.
func defaultJamSong() strum.Song {
	return strum.Song{
		Tempo: 120,
		Key:   "C",
		Tracks: []strum.Track{{
			ID:         "jam",
			Name:       "jam",
			Kind:       strum.TrackChordal,
			Instrument: strum.Instrument{Category: "guitar", Name: "acoustic"},
			Clips: []strum.Clip{{
				ID:            "groove",
				Start:         0,
				Duration:      8,
				GrainDuration: 2,
			}},
		}},
	}
}

func pickTrack(song strum.Song, key string) *strum.Track {
	if len(song.Tracks) == 0 {
		return nil
	}
	if key == "" {
		t := song.Tracks[0]
		return &t
	}
	for _, tr := range song.Tracks {
		if tr.ID == key || tr.Name == key {
			t := tr
			return &t
		}
	}
	return nil
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(lvl).With().Timestamp().Logger()
}

func printUsage() {
	fmt.Fprintf(os.Stderr, "Strum live jamming utility: play MIDI notes over a looping song.\nUsage: %s [flags]\n", os.Args[0])
	flag.PrintDefaults()
}
