package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/rs/zerolog"

	"github.com/strumlab/strum"
	"github.com/strumlab/strum/engine"
	"github.com/strumlab/strum/internal/config"
	"github.com/strumlab/strum/oto"
	"github.com/strumlab/strum/sample"
	"github.com/strumlab/strum/version"
)

func main() {
	stdout := flag.Bool("s", false, "Do not write files; write to standard output instead.")
	help := flag.Bool("h", false, "Show help.")
	directory := flag.String("o", "", "Directory where to output all files. The directory and its parents are created if needed. By default, everything is placed in the same directory where the original song file is.")
	play := flag.Bool("p", false, "Play the input songs (default behaviour when no other output is defined).")
	rawOut := flag.Bool("r", false, "Output the rendered song as .raw file. By default, saves stereo float32 buffer to disk.")
	wavOut := flag.Bool("w", false, "Output the rendered song as .wav file. By default, saves stereo float32 buffer to disk.")
	pcm := flag.Bool("c", false, "Convert audio to 16-bit signed PCM when outputting.")
	versionFlag := flag.Bool("v", false, "Print version.")
	flag.Usage = printUsage
	flag.Parse()
	if *versionFlag {
		fmt.Println(version.String())
		os.Exit(0)
	}
	if flag.NArg() == 0 || *help {
		flag.Usage()
		os.Exit(0)
	}
	if !*rawOut && !*wavOut {
		*play = true // if the user gives nothing to output, then the default behaviour is just to play the file
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
	var audioContext strum.AudioContext
	var playWaiter strum.CloserWaiter
	if *play {
		audioContext, err = oto.NewContext()
		if err != nil {
			fmt.Fprintf(os.Stderr, "could not acquire oto AudioContext: %v\n", err)
			os.Exit(1)
		}
	}
	process := func(filename string) error {
		output := func(extension string, contents []byte) error {
			if *stdout {
				_, err := os.Stdout.Write(contents)
				return err
			}
			_, name := filepath.Split(filename)
			dir := *directory
			if dir == "" {
				var err error
				dir, err = os.Getwd()
				if err != nil {
					return fmt.Errorf("could not get working directory, specify the output directory explicitly: %v", err)
				}
			}
			name = strings.TrimSuffix(name, filepath.Ext(name)) + extension
			f := filepath.Join(dir, name)
			if err := os.MkdirAll(dir, os.ModePerm); err != nil {
				return fmt.Errorf("could not create output directory %v: %v", dir, err)
			}
			if err := os.WriteFile(f, contents, 0644); err != nil {
				return fmt.Errorf("could not write file %v: %v", f, err)
			}
			return nil
		}
		inputBytes, err := os.ReadFile(filename)
		if err != nil {
			return fmt.Errorf("could not read file %v: %v", filename, err)
		}
		song, err := strum.ParseSong(inputBytes)
		if err != nil {
			return fmt.Errorf("could not parse song: %v", err)
		}
		buffer, err := engine.Render(context.Background(), song, samples, logger)
		if err != nil {
			return fmt.Errorf("rendering failed: %v", err)
		}
		if *play {
			playWaiter = audioContext.Play(buffer.Source())
		}
		if *rawOut {
			raw, err := buffer.Raw(*pcm)
			if err != nil {
				return fmt.Errorf("could not generate .raw file: %v", err)
			}
			if err := output(".raw", raw); err != nil {
				return fmt.Errorf("error outputting .raw file: %v", err)
			}
		}
		if *wavOut {
			w, err := wavBytes(buffer, *pcm)
			if err != nil {
				return fmt.Errorf("could not generate .wav file: %v", err)
			}
			if err := output(".wav", w); err != nil {
				return fmt.Errorf("error outputting .wav file: %v", err)
			}
		}
		if *play {
			playWaiter.Wait()
		}
		return nil
	}
	retval := 0
	for _, param := range flag.Args() {
		if info, err := os.Stat(param); err == nil && info.IsDir() {
			var files []string
			for _, pattern := range []string{"*.yml", "*.yaml", "*.json"} {
				matches, err := filepath.Glob(filepath.Join(param, pattern))
				if err != nil {
					fmt.Fprintf(os.Stderr, "could not glob the path %v: %v\n", param, err)
					retval = 1
					continue
				}
				files = append(files, matches...)
			}
			for _, file := range files {
				if err := process(file); err != nil {
					fmt.Fprintf(os.Stderr, "could not process file %v: %v\n", file, err)
					retval = 1
				}
			}
		} else {
			if err := process(param); err != nil {
				fmt.Fprintf(os.Stderr, "could not process file %v: %v\n", param, err)
				retval = 1
			}
		}
	}
	os.Exit(retval)
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(lvl).With().Timestamp().Logger()
}

// wavBytes encodes the buffer as a WAV file in memory: IEEE float32 by
// default, 16-bit PCM when pcm16 is set.
func wavBytes(buffer strum.AudioBuffer, pcm16 bool) ([]byte, error) {
	var mem seekBuffer
	bitDepth, format := 32, 3
	if pcm16 {
		bitDepth, format = 16, 1
	}
	enc := wav.NewEncoder(&mem, strum.SampleRate, bitDepth, 2, format)
	if pcm16 {
		data := make([]int, 0, len(buffer)*2)
		for _, frame := range buffer {
			for _, smp := range frame {
				data = append(data, int(sampleToInt16(smp)))
			}
		}
		buf := &audio.IntBuffer{
			Format:         &audio.Format{NumChannels: 2, SampleRate: strum.SampleRate},
			Data:           data,
			SourceBitDepth: 16,
		}
		if err := enc.Write(buf); err != nil {
			return nil, err
		}
	} else {
		for _, frame := range buffer {
			for _, smp := range frame {
				if err := enc.WriteFrame(smp); err != nil {
					return nil, err
				}
			}
		}
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return mem.Bytes(), nil
}

func sampleToInt16(s float32) int16 {
	v := int32(s * 32767)
	if v < -32768 {
		v = -32768
	}
	if v > 32767 {
		v = 32767
	}
	return int16(v)
}

// seekBuffer is an in-memory io.WriteSeeker; the wav encoder needs one so it
// can seek back and patch the header lengths on Close.
type seekBuffer struct {
	data []byte
	pos  int
}

func (b *seekBuffer) Write(p []byte) (int, error) {
	if need := b.pos + len(p); need > len(b.data) {
		b.data = append(b.data, make([]byte, need-len(b.data))...)
	}
	copy(b.data[b.pos:], p)
	b.pos += len(p)
	return len(p), nil
}

func (b *seekBuffer) Seek(offset int64, whence int) (int64, error) {
	var pos int64
	switch whence {
	case io.SeekStart:
		pos = offset
	case io.SeekCurrent:
		pos = int64(b.pos) + offset
	case io.SeekEnd:
		pos = int64(len(b.data)) + offset
	default:
		return 0, fmt.Errorf("unsupported whence %v", whence)
	}
	if pos < 0 {
		return 0, fmt.Errorf("negative seek position %v", pos)
	}
	b.pos = int(pos)
	return pos, nil
}

func (b *seekBuffer) Bytes() []byte { return b.data }

func printUsage() {
	fmt.Fprintf(os.Stderr, "Strum command line utility for rendering and playing song files.\nUsage: %s [flags] [path ...]\n", os.Args[0])
	flag.PrintDefaults()
}
