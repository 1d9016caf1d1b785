// Package audio is the ambient-audio collaborator. The engine only issues
// Play/Stop/SetVolume commands on phase transitions; it never inspects
// playback state.
package audio

import (
	"bytes"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gopxl/beep"
	"github.com/gopxl/beep/effects"
	"github.com/gopxl/beep/speaker"
	"github.com/gopxl/beep/wav"
)

// Sink accepts playback commands. Implementations must tolerate commands in
// any order; Stop without a prior Play is a no-op.
type Sink interface {
	Play(track []byte, loop bool) error
	Stop()
	SetVolume(db float64)
}

// NopSink discards every command. Used when no audio device is wanted.
type NopSink struct{}

func (NopSink) Play(track []byte, loop bool) error { return nil }
func (NopSink) Stop()                              {}
func (NopSink) SetVolume(db float64)               {}

// Speaker plays WAV tracks through the system audio device
type Speaker struct {
	quiet  bool
	logger *slog.Logger

	speakerOnce  sync.Once
	speakerReady bool

	mu     sync.Mutex
	volume *effects.Volume
	db     float64
}

// NewSpeaker creates a beep-backed sink. In quiet mode every command is a
// no-op.
func NewSpeaker(quiet bool, logger *slog.Logger) *Speaker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Speaker{quiet: quiet, logger: logger}
}

func (s *Speaker) ensureSpeaker(format beep.Format) {
	s.speakerOnce.Do(func() {
		s.logger.Debug("setting up audio")
		if err := speaker.Init(format.SampleRate, format.SampleRate.N(time.Second/10)); err != nil {
			s.logger.Warn("audio device unavailable", "error", err)
			return
		}
		s.speakerReady = true
	})
}

// Play decodes the WAV track and starts playback, optionally looping until
// Stop. A new Play replaces whatever was playing.
func (s *Speaker) Play(track []byte, loop bool) error {
	if s.quiet || len(track) == 0 {
		return nil
	}

	streamer, format, err := wav.Decode(bytes.NewReader(track))
	if err != nil {
		return fmt.Errorf("failed to decode track: %w", err)
	}

	s.ensureSpeaker(format)
	if !s.speakerReady {
		streamer.Close()
		return nil
	}

	var src beep.Streamer = streamer
	if loop {
		src = beep.Loop(-1, streamer)
	}

	s.mu.Lock()
	s.volume = &effects.Volume{
		Streamer: src,
		Base:     2,
		Volume:   s.db,
	}
	vol := s.volume
	s.mu.Unlock()

	speaker.Clear()
	speaker.Play(beep.Seq(vol, beep.Callback(func() {
		streamer.Close()
		s.mu.Lock()
		if s.volume == vol {
			s.volume = nil
		}
		s.mu.Unlock()
	})))

	s.logger.Debug("playback started", "loop", loop)
	return nil
}

// Stop halts all playback
func (s *Speaker) Stop() {
	if !s.speakerReady {
		return
	}
	speaker.Clear()
	s.mu.Lock()
	s.volume = nil
	s.mu.Unlock()
	s.logger.Debug("playback stopped")
}

// SetVolume adjusts the current and future track volume in dB relative to
// the source level.
func (s *Speaker) SetVolume(db float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.db = db
	if s.volume != nil {
		speaker.Lock()
		s.volume.Volume = db
		speaker.Unlock()
	}
}
