package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	pionmedia "github.com/pion/webrtc/v3/pkg/media"
	"github.com/pion/webrtc/v3/pkg/media/ivfreader"
	"github.com/rs/zerolog/log"

	"github.com/isqad/livelook-classroom/internal/core"
)

// Source opens capture devices. Both calls may block (permission prompts, pickers).
type Source interface {
	UserMedia(ctx context.Context) (audio *Track, video *Track, err error)
	DisplayMedia(ctx context.Context) (*Track, error)
}

// FileSource stands in for camera and screen capture on headless clients:
// the camera loops an IVF file, the screen share plays one once and then ends
// as if the user pressed "stop sharing".
type FileSource struct {
	VideoFile  string
	ScreenFile string
}

func (s *FileSource) UserMedia(ctx context.Context) (*Track, *Track, error) {
	var ivf *ivfreader.IVFReader
	var header *ivfreader.IVFFileHeader
	var file *os.File

	if s.VideoFile != "" {
		var err error
		file, ivf, header, err = openIVF(s.VideoFile)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
		}
	}

	audio, err := NewTrack(core.AudioTrack)
	if err != nil {
		closeFile(file)
		return nil, nil, err
	}
	video, err := NewTrack(core.VideoTrack)
	if err != nil {
		closeFile(file)
		audio.Stop()
		return nil, nil, err
	}

	if ctx.Err() != nil {
		closeFile(file)
		audio.Stop()
		video.Stop()
		return nil, nil, ctx.Err()
	}

	if ivf != nil {
		go pumpIVF(video, s.VideoFile, file, ivf, header, true)
	}

	return audio, video, nil
}

func (s *FileSource) DisplayMedia(ctx context.Context) (*Track, error) {
	if s.ScreenFile == "" {
		return nil, ErrScreenDenied
	}

	file, ivf, header, err := openIVF(s.ScreenFile)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrScreenDenied, err)
	}

	screen, err := NewTrack(core.ScreenTrack)
	if err != nil {
		closeFile(file)
		return nil, err
	}
	if ctx.Err() != nil {
		closeFile(file)
		screen.Stop()
		return nil, ctx.Err()
	}

	go pumpIVF(screen, s.ScreenFile, file, ivf, header, false)

	return screen, nil
}

func openIVF(path string) (*os.File, *ivfreader.IVFReader, *ivfreader.IVFFileHeader, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, nil, nil, err
	}

	ivf, header, err := ivfreader.NewWith(file)
	if err != nil {
		closeFile(file)
		return nil, nil, nil, err
	}

	return file, ivf, header, nil
}

func closeFile(file *os.File) {
	if file == nil {
		return
	}
	if err := file.Close(); err != nil {
		log.Error().Err(err).Str("service", "media").Msg("close ivf file")
	}
}

func frameInterval(header *ivfreader.IVFFileHeader) time.Duration {
	if header == nil || header.TimebaseDenominator == 0 {
		return 33 * time.Millisecond
	}
	return time.Millisecond * time.Duration((float32(header.TimebaseNumerator)/float32(header.TimebaseDenominator))*1000)
}

// pumpIVF writes frames paced by the file timebase until the track is stopped.
// On EOF it either rewinds (camera) or ends the track (screen share).
func pumpIVF(t *Track, path string, file *os.File, ivf *ivfreader.IVFReader, header *ivfreader.IVFFileHeader, loop bool) {
	defer func() { closeFile(file) }()

	interval := frameInterval(header)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-t.Done():
			return
		case <-ticker.C:
		}

		frame, _, err := ivf.ParseNextFrame()
		if errors.Is(err, io.EOF) {
			if !loop {
				log.Debug().Str("service", "media").Str("kind", string(t.Kind())).Msg("capture finished")
				t.End()
				return
			}

			closeFile(file)
			file, ivf, header, err = openIVF(path)
			if err != nil {
				log.Error().Err(err).Str("service", "media").Msg("reopen ivf file")
				file = nil
				t.End()
				return
			}
			continue
		}
		if err != nil {
			log.Error().Err(err).Str("service", "media").Msg("parse ivf frame")
			t.End()
			return
		}

		if err := t.WriteSample(pionmedia.Sample{Data: frame, Duration: interval}); err != nil {
			log.Error().Err(err).Str("service", "media").Msg("write sample")
		}
	}
}
