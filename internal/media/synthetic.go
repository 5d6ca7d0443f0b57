package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/ivfreader"
	"github.com/pion/webrtc/v4/pkg/media/oggreader"
)

const (
	opusFrame        = 20 * time.Millisecond
	defaultVideoRate = 33 * time.Millisecond
)

// opusSilence is a single 20 ms Opus frame of silence.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

// SyntheticConfig configures SyntheticDevices.
type SyntheticConfig struct {
	// AudioFile is an Ogg/Opus file looped as the microphone. When empty
	// the microphone sends silence.
	AudioFile string
	// VideoFile is an IVF/VP8 file looped as the camera. When empty the
	// camera track exists but sends nothing.
	VideoFile string
	// DenyVideo makes every request that includes video fail with
	// ErrPermissionDenied.
	DenyVideo bool
	// NoAudio makes every request that includes audio fail with
	// ErrDeviceUnavailable.
	NoAudio bool
}

// SyntheticDevices produces pion sample tracks fed from files or silence.
// It stands in for capture hardware on headless hosts.
type SyntheticDevices struct {
	cfg SyntheticConfig
	log *slog.Logger
}

// NewSyntheticDevices creates the device set.
func NewSyntheticDevices(cfg SyntheticConfig, log *slog.Logger) *SyntheticDevices {
	return &SyntheticDevices{cfg: cfg, log: log.With("component", "devices")}
}

// GetUserMedia opens the requested kinds.
func (d *SyntheticDevices) GetUserMedia(ctx context.Context, c Constraints) (*Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !c.Audio && !c.Video {
		return nil, fmt.Errorf("no media kinds requested: %w", ErrDeviceUnavailable)
	}
	if c.Video && d.cfg.DenyVideo {
		return nil, fmt.Errorf("camera: %w", ErrPermissionDenied)
	}
	if c.Audio && d.cfg.NoAudio {
		return nil, fmt.Errorf("microphone: %w", ErrDeviceUnavailable)
	}
	for _, path := range []string{d.cfg.AudioFile, d.cfg.VideoFile} {
		if path == "" {
			continue
		}
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("open %s: %w", path, ErrDeviceUnavailable)
		}
	}

	streamID := uuid.NewString()
	var tracks []*Track

	if c.Audio {
		t, err := d.newTrack(streamID, KindAudio, webrtc.RTPCodecCapability{
			MimeType:  webrtc.MimeTypeOpus,
			ClockRate: 48000,
			Channels:  2,
		})
		if err != nil {
			return nil, err
		}
		tracks = append(tracks, t)
	}
	if c.Video {
		t, err := d.newTrack(streamID, KindVideo, webrtc.RTPCodecCapability{
			MimeType:  webrtc.MimeTypeVP8,
			ClockRate: 90000,
		})
		if err != nil {
			NewStream(streamID, tracks...).Stop()
			return nil, err
		}
		tracks = append(tracks, t)
	}

	return NewStream(streamID, tracks...), nil
}

func (d *SyntheticDevices) newTrack(streamID string, kind Kind, codec webrtc.RTPCodecCapability) (*Track, error) {
	id := fmt.Sprintf("%s-%s", kind, uuid.NewString()[:8])
	local, err := webrtc.NewTrackLocalStaticSample(codec, id, streamID)
	if err != nil {
		return nil, fmt.Errorf("create %s track: %w", kind, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	track := NewTrack(id, kind, local, cancel)

	switch kind {
	case KindAudio:
		go d.pumpAudio(ctx, track, local)
	case KindVideo:
		go d.pumpVideo(ctx, track, local)
	}
	return track, nil
}

func (d *SyntheticDevices) pumpAudio(ctx context.Context, track *Track, out *webrtc.TrackLocalStaticSample) {
	if d.cfg.AudioFile == "" {
		ticker := time.NewTicker(opusFrame)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if track.Enabled() {
					d.write(out, pionmedia.Sample{Data: opusSilence, Duration: opusFrame})
				}
			}
		}
	}

	for ctx.Err() == nil {
		if err := d.playOgg(ctx, track, out); err != nil && !errors.Is(err, context.Canceled) {
			d.log.Warn("Audio source failed", "file", d.cfg.AudioFile, "error", err)
			return
		}
	}
}

// playOgg sends one pass over the audio file, pacing pages by their
// granule positions.
func (d *SyntheticDevices) playOgg(ctx context.Context, track *Track, out *webrtc.TrackLocalStaticSample) error {
	f, err := os.Open(d.cfg.AudioFile)
	if err != nil {
		return err
	}
	defer f.Close()

	ogg, _, err := oggreader.NewWith(f)
	if err != nil {
		return err
	}

	ticker := time.NewTicker(opusFrame)
	defer ticker.Stop()

	var lastGranule uint64
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		page, header, err := ogg.ParseNextPage()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		samples := header.GranulePosition - lastGranule
		lastGranule = header.GranulePosition
		if track.Enabled() {
			d.write(out, pionmedia.Sample{
				Data:     page,
				Duration: time.Duration(float64(samples)/48000*1000) * time.Millisecond,
			})
		}
	}
}

func (d *SyntheticDevices) pumpVideo(ctx context.Context, track *Track, out *webrtc.TrackLocalStaticSample) {
	if d.cfg.VideoFile == "" {
		<-ctx.Done()
		return
	}
	for ctx.Err() == nil {
		if err := d.playIVF(ctx, track, out); err != nil && !errors.Is(err, context.Canceled) {
			d.log.Warn("Video source failed", "file", d.cfg.VideoFile, "error", err)
			return
		}
	}
}

// playIVF sends one pass over the video file at its native frame rate.
func (d *SyntheticDevices) playIVF(ctx context.Context, track *Track, out *webrtc.TrackLocalStaticSample) error {
	f, err := os.Open(d.cfg.VideoFile)
	if err != nil {
		return err
	}
	defer f.Close()

	ivf, header, err := ivfreader.NewWith(f)
	if err != nil {
		return err
	}

	frame := defaultVideoRate
	if header.TimebaseDenominator != 0 {
		frame = time.Duration(float64(header.TimebaseNumerator) / float64(header.TimebaseDenominator) * float64(time.Second))
	}
	if frame <= 0 {
		frame = defaultVideoRate
	}

	ticker := time.NewTicker(frame)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		data, _, err := ivf.ParseNextFrame()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if track.Enabled() {
			d.write(out, pionmedia.Sample{Data: data, Duration: frame})
		}
	}
}

func (d *SyntheticDevices) write(out *webrtc.TrackLocalStaticSample, s pionmedia.Sample) {
	if err := out.WriteSample(s); err != nil && !errors.Is(err, io.ErrClosedPipe) {
		d.log.Debug("Sample write failed", "track", out.ID(), "error", err)
	}
}
