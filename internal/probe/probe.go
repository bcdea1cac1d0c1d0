// Package probe opens a single video source, pulls a short burst of frames
// and measures timing and basic quality signals. Connection failures,
// timeouts and undecodable streams all resolve to the single unreachable
// outcome; the causes are equally actionable (mark offline) so they are not
// distinguished to the caller.
package probe

import (
	"context"
	"image"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"camguard/internal/model"
)

type Result struct {
	Unreachable bool
	FPS         float64
	Width       int
	Height      int
	LatencyMS   float64
	Brightness  float64
	Sharpness   float64
	FrameCount  int
	LastFrame   image.Image
	FrameAt     time.Time
}

type Prober interface {
	Probe(ctx context.Context, cam model.Camera) Result
}

// frameSource yields decoded frames until the context expires or the stream
// ends. Implementations must not outlive the probe budget.
type frameSource interface {
	Next(ctx context.Context) (image.Image, error)
	Close() error
}

type StreamProber struct {
	Timeout    time.Duration
	FrameBurst int
	Logger     *slog.Logger
}

func NewStreamProber(timeout time.Duration, burst int, logger *slog.Logger) *StreamProber {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if burst <= 0 {
		burst = 30
	}
	return &StreamProber{Timeout: timeout, FrameBurst: burst, Logger: logger}
}

// Probe never blocks past its budget and never returns an error; on any
// failure the result is unreachable.
func (p *StreamProber) Probe(ctx context.Context, cam model.Camera) Result {
	ctx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()

	start := time.Now()
	src, err := p.openSource(ctx, cam.StreamURL)
	if err != nil {
		if p.Logger != nil {
			p.Logger.Warn("stream unreachable", "camera_id", cam.ID, "err", err)
		}
		return Result{Unreachable: true}
	}
	defer src.Close()

	var acc statsAccumulator
	var first, last time.Time
	var lastFrame image.Image
	frames := 0
	for frames < p.FrameBurst {
		frame, err := src.Next(ctx)
		if err != nil {
			break
		}
		now := time.Now()
		if frames == 0 {
			first = now
		}
		last = now
		lastFrame = frame
		acc.add(frame)
		frames++
	}
	if frames == 0 {
		if p.Logger != nil {
			p.Logger.Warn("no decodable frames", "camera_id", cam.ID)
		}
		return Result{Unreachable: true}
	}

	res := Result{
		LatencyMS:  float64(first.Sub(start).Microseconds()) / 1000.0,
		FrameCount: frames,
		LastFrame:  lastFrame,
		FrameAt:    last,
	}
	res.Width = lastFrame.Bounds().Dx()
	res.Height = lastFrame.Bounds().Dy()
	res.Brightness, res.Sharpness = acc.summary()
	if frames > 1 && last.After(first) {
		res.FPS = float64(frames-1) / last.Sub(first).Seconds()
	}
	return res
}

func (p *StreamProber) openSource(ctx context.Context, streamURL string) (frameSource, error) {
	u, err := url.Parse(streamURL)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		return openHTTPSource(ctx, streamURL)
	case "rtsp", "rtsps":
		return openFFmpegSource(ctx, streamURL)
	case "file", "":
		return openFileSource(u.Path)
	default:
		return nil, errUnsupportedScheme(u.Scheme)
	}
}

type errUnsupportedScheme string

func (e errUnsupportedScheme) Error() string {
	return "unsupported stream scheme: " + string(e)
}
