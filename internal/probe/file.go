package probe

import (
	"context"
	"image"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// fileSource replays a still image at a fixed cadence. It exists for local
// simulation and for exercising the probe path without a camera on the
// network.
type fileSource struct {
	frame image.Image
	last  time.Time
}

const filePaceInterval = 50 * time.Millisecond

func openFileSource(path string) (frameSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var img image.Image
	if strings.EqualFold(filepath.Ext(path), ".png") {
		img, err = png.Decode(f)
	} else {
		img, err = jpeg.Decode(f)
	}
	if err != nil {
		return nil, err
	}
	return &fileSource{frame: img}, nil
}

func (s *fileSource) Next(ctx context.Context) (image.Image, error) {
	if !s.last.IsZero() {
		if wait := filePaceInterval - time.Since(s.last); wait > 0 {
			t := time.NewTimer(wait)
			defer t.Stop()
			select {
			case <-t.C:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	s.last = time.Now()
	return s.frame, nil
}

func (s *fileSource) Close() error {
	return nil
}
