package probe

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

// HTTP cameras speak either MJPEG (multipart/x-mixed-replace) or serve a
// single still per request. Both are exposed as a frameSource.

func openHTTPSource(ctx context.Context, streamURL string) (frameSource, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, streamURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("stream returned status %d", resp.StatusCode)
	}
	mediaType, params, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil {
		resp.Body.Close()
		return nil, err
	}
	if strings.HasPrefix(mediaType, "multipart/") {
		boundary := params["boundary"]
		if boundary == "" {
			resp.Body.Close()
			return nil, errors.New("multipart stream without boundary")
		}
		return &mjpegSource{
			body:   resp.Body,
			reader: multipart.NewReader(resp.Body, boundary),
		}, nil
	}
	// Still endpoint: decode this response, then re-request per frame.
	img, err := jpeg.Decode(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, err
	}
	return &stillSource{url: streamURL, pending: img}, nil
}

type mjpegSource struct {
	body   io.ReadCloser
	reader *multipart.Reader
}

func (s *mjpegSource) Next(ctx context.Context) (image.Image, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		part, err := s.reader.NextPart()
		if err != nil {
			return nil, err
		}
		img, err := jpeg.Decode(part)
		part.Close()
		if err != nil {
			// Skip truncated parts; the stream may recover.
			continue
		}
		return img, nil
	}
}

func (s *mjpegSource) Close() error {
	return s.body.Close()
}

type stillSource struct {
	url     string
	pending image.Image
	last    time.Time
}

// stillInterval paces repeated snapshot requests so a still endpoint is not
// hammered during a burst.
const stillInterval = 100 * time.Millisecond

func (s *stillSource) Next(ctx context.Context) (image.Image, error) {
	if s.pending != nil {
		img := s.pending
		s.pending = nil
		s.last = time.Now()
		return img, nil
	}
	if wait := stillInterval - time.Since(s.last); wait > 0 {
		t := time.NewTimer(wait)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("snapshot returned status %d", resp.StatusCode)
	}
	img, err := jpeg.Decode(resp.Body)
	if err != nil {
		return nil, err
	}
	s.last = time.Now()
	return img, nil
}

func (s *stillSource) Close() error {
	return nil
}
