package probe

import (
	"bufio"
	"bytes"
	"context"
	"image"
	"image/jpeg"
	"io"
	"os/exec"
)

// RTSP sources are decoded by an ffmpeg subprocess transcoding to an MJPEG
// pipe. CommandContext ties the process lifetime to the probe budget, so a
// stalled camera cannot leak a decoder past its slot.

type ffmpegSource struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	reader *bufio.Reader
	buf    []byte
}

func openFFmpegSource(ctx context.Context, streamURL string) (frameSource, error) {
	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-rtsp_transport", "tcp",
		"-i", streamURL,
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"-q:v", "5",
		"-",
	)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return &ffmpegSource{
		cmd:    cmd,
		stdout: stdout,
		reader: bufio.NewReaderSize(stdout, 1<<16),
	}, nil
}

func (s *ffmpegSource) Next(ctx context.Context) (image.Image, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		frame, err := s.readJPEG()
		if err != nil {
			return nil, err
		}
		img, err := jpeg.Decode(bytes.NewReader(frame))
		if err != nil {
			// Partial frame on the pipe; resync on the next SOI marker.
			continue
		}
		return img, nil
	}
}

// readJPEG scans the pipe for one SOI..EOI byte range.
func (s *ffmpegSource) readJPEG() ([]byte, error) {
	s.buf = s.buf[:0]
	inFrame := false
	var prev byte
	for {
		b, err := s.reader.ReadByte()
		if err != nil {
			return nil, err
		}
		if !inFrame {
			if prev == 0xFF && b == 0xD8 {
				inFrame = true
				s.buf = append(s.buf, 0xFF, 0xD8)
			}
			prev = b
			continue
		}
		s.buf = append(s.buf, b)
		if prev == 0xFF && b == 0xD9 {
			return s.buf, nil
		}
		prev = b
	}
}

func (s *ffmpegSource) Close() error {
	s.stdout.Close()
	if s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
	return s.cmd.Wait()
}
