// Package baseline persists per-camera reference frames behind a get/put/
// delete contract. Baselines are mutated only by an explicit update action,
// never by the inspection cycle, so a moving camera cannot re-baseline
// itself away from detection.
package baseline

import (
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

var ErrNoBaseline = errors.New("no baseline image")

type Store interface {
	Get(cameraID string) (image.Image, error)
	Put(cameraID string, frame image.Image) (ref string, err error)
	Delete(cameraID string) error
	Has(cameraID string) bool
}

type FileStore struct {
	dir string
}

func NewFileStore(dir string) (*FileStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("baseline dir is empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(cameraID string) string {
	return filepath.Join(s.dir, sanitize(cameraID)+".jpg")
}

func (s *FileStore) Get(cameraID string) (image.Image, error) {
	f, err := os.Open(s.path(cameraID))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNoBaseline
		}
		return nil, err
	}
	defer f.Close()
	img, err := jpeg.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode baseline for %s: %w", cameraID, err)
	}
	return img, nil
}

func (s *FileStore) Put(cameraID string, frame image.Image) (string, error) {
	if frame == nil {
		return "", errors.New("nil baseline frame")
	}
	path := s.path(cameraID)
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return "", err
	}
	if err := jpeg.Encode(f, frame, &jpeg.Options{Quality: 90}); err != nil {
		f.Close()
		os.Remove(tmp)
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return "", err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return "", err
	}
	return path, nil
}

func (s *FileStore) Delete(cameraID string) error {
	err := os.Remove(s.path(cameraID))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

func (s *FileStore) Has(cameraID string) bool {
	_, err := os.Stat(s.path(cameraID))
	return err == nil
}

func sanitize(id string) string {
	var b strings.Builder
	b.Grow(len(id))
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
