// Package dedup fingerprints downloaded stickers and reports ones seen before.
package dedup

import (
	"bytes"
	"context"
	"crypto/md5"
	"fmt"
	"image"
	"image/gif"
	"image/png"
	"sync"
	"time"

	"github.com/corona10/goimagehash"
	"github.com/pkg/errors"

	"stickerdl/apng"
)

type Fingerprint struct {
	Type       string    `gorm:"primaryKey;column:hash_type"`
	Value      string    `gorm:"primaryKey;column:hash"`
	URL        string    `gorm:"not null"`
	FirstSeen  time.Time `gorm:"not null"`
	LastSeen   time.Time `gorm:"not null"`
	Collisions int64     `gorm:"not null"`
}

func (f *Fingerprint) TableName() string {
	return "fingerprint"
}

// HashStorage records a fingerprint and reports whether it is new.
type HashStorage interface {
	Check(ctx context.Context, fingerprint *Fingerprint) (bool, error)
}

type Clock interface {
	Now() time.Time
}

type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time {
	return f()
}

var SystemClock Clock = ClockFunc(time.Now)

type decodeFunc func([]byte) (image.Image, error)

// ErrAnimated is returned for multi-frame images which are hashed byte-wise.
var ErrAnimated = errors.New("animated image")

var imageTypes = map[string]decodeFunc{
	"image/png": decodePNG,
	"image/gif": decodeGIF,
}

func decodePNG(data []byte) (image.Image, error) {
	animated, err := apng.IsAnimated(bytes.NewReader(data))
	switch {
	case err != nil:
		return nil, err
	case animated:
		return nil, ErrAnimated
	}

	return png.Decode(bytes.NewReader(data))
}

func decodeGIF(data []byte) (image.Image, error) {
	g, err := gif.DecodeAll(bytes.NewReader(data))
	switch {
	case err != nil:
		return nil, err
	case len(g.Image) != 1:
		return nil, ErrAnimated
	}

	return g.Image[0], nil
}

type Deduplicator struct {
	Clock
	HashStorage
}

// Check returns true if the content has not been seen before.
func (d *Deduplicator) Check(ctx context.Context, url, mimeType string, data []byte) (bool, error) {
	if d == nil {
		return true, nil
	}

	now := d.Now()
	fingerprint := &Fingerprint{
		URL:       url,
		FirstSeen: now,
		LastSeen:  now,
	}

	var err error
	if decode, ok := imageTypes[mimeType]; ok {
		err = hashImage(data, fingerprint, decode)
		if err != nil {
			err = hashAny(data, fingerprint)
		}
	} else {
		err = hashAny(data, fingerprint)
	}

	if err != nil {
		return false, err
	}

	return d.HashStorage.Check(ctx, fingerprint)
}

func hashImage(data []byte, fingerprint *Fingerprint, decode decodeFunc) error {
	img, err := decode(data)
	if err != nil {
		return errors.Wrap(err, "read image")
	}

	dhash, err := goimagehash.DifferenceHash(img)
	if err != nil {
		return errors.Wrap(err, "get diff hash")
	}

	fingerprint.Type = "dhash"
	fingerprint.Value = fmt.Sprintf("%x", dhash.GetHash())
	return nil
}

func hashAny(data []byte, fingerprint *Fingerprint) error {
	sum := md5.Sum(data)
	fingerprint.Type = "md5"
	fingerprint.Value = fmt.Sprintf("%x", sum)
	return nil
}

// MemoryHashStorage keeps fingerprints for the lifetime of the process.
type MemoryHashStorage struct {
	seen map[[2]string]*Fingerprint
	mu   sync.Mutex
}

func (s *MemoryHashStorage) Check(ctx context.Context, fingerprint *Fingerprint) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seen == nil {
		s.seen = make(map[[2]string]*Fingerprint)
	}

	key := [2]string{fingerprint.Type, fingerprint.Value}
	if existing, ok := s.seen[key]; ok {
		existing.Collisions++
		existing.URL = fingerprint.URL
		existing.LastSeen = fingerprint.LastSeen
		*fingerprint = *existing
		return false, nil
	}

	stored := *fingerprint
	s.seen[key] = &stored
	return true, nil
}
