// Package media turns uploaded files into chat message attachments.
package media

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fathima-sithara/realtime-service/internal/apperr"
	"github.com/fathima-sithara/realtime-service/internal/domain"
	"github.com/fathima-sithara/realtime-service/internal/repository"
)

const (
	thumbWidth      = 320
	DefaultMaxBytes = 10 << 20
)

type ObjectStore interface {
	Upload(ctx context.Context, key, contentType string, data []byte) (string, error)
	PresignURL(ctx context.Context, key string, ttl time.Duration) (string, error)
}

type Service struct {
	store      ObjectStore
	rooms      repository.RoomStore
	presignTTL time.Duration
	maxBytes   int64
	log        *zap.SugaredLogger
}

func NewService(store ObjectStore, rooms repository.RoomStore, presignTTL time.Duration, maxBytes int64, log *zap.SugaredLogger) *Service {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	if presignTTL <= 0 {
		presignTTL = 24 * time.Hour
	}
	return &Service{store: store, rooms: rooms, presignTTL: presignTTL, maxBytes: maxBytes, log: log}
}

func (s *Service) MaxBytes() int64 { return s.maxBytes }

// Upload stores a file for roomID on behalf of a room member and returns the
// attachment to reference from send_message. Images also get a JPEG thumbnail.
func (s *Service) Upload(ctx context.Context, userID, roomID, filename, contentType string, data []byte) (*domain.Attachment, error) {
	if _, err := s.rooms.GetMembership(ctx, roomID, userID); err != nil {
		return nil, apperr.Persistence("check membership", err)
	}
	if len(data) == 0 {
		return nil, apperr.Validation("empty file")
	}
	if int64(len(data)) > s.maxBytes {
		return nil, apperr.Validation("file exceeds %d bytes", s.maxBytes)
	}
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = http.DetectContentType(data)
	}
	name := cleanName(filename)
	key := fmt.Sprintf("rooms/%s/%s_%s", roomID, uuid.NewString(), name)

	url, err := s.put(ctx, key, contentType, data)
	if err != nil {
		return nil, err
	}
	att := &domain.Attachment{URL: url, Name: name, MimeType: contentType, SizeBytes: int64(len(data))}

	if strings.HasPrefix(contentType, "image/") {
		thumb, err := Thumbnail(data)
		if err != nil {
			s.log.Infow("no thumbnail", "room_id", roomID, "name", name, "error", err)
		} else if turl, err := s.put(ctx, key+"_thumb.jpg", "image/jpeg", thumb); err != nil {
			s.log.Warnw("thumbnail upload failed", "room_id", roomID, "key", key, "error", err)
		} else {
			att.ThumbnailURL = turl
		}
	}
	s.log.Infow("attachment stored", "room_id", roomID, "user_id", userID, "key", key, "size", att.SizeBytes)
	return att, nil
}

func (s *Service) put(ctx context.Context, key, contentType string, data []byte) (string, error) {
	url, err := s.store.Upload(ctx, key, contentType, data)
	if err != nil {
		return "", apperr.Transient("upload attachment", err)
	}
	if url != "" {
		return url, nil
	}
	url, err = s.store.PresignURL(ctx, key, s.presignTTL)
	if err != nil {
		return "", apperr.Transient("presign attachment", err)
	}
	return url, nil
}

func cleanName(filename string) string {
	name := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	name = strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, name)
	if name == "" || name == "." || name == "/" {
		return "file"
	}
	return name
}

// Thumbnail scales an image to thumbWidth wide, keeping its aspect ratio.
func Thumbnail(data []byte) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	thumb := imaging.Resize(img, thumbWidth, 0, imaging.Lanczos)
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, thumb, imaging.JPEG); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
