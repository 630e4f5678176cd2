package files

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/ivankudzin/tgvault/internal/domain"
)

var ErrValidation = errors.New("validation error")

const (
	photoContentType = "image/jpeg"
	sortKeyPrefix    = "file"
	signedURLTTL     = 5 * time.Minute

	// Timestamp embedded into object keys, e.g. 20240131T120059Z.
	objectKeyTimeLayout = "20060102T150405Z"
)

type Retriever interface {
	Download(ctx context.Context, fileID string) ([]byte, string, error)
}

type ObjectStorage interface {
	EnsureBucket(ctx context.Context) error
	Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)
}

type Store interface {
	SaveFile(ctx context.Context, file domain.StoredFile) error
	ListFiles(ctx context.Context, userID string) ([]domain.StoredFile, error)
}

type StatsRecorder interface {
	RecordStored(ctx context.Context, chatID int64) error
}

// Service turns queued raw Telegram updates into stored objects plus one
// metadata row each. Failures are isolated per record: malformed input is
// a permanent skip, a failed download or upload is left to queue
// redelivery, and a failed metadata write after a successful upload is
// logged as an orphaned object and not retried.
type Service struct {
	retriever Retriever
	storage   ObjectStorage
	store     Store
	stats     StatsRecorder
	now       func() time.Time
	logger    *zap.Logger
}

type FileView struct {
	FileName  string
	MimeType  string
	ObjectKey string
	URL       string
	CreatedAt time.Time
}

func NewService(retriever Retriever, storage ObjectStorage, store Store, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		retriever: retriever,
		storage:   storage,
		store:     store,
		now:       time.Now,
		logger:    logger,
	}
}

// AttachStats enables best-effort processing counters. Stat failures are
// logged and never fail the record.
func (s *Service) AttachStats(stats StatsRecorder) {
	s.stats = stats
}

// HandleRecord dispatches one queue record body. Empty and unparseable
// bodies are skipped permanently; only errors worth a redelivery attempt
// propagate to the caller.
func (s *Service) HandleRecord(ctx context.Context, body []byte) error {
	if len(bytes.TrimSpace(body)) == 0 {
		s.logger.Debug("empty queue record body, skipping")
		return nil
	}

	var update tgbotapi.Update
	if err := json.Unmarshal(body, &update); err != nil {
		s.logger.Warn("invalid json in queue record, skipping", zap.Error(err))
		return nil
	}

	return s.ProcessUpdate(ctx, &update)
}

// ProcessUpdate extracts at most one attachment (photo preferred over
// document) from the update's message and persists it.
func (s *Service) ProcessUpdate(ctx context.Context, update *tgbotapi.Update) error {
	if update == nil {
		return nil
	}
	if s.retriever == nil || s.storage == nil || s.store == nil {
		return fmt.Errorf("files dependencies are not configured")
	}

	msg := update.Message
	if msg == nil {
		msg = update.EditedMessage
	}
	if msg == nil {
		s.logger.Info("no message in update, skipping")
		return nil
	}

	if msg.Chat == nil || msg.Chat.ID == 0 || msg.MessageID == 0 {
		s.logger.Info("missing chat id or message id, skipping")
		return nil
	}
	chatID := msg.Chat.ID

	if len(msg.Photo) > 0 {
		// Size variants are ordered smallest to largest; take the largest.
		largest := msg.Photo[len(msg.Photo)-1]
		if largest.FileID == "" {
			return nil
		}
		// Telegram serves every photo variant as JPEG.
		return s.storeAttachment(ctx, chatID, msg.MessageID, attachment{
			fileID:   largest.FileID,
			mimeType: photoContentType,
		})
	}

	if msg.Document != nil {
		if msg.Document.FileID == "" {
			return nil
		}
		return s.storeAttachment(ctx, chatID, msg.MessageID, attachment{
			fileID:   msg.Document.FileID,
			fileName: msg.Document.FileName,
			mimeType: msg.Document.MimeType,
		})
	}

	s.logger.Info("no photo or document in message",
		zap.Int64("chat_id", chatID),
		zap.Int("message_id", msg.MessageID),
	)
	return nil
}

// ListStoredFiles returns the metadata rows for one chat with presigned
// download URLs.
func (s *Service) ListStoredFiles(ctx context.Context, chatID int64) ([]FileView, error) {
	if chatID == 0 {
		return nil, ErrValidation
	}
	if s.store == nil || s.storage == nil {
		return nil, fmt.Errorf("files dependencies are not configured")
	}

	records, err := s.store.ListFiles(ctx, strconv.FormatInt(chatID, 10))
	if err != nil {
		return nil, fmt.Errorf("list file records: %w", err)
	}

	views := make([]FileView, 0, len(records))
	for _, rec := range records {
		url, err := s.storage.PresignGet(ctx, rec.ObjectKey, signedURLTTL)
		if err != nil {
			return nil, fmt.Errorf("presign file url: %w", err)
		}
		views = append(views, FileView{
			FileName:  rec.FileName,
			MimeType:  rec.MimeType,
			ObjectKey: rec.ObjectKey,
			URL:       url,
			CreatedAt: rec.CreatedAt,
		})
	}

	return views, nil
}

type attachment struct {
	fileID   string
	fileName string
	mimeType string
}

func (s *Service) storeAttachment(ctx context.Context, chatID int64, messageID int, att attachment) error {
	content, downloadedName, err := s.retriever.Download(ctx, att.fileID)
	if err != nil {
		// No side effect happened yet; safe to leave for redelivery.
		return fmt.Errorf("download file %s: %w", att.fileID, err)
	}

	fileName := strings.TrimSpace(att.fileName)
	if fileName == "" {
		fileName = downloadedName
	}

	now := s.now().UTC()
	objectKey := fmt.Sprintf("%d/%d_%s_%s", chatID, messageID, now.Format(objectKeyTimeLayout), fileName)

	if err := s.storage.EnsureBucket(ctx); err != nil {
		return fmt.Errorf("ensure bucket: %w", err)
	}

	if err := s.storage.Put(ctx, objectKey, bytes.NewReader(content), int64(len(content)), att.mimeType); err != nil {
		return fmt.Errorf("upload object %s: %w", objectKey, err)
	}

	record := domain.StoredFile{
		UserID:         strconv.FormatInt(chatID, 10),
		SortKey:        fmt.Sprintf("%s#%d#%d", sortKeyPrefix, messageID, now.Unix()),
		ObjectKey:      objectKey,
		FileName:       fileName,
		MimeType:       att.mimeType,
		TelegramFileID: att.fileID,
		CreatedAt:      now,
	}

	if err := s.store.SaveFile(ctx, record); err != nil {
		// The upload already succeeded; the object stays orphaned without
		// a metadata row and the record is not retried.
		s.logger.Error("metadata write failed, stored object has no metadata row",
			zap.String("object_key", objectKey),
			zap.Error(err),
		)
		return nil
	}

	s.logger.Info("stored telegram file",
		zap.Int64("chat_id", chatID),
		zap.Int("message_id", messageID),
		zap.String("object_key", objectKey),
		zap.Int("size", len(content)),
	)

	if s.stats != nil {
		if err := s.stats.RecordStored(ctx, chatID); err != nil {
			s.logger.Warn("record processing stats", zap.Error(err))
		}
	}

	return nil
}
