// Пакет objectstore — выдача pre-signed URL для загрузки вложений
// в S3-совместимое объектное хранилище (MinIO).
// Само содержимое вложений через сервис не проходит: клиент загружает
// файл напрямую в хранилище по подписанному URL.
package objectstore

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/arturkryukov/issuetrack/internal/config"
)

// Store — обёртка над minio-клиентом для bucket вложений.
type Store struct {
	client *minio.Client
	bucket string
	expiry time.Duration
	logger *slog.Logger
}

// New создаёт клиент объектного хранилища.
// Подпись URL вычисляется локально, сетевых обращений конструктор не делает.
func New(cfg *config.Config, logger *slog.Logger) (*Store, error) {
	client, err := minio.New(cfg.S3Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.S3AccessKey, cfg.S3SecretKey, ""),
		Secure: cfg.S3UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка создания клиента объектного хранилища: %w", err)
	}

	return &Store{
		client: client,
		bucket: cfg.S3Bucket,
		expiry: cfg.UploadURLExpiry,
		logger: logger.With(slog.String("component", "objectstore")),
	}, nil
}

// EnsureBucket создаёт bucket вложений, если он ещё не существует.
// Вызывается один раз при старте.
func (s *Store) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("ошибка проверки bucket %s: %w", s.bucket, err)
	}
	if exists {
		return nil
	}

	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("ошибка создания bucket %s: %w", s.bucket, err)
	}
	s.logger.Info("Bucket вложений создан", slog.String("bucket", s.bucket))
	return nil
}

// ObjectKey возвращает ключ объекта для вложения задачи: {issueId}/{attachmentId}.
func ObjectKey(issueID, attachmentID string) string {
	return fmt.Sprintf("%s/%s", issueID, attachmentID)
}

// PresignedPut выдаёт временный URL для загрузки вложения методом PUT.
// URL действителен в течение настроенного окна (IT_UPLOAD_URL_EXPIRY).
func (s *Store) PresignedPut(ctx context.Context, issueID, attachmentID string) (*url.URL, error) {
	signed, err := s.client.PresignedPutObject(ctx, s.bucket, ObjectKey(issueID, attachmentID), s.expiry)
	if err != nil {
		return nil, fmt.Errorf("ошибка выдачи pre-signed URL: %w", err)
	}
	return signed, nil
}

// PublicURL возвращает публичный адрес объекта по его подписанному URL:
// тот же URL без query string (подпись и срок действия отбрасываются).
// Именно публичный адрес записывается в attachments задачи.
func PublicURL(signed *url.URL) string {
	public := *signed
	public.RawQuery = ""
	return public.String()
}

// CheckReady проверяет доступность объектного хранилища для health endpoint.
// Реализует интерфейс handlers.ReadinessChecker.
func (s *Store) CheckReady() (status string, message string) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if _, err := s.client.BucketExists(ctx, s.bucket); err != nil {
		return "fail", fmt.Sprintf("объектное хранилище недоступно: %v", err)
	}
	return "ok", "подключение активно"
}
