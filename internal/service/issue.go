// issue.go — сервис задач: создание с назначением идентичности,
// выборки по видимости, частичные обновления, удаление, выдача
// upload URL для вложений.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/arturkryukov/issuetrack/internal/domain/model"
	"github.com/arturkryukov/issuetrack/internal/objectstore"
	"github.com/arturkryukov/issuetrack/internal/repository"
)

// UploadURLIssuer — выдача pre-signed URL для загрузки вложений.
// Реализуется objectstore.Store.
type UploadURLIssuer interface {
	PresignedPut(ctx context.Context, issueID, attachmentID string) (*url.URL, error)
}

// CreateIssueRequest — запрос на создание задачи.
type CreateIssueRequest struct {
	// Title — заголовок, обязателен
	Title string `json:"title"`
	// Description — описание (опционально)
	Description *string `json:"description"`
	// AssigneeID — исполнитель (опционально)
	AssigneeID *string `json:"assigneeId"`
}

// IssueService — сервис задач. Репозиторий и выдача URL передаются
// при конструировании, глобального состояния нет.
type IssueService struct {
	repo   repository.IssueRepository
	urls   UploadURLIssuer
	logger *slog.Logger
}

// NewIssueService создаёт сервис задач.
func NewIssueService(
	repo repository.IssueRepository,
	urls UploadURLIssuer,
	logger *slog.Logger,
) *IssueService {
	return &IssueService{
		repo:   repo,
		urls:   urls,
		logger: logger.With(slog.String("component", "issue_service")),
	}
}

// Create создаёт задачу: свежий UUID, репортёр — вызывающий, статус TO DO,
// серверное время создания. Содержимое запроса не может переопределить
// ни репортёра, ни статус. Возвращает сохранённую запись целиком.
func (s *IssueService) Create(ctx context.Context, req *CreateIssueRequest, userID string) (*model.Issue, error) {
	if req.Title == "" {
		return nil, fmt.Errorf("%w: заголовок (title) обязателен", ErrValidation)
	}

	issue := &model.Issue{
		IssueID:     uuid.New().String(),
		ReporterID:  userID,
		AssigneeID:  req.AssigneeID,
		Title:       req.Title,
		Description: req.Description,
		Status:      model.StatusToDo,
		Attachments: []string{},
		CreatedAt:   time.Now().UTC(),
	}

	if err := s.repo.Create(ctx, issue); err != nil {
		return nil, fmt.Errorf("создание задачи: %w", err)
	}

	s.logger.Info("Задача создана",
		slog.String("issue_id", issue.IssueID),
		slog.String("reporter_id", userID),
	)

	return issue, nil
}

// GetAll возвращает все задачи, видимые пользователю:
// назначенные ++ созданные, без дедупликации.
func (s *IssueService) GetAll(ctx context.Context, userID string) ([]*model.Issue, error) {
	return s.repo.ListAll(ctx, userID)
}

// GetAllReported возвращает задачи, созданные пользователем.
func (s *IssueService) GetAllReported(ctx context.Context, userID string) ([]*model.Issue, error) {
	return s.repo.ListByReporter(ctx, userID)
}

// GetAllAssigned возвращает задачи, назначенные на пользователя.
func (s *IssueService) GetAllAssigned(ctx context.Context, userID string) ([]*model.Issue, error) {
	return s.repo.ListByAssignee(ctx, userID)
}

// Update применяет частичное обновление. Отказ репозитория
// (нет задачи / нет прав) пробрасывается без изменений.
func (s *IssueService) Update(ctx context.Context, issueID, userID string, upd *model.IssueUpdate) (*model.Issue, error) {
	if upd.Status != nil && !model.ValidStatus(*upd.Status) {
		return nil, fmt.Errorf("%w: недопустимый статус %q", ErrValidation, *upd.Status)
	}

	updated, err := s.repo.Update(ctx, issueID, userID, upd)
	if err != nil {
		if errors.Is(err, repository.ErrDenied) {
			return nil, ErrDenied
		}
		return nil, fmt.Errorf("обновление задачи: %w", err)
	}
	return updated, nil
}

// Delete удаляет задачу. Разрешено только репортёру.
// Возвращает запись в состоянии до удаления.
func (s *IssueService) Delete(ctx context.Context, issueID, userID string) (*model.Issue, error) {
	deleted, err := s.repo.Delete(ctx, issueID, userID)
	if err != nil {
		if errors.Is(err, repository.ErrDenied) {
			return nil, ErrDenied
		}
		return nil, fmt.Errorf("удаление задачи: %w", err)
	}

	s.logger.Info("Задача удалена",
		slog.String("issue_id", issueID),
		slog.String("reporter_id", userID),
	)
	return deleted, nil
}

// IssueUploadURL выдаёт pre-signed URL для загрузки вложения
// {issueId}/{attachmentId} и дописывает публичный адрес (URL без
// query string) в attachments задачи. Возвращает подписанный URL.
func (s *IssueService) IssueUploadURL(ctx context.Context, issueID, userID, attachmentID string) (string, error) {
	// Авторизация до обращения к хранилищу
	if _, err := s.repo.FindAuthorized(ctx, issueID, userID); err != nil {
		if errors.Is(err, repository.ErrDenied) {
			return "", ErrDenied
		}
		return "", fmt.Errorf("поиск задачи: %w", err)
	}

	signed, err := s.urls.PresignedPut(ctx, issueID, attachmentID)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if err := s.repo.AppendAttachment(ctx, issueID, userID, objectstore.PublicURL(signed)); err != nil {
		if errors.Is(err, repository.ErrDenied) {
			return "", ErrDenied
		}
		return "", fmt.Errorf("запись вложения: %w", err)
	}

	s.logger.Info("Выдан upload URL",
		slog.String("issue_id", issueID),
		slog.String("attachment_id", attachmentID),
	)
	return signed.String(), nil
}
