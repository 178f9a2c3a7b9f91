// issues.go — обработчики операций над задачами.
// Все операции авторизуются относительно sub из JWT; отказ в доступе
// неотличим от отсутствия задачи (404 NOT_FOUND).
package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	apierrors "github.com/arturkryukov/issuetrack/internal/api/errors"
	"github.com/arturkryukov/issuetrack/internal/api/middleware"
	"github.com/arturkryukov/issuetrack/internal/domain/model"
	"github.com/arturkryukov/issuetrack/internal/service"
)

// Роли в теле POST /issues для фильтрации выборки.
const (
	userTypeReporter = "reporter"
	userTypeAssignee = "assignee"
)

// issuesResponse — ответ со списком задач.
type issuesResponse struct {
	Items []*model.Issue `json:"items"`
}

// issueResponse — ответ с одной задачей.
type issueResponse struct {
	Item *model.Issue `json:"item"`
}

// uploadURLResponse — ответ с pre-signed URL для загрузки вложения.
type uploadURLResponse struct {
	UploadURL string `json:"uploadUrl"`
}

// filterIssuesRequest — тело POST /issues.
type filterIssuesRequest struct {
	UserType string `json:"userType"`
}

// GetIssues — GET /issues. Возвращает все задачи, видимые пользователю:
// назначенные, затем созданные (задача в обеих ролях попадает дважды).
func (h *APIHandler) GetIssues(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())

	issues, err := h.issues.GetAll(r.Context(), userID)
	if err != nil {
		h.logger.Error("Ошибка выборки задач",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		apierrors.InternalError(w, "Не удалось получить список задач")
		return
	}

	writeJSON(w, http.StatusOK, issuesResponse{Items: issues})
}

// FilterIssues — POST /issues. Возвращает задачи по роли пользователя:
// userType=reporter — созданные, userType=assignee — назначенные.
// Любое другое значение — 400 до обращения к хранилищу.
func (h *APIHandler) FilterIssues(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())

	var req filterIssuesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.ValidationError(w, "Некорректное тело запроса: "+err.Error())
		return
	}

	var (
		issues []*model.Issue
		err    error
	)
	switch req.UserType {
	case userTypeReporter:
		issues, err = h.issues.GetAllReported(r.Context(), userID)
	case userTypeAssignee:
		issues, err = h.issues.GetAllAssigned(r.Context(), userID)
	default:
		apierrors.ValidationError(w, "userType должен быть reporter или assignee")
		return
	}

	if err != nil {
		h.logger.Error("Ошибка выборки задач по роли",
			slog.String("user_id", userID),
			slog.String("user_type", req.UserType),
			slog.String("error", err.Error()),
		)
		apierrors.InternalError(w, "Не удалось получить список задач")
		return
	}

	writeJSON(w, http.StatusOK, issuesResponse{Items: issues})
}

// CreateIssue — POST /issues/new. Создаёт задачу: репортёр — вызывающий,
// статус всегда TO DO. Возвращает 201 с сохранённой записью.
func (h *APIHandler) CreateIssue(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())

	var req service.CreateIssueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.ValidationError(w, "Некорректное тело запроса: "+err.Error())
		return
	}

	issue, err := h.issues.Create(r.Context(), &req, userID)
	if err != nil {
		if errors.Is(err, service.ErrValidation) {
			apierrors.ValidationError(w, err.Error())
			return
		}
		h.logger.Error("Ошибка создания задачи",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		apierrors.InternalError(w, "Не удалось создать задачу")
		return
	}

	writeJSON(w, http.StatusCreated, issueResponse{Item: issue})
}

// UpdateIssue — PATCH /issues/{issueId}. Частичное обновление.
// Разрешено репортёру и исполнителю. Успех — 204 без тела.
func (h *APIHandler) UpdateIssue(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())
	issueID := chi.URLParam(r, "issueId")

	var upd model.IssueUpdate
	if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
		apierrors.ValidationError(w, "Некорректное тело запроса: "+err.Error())
		return
	}

	if _, err := h.issues.Update(r.Context(), issueID, userID, &upd); err != nil {
		switch {
		case errors.Is(err, service.ErrValidation):
			apierrors.ValidationError(w, err.Error())
		case errors.Is(err, service.ErrDenied):
			apierrors.NotFound(w, "Задача не найдена")
		default:
			h.logger.Error("Ошибка обновления задачи",
				slog.String("issue_id", issueID),
				slog.String("error", err.Error()),
			)
			apierrors.InternalError(w, "Не удалось обновить задачу")
		}
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// DeleteIssue — DELETE /issues/{issueId}. Разрешено только репортёру.
// Успех — 204 без тела.
func (h *APIHandler) DeleteIssue(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())
	issueID := chi.URLParam(r, "issueId")

	if _, err := h.issues.Delete(r.Context(), issueID, userID); err != nil {
		switch {
		case errors.Is(err, service.ErrDenied):
			apierrors.NotFound(w, "Задача не найдена")
		default:
			h.logger.Error("Ошибка удаления задачи",
				slog.String("issue_id", issueID),
				slog.String("error", err.Error()),
			)
			apierrors.InternalError(w, "Не удалось удалить задачу")
		}
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// GenerateUploadURL — POST /issues/{issueId}/attachment.
// Выдаёт pre-signed URL для загрузки вложения и дописывает его публичный
// адрес в attachments задачи. Идентификатор вложения генерируется здесь.
func (h *APIHandler) GenerateUploadURL(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())
	issueID := chi.URLParam(r, "issueId")
	attachmentID := uuid.New().String()

	signed, err := h.issues.IssueUploadURL(r.Context(), issueID, userID, attachmentID)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrDenied):
			apierrors.NotFound(w, "Задача не найдена")
		case errors.Is(err, service.ErrStoreUnavailable):
			h.logger.Error("Объектное хранилище недоступно",
				slog.String("issue_id", issueID),
				slog.String("error", err.Error()),
			)
			apierrors.StoreUnavailable(w, "Хранилище вложений недоступно")
		default:
			h.logger.Error("Ошибка выдачи upload URL",
				slog.String("issue_id", issueID),
				slog.String("error", err.Error()),
			)
			apierrors.InternalError(w, "Не удалось выдать upload URL")
		}
		return
	}

	writeJSON(w, http.StatusCreated, uploadURLResponse{UploadURL: signed})
}
