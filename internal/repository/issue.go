package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/arturkryukov/issuetrack/internal/domain/model"
)

// issueColumns — список колонок таблицы issues в порядке сканирования.
const issueColumns = `issue_id, created_at, reporter_id, assignee_id, title, description, status, attachments`

// IssueRepository — CRUD-доступ к таблице issues.
// Все операции по конкретной задаче проходят через FindAuthorized:
// вызывающий видит и меняет только задачи, где он репортёр или исполнитель.
type IssueRepository interface {
	// ListByReporter возвращает все задачи, созданные пользователем.
	ListByReporter(ctx context.Context, userID string) ([]*model.Issue, error)
	// ListByAssignee возвращает все задачи, назначенные на пользователя.
	ListByAssignee(ctx context.Context, userID string) ([]*model.Issue, error)
	// ListAll возвращает конкатенацию: назначенные ++ созданные.
	// Без дедупликации — задача, где пользователь и репортёр, и исполнитель,
	// встречается дважды. Это сохраняемое свойство контракта, не ошибка.
	ListAll(ctx context.Context, userID string) ([]*model.Issue, error)
	// FindAuthorized возвращает задачу по issueID, если вызывающий —
	// её репортёр или исполнитель. Иначе ErrDenied, причём «не существует»
	// и «запрещено» неразличимы.
	FindAuthorized(ctx context.Context, issueID, userID string) (*model.Issue, error)
	// Create сохраняет полностью заполненную запись.
	// Дублирующийся ключ → ErrConflict.
	Create(ctx context.Context, issue *model.Issue) error
	// Update перечитывает задачу через FindAuthorized и применяет частичное
	// обновление. Возвращает обновлённую запись.
	Update(ctx context.Context, issueID, userID string, upd *model.IssueUpdate) (*model.Issue, error)
	// Delete удаляет задачу. Разрешено только репортёру, иначе ErrDenied.
	// Возвращает запись в состоянии до удаления.
	Delete(ctx context.Context, issueID, userID string) (*model.Issue, error)
	// AppendAttachment дописывает URL в конец attachments.
	// Конкурентные вызовы по одной задаче не теряют элементы.
	AppendAttachment(ctx context.Context, issueID, userID, url string) error
}

// issueRepo — реализация IssueRepository.
type issueRepo struct {
	db DBTX
}

// NewIssueRepository создаёт репозиторий задач.
func NewIssueRepository(db DBTX) IssueRepository {
	return &issueRepo{db: db}
}

// scanIssue сканирует одну строку в model.Issue.
func scanIssue(row interface{ Scan(dest ...any) error }) (*model.Issue, error) {
	i := &model.Issue{}
	err := row.Scan(
		&i.IssueID, &i.CreatedAt, &i.ReporterID, &i.AssigneeID,
		&i.Title, &i.Description, &i.Status, &i.Attachments,
	)
	if err != nil {
		return nil, err
	}
	if i.Attachments == nil {
		i.Attachments = []string{}
	}
	return i, nil
}

// listBy выполняет выборку по одному из вторичных индексов.
func (r *issueRepo) listBy(ctx context.Context, column, userID string) ([]*model.Issue, error) {
	query := fmt.Sprintf(`SELECT %s FROM issues WHERE %s = $1`, issueColumns, column)

	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("ошибка выборки задач по %s: %w", column, err)
	}
	defer rows.Close()

	result := []*model.Issue{}
	for rows.Next() {
		i, err := scanIssue(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования задачи: %w", err)
		}
		result = append(result, i)
	}
	return result, rows.Err()
}

func (r *issueRepo) ListByReporter(ctx context.Context, userID string) ([]*model.Issue, error) {
	return r.listBy(ctx, "reporter_id", userID)
}

func (r *issueRepo) ListByAssignee(ctx context.Context, userID string) ([]*model.Issue, error) {
	return r.listBy(ctx, "assignee_id", userID)
}

// ListAll — назначенные ++ созданные, именно в этом порядке.
func (r *issueRepo) ListAll(ctx context.Context, userID string) ([]*model.Issue, error) {
	assigned, err := r.ListByAssignee(ctx, userID)
	if err != nil {
		return nil, err
	}
	reported, err := r.ListByReporter(ctx, userID)
	if err != nil {
		return nil, err
	}
	return append(assigned, reported...), nil
}

func (r *issueRepo) FindAuthorized(ctx context.Context, issueID, userID string) (*model.Issue, error) {
	query := fmt.Sprintf(`SELECT %s FROM issues WHERE issue_id = $1`, issueColumns)

	i, err := scanIssue(r.db.QueryRow(ctx, query, issueID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDenied
		}
		return nil, fmt.Errorf("ошибка поиска задачи: %w", err)
	}

	if i.ReporterID != userID && (i.AssigneeID == nil || *i.AssigneeID != userID) {
		return nil, ErrDenied
	}
	return i, nil
}

func (r *issueRepo) Create(ctx context.Context, issue *model.Issue) error {
	query := `
		INSERT INTO issues (issue_id, created_at, reporter_id, assignee_id,
			title, description, status, attachments)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	attachments := issue.Attachments
	if attachments == nil {
		attachments = []string{}
	}

	_, err := r.db.Exec(ctx, query,
		issue.IssueID, issue.CreatedAt, issue.ReporterID, issue.AssigneeID,
		issue.Title, issue.Description, issue.Status, attachments,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: задача с таким ключом уже существует", ErrConflict)
		}
		return fmt.Errorf("ошибка создания задачи: %w", err)
	}
	return nil
}

// Update перечитывает запись, сливает частичное обновление и записывает
// результат одним UPDATE по физическому ключу (issue_id, created_at).
// Правила слияния: переданное (non-nil) поле заменяет сохранённое, остальные
// не меняются. Исключения: description без значения и в запросе, и в БД
// становится пустой строкой; пустой assignee_id сохраняет прежнего исполнителя.
func (r *issueRepo) Update(ctx context.Context, issueID, userID string, upd *model.IssueUpdate) (*model.Issue, error) {
	stored, err := r.FindAuthorized(ctx, issueID, userID)
	if err != nil {
		return nil, err
	}

	title := stored.Title
	if upd.Title != nil {
		title = *upd.Title
	}

	var description string
	switch {
	case upd.Description != nil:
		description = *upd.Description
	case stored.Description != nil:
		description = *stored.Description
	default:
		description = ""
	}

	status := stored.Status
	if upd.Status != nil {
		status = *upd.Status
	}

	assigneeID := stored.AssigneeID
	if upd.AssigneeID != nil && *upd.AssigneeID != "" {
		assigneeID = upd.AssigneeID
	}

	query := `
		UPDATE issues
		SET title = $3, description = $4, status = $5, assignee_id = $6
		WHERE issue_id = $1 AND created_at = $2`

	tag, err := r.db.Exec(ctx, query,
		stored.IssueID, stored.CreatedAt, title, description, status, assigneeID,
	)
	if err != nil {
		return nil, fmt.Errorf("ошибка обновления задачи: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Запись исчезла между чтением и записью
		return nil, ErrDenied
	}

	stored.Title = title
	stored.Description = &description
	stored.Status = status
	stored.AssigneeID = assigneeID
	return stored, nil
}

func (r *issueRepo) Delete(ctx context.Context, issueID, userID string) (*model.Issue, error) {
	stored, err := r.FindAuthorized(ctx, issueID, userID)
	if err != nil {
		return nil, err
	}

	// Удалять может только репортёр
	if stored.ReporterID != userID {
		return nil, ErrDenied
	}

	query := fmt.Sprintf(`
		DELETE FROM issues
		WHERE issue_id = $1 AND created_at = $2
		RETURNING %s`, issueColumns)

	deleted, err := scanIssue(r.db.QueryRow(ctx, query, stored.IssueID, stored.CreatedAt))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDenied
		}
		return nil, fmt.Errorf("ошибка удаления задачи: %w", err)
	}
	return deleted, nil
}

// AppendAttachment дописывает URL атомарно на стороне БД: конкатенация
// массива выполняется под блокировкой строки, конкурентные вызовы
// не теряют элементы. Список только растёт.
func (r *issueRepo) AppendAttachment(ctx context.Context, issueID, userID, url string) error {
	stored, err := r.FindAuthorized(ctx, issueID, userID)
	if err != nil {
		return err
	}

	query := `
		UPDATE issues
		SET attachments = attachments || $3::text
		WHERE issue_id = $1 AND created_at = $2`

	tag, err := r.db.Exec(ctx, query, stored.IssueID, stored.CreatedAt, url)
	if err != nil {
		return fmt.Errorf("ошибка добавления вложения: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrDenied
	}
	return nil
}
