package repository

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/arturkryukov/issuetrack/internal/config"
	"github.com/arturkryukov/issuetrack/internal/database"
	"github.com/arturkryukov/issuetrack/internal/domain/model"
)

// setupTestDB запускает PostgreSQL контейнер, применяет миграции.
// Возвращает pgxpool.Pool, контейнер останавливается через t.Cleanup.
func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()

	if os.Getenv("TEST_INTEGRATION") == "" {
		t.Skip("Пропуск интеграционного теста: TEST_INTEGRATION не установлена")
	}

	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"docker.io/postgres:17-alpine",
		postgres.WithDatabase("issuetrack_test"),
		postgres.WithUsername("issuetrack"),
		postgres.WithPassword("test-password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("Не удалось запустить PostgreSQL контейнер: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("Ошибка остановки контейнера: %v", err)
		}
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Не удалось получить host контейнера: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Не удалось получить port контейнера: %v", err)
	}

	// Настраиваем env для config.Load()
	os.Setenv("IT_DB_HOST", host)
	os.Setenv("IT_DB_PORT", port.Port())
	os.Setenv("IT_DB_NAME", "issuetrack_test")
	os.Setenv("IT_DB_USER", "issuetrack")
	os.Setenv("IT_DB_PASSWORD", "test-password")
	os.Setenv("IT_DB_SSL_MODE", "disable")
	os.Setenv("IT_S3_ENDPOINT", "localhost:9000")
	os.Setenv("IT_S3_ACCESS_KEY", "test")
	os.Setenv("IT_S3_SECRET_KEY", "test")
	os.Setenv("IT_KEYCLOAK_URL", "http://localhost:8080")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Ошибка загрузки конфигурации: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))

	// Применяем миграции
	if err := database.Migrate(cfg, logger); err != nil {
		t.Fatalf("Ошибка миграций: %v", err)
	}

	// Подключаемся
	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		t.Fatalf("Ошибка подключения: %v", err)
	}
	t.Cleanup(func() { pool.Close() })

	return pool
}

// newTestIssue создаёт задачу с заполненными обязательными полями.
func newTestIssue(reporterID string) *model.Issue {
	return &model.Issue{
		IssueID:     uuid.New().String(),
		CreatedAt:   time.Now().UTC().Truncate(time.Microsecond),
		ReporterID:  reporterID,
		Title:       "Bug A",
		Status:      model.StatusToDo,
		Attachments: []string{},
	}
}

func strPtr(s string) *string { return &s }

func TestIssueCreateAndFindAuthorized(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	repo := NewIssueRepository(pool)

	issue := newTestIssue("U1")
	if err := repo.Create(ctx, issue); err != nil {
		t.Fatalf("Create() ошибка: %v", err)
	}

	// Round-trip: создатель видит ровно то, что сохранил
	got, err := repo.FindAuthorized(ctx, issue.IssueID, "U1")
	if err != nil {
		t.Fatalf("FindAuthorized() ошибка: %v", err)
	}
	if got.IssueID != issue.IssueID {
		t.Errorf("IssueID = %q, хотели %q", got.IssueID, issue.IssueID)
	}
	if got.ReporterID != "U1" {
		t.Errorf("ReporterID = %q, хотели U1", got.ReporterID)
	}
	if got.AssigneeID != nil {
		t.Errorf("AssigneeID = %v, хотели nil", *got.AssigneeID)
	}
	if got.Status != model.StatusToDo {
		t.Errorf("Status = %q, хотели %q", got.Status, model.StatusToDo)
	}
	if len(got.Attachments) != 0 {
		t.Errorf("Attachments = %v, хотели пустой список", got.Attachments)
	}
	if !got.CreatedAt.Equal(issue.CreatedAt) {
		t.Errorf("CreatedAt = %v, хотели %v", got.CreatedAt, issue.CreatedAt)
	}

	// Повторная вставка с тем же ключом — конфликт
	if err := repo.Create(ctx, issue); !errors.Is(err, ErrConflict) {
		t.Errorf("повторный Create() = %v, хотели ErrConflict", err)
	}
}

// TestFindAuthorized_DenialParity: для третьей стороны и для несуществующего
// ID возвращается один и тот же вид ошибки.
func TestFindAuthorized_DenialParity(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	repo := NewIssueRepository(pool)

	issue := newTestIssue("U1")
	issue.AssigneeID = strPtr("U2")
	if err := repo.Create(ctx, issue); err != nil {
		t.Fatalf("Create() ошибка: %v", err)
	}

	// Репортёр и исполнитель видят задачу
	if _, err := repo.FindAuthorized(ctx, issue.IssueID, "U1"); err != nil {
		t.Errorf("FindAuthorized(репортёр) ошибка: %v", err)
	}
	if _, err := repo.FindAuthorized(ctx, issue.IssueID, "U2"); err != nil {
		t.Errorf("FindAuthorized(исполнитель) ошибка: %v", err)
	}

	// Третья сторона — ErrDenied
	_, errForbidden := repo.FindAuthorized(ctx, issue.IssueID, "U3")
	if !errors.Is(errForbidden, ErrDenied) {
		t.Errorf("FindAuthorized(чужой) = %v, хотели ErrDenied", errForbidden)
	}

	// Несуществующий ID — тот же вид ошибки
	_, errMissing := repo.FindAuthorized(ctx, uuid.New().String(), "U1")
	if !errors.Is(errMissing, ErrDenied) {
		t.Errorf("FindAuthorized(нет задачи) = %v, хотели ErrDenied", errMissing)
	}
}

func TestListAll_ConcatenationWithDuplicate(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	repo := NewIssueRepository(pool)

	// U1 — репортёр одной задачи, исполнитель другой, и оба сразу в третьей
	reported := newTestIssue("U1")
	assigned := newTestIssue("U9")
	assigned.AssigneeID = strPtr("U1")
	both := newTestIssue("U1")
	both.AssigneeID = strPtr("U1")

	for _, issue := range []*model.Issue{reported, assigned, both} {
		if err := repo.Create(ctx, issue); err != nil {
			t.Fatalf("Create() ошибка: %v", err)
		}
	}

	all, err := repo.ListAll(ctx, "U1")
	if err != nil {
		t.Fatalf("ListAll() ошибка: %v", err)
	}

	// назначенные (assigned, both) ++ созданные (reported, both):
	// задача both присутствует дважды — конкатенация без дедупликации
	if len(all) != 4 {
		t.Fatalf("ListAll() вернул %d задач, хотели 4 (с дубликатом)", len(all))
	}

	count := map[string]int{}
	for _, i := range all {
		count[i.IssueID]++
	}
	if count[both.IssueID] != 2 {
		t.Errorf("задача и репортёра, и исполнителя встречается %d раз, хотели 2", count[both.IssueID])
	}
	if count[reported.IssueID] != 1 || count[assigned.IssueID] != 1 {
		t.Errorf("счётчики задач: %v", count)
	}

	// Порядок: сперва назначенные, затем созданные
	assignedPart := all[:2]
	for _, i := range assignedPart {
		if i.AssigneeID == nil || *i.AssigneeID != "U1" {
			t.Errorf("в первой части ListAll задача %s без исполнителя U1", i.IssueID)
		}
	}
}

func TestUpdate_PartialMerge(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	repo := NewIssueRepository(pool)

	issue := newTestIssue("U1")
	issue.Description = strPtr("original description")
	if err := repo.Create(ctx, issue); err != nil {
		t.Fatalf("Create() ошибка: %v", err)
	}

	// Обновляем только статус — остальные поля не меняются
	status := model.StatusInProgress
	updated, err := repo.Update(ctx, issue.IssueID, "U1", &model.IssueUpdate{Status: &status})
	if err != nil {
		t.Fatalf("Update() ошибка: %v", err)
	}
	if updated.Status != model.StatusInProgress {
		t.Errorf("Status = %q, хотели IN PROGRESS", updated.Status)
	}
	if updated.Title != "Bug A" {
		t.Errorf("Title = %q, не должен был измениться", updated.Title)
	}
	if updated.Description == nil || *updated.Description != "original description" {
		t.Errorf("Description = %v, не должен был измениться", updated.Description)
	}

	got, err := repo.FindAuthorized(ctx, issue.IssueID, "U1")
	if err != nil {
		t.Fatalf("FindAuthorized() ошибка: %v", err)
	}
	if got.Status != model.StatusInProgress || got.Title != "Bug A" {
		t.Errorf("после Update: Status=%q, Title=%q", got.Status, got.Title)
	}
}

// TestUpdate_DescriptionFallback: если description отсутствует и в запросе,
// и в БД — становится пустой строкой, а не остаётся NULL.
func TestUpdate_DescriptionFallback(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	repo := NewIssueRepository(pool)

	issue := newTestIssue("U1")
	// Description не задан
	if err := repo.Create(ctx, issue); err != nil {
		t.Fatalf("Create() ошибка: %v", err)
	}

	title := "Bug A (renamed)"
	updated, err := repo.Update(ctx, issue.IssueID, "U1", &model.IssueUpdate{Title: &title})
	if err != nil {
		t.Fatalf("Update() ошибка: %v", err)
	}
	if updated.Description == nil || *updated.Description != "" {
		t.Errorf("Description = %v, хотели пустую строку", updated.Description)
	}

	got, err := repo.FindAuthorized(ctx, issue.IssueID, "U1")
	if err != nil {
		t.Fatalf("FindAuthorized() ошибка: %v", err)
	}
	if got.Description == nil || *got.Description != "" {
		t.Errorf("сохранённый Description = %v, хотели пустую строку", got.Description)
	}
}

// TestUpdate_EmptyAssigneeKeepsOld: пустой assigneeId сохраняет прежнего
// исполнителя.
func TestUpdate_EmptyAssigneeKeepsOld(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	repo := NewIssueRepository(pool)

	issue := newTestIssue("U1")
	issue.AssigneeID = strPtr("U2")
	if err := repo.Create(ctx, issue); err != nil {
		t.Fatalf("Create() ошибка: %v", err)
	}

	updated, err := repo.Update(ctx, issue.IssueID, "U1", &model.IssueUpdate{AssigneeID: strPtr("")})
	if err != nil {
		t.Fatalf("Update() ошибка: %v", err)
	}
	if updated.AssigneeID == nil || *updated.AssigneeID != "U2" {
		t.Errorf("AssigneeID = %v, хотели U2", updated.AssigneeID)
	}

	updated, err = repo.Update(ctx, issue.IssueID, "U1", &model.IssueUpdate{AssigneeID: strPtr("U3")})
	if err != nil {
		t.Fatalf("Update() ошибка: %v", err)
	}
	if updated.AssigneeID == nil || *updated.AssigneeID != "U3" {
		t.Errorf("AssigneeID = %v, хотели U3", updated.AssigneeID)
	}
}

// TestUpdate_DeniedForThirdParty: сценарий из контракта — U2 не репортёр и
// не исполнитель, обновление отклоняется, статус в БД не меняется.
func TestUpdate_DeniedForThirdParty(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	repo := NewIssueRepository(pool)

	issue := newTestIssue("U1")
	if err := repo.Create(ctx, issue); err != nil {
		t.Fatalf("Create() ошибка: %v", err)
	}

	status := model.StatusInProgress
	_, err := repo.Update(ctx, issue.IssueID, "U2", &model.IssueUpdate{Status: &status})
	if !errors.Is(err, ErrDenied) {
		t.Fatalf("Update(чужой) = %v, хотели ErrDenied", err)
	}

	got, err := repo.FindAuthorized(ctx, issue.IssueID, "U1")
	if err != nil {
		t.Fatalf("FindAuthorized() ошибка: %v", err)
	}
	if got.Status != model.StatusToDo {
		t.Errorf("Status = %q, должен был остаться TO DO", got.Status)
	}
}

func TestDelete_ReporterOnly(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	repo := NewIssueRepository(pool)

	issue := newTestIssue("U1")
	issue.AssigneeID = strPtr("U2")
	if err := repo.Create(ctx, issue); err != nil {
		t.Fatalf("Create() ошибка: %v", err)
	}

	// Исполнитель видит задачу, но удалить не может
	if _, err := repo.Delete(ctx, issue.IssueID, "U2"); !errors.Is(err, ErrDenied) {
		t.Errorf("Delete(исполнитель) = %v, хотели ErrDenied", err)
	}

	// Запись осталась нетронутой
	if _, err := repo.FindAuthorized(ctx, issue.IssueID, "U1"); err != nil {
		t.Errorf("задача пропала после отклонённого Delete: %v", err)
	}

	// Репортёр удаляет и получает запись до удаления
	deleted, err := repo.Delete(ctx, issue.IssueID, "U1")
	if err != nil {
		t.Fatalf("Delete(репортёр) ошибка: %v", err)
	}
	if deleted.IssueID != issue.IssueID || deleted.Title != "Bug A" {
		t.Errorf("Delete() вернул %+v, хотели запись до удаления", deleted)
	}

	// Задачи больше нет
	if _, err := repo.FindAuthorized(ctx, issue.IssueID, "U1"); !errors.Is(err, ErrDenied) {
		t.Errorf("FindAuthorized после Delete = %v, хотели ErrDenied", err)
	}
}

func TestAppendAttachment(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	repo := NewIssueRepository(pool)

	issue := newTestIssue("U1")
	if err := repo.Create(ctx, issue); err != nil {
		t.Fatalf("Create() ошибка: %v", err)
	}

	urls := []string{
		"https://minio.local:9000/issue-attachments/" + issue.IssueID + "/a1",
		"https://minio.local:9000/issue-attachments/" + issue.IssueID + "/a2",
	}
	for _, u := range urls {
		if err := repo.AppendAttachment(ctx, issue.IssueID, "U1", u); err != nil {
			t.Fatalf("AppendAttachment() ошибка: %v", err)
		}
	}

	got, err := repo.FindAuthorized(ctx, issue.IssueID, "U1")
	if err != nil {
		t.Fatalf("FindAuthorized() ошибка: %v", err)
	}
	if len(got.Attachments) != 2 {
		t.Fatalf("Attachments = %v, хотели 2 элемента", got.Attachments)
	}
	// Порядок добавления сохраняется
	if got.Attachments[0] != urls[0] || got.Attachments[1] != urls[1] {
		t.Errorf("Attachments = %v, порядок нарушен", got.Attachments)
	}

	// Чужому — ErrDenied
	if err := repo.AppendAttachment(ctx, issue.IssueID, "U7", "https://x/y"); !errors.Is(err, ErrDenied) {
		t.Errorf("AppendAttachment(чужой) = %v, хотели ErrDenied", err)
	}
}

// TestAppendAttachment_Concurrent: конкурентные добавления по одной задаче
// не теряют элементы — конкатенация массива атомарна на стороне БД.
func TestAppendAttachment_Concurrent(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	repo := NewIssueRepository(pool)

	issue := newTestIssue("U1")
	if err := repo.Create(ctx, issue); err != nil {
		t.Fatalf("Create() ошибка: %v", err)
	}

	const workers = 8
	var wg sync.WaitGroup
	errCh := make(chan error, workers)

	for n := 0; n < workers; n++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			url := "https://minio.local:9000/issue-attachments/" + issue.IssueID + "/" + uuid.New().String()
			if err := repo.AppendAttachment(ctx, issue.IssueID, "U1", url); err != nil {
				errCh <- err
			}
		}(n)
	}
	wg.Wait()
	close(errCh)

	for err := range errCh {
		t.Errorf("конкурентный AppendAttachment() ошибка: %v", err)
	}

	got, err := repo.FindAuthorized(ctx, issue.IssueID, "U1")
	if err != nil {
		t.Fatalf("FindAuthorized() ошибка: %v", err)
	}
	if len(got.Attachments) != workers {
		t.Errorf("Attachments содержит %d элементов, хотели %d (потерянные обновления)",
			len(got.Attachments), workers)
	}
}
