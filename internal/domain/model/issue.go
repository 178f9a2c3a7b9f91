package model

import "time"

// Status — статус задачи. Фиксированный набор значений, переходы между
// статусами не ограничены (workflow TO DO → IN PROGRESS → … рекомендательный,
// сервер его не проверяет).
type Status string

const (
	StatusToDo       Status = "TO DO"
	StatusInProgress Status = "IN PROGRESS"
	StatusInReview   Status = "IN REVIEW"
	StatusResolved   Status = "RESOLVED"
	StatusClosed     Status = "CLOSED"
)

// ValidStatus проверяет, входит ли значение в список допустимых статусов.
func ValidStatus(s Status) bool {
	switch s {
	case StatusToDo, StatusInProgress, StatusInReview, StatusResolved, StatusClosed:
		return true
	}
	return false
}

// Issue — задача (issue). Единственная сущность системы.
// Хранится в таблице issues с физическим ключом (issue_id, created_at);
// логическая идентичность — issue_id.
type Issue struct {
	// IssueID — UUID задачи, генерируется при создании, неизменяем
	IssueID string `json:"issueId"`
	// ReporterID — идентификатор создавшего пользователя (sub из JWT).
	// Неизменяем, ключ видимости и единственное право на удаление.
	ReporterID string `json:"reporterId"`
	// AssigneeID — идентификатор исполнителя (может отсутствовать)
	AssigneeID *string `json:"assigneeId"`
	// Title — заголовок задачи
	Title string `json:"title"`
	// Description — описание (может отсутствовать)
	Description *string `json:"description"`
	// Status — текущий статус
	Status Status `json:"status"`
	// Attachments — публичные URL вложений. Только добавление в конец:
	// система никогда не укорачивает и не переупорядочивает список.
	Attachments []string `json:"attachments"`
	// CreatedAt — время создания (UTC), часть физического ключа
	CreatedAt time.Time `json:"createdAt"`
}

// IssueUpdate — частичное обновление задачи. nil означает «поле не передано» —
// сохранённое значение остаётся прежним. Исключение: если description
// не передан и в БД отсутствует, записывается пустая строка.
type IssueUpdate struct {
	// Title — новый заголовок
	Title *string `json:"title"`
	// Description — новое описание
	Description *string `json:"description"`
	// Status — новый статус
	Status *Status `json:"status"`
	// AssigneeID — новый исполнитель. Пустая строка, как и nil,
	// сохраняет прежнее значение.
	AssigneeID *string `json:"assigneeId"`
}
