package model

import "time"

// Статусы заявок агентов.
const (
	SubmissionPending   = "pending"
	SubmissionProcessed = "processed"
	SubmissionRejected  = "rejected"
)

// AgentSubmission - материал, присланный автоматическим агентом и ожидающий решения.
// Переходы: pending → processed | rejected; оба конечные.
type AgentSubmission struct {
	ID             string
	ProjectID      string
	AgentID        string
	AgentName      string
	SubmissionType string
	Title          string
	Content        string
	FileName       string
	Status         string
	Metadata       map[string]any
	// DocumentID - документ, созданный при одобрении
	DocumentID  *string
	ProcessedBy *string
	ProcessedAt *time.Time
	CreatedAt   time.Time
}
