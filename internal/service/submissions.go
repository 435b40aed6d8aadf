// submissions.go - заявки агентов: приём, одобрение и отклонение.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bigkaa/project-assistant/internal/domain/model"
	"github.com/bigkaa/project-assistant/internal/domain/rbac"
	"github.com/bigkaa/project-assistant/internal/repository"
)

// Решения по заявке.
const (
	SubmissionApprove = "approve"
	SubmissionReject  = "reject"
)

// Ключи metadata заявки.
const (
	metaSubmittedBy     = "submitted_by"
	metaRejectionReason = "rejection_reason"
)

// SubmissionInput - заявка агента.
type SubmissionInput struct {
	AgentID        string
	AgentName      string
	SubmissionType string
	Title          string
	Content        string
	FileName       string
	Metadata       map[string]any
}

// ProcessInput - решение по заявке.
type ProcessInput struct {
	Action   string
	FolderID *string
	Reason   string
	Tags     []string
}

// ListSubmissions возвращает заявки проекта; status пусто - все.
func (s *KnowledgeService) ListSubmissions(ctx context.Context, actor Actor, projectID, status string) ([]*model.AgentSubmission, error) {
	if err := s.authorize(ctx, actor, projectID, rbac.PermKnowledgeRead); err != nil {
		return nil, err
	}
	var st *string
	if status != "" {
		switch status {
		case model.SubmissionPending, model.SubmissionProcessed, model.SubmissionRejected:
		default:
			return nil, validationf("недопустимый status %q", status)
		}
		st = &status
	}
	list, err := s.store.Repos().Submissions.List(ctx, projectID, st)
	return list, translate(err)
}

// CreateSubmission принимает заявку агента в статусе pending.
// Если metadata не содержит submitted_by, автором считается актор.
func (s *KnowledgeService) CreateSubmission(ctx context.Context, actor Actor, projectID string, in SubmissionInput) (*model.AgentSubmission, error) {
	if err := s.authorize(ctx, actor, projectID, rbac.PermKnowledgeWrite); err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.AgentID) == "" {
		return nil, validationf("agent_id обязателен")
	}
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, validationf("title обязателен")
	}
	if err := s.checkSize(in.Content); err != nil {
		return nil, err
	}

	meta := make(map[string]any, len(in.Metadata)+1)
	for k, v := range in.Metadata {
		meta[k] = v
	}
	if _, ok := meta[metaSubmittedBy]; !ok {
		meta[metaSubmittedBy] = actor.UserID
	}
	typ := strings.TrimSpace(in.SubmissionType)
	if typ == "" {
		typ = "document"
	}

	sub := &model.AgentSubmission{
		ProjectID:      projectID,
		AgentID:        strings.TrimSpace(in.AgentID),
		AgentName:      strings.TrimSpace(in.AgentName),
		SubmissionType: typ,
		Title:          title,
		Content:        in.Content,
		FileName:       strings.TrimSpace(in.FileName),
		Status:         model.SubmissionPending,
		Metadata:       meta,
	}
	if err := s.store.Repos().Submissions.Create(ctx, sub); err != nil {
		return nil, translate(err)
	}

	s.logger.Info("Заявка агента принята",
		slog.String("id", sub.ID),
		slog.String("project_id", projectID),
		slog.String("agent_id", sub.AgentID),
	)
	return sub, nil
}

// ProcessSubmission одобряет или отклоняет заявку.
// Одобрение создаёт документ в той же транзакции. Повторная обработка - ErrInvalidTransition.
// После фиксации автор заявки получает уведомление.
func (s *KnowledgeService) ProcessSubmission(ctx context.Context, actor Actor, projectID, id string, in ProcessInput) (*model.AgentSubmission, error) {
	if err := s.authorize(ctx, actor, projectID, rbac.PermKnowledgeAdmin); err != nil {
		return nil, err
	}
	if in.Action != SubmissionApprove && in.Action != SubmissionReject {
		return nil, validationf("недопустимое действие %q: ожидается %s или %s", in.Action, SubmissionApprove, SubmissionReject)
	}

	var result *model.AgentSubmission
	err := s.store.InTx(ctx, func(r *repository.Repos) error {
		sub, err := r.Submissions.GetForUpdate(ctx, projectID, id)
		if err != nil {
			return err
		}
		if sub.Status != model.SubmissionPending {
			return fmt.Errorf("%w: заявка уже в статусе %s", ErrInvalidTransition, sub.Status)
		}
		if sub.Metadata == nil {
			sub.Metadata = map[string]any{}
		}

		switch in.Action {
		case SubmissionApprove:
			doc, err := s.newDocument(projectID, actor.UserID, DocumentInput{
				Title:    sub.Title,
				Content:  sub.Content,
				FolderID: in.FolderID,
				FileName: sub.FileName,
				Tags:     in.Tags,
			})
			if err != nil {
				return err
			}
			if err := s.insertDocument(ctx, r, doc); err != nil {
				return err
			}
			sub.Status = model.SubmissionProcessed
			sub.DocumentID = &doc.ID
		case SubmissionReject:
			sub.Status = model.SubmissionRejected
			if reason := strings.TrimSpace(in.Reason); reason != "" {
				sub.Metadata[metaRejectionReason] = reason
			}
		}
		processedBy := actor.UserID
		sub.ProcessedBy = &processedBy

		if err := r.Submissions.Finish(ctx, sub); err != nil {
			if errors.Is(err, repository.ErrConflict) {
				return fmt.Errorf("%w: заявка уже обработана", ErrInvalidTransition)
			}
			return err
		}
		result = sub
		return nil
	})
	if err != nil {
		return nil, translate(err)
	}

	s.logger.Info("Заявка агента обработана",
		slog.String("id", id),
		slog.String("status", result.Status),
		slog.String("processed_by", actor.UserID),
	)
	s.notifySubmitter(ctx, result)
	return result, nil
}

func (s *KnowledgeService) notifySubmitter(ctx context.Context, sub *model.AgentSubmission) {
	submitter, _ := sub.Metadata[metaSubmittedBy].(string)
	if submitter == "" || s.notifications == nil {
		return
	}

	in := NotificationInput{
		UserID:    submitter,
		ProjectID: &sub.ProjectID,
		Metadata:  map[string]any{"category": "agent_submission", "submissionId": sub.ID},
	}
	if sub.Status == model.SubmissionProcessed {
		in.Title = "Материал принят в базу знаний"
		in.Message = fmt.Sprintf("Заявка «%s» одобрена, документ создан.", sub.Title)
		in.Type = model.NotificationTypeSuccess
		if sub.DocumentID != nil {
			in.Metadata["documentId"] = *sub.DocumentID
		}
	} else {
		in.Title = "Материал отклонён"
		in.Message = fmt.Sprintf("Заявка «%s» отклонена.", sub.Title)
		if reason, ok := sub.Metadata[metaRejectionReason].(string); ok {
			in.Message += " Причина: " + reason
		}
		in.Type = model.NotificationTypeWarning
	}
	s.notifications.NotifySafe(ctx, in)
}
