// submissions.go - обработчики заявок агентов в базу знаний.
package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/bigkaa/project-assistant/internal/service"
)

// ListSubmissions - GET /api/knowledge/agent-submissions?project_id=&status=.
func (h *KnowledgeHandler) ListSubmissions(w http.ResponseWriter, r *http.Request) {
	subs, err := h.knowledge.ListSubmissions(r.Context(), actor(r), projectID(r), r.URL.Query().Get("status"))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	out := make([]submissionResponse, 0, len(subs))
	for _, s := range subs {
		out = append(out, toSubmission(s))
	}
	writeJSON(w, http.StatusOK, map[string]any{"submissions": out})
}

type createSubmissionRequest struct {
	AgentID        string         `json:"agent_id"`
	AgentName      string         `json:"agent_name"`
	SubmissionType string         `json:"submission_type"`
	Title          string         `json:"title"`
	Content        string         `json:"content"`
	FileName       string         `json:"file_name"`
	Metadata       map[string]any `json:"metadata"`
}

// CreateSubmission - POST /api/knowledge/agent-submissions?project_id=.
func (h *KnowledgeHandler) CreateSubmission(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes+multipartOverhead)
	var req createSubmissionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	sub, err := h.knowledge.CreateSubmission(r.Context(), actor(r), projectID(r), service.SubmissionInput{
		AgentID:        req.AgentID,
		AgentName:      req.AgentName,
		SubmissionType: req.SubmissionType,
		Title:          req.Title,
		Content:        req.Content,
		FileName:       req.FileName,
		Metadata:       req.Metadata,
	})
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, toSubmission(sub))
}

type processSubmissionRequest struct {
	Action   string   `json:"action"`
	FolderID *string  `json:"folder_id"`
	Reason   string   `json:"reason"`
	Tags     []string `json:"tags"`
}

// ProcessSubmission - POST /api/knowledge/agent-submissions/{id}/process?project_id=.
// approve создаёт документ, reject сохраняет причину; повторная обработка - 409.
func (h *KnowledgeHandler) ProcessSubmission(w http.ResponseWriter, r *http.Request) {
	var req processSubmissionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	sub, err := h.knowledge.ProcessSubmission(r.Context(), actor(r), projectID(r), chi.URLParam(r, "id"), service.ProcessInput{
		Action:   req.Action,
		FolderID: req.FolderID,
		Reason:   req.Reason,
		Tags:     req.Tags,
	})
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toSubmission(sub))
}
