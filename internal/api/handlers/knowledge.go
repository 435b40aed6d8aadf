// knowledge.go - обработчики базы знаний: папки и документы проекта.
// Проект задаётся параметром project_id; доступ проверяет сервисный слой.
package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/project-assistant/internal/api/errors"
	"github.com/bigkaa/project-assistant/internal/domain/diff"
	"github.com/bigkaa/project-assistant/internal/domain/model"
	"github.com/bigkaa/project-assistant/internal/service"
)

// multipartOverhead - запас на служебные части multipart сверх лимита файла.
const multipartOverhead = 1 << 20

// KnowledgeHandler - обработчик папок, документов и заявок агентов.
type KnowledgeHandler struct {
	knowledge      *service.KnowledgeService
	maxUploadBytes int64
	logger         *slog.Logger
}

// NewKnowledgeHandler создаёт обработчик базы знаний.
func NewKnowledgeHandler(knowledge *service.KnowledgeService, maxUploadBytes int64, logger *slog.Logger) *KnowledgeHandler {
	return &KnowledgeHandler{
		knowledge:      knowledge,
		maxUploadBytes: maxUploadBytes,
		logger:         logger.With(slog.String("component", "knowledge_handler")),
	}
}

func projectID(r *http.Request) string {
	return strings.TrimSpace(r.URL.Query().Get("project_id"))
}

// nullableID разбирает поле, где отсутствие, null и строка различаются.
// set=false - поле не передано; id=nil - явный null.
func nullableID(raw json.RawMessage) (id *string, set bool, err error) {
	if len(raw) == 0 {
		return nil, false, nil
	}
	if bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil, true, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, false, errors.New("ожидается строка или null")
	}
	s = strings.TrimSpace(s)
	if s == "" || s == service.RootParent {
		return nil, true, nil
	}
	return &s, true, nil
}

// --- Папки ---

// ListFolders - GET /api/knowledge/folders?project_id=&parent_id=.
func (h *KnowledgeHandler) ListFolders(w http.ResponseWriter, r *http.Request) {
	folders, err := h.knowledge.ListFolders(r.Context(), actor(r), projectID(r), r.URL.Query().Get("parent_id"))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"folders": toFolders(folders)})
}

// FolderTree - GET /api/knowledge/folders/tree?project_id=.
func (h *KnowledgeHandler) FolderTree(w http.ResponseWriter, r *http.Request) {
	tree, err := h.knowledge.FolderTree(r.Context(), actor(r), projectID(r))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toFolderTree(tree))
}

// GetFolder - GET /api/knowledge/folders/{id}?project_id=.
func (h *KnowledgeHandler) GetFolder(w http.ResponseWriter, r *http.Request) {
	f, err := h.knowledge.GetFolder(r.Context(), actor(r), projectID(r), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toFolder(f))
}

type createFolderRequest struct {
	Name           string          `json:"name"`
	Description    string          `json:"description"`
	ParentFolderID json.RawMessage `json:"parent_folder_id"`
}

// CreateFolder - POST /api/knowledge/folders?project_id=.
func (h *KnowledgeHandler) CreateFolder(w http.ResponseWriter, r *http.Request) {
	var req createFolderRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	parent, _, err := nullableID(req.ParentFolderID)
	if err != nil {
		apierrors.ValidationError(w, "parent_folder_id: "+err.Error())
		return
	}
	f, err := h.knowledge.CreateFolder(r.Context(), actor(r), projectID(r), service.FolderInput{
		Name:           req.Name,
		Description:    req.Description,
		ParentFolderID: parent,
	})
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, toFolder(f))
}

type updateFolderRequest struct {
	Name           *string         `json:"name"`
	Description    *string         `json:"description"`
	ParentFolderID json.RawMessage `json:"parent_folder_id"`
}

// UpdateFolder - PATCH /api/knowledge/folders/{id}?project_id=.
// parent_folder_id: null - перенос в корень, отсутствие - без переноса.
func (h *KnowledgeHandler) UpdateFolder(w http.ResponseWriter, r *http.Request) {
	var req updateFolderRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	parent, setParent, err := nullableID(req.ParentFolderID)
	if err != nil {
		apierrors.ValidationError(w, "parent_folder_id: "+err.Error())
		return
	}
	f, err := h.knowledge.UpdateFolder(r.Context(), actor(r), projectID(r), chi.URLParam(r, "id"), service.FolderPatch{
		Name:           req.Name,
		Description:    req.Description,
		SetParent:      setParent,
		ParentFolderID: parent,
	})
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toFolder(f))
}

// DeleteFolder - DELETE /api/knowledge/folders/{id}?project_id=. Только пустые папки.
func (h *KnowledgeHandler) DeleteFolder(w http.ResponseWriter, r *http.Request) {
	if err := h.knowledge.DeleteFolder(r.Context(), actor(r), projectID(r), chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type folderCountsResponse struct {
	FolderID       string `json:"folder_id"`
	DocumentCount  int    `json:"document_count"`
	SubfolderCount int    `json:"subfolder_count"`
}

// RecountFolders - POST /api/knowledge/folders/recount?project_id=.
func (h *KnowledgeHandler) RecountFolders(w http.ResponseWriter, r *http.Request) {
	counts, err := h.knowledge.RecountFolders(r.Context(), actor(r), projectID(r))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	out := make([]folderCountsResponse, 0, len(counts))
	for _, c := range counts {
		out = append(out, folderCountsResponse{
			FolderID:       c.FolderID,
			DocumentCount:  c.DocumentCount,
			SubfolderCount: c.SubfolderCount,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"folders": out})
}

// --- Документы ---

// ListDocuments - GET /api/knowledge/documents?project_id=&folder_id=&search=&file_type=&limit=&offset=.
func (h *KnowledgeHandler) ListDocuments(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := paginationDefaults(r)
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}
	q := r.URL.Query()
	f := model.DocumentFilter{
		ProjectID: projectID(r),
		FolderID:  optionalString(r, "folder_id"),
		Search:    q.Get("search"),
		FileType:  q.Get("file_type"),
		Limit:     limit,
		Offset:    offset,
	}
	if f.FolderID != nil && *f.FolderID == service.RootParent {
		f.FolderID, f.RootOnly = nil, true
	}
	docs, err := h.knowledge.ListDocuments(r.Context(), actor(r), f)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	out := make([]documentResponse, 0, len(docs))
	for _, d := range docs {
		out = append(out, toDocument(d, false))
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": out, "limit": limit, "offset": offset})
}

// GetDocument - GET /api/knowledge/documents/{id}.
func (h *KnowledgeHandler) GetDocument(w http.ResponseWriter, r *http.Request) {
	d, err := h.knowledge.GetDocument(r.Context(), actor(r), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toDocument(d, true))
}

type createDocumentRequest struct {
	Title    string          `json:"title"`
	Content  string          `json:"content"`
	FolderID json.RawMessage `json:"folder_id"`
	FileName string          `json:"file_name"`
	FileType string          `json:"file_type"`
	Tags     []string        `json:"tags"`
}

// CreateDocument - POST /api/knowledge/documents?project_id=.
// Принимает multipart/form-data (file, folder_id, title, tags) или JSON.
func (h *KnowledgeHandler) CreateDocument(w http.ResponseWriter, r *http.Request) {
	var (
		in  service.DocumentInput
		err error
	)
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		in, err = h.readUpload(w, r)
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				apierrors.PayloadTooLarge(w, fmt.Sprintf("Файл превышает %d байт", h.maxUploadBytes))
				return
			}
			apierrors.ValidationError(w, err.Error())
			return
		}
	} else {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes+multipartOverhead)
		var req createDocumentRequest
		if !decodeBody(w, r, &req) {
			return
		}
		folder, _, ferr := nullableID(req.FolderID)
		if ferr != nil {
			apierrors.ValidationError(w, "folder_id: "+ferr.Error())
			return
		}
		in = service.DocumentInput{
			Title:    req.Title,
			Content:  req.Content,
			FolderID: folder,
			FileName: req.FileName,
			FileType: req.FileType,
			Tags:     req.Tags,
		}
	}

	d, err := h.knowledge.CreateDocument(r.Context(), actor(r), projectID(r), in)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, toDocument(d, false))
}

// readUpload разбирает multipart-загрузку документа.
// Файл читается целиком: содержимое хранится в БД как текст.
func (h *KnowledgeHandler) readUpload(w http.ResponseWriter, r *http.Request) (service.DocumentInput, error) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes+multipartOverhead)
	if err := r.ParseMultipartForm(h.maxUploadBytes); err != nil {
		return service.DocumentInput{}, err
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile("file")
	if err != nil {
		return service.DocumentInput{}, errors.New("поле file обязательно")
	}
	defer file.Close()

	content, err := io.ReadAll(io.LimitReader(file, h.maxUploadBytes+1))
	if err != nil {
		return service.DocumentInput{}, fmt.Errorf("чтение файла: %w", err)
	}

	in := service.DocumentInput{
		Title:    r.FormValue("title"),
		Content:  string(content),
		FileName: header.Filename,
		Tags:     splitTags(r.MultipartForm.Value["tags"]),
	}
	if folder := strings.TrimSpace(r.FormValue("folder_id")); folder != "" && folder != service.RootParent {
		in.FolderID = &folder
	}
	return in, nil
}

// splitTags принимает теги повторяющимися полями и/или через запятую.
func splitTags(values []string) []string {
	var tags []string
	for _, v := range values {
		for _, t := range strings.Split(v, ",") {
			if t = strings.TrimSpace(t); t != "" {
				tags = append(tags, t)
			}
		}
	}
	return tags
}

type updateDocumentRequest struct {
	Title           *string         `json:"title"`
	Content         *string         `json:"content"`
	FolderID        json.RawMessage `json:"folder_id"`
	Tags            *[]string       `json:"tags"`
	ExpectedVersion int             `json:"expected_version"`
}

// UpdateDocument - PUT /api/knowledge/documents/{id}: новая версия документа.
// expected_version > 0 - 409 при параллельном изменении.
func (h *KnowledgeHandler) UpdateDocument(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes+multipartOverhead)
	var req updateDocumentRequest
	if !decodeBody(w, r, &req) {
		return
	}
	folder, setFolder, err := nullableID(req.FolderID)
	if err != nil {
		apierrors.ValidationError(w, "folder_id: "+err.Error())
		return
	}
	p := service.DocumentPatch{
		Title:           req.Title,
		Content:         req.Content,
		SetFolder:       setFolder,
		FolderID:        folder,
		ExpectedVersion: req.ExpectedVersion,
	}
	if req.Tags != nil {
		p.SetTags = true
		p.Tags = *req.Tags
	}

	d, err := h.knowledge.UpdateDocument(r.Context(), actor(r), chi.URLParam(r, "id"), p)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toDocument(d, true))
}

// DeleteDocument - DELETE /api/knowledge/documents/{id}.
func (h *KnowledgeHandler) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	if err := h.knowledge.DeleteDocument(r.Context(), actor(r), chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListVersions - GET /api/knowledge/documents/{id}/versions.
func (h *KnowledgeHandler) ListVersions(w http.ResponseWriter, r *http.Request) {
	versions, err := h.knowledge.ListVersions(r.Context(), actor(r), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	out := make([]versionResponse, 0, len(versions))
	for _, v := range versions {
		out = append(out, versionResponse{
			DocumentID: v.DocumentID,
			Version:    v.Version,
			Title:      v.Title,
			AuthorID:   v.AuthorID,
			CreatedAt:  v.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"versions": out})
}

type compareResponse struct {
	DocumentID  string            `json:"document_id"`
	From        int               `json:"from"`
	To          int               `json:"to"`
	Changed     bool              `json:"changed"`
	Diff        *diff.Comparison  `json:"diff"`
	Suggestions []diff.Suggestion `json:"suggestions"`
}

// CompareVersions - GET /api/knowledge/documents/{id}/compare?from=&to=.
// to=0 - текущая версия, from=0 - предыдущая перед to.
func (h *KnowledgeHandler) CompareVersions(w http.ResponseWriter, r *http.Request) {
	from, err := queryInt(r, "from", 0)
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}
	to, err := queryInt(r, "to", 0)
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}
	c, err := h.knowledge.CompareVersions(r.Context(), actor(r), chi.URLParam(r, "id"), from, to)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	suggestions := c.Suggestions
	if suggestions == nil {
		suggestions = []diff.Suggestion{}
	}
	writeJSON(w, http.StatusOK, compareResponse{
		DocumentID:  c.DocumentID,
		From:        c.From,
		To:          c.To,
		Changed:     c.Comparison.Changed(),
		Diff:        c.Comparison,
		Suggestions: suggestions,
	})
}
