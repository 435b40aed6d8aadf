package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/bigkaa/project-assistant/internal/domain/model"
	"github.com/bigkaa/project-assistant/internal/domain/rbac"
)

func mustFolder(t *testing.T, fx *knowledgeFixture, name string, parent *string) *model.KnowledgeFolder {
	t.Helper()
	f, err := fx.svc.CreateFolder(context.Background(), fx.member, fx.project.ID, FolderInput{Name: name, ParentFolderID: parent})
	if err != nil {
		t.Fatalf("CreateFolder(%s): %v", name, err)
	}
	return f
}

func getFolder(t *testing.T, fx *knowledgeFixture, id string) *model.KnowledgeFolder {
	t.Helper()
	f, err := fx.store.Repos().Folders.GetByID(context.Background(), fx.project.ID, id)
	if err != nil {
		t.Fatalf("GetByID(%s): %v", id, err)
	}
	return f
}

// assertCountersConsistent проверяет, что счётчики совпадают с фактическими строками.
func assertCountersConsistent(t *testing.T, fx *knowledgeFixture) {
	t.Helper()
	fixed, err := fx.store.Repos().Folders.Recount(context.Background(), fx.project.ID)
	if err != nil {
		t.Fatalf("Recount: %v", err)
	}
	if len(fixed) != 0 {
		t.Errorf("счётчики расходятся с данными: %+v", fixed)
	}
}

func TestCreateFolder_PathAndCounters(t *testing.T) {
	fx := newKnowledgeFixture(t, 8)

	docs := mustFolder(t, fx, "Документация", nil)
	api := mustFolder(t, fx, "API", &docs.ID)

	if docs.Path != "/Документация" {
		t.Errorf("путь корня = %q", docs.Path)
	}
	if api.Path != "/Документация/API" {
		t.Errorf("путь дочерней папки = %q", api.Path)
	}
	if got := getFolder(t, fx, docs.ID).SubfolderCount; got != 1 {
		t.Errorf("subfolder_count родителя = %d, ожидается 1", got)
	}
	assertCountersConsistent(t, fx)
}

func TestCreateFolder_Validation(t *testing.T) {
	fx := newKnowledgeFixture(t, 2)
	ctx := context.Background()
	root := mustFolder(t, fx, "A", nil)
	child := mustFolder(t, fx, "B", &root.ID)

	tests := []struct {
		name string
		in   FolderInput
	}{
		{"пустое имя", FolderInput{Name: "  "}},
		{"слэш в имени", FolderInput{Name: "a/b"}},
		{"неизвестный родитель", FolderInput{Name: "x", ParentFolderID: ptr("00000000-0000-0000-0000-000000000000")}},
		{"превышение глубины", FolderInput{Name: "C", ParentFolderID: &child.ID}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := fx.svc.CreateFolder(ctx, fx.member, fx.project.ID, tt.in)
			if !errors.Is(err, ErrValidation) {
				t.Errorf("ожидается ErrValidation, получено %v", err)
			}
		})
	}
}

func TestCreateFolder_Access(t *testing.T) {
	fx := newKnowledgeFixture(t, 8)
	ctx := context.Background()

	tests := []struct {
		name  string
		actor Actor
		want  error
	}{
		{"гость без права записи", fx.guest, ErrForbidden},
		{"не участник проекта", fx.outsider, ErrForbidden},
		{"system_admin без членства", fx.sysadmin, nil},
		{"участник", fx.member, nil},
	}
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := fx.svc.CreateFolder(ctx, tt.actor, fx.project.ID, FolderInput{Name: "f" + string(rune('a'+i))})
			if tt.want == nil && err != nil {
				t.Fatalf("неожиданная ошибка: %v", err)
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Errorf("ожидается %v, получено %v", tt.want, err)
			}
		})
	}
}

func TestCreateFolder_DuplicateName(t *testing.T) {
	fx := newKnowledgeFixture(t, 8)
	mustFolder(t, fx, "A", nil)

	_, err := fx.svc.CreateFolder(context.Background(), fx.member, fx.project.ID, FolderInput{Name: "A"})
	if !errors.Is(err, ErrConflict) {
		t.Errorf("ожидается ErrConflict, получено %v", err)
	}
}

func TestUpdateFolder_MoveRewritesPathsAndCounters(t *testing.T) {
	fx := newKnowledgeFixture(t, 8)
	ctx := context.Background()

	a := mustFolder(t, fx, "A", nil)
	b := mustFolder(t, fx, "B", nil)
	c := mustFolder(t, fx, "C", &a.ID)
	d := mustFolder(t, fx, "D", &c.ID)

	moved, err := fx.svc.UpdateFolder(ctx, fx.member, fx.project.ID, c.ID, FolderPatch{SetParent: true, ParentFolderID: &b.ID})
	if err != nil {
		t.Fatalf("UpdateFolder: %v", err)
	}
	if moved.Path != "/B/C" {
		t.Errorf("путь перенесённой папки = %q", moved.Path)
	}
	if got := getFolder(t, fx, d.ID).Path; got != "/B/C/D" {
		t.Errorf("путь потомка = %q, ожидается /B/C/D", got)
	}
	if got := getFolder(t, fx, a.ID).SubfolderCount; got != 0 {
		t.Errorf("subfolder_count старого родителя = %d", got)
	}
	if got := getFolder(t, fx, b.ID).SubfolderCount; got != 1 {
		t.Errorf("subfolder_count нового родителя = %d", got)
	}
	assertCountersConsistent(t, fx)

	// Перенос в корень.
	moved, err = fx.svc.UpdateFolder(ctx, fx.member, fx.project.ID, c.ID, FolderPatch{SetParent: true})
	if err != nil {
		t.Fatalf("перенос в корень: %v", err)
	}
	if moved.ParentFolderID != nil || moved.Path != "/C" {
		t.Errorf("после переноса в корень: parent=%v path=%q", moved.ParentFolderID, moved.Path)
	}
	assertCountersConsistent(t, fx)
}

func TestUpdateFolder_Rename(t *testing.T) {
	fx := newKnowledgeFixture(t, 8)
	a := mustFolder(t, fx, "A", nil)
	b := mustFolder(t, fx, "B", &a.ID)

	renamed, err := fx.svc.UpdateFolder(context.Background(), fx.member, fx.project.ID, a.ID,
		FolderPatch{Name: ptr("Архив"), Description: ptr("старое")})
	if err != nil {
		t.Fatalf("UpdateFolder: %v", err)
	}
	if renamed.Path != "/Архив" || renamed.Description != "старое" {
		t.Errorf("после переименования: %+v", renamed)
	}
	if got := getFolder(t, fx, b.ID).Path; got != "/Архив/B" {
		t.Errorf("путь потомка = %q", got)
	}
}

func TestUpdateFolder_CycleRejected(t *testing.T) {
	fx := newKnowledgeFixture(t, 8)
	ctx := context.Background()

	a := mustFolder(t, fx, "A", nil)
	b := mustFolder(t, fx, "B", &a.ID)
	c := mustFolder(t, fx, "C", &b.ID)

	tests := []struct {
		name   string
		target string
	}{
		{"в саму себя", a.ID},
		{"в дочернюю", b.ID},
		{"во внука", c.ID},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := fx.svc.UpdateFolder(ctx, fx.member, fx.project.ID, a.ID,
				FolderPatch{SetParent: true, ParentFolderID: ptr(tt.target)})
			if !errors.Is(err, ErrCycle) {
				t.Errorf("ожидается ErrCycle, получено %v", err)
			}
		})
	}

	if got := getFolder(t, fx, a.ID); got.ParentFolderID != nil || got.Path != "/A" {
		t.Errorf("папка изменилась после отклонённого переноса: %+v", got)
	}
	assertCountersConsistent(t, fx)
}

func TestUpdateFolder_MoveBeyondDepth(t *testing.T) {
	fx := newKnowledgeFixture(t, 3)
	a := mustFolder(t, fx, "A", nil)
	b := mustFolder(t, fx, "B", &a.ID)
	x := mustFolder(t, fx, "X", nil)
	mustFolder(t, fx, "Y", &x.ID)

	// X(+Y) под B даёт глубину 4.
	_, err := fx.svc.UpdateFolder(context.Background(), fx.member, fx.project.ID, x.ID,
		FolderPatch{SetParent: true, ParentFolderID: &b.ID})
	if !errors.Is(err, ErrValidation) {
		t.Errorf("ожидается ErrValidation, получено %v", err)
	}
}

func TestDeleteFolder(t *testing.T) {
	fx := newKnowledgeFixture(t, 8)
	ctx := context.Background()
	a := mustFolder(t, fx, "A", nil)
	b := mustFolder(t, fx, "B", &a.ID)

	if err := fx.svc.DeleteFolder(ctx, fx.member, fx.project.ID, a.ID); !errors.Is(err, ErrConflict) {
		t.Errorf("удаление непустой папки: ожидается ErrConflict, получено %v", err)
	}

	if err := fx.svc.DeleteFolder(ctx, fx.member, fx.project.ID, b.ID); err != nil {
		t.Fatalf("DeleteFolder: %v", err)
	}
	if got := getFolder(t, fx, a.ID).SubfolderCount; got != 0 {
		t.Errorf("subfolder_count после удаления = %d", got)
	}
	if err := fx.svc.DeleteFolder(ctx, fx.member, fx.project.ID, b.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("повторное удаление: ожидается ErrNotFound, получено %v", err)
	}
	assertCountersConsistent(t, fx)
}

func TestFolderTree_ReportsOrphans(t *testing.T) {
	fx := newKnowledgeFixture(t, 8)
	a := mustFolder(t, fx, "A", nil)
	b := mustFolder(t, fx, "B", &a.ID)
	x := mustFolder(t, fx, "X", nil)
	y := mustFolder(t, fx, "Y", &x.ID)

	// X и Y ссылаются друг на друга: до них нельзя дойти от корней.
	fx.store.CorruptFolderParent(x.ID, &y.ID)

	tree, err := fx.svc.FolderTree(context.Background(), fx.guest, fx.project.ID)
	if err != nil {
		t.Fatalf("FolderTree: %v", err)
	}
	if len(tree.Roots) != 1 || tree.Roots[0].Folder.ID != a.ID {
		t.Fatalf("корни = %+v", tree.Roots)
	}
	if len(tree.Roots[0].Children) != 1 || tree.Roots[0].Children[0].Folder.ID != b.ID {
		t.Errorf("дети A = %+v", tree.Roots[0].Children)
	}
	if len(tree.Orphans) != 2 {
		t.Errorf("orphans = %d, ожидается 2", len(tree.Orphans))
	}
}

func TestListFolders_ParentFilter(t *testing.T) {
	fx := newKnowledgeFixture(t, 8)
	ctx := context.Background()
	a := mustFolder(t, fx, "A", nil)
	mustFolder(t, fx, "B", &a.ID)
	mustFolder(t, fx, "C", nil)

	tests := []struct {
		parent string
		want   int
	}{
		{"", 3},
		{RootParent, 2},
		{a.ID, 1},
	}
	for _, tt := range tests {
		list, err := fx.svc.ListFolders(ctx, fx.member, fx.project.ID, tt.parent)
		if err != nil {
			t.Fatalf("ListFolders(%q): %v", tt.parent, err)
		}
		if len(list) != tt.want {
			t.Errorf("ListFolders(%q) = %d папок, ожидается %d", tt.parent, len(list), tt.want)
		}
	}
}

func TestRecountFolders(t *testing.T) {
	fx := newKnowledgeFixture(t, 8)
	ctx := context.Background()
	a := mustFolder(t, fx, "A", nil)
	fx.store.SetFolderCounters(a.ID, 7, 3)

	if _, err := fx.svc.RecountFolders(ctx, fx.member, fx.project.ID); !errors.Is(err, ErrForbidden) {
		t.Errorf("пересчёт участником: ожидается ErrForbidden, получено %v", err)
	}

	fixed, err := fx.svc.RecountFolders(ctx, fx.padmin, fx.project.ID)
	if err != nil {
		t.Fatalf("RecountFolders: %v", err)
	}
	if len(fixed) != 1 || fixed[0].FolderID != a.ID || fixed[0].DocumentCount != 0 {
		t.Errorf("исправленные счётчики = %+v", fixed)
	}
	assertCountersConsistent(t, fx)
}

func TestDocumentLifecycle_CountersFollowRows(t *testing.T) {
	fx := newKnowledgeFixture(t, 8)
	ctx := context.Background()
	a := mustFolder(t, fx, "A", nil)
	b := mustFolder(t, fx, "B", nil)

	doc, err := fx.svc.CreateDocument(ctx, fx.member, fx.project.ID, DocumentInput{
		Content:  "# Заголовок\nтекст\n",
		FolderID: &a.ID,
		FileName: "notes/readme.MD",
		Tags:     []string{"api", " api ", "", "draft"},
	})
	if err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}
	if doc.Title != "readme" || doc.FileName != "readme.MD" || doc.FileType != "md" {
		t.Errorf("title/file = %q/%q/%q", doc.Title, doc.FileName, doc.FileType)
	}
	if strings.Join(doc.Tags, ",") != "api,draft" {
		t.Errorf("tags = %v", doc.Tags)
	}
	if doc.Version != 1 {
		t.Errorf("версия нового документа = %d", doc.Version)
	}
	if got := getFolder(t, fx, a.ID).DocumentCount; got != 1 {
		t.Errorf("document_count = %d", got)
	}

	updated, err := fx.svc.UpdateDocument(ctx, fx.member, doc.ID, DocumentPatch{
		Content:   ptr("# Заголовок\nновый текст\n"),
		SetFolder: true,
		FolderID:  &b.ID,
	})
	if err != nil {
		t.Fatalf("UpdateDocument: %v", err)
	}
	if updated.Version != 2 {
		t.Errorf("версия после изменения = %d", updated.Version)
	}
	if getFolder(t, fx, a.ID).DocumentCount != 0 || getFolder(t, fx, b.ID).DocumentCount != 1 {
		t.Error("счётчики папок не перенесены вместе с документом")
	}
	assertCountersConsistent(t, fx)

	versions, err := fx.svc.ListVersions(ctx, fx.guest, doc.ID)
	if err != nil {
		t.Fatalf("ListVersions: %v", err)
	}
	if len(versions) != 2 {
		t.Errorf("версий = %d", len(versions))
	}

	if err := fx.svc.DeleteDocument(ctx, fx.member, doc.ID); err != nil {
		t.Fatalf("DeleteDocument: %v", err)
	}
	if got := getFolder(t, fx, b.ID).DocumentCount; got != 0 {
		t.Errorf("document_count после удаления = %d", got)
	}
	if _, err := fx.svc.GetDocument(ctx, fx.member, doc.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("документ после удаления: %v", err)
	}
	assertCountersConsistent(t, fx)
}

func TestCreateDocument_Validation(t *testing.T) {
	fx := newKnowledgeFixture(t, 8)
	ctx := context.Background()

	tests := []struct {
		name string
		in   DocumentInput
	}{
		{"без заголовка и файла", DocumentInput{Content: "x"}},
		{"больше лимита", DocumentInput{Title: "big", Content: strings.Repeat("a", 2<<10)}},
		{"не UTF-8", DocumentInput{Title: "bin", Content: "\xff\xfe"}},
		{"чужая папка", DocumentInput{Title: "t", FolderID: ptr("00000000-0000-0000-0000-000000000001")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := fx.svc.CreateDocument(ctx, fx.member, fx.project.ID, tt.in)
			if !errors.Is(err, ErrValidation) {
				t.Errorf("ожидается ErrValidation, получено %v", err)
			}
		})
	}
}

func TestUpdateDocument_StaleVersion(t *testing.T) {
	fx := newKnowledgeFixture(t, 8)
	ctx := context.Background()
	doc, err := fx.svc.CreateDocument(ctx, fx.member, fx.project.ID, DocumentInput{Title: "t", Content: "a"})
	if err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}
	if _, err := fx.svc.UpdateDocument(ctx, fx.member, doc.ID, DocumentPatch{Content: ptr("b"), ExpectedVersion: 1}); err != nil {
		t.Fatalf("первое изменение: %v", err)
	}
	_, err = fx.svc.UpdateDocument(ctx, fx.member, doc.ID, DocumentPatch{Content: ptr("c"), ExpectedVersion: 1})
	if !errors.Is(err, ErrConflict) {
		t.Errorf("устаревшая версия: ожидается ErrConflict, получено %v", err)
	}
}

func TestDocumentAccess_OtherProject(t *testing.T) {
	fx := newKnowledgeFixture(t, 8)
	ctx := context.Background()
	doc, err := fx.svc.CreateDocument(ctx, fx.member, fx.project.ID, DocumentInput{Title: "t", Content: "a"})
	if err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}
	if _, err := fx.svc.GetDocument(ctx, fx.outsider, doc.ID); !errors.Is(err, ErrForbidden) {
		t.Errorf("чтение не участником: ожидается ErrForbidden, получено %v", err)
	}
	if _, err := fx.svc.GetDocument(ctx, fx.sysadmin, doc.ID); err != nil {
		t.Errorf("system_admin видит все проекты: %v", err)
	}
	if err := fx.svc.DeleteDocument(ctx, fx.guest, doc.ID); !errors.Is(err, ErrForbidden) {
		t.Errorf("удаление гостем: ожидается ErrForbidden, получено %v", err)
	}
}

func TestCompareVersions(t *testing.T) {
	fx := newKnowledgeFixture(t, 8)
	ctx := context.Background()
	doc, err := fx.svc.CreateDocument(ctx, fx.member, fx.project.ID, DocumentInput{
		Title:   "Guide",
		Content: "# Intro\nhello\n# Setup\nsteps\n",
	})
	if err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}
	if _, err := fx.svc.UpdateDocument(ctx, fx.member, doc.ID, DocumentPatch{Content: ptr("# Intro\nhello\n")}); err != nil {
		t.Fatalf("UpdateDocument: %v", err)
	}

	res, err := fx.svc.CompareVersions(ctx, fx.guest, doc.ID, 0, 0)
	if err != nil {
		t.Fatalf("CompareVersions: %v", err)
	}
	if res.From != 1 || res.To != 2 {
		t.Errorf("версии по умолчанию = %d→%d", res.From, res.To)
	}
	if res.Comparison.Stats.Removed != 2 || res.Comparison.Stats.Added != 0 {
		t.Errorf("stats = %+v", res.Comparison.Stats)
	}
	if !strings.Contains(res.Comparison.Unified, "Guide (v1)") {
		t.Errorf("unified без подписи версии:\n%s", res.Comparison.Unified)
	}
	kinds := map[string]bool{}
	for _, s := range res.Suggestions {
		kinds[s.Kind] = true
	}
	if !kinds["removed_headings"] {
		t.Errorf("нет подсказки об удалённых разделах: %+v", res.Suggestions)
	}

	if _, err := fx.svc.CompareVersions(ctx, fx.guest, doc.ID, 1, 9); !errors.Is(err, ErrNotFound) {
		t.Errorf("несуществующая версия: ожидается ErrNotFound, получено %v", err)
	}
}

func TestSubmissions_ApproveCreatesDocument(t *testing.T) {
	fx := newKnowledgeFixture(t, 8)
	ctx := context.Background()
	folder := mustFolder(t, fx, "Входящие", nil)

	sub, err := fx.svc.CreateSubmission(ctx, fx.member, fx.project.ID, SubmissionInput{
		AgentID:   "crawler-1",
		AgentName: "Crawler",
		Title:     "Отчёт",
		Content:   "данные",
		FileName:  "report.txt",
	})
	if err != nil {
		t.Fatalf("CreateSubmission: %v", err)
	}
	if sub.Status != model.SubmissionPending || sub.Metadata["submitted_by"] != fx.member.UserID {
		t.Errorf("новая заявка: %+v", sub)
	}

	if _, err := fx.svc.ProcessSubmission(ctx, fx.member, fx.project.ID, sub.ID, ProcessInput{Action: SubmissionApprove}); !errors.Is(err, ErrForbidden) {
		t.Errorf("обработка участником: ожидается ErrForbidden, получено %v", err)
	}

	done, err := fx.svc.ProcessSubmission(ctx, fx.padmin, fx.project.ID, sub.ID, ProcessInput{
		Action:   SubmissionApprove,
		FolderID: &folder.ID,
	})
	if err != nil {
		t.Fatalf("ProcessSubmission: %v", err)
	}
	if done.Status != model.SubmissionProcessed || done.DocumentID == nil {
		t.Fatalf("после одобрения: %+v", done)
	}
	doc, err := fx.svc.GetDocument(ctx, fx.member, *done.DocumentID)
	if err != nil {
		t.Fatalf("созданный документ: %v", err)
	}
	if doc.Title != "Отчёт" || doc.Content != "данные" || doc.FileType != "txt" {
		t.Errorf("документ из заявки: %+v", doc)
	}
	if getFolder(t, fx, folder.ID).DocumentCount != 1 {
		t.Error("счётчик папки не увеличен")
	}

	// Повторная обработка конечной заявки.
	_, err = fx.svc.ProcessSubmission(ctx, fx.padmin, fx.project.ID, sub.ID, ProcessInput{Action: SubmissionReject})
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("повторная обработка: ожидается ErrInvalidTransition, получено %v", err)
	}

	notes, err := fx.store.Repos().Notifications.ListForUser(ctx, fx.member.UserID, model.NotificationFilter{})
	if err != nil {
		t.Fatalf("ListForUser: %v", err)
	}
	if len(notes) != 1 || notes[0].Type != model.NotificationTypeSuccess {
		t.Errorf("уведомление автору заявки: %+v", notes)
	}
}

func TestSubmissions_RejectStoresReason(t *testing.T) {
	fx := newKnowledgeFixture(t, 8)
	ctx := context.Background()

	sub, err := fx.svc.CreateSubmission(ctx, fx.member, fx.project.ID, SubmissionInput{
		AgentID: "a", Title: "t", Content: "c",
	})
	if err != nil {
		t.Fatalf("CreateSubmission: %v", err)
	}
	done, err := fx.svc.ProcessSubmission(ctx, fx.padmin, fx.project.ID, sub.ID, ProcessInput{
		Action: SubmissionReject,
		Reason: "дубликат",
	})
	if err != nil {
		t.Fatalf("ProcessSubmission: %v", err)
	}
	if done.Status != model.SubmissionRejected || done.Metadata["rejection_reason"] != "дубликат" {
		t.Errorf("после отклонения: %+v", done)
	}

	pending, err := fx.svc.ListSubmissions(ctx, fx.member, fx.project.ID, model.SubmissionPending)
	if err != nil {
		t.Fatalf("ListSubmissions: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("pending заявок = %d", len(pending))
	}
	if _, err := fx.svc.ListSubmissions(ctx, fx.member, fx.project.ID, "archived"); !errors.Is(err, ErrValidation) {
		t.Errorf("недопустимый статус: %v", err)
	}
}

func TestSubmissions_ApproveRollsBackOnBadFolder(t *testing.T) {
	fx := newKnowledgeFixture(t, 8)
	ctx := context.Background()
	sub, err := fx.svc.CreateSubmission(ctx, fx.member, fx.project.ID, SubmissionInput{AgentID: "a", Title: "t", Content: "c"})
	if err != nil {
		t.Fatalf("CreateSubmission: %v", err)
	}

	_, err = fx.svc.ProcessSubmission(ctx, fx.padmin, fx.project.ID, sub.ID, ProcessInput{
		Action:   SubmissionApprove,
		FolderID: ptr("00000000-0000-0000-0000-000000000009"),
	})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("ожидается ErrValidation, получено %v", err)
	}
	got, err := fx.store.Repos().Submissions.GetByID(ctx, fx.project.ID, sub.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Status != model.SubmissionPending {
		t.Errorf("заявка после отката = %s", got.Status)
	}
	docs, _ := fx.store.Repos().Documents.List(ctx, model.DocumentFilter{ProjectID: fx.project.ID})
	if len(docs) != 0 {
		t.Errorf("документ остался после отката: %d", len(docs))
	}
}

func TestAuthorize_UnknownProject(t *testing.T) {
	fx := newKnowledgeFixture(t, 8)
	_, err := fx.svc.ListFolders(context.Background(), fx.sysadmin, "00000000-0000-0000-0000-0000000000ff", "")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("ожидается ErrNotFound, получено %v", err)
	}
	_, err = fx.svc.ListFolders(context.Background(), Actor{UserID: "x", Role: rbac.RoleUser}, "", "")
	if !errors.Is(err, ErrValidation) {
		t.Errorf("без project_id: ожидается ErrValidation, получено %v", err)
	}
}
