// Пакет foldertree - построение дерева папок базы знаний из плоского списка.
// Обход всегда завершается: папки, входящие в цикл, ссылающиеся на
// отсутствующего родителя или лежащие глубже лимита, попадают в Orphans.
package foldertree

import (
	"sort"
	"strings"

	"github.com/bigkaa/project-assistant/internal/domain/model"
)

// Node - узел дерева папок.
type Node struct {
	Folder   model.KnowledgeFolder
	Depth    int
	Children []*Node
}

// Tree - результат построения дерева.
type Tree struct {
	Roots []*Node
	// Orphans - папки, недостижимые из корней: цикл, отсутствующий
	// родитель или превышение глубины.
	Orphans []model.KnowledgeFolder
}

// Build строит дерево из плоского списка папок одного проекта.
// maxDepth - максимальная глубина (корень имеет глубину 1); 0 - без ограничения.
// Дети каждого узла отсортированы по имени без учёта регистра.
func Build(folders []model.KnowledgeFolder, maxDepth int) *Tree {
	byID := make(map[string]model.KnowledgeFolder, len(folders))
	for _, f := range folders {
		byID[f.ID] = f
	}

	children := make(map[string][]model.KnowledgeFolder)
	var roots []model.KnowledgeFolder
	for _, f := range folders {
		if f.ParentFolderID == nil {
			roots = append(roots, f)
			continue
		}
		children[*f.ParentFolderID] = append(children[*f.ParentFolderID], f)
	}

	sortByName(roots)
	for id := range children {
		sortByName(children[id])
	}

	tree := &Tree{}
	placed := make(map[string]bool, len(folders))

	var attach func(f model.KnowledgeFolder, depth int) *Node
	attach = func(f model.KnowledgeFolder, depth int) *Node {
		placed[f.ID] = true
		n := &Node{Folder: f, Depth: depth}
		if maxDepth > 0 && depth >= maxDepth {
			return n
		}
		for _, c := range children[f.ID] {
			if placed[c.ID] {
				continue
			}
			n.Children = append(n.Children, attach(c, depth+1))
		}
		return n
	}

	for _, r := range roots {
		tree.Roots = append(tree.Roots, attach(r, 1))
	}

	for _, f := range folders {
		if !placed[f.ID] {
			tree.Orphans = append(tree.Orphans, f)
		}
	}
	sortByName(tree.Orphans)

	return tree
}

// Walk обходит дерево в глубину (pre-order). Если fn возвращает false,
// потомки узла пропускаются.
func (t *Tree) Walk(fn func(n *Node) bool) {
	var walk func(nodes []*Node)
	walk = func(nodes []*Node) {
		for _, n := range nodes {
			if fn(n) {
				walk(n.Children)
			}
		}
	}
	walk(t.Roots)
}

// Size возвращает число папок, размещённых в дереве.
func (t *Tree) Size() int {
	count := 0
	t.Walk(func(*Node) bool {
		count++
		return true
	})
	return count
}

// WouldCreateCycle сообщает, что перенос folderID под newParentID
// образует цикл: newParentID совпадает с folderID или является его потомком.
// Подъём по предкам ограничен числом папок, поэтому уже существующий
// цикл в данных не приводит к зацикливанию.
func WouldCreateCycle(folders []model.KnowledgeFolder, folderID, newParentID string) bool {
	parentOf := make(map[string]string, len(folders))
	for _, f := range folders {
		if f.ParentFolderID != nil {
			parentOf[f.ID] = *f.ParentFolderID
		}
	}

	cur := newParentID
	for range len(folders) + 1 {
		if cur == folderID {
			return true
		}
		next, ok := parentOf[cur]
		if !ok {
			return false
		}
		cur = next
	}
	// Предки newParentID уже зациклены
	return true
}

// JoinPath строит путь папки из пути родителя и имени.
func JoinPath(parentPath, name string) string {
	if parentPath == "" {
		return "/" + name
	}
	return strings.TrimRight(parentPath, "/") + "/" + name
}

func sortByName(fs []model.KnowledgeFolder) {
	sort.SliceStable(fs, func(i, j int) bool {
		return strings.ToLower(fs[i].Name) < strings.ToLower(fs[j].Name)
	})
}
