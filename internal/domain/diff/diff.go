// Пакет diff - сравнение версий документа построчно и подсказки по изменениям.
package diff

import (
	"fmt"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

// Виды построчных операций.
const (
	OpEqual   = "equal"
	OpInsert  = "insert"
	OpDelete  = "delete"
	OpReplace = "replace"
)

// Op - одна операция преобразования old → new.
// OldStart/OldEnd и NewStart/NewEnd - полуинтервалы номеров строк (с нуля).
type Op struct {
	Kind     string   `json:"kind"`
	OldStart int      `json:"oldStart"`
	OldEnd   int      `json:"oldEnd"`
	NewStart int      `json:"newStart"`
	NewEnd   int      `json:"newEnd"`
	OldLines []string `json:"oldLines,omitempty"`
	NewLines []string `json:"newLines,omitempty"`
}

// Stats - сводка изменений в строках.
type Stats struct {
	Added     int `json:"added"`
	Removed   int `json:"removed"`
	Unchanged int `json:"unchanged"`
}

// Comparison - результат сравнения двух текстов.
type Comparison struct {
	Ops []Op `json:"ops"`
	// Unified - unified diff с тремя строками контекста
	Unified string `json:"unified"`
	// Similarity - доля совпадающих строк в [0, 1]
	Similarity float64 `json:"similarity"`
	Stats      Stats   `json:"stats"`

	oldText string
	newText string
}

// Labels - подписи сторон в заголовке unified diff.
type Labels struct {
	Old string
	New string
}

var opKinds = map[byte]string{
	'e': OpEqual,
	'i': OpInsert,
	'd': OpDelete,
	'r': OpReplace,
}

// Compare сравнивает два текста построчно.
func Compare(oldText, newText string, labels Labels) (*Comparison, error) {
	a := splitLines(oldText)
	b := splitLines(newText)

	m := difflib.NewMatcher(a, b)

	c := &Comparison{
		Similarity: m.Ratio(),
		oldText:    oldText,
		newText:    newText,
	}

	for _, oc := range m.GetOpCodes() {
		op := Op{
			Kind:     opKinds[oc.Tag],
			OldStart: oc.I1,
			OldEnd:   oc.I2,
			NewStart: oc.J1,
			NewEnd:   oc.J2,
		}
		switch op.Kind {
		case OpEqual:
			c.Stats.Unchanged += oc.I2 - oc.I1
		case OpDelete:
			op.OldLines = trimEOL(a[oc.I1:oc.I2])
			c.Stats.Removed += oc.I2 - oc.I1
		case OpInsert:
			op.NewLines = trimEOL(b[oc.J1:oc.J2])
			c.Stats.Added += oc.J2 - oc.J1
		case OpReplace:
			op.OldLines = trimEOL(a[oc.I1:oc.I2])
			op.NewLines = trimEOL(b[oc.J1:oc.J2])
			c.Stats.Removed += oc.I2 - oc.I1
			c.Stats.Added += oc.J2 - oc.J1
		}
		c.Ops = append(c.Ops, op)
	}

	unified, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        a,
		B:        b,
		FromFile: labels.Old,
		ToFile:   labels.New,
		Context:  3,
	})
	if err != nil {
		return nil, fmt.Errorf("построение unified diff: %w", err)
	}
	c.Unified = unified

	return c, nil
}

// Changed сообщает, что тексты различаются.
func (c *Comparison) Changed() bool {
	return c.Stats.Added > 0 || c.Stats.Removed > 0
}

// splitLines режет текст на строки с сохранением "\n". Последняя строка
// без перевода строки дополняется им, чтобы unified diff оставался корректным.
func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	lines := strings.SplitAfter(s, "\n")
	if lines[len(lines)-1] == "" {
		return lines[:len(lines)-1]
	}
	lines[len(lines)-1] += "\n"
	return lines
}

func trimEOL(lines []string) []string {
	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = strings.TrimRight(l, "\r\n")
	}
	return out
}
