package diff

import (
	"context"
	"fmt"
	"strings"
)

// Уровни подсказок.
const (
	SeverityInfo    = "info"
	SeverityWarning = "warning"
)

// Suggestion - подсказка по изменению между версиями.
type Suggestion struct {
	Kind     string `json:"kind"`
	Severity string `json:"severity"`
	Message  string `json:"message"`
}

// SuggestionProvider формирует подсказки по результату сравнения.
// Реализации могут обращаться к внешним системам, поэтому принимают контекст.
type SuggestionProvider interface {
	Suggest(ctx context.Context, c *Comparison) ([]Suggestion, error)
}

// Порог сходства, ниже которого изменение считается переписыванием.
const rewriteThreshold = 0.4

// RuleBasedProvider - детерминированные подсказки по простым правилам.
type RuleBasedProvider struct{}

// NewRuleBasedProvider создаёт провайдер подсказок на правилах.
func NewRuleBasedProvider() *RuleBasedProvider {
	return &RuleBasedProvider{}
}

// Suggest проверяет правила в фиксированном порядке.
func (p *RuleBasedProvider) Suggest(_ context.Context, c *Comparison) ([]Suggestion, error) {
	if !c.Changed() {
		return []Suggestion{{
			Kind:     "no_changes",
			Severity: SeverityInfo,
			Message:  "Версии совпадают",
		}}, nil
	}

	var out []Suggestion

	if strings.TrimSpace(c.newText) == "" && strings.TrimSpace(c.oldText) != "" {
		out = append(out, Suggestion{
			Kind:     "empty_result",
			Severity: SeverityWarning,
			Message:  "Новая версия пуста: всё содержимое удалено",
		})
		return out, nil
	}

	if normalizeSpace(c.oldText) == normalizeSpace(c.newText) {
		out = append(out, Suggestion{
			Kind:     "whitespace_only",
			Severity: SeverityInfo,
			Message:  "Изменены только пробелы и переносы строк",
		})
		return out, nil
	}

	if c.Similarity < rewriteThreshold {
		out = append(out, Suggestion{
			Kind:     "large_rewrite",
			Severity: SeverityWarning,
			Message:  fmt.Sprintf("Документ переписан почти полностью (сходство %.0f%%)", c.Similarity*100),
		})
	}

	if removed := removedHeadings(c.oldText, c.newText); len(removed) > 0 {
		out = append(out, Suggestion{
			Kind:     "removed_headings",
			Severity: SeverityWarning,
			Message:  "Удалены разделы: " + strings.Join(removed, ", "),
		})
	}

	if c.Stats.Removed > 0 && c.Stats.Added == 0 {
		out = append(out, Suggestion{
			Kind:     "deletions_only",
			Severity: SeverityInfo,
			Message:  fmt.Sprintf("Только удаления: %d строк", c.Stats.Removed),
		})
	}

	return out, nil
}

func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// removedHeadings возвращает markdown-заголовки, которые были в old и исчезли в new.
func removedHeadings(oldText, newText string) []string {
	kept := make(map[string]bool)
	for _, h := range headings(newText) {
		kept[h] = true
	}
	var removed []string
	for _, h := range headings(oldText) {
		if !kept[h] {
			removed = append(removed, h)
		}
	}
	return removed
}

func headings(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "#") {
			continue
		}
		title := strings.TrimSpace(strings.TrimLeft(line, "#"))
		if title != "" {
			out = append(out, title)
		}
	}
	return out
}
