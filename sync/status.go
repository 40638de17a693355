// ABOUTME: Normalizes free-text upstream process statuses into a small fixed vocabulary
// ABOUTME: Combines status keywords, single-letter status codes and progress percentage
package sync

import (
	"strings"

	"github.com/harperreed/gestor/models"
)

var (
	doneKeywords       = []string{"conclu", "finaliz", "done", "complet", "encerr"}
	inProgressKeywords = []string{"andamento", "progress", "aberto", "open", "pend"}
)

// NormalizeStatus maps a raw status and progress onto DONE, IN_PROGRESS or
// OTHER. Done signals win over in-progress signals.
func NormalizeStatus(raw string, progress float64) string {
	text := strings.ToLower(strings.TrimSpace(raw))
	code := strings.ToUpper(text)

	if containsAny(text, doneKeywords) || code == "C" || code == "D" || progress >= 100 {
		return models.StatusDone
	}
	if containsAny(text, inProgressKeywords) || code == "A" || code == "P" || code == "W" ||
		(progress > 0 && progress < 100) {
		return models.StatusInProgress
	}
	return models.StatusOther
}

func containsAny(s string, keywords []string) bool {
	if s == "" {
		return false
	}
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}
