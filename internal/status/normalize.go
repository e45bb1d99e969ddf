// Package status maps operator-specific raw status wording onto the canonical
// container lifecycle.
package status

import (
	"strings"

	"github.com/portwatch/container-scrape-worker/internal/model"
)

// German portal vocabulary shared by the Hamburg operators. Later lifecycle
// stages are listed with their own keyword sets so precedence stays explicit.
var (
	deliveredKeywords  = []string{"ausgeliefert"}
	dischargedKeywords = []string{"eingelagert"}
	dischargeCompleted = []string{"erledigt", "abgeschlossen"}
)

// Normalize derives the canonical lifecycle state from the extracted raw
// fields. Pure function, no I/O, no memory across calls.
//
// Precedence is fixed and first match wins: DELIVERED_OUT, READY, DISCHARGED,
// PREANNOUNCED. A later lifecycle keyword must never be downgraded by an
// earlier one appearing elsewhere on the same page, e.g. a historical
// "Avisiert" entry in a log section below a delivered container.
func Normalize(deliveredOut bool, readyForLoading *bool, dischargeOrderStatus, rawText string) model.NormalizedStatus {
	lower := strings.ToLower(rawText)

	if deliveredOut || containsAny(lower, deliveredKeywords) {
		return model.DeliveredOut
	}
	if readyForLoading != nil && *readyForLoading {
		return model.Ready
	}
	if containsAny(strings.ToLower(dischargeOrderStatus), dischargeCompleted) ||
		containsAny(lower, dischargedKeywords) {
		return model.Discharged
	}
	// PREANNOUNCED covers both the explicit "Avisiert"/"Vorgemeldet" state
	// and the default when the portal reports nothing further along.
	return model.Preannounced
}

func containsAny(lower string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
