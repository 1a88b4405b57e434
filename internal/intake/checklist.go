package intake

import (
	"slices"

	"github.com/jwalitptl/econsult/internal/model"
)

// Toggle returns the checklist that results from toggling value in current.
// Selecting the none sentinel clears every other option, selecting any other option
// clears none, and toggling a selected option deselects it. current is not modified.
func Toggle(current []string, value string) []string {
	if slices.Contains(current, value) {
		next := make([]string, 0, len(current))
		for _, v := range current {
			if v != value {
				next = append(next, v)
			}
		}
		return next
	}

	if value == model.ChecklistNone {
		return []string{model.ChecklistNone}
	}

	next := make([]string, 0, len(current)+1)
	for _, v := range current {
		if v != model.ChecklistNone {
			next = append(next, v)
		}
	}
	next = append(next, value)
	slices.Sort(next)
	return next
}
