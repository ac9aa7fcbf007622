package store

import "slidesync-backend/internal/model"

// repackOrder assigns dense zero-based order values in slice order.
func repackOrder(slides []model.Slide) {
	for i := range slides {
		slides[i].OrderIndex = i
	}
}

// nextCurrentSlide picks the current slide id after deletedID is removed.
// The reference is unchanged unless it pointed at the deleted slide; then it
// moves to the first remaining slide, or nil when none remain.
func nextCurrentSlide(current *string, deletedID string, remaining []model.Slide) *string {
	if current == nil || *current != deletedID {
		return current
	}
	if len(remaining) == 0 {
		return nil
	}
	id := remaining[0].ID
	return &id
}

// validPermutation reports whether ids is exactly a permutation of the
// session's slide ids.
func validPermutation(slides []model.Slide, ids []string) bool {
	if len(ids) != len(slides) {
		return false
	}
	known := make(map[string]bool, len(slides))
	for _, s := range slides {
		known[s.ID] = true
	}
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if !known[id] || seen[id] {
			return false
		}
		seen[id] = true
	}
	return true
}
