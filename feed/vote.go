package feed

import (
	"seraph/store"
)

// VoteDirection is the button the user pressed.
type VoteDirection string

const (
	VoteUp   VoteDirection = "upvote"
	VoteDown VoteDirection = "downvote"
)

// Valid reports whether d is one of the two directions.
func (d VoteDirection) Valid() bool {
	return d == VoteUp || d == VoteDown
}

// ToggleVote applies the three-state vote rule to the two membership sets
// and returns the new sets plus the store updates that persist the change:
// none -> upvote -> none, none -> downvote -> none, and a direct switch
// between upvote and downvote. A user is never left in both sets.
func ToggleVote(upvotes, downvotes []string, userID string, direction VoteDirection) (newUp, newDown []string, updates []store.FieldUpdate) {
	inUp := member(upvotes, userID)
	inDown := member(downvotes, userID)

	add := func(field string) {
		updates = append(updates, store.FieldUpdate{Field: field, Op: store.OpArrayUnion, Value: userID})
	}
	remove := func(field string) {
		updates = append(updates, store.FieldUpdate{Field: field, Op: store.OpArrayRemove, Value: userID})
	}

	switch {
	case direction == VoteUp && inUp:
		// Toggle off.
		newUp = without(upvotes, userID)
		newDown = downvotes
		remove("upvotes")
	case direction == VoteUp:
		newUp = append(without(upvotes, userID), userID)
		newDown = without(downvotes, userID)
		remove("downvotes")
		add("upvotes")
	case direction == VoteDown && inDown:
		newUp = upvotes
		newDown = without(downvotes, userID)
		remove("downvotes")
	default: // VoteDown
		newUp = without(upvotes, userID)
		newDown = append(without(downvotes, userID), userID)
		remove("upvotes")
		add("downvotes")
	}

	return newUp, newDown, updates
}

func member(arr []string, v string) bool {
	for _, item := range arr {
		if item == v {
			return true
		}
	}
	return false
}

func without(arr []string, v string) []string {
	out := make([]string, 0, len(arr))
	for _, item := range arr {
		if item != v {
			out = append(out, item)
		}
	}
	return out
}
