// Package policy holds the declarative per-slot-index rules and the
// block-reason message table.
package policy

import "github.com/and161185/slotkeeper/internal/model"

// Kind names the category a slot index selects.
type Kind string

const (
	KindTitle     Kind = "title"
	KindCharacter Kind = "character"
	KindGeneral   Kind = "general"
)

// Rule is the policy for one slot kind.
type Rule struct {
	Kind              Kind
	MaxAttempts       int
	TextAllowed       bool // literal text/lettering may be requested
	RequiresCharacter bool // prompt must describe an animate or fictional character
}

// rules is keyed by slot index; indexes not listed fall back to general.
// New slot kinds are added here, nowhere else.
var rules = map[int]Rule{
	0: {Kind: KindTitle, MaxAttempts: 5, TextAllowed: true},
	1: {Kind: KindCharacter, MaxAttempts: 5, RequiresCharacter: true},
}

var general = Rule{Kind: KindGeneral, MaxAttempts: 3}

// For returns the rule for a slot index.
func For(slotIndex int) Rule {
	if r, ok := rules[slotIndex]; ok {
		return r
	}
	return general
}

// MaxAttempts is the attempt cap for a slot index.
func MaxAttempts(slotIndex int) int { return For(slotIndex).MaxAttempts }

// Context builds the classifier context for a slot index.
func Context(slotIndex int) model.SlotContext {
	r := For(slotIndex)
	return model.SlotContext{
		SlotIndex:         slotIndex,
		Kind:              string(r.Kind),
		TextAllowed:       r.TextAllowed,
		RequiresCharacter: r.RequiresCharacter,
	}
}

var messages = map[model.BlockReason]string{
	model.BlockNone:           "",
	model.BlockSafety:         "This request is not allowed. Please describe something else.",
	model.BlockTextRequest:    "Text, letters and signs cannot be drawn into this image. Describe the scene without writing.",
	model.BlockPolicySpecific: "This slot is for a character. Describe a person, animal or creature.",
	model.BlockSystemError:    "The request could not be checked right now. Please try again in a moment.",
}

// Message returns the user-facing text for a block reason.
// Unknown reasons get the system-error text.
func Message(r model.BlockReason) string {
	if m, ok := messages[r]; ok {
		return m
	}
	return messages[model.BlockSystemError]
}
