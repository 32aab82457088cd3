package model

// BlockReason classifies why a prompt was refused.
type BlockReason string

const (
	BlockNone           BlockReason = "NONE"
	BlockTextRequest    BlockReason = "TEXT_REQUEST"
	BlockSafety         BlockReason = "SAFETY_VIOLATION"
	BlockPolicySpecific BlockReason = "POLICY_SPECIFIC"
	BlockSystemError    BlockReason = "SYSTEM_ERROR" // fail-closed verdict
)

// Valid reports whether r is a known reason.
func (r BlockReason) Valid() bool {
	switch r {
	case BlockNone, BlockTextRequest, BlockSafety, BlockPolicySpecific, BlockSystemError:
		return true
	}
	return false
}

// Verdict is the ephemeral moderation result. Never persisted.
type Verdict struct {
	Allowed     bool        `json:"allowed"`
	BlockReason BlockReason `json:"blockReason"`
	Explanation string      `json:"explanation"`
}

// Approved is the verdict for an allowed prompt.
func Approved() Verdict { return Verdict{Allowed: true, BlockReason: BlockNone} }

// SlotContext is the slot-specific policy the classifier evaluates against.
type SlotContext struct {
	SlotIndex         int
	Kind              string
	TextAllowed       bool
	RequiresCharacter bool
}
