package slotkeeperv1

import "time"

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string    `json:"accessToken"`
	UserID      string    `json:"userId"`
	Role        string    `json:"role"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

type CreateStudentRequest struct {
	Username    string `json:"username"`
	Password    string `json:"password"`
	DisplayName string `json:"displayName,omitempty"`
}

type CreateStudentResponse struct {
	UserID string `json:"userId"`
}

// Slot is the client view of a slot. Blob keys are replaced by URLs.
type Slot struct {
	ID                 string    `json:"id"`
	OwnerID            string    `json:"ownerId"`
	SlotIndex          int       `json:"slotIndex"`
	Kind               string    `json:"kind"`
	AttemptsUsed       int       `json:"attemptsUsed"`
	MaxAttempts        int       `json:"maxAttempts"`
	Locked             bool      `json:"locked"`
	State              string    `json:"state"`
	CurrentArtifactURL string    `json:"currentArtifactUrl,omitempty"`
	CurrentArtifactKey string    `json:"currentArtifactKey,omitempty"`
	HistoryURLs        []string  `json:"historyUrls"`
	HistoryKeys        []string  `json:"historyKeys"`
	PromptHistory      []string  `json:"promptHistory"`
	UpdatedAt          time.Time `json:"updatedAt,omitzero"`
}

type GenerateRequest struct {
	SlotIndex      int    `json:"slotIndex"`
	Prompt         string `json:"prompt"`
	AspectRatio    string `json:"aspectRatio,omitempty"`
	ReferenceImage []byte `json:"referenceImage,omitempty"`
	ReferenceMIME  string `json:"referenceMime,omitempty"`
	// CharacterReferences are blob keys of the caller's own artifacts.
	CharacterReferences []string `json:"characterReferences,omitempty"`
}

// GenerateResponse carries either the new image or a moderation block.
type GenerateResponse struct {
	ImageURL  string `json:"imageUrl,omitempty"`
	Slot      *Slot  `json:"slot,omitempty"`
	Blocked   bool   `json:"blocked,omitempty"`
	BlockType string `json:"blockType,omitempty"`
	Message   string `json:"message,omitempty"`
}

type ListSlotsRequest struct {
	UserID string `json:"userId,omitempty"`
}

type ListSlotsResponse struct {
	Slots []*Slot `json:"slots"`
}

type ExitSlotRequest struct {
	SlotIndex int    `json:"slotIndex"`
	Mode      string `json:"mode,omitempty"`
}

type SlotResponse struct {
	Slot *Slot `json:"slot"`
}

// SlotIDRequest addresses one slot for an admin override.
type SlotIDRequest struct {
	SlotID string `json:"slotId"`
}

type SetLoginLockedRequest struct {
	Locked bool `json:"locked"`
}

type Empty struct{}

type GateState struct {
	LoginLocked bool `json:"loginLocked"`
}

type PresenceEntry struct {
	UserID   string    `json:"userId"`
	Username string    `json:"username,omitempty"`
	Since    time.Time `json:"since"`
}

type PresenceResponse struct {
	Generating []PresenceEntry `json:"generating"`
}

type Student struct {
	UserID      string    `json:"userId"`
	Username    string    `json:"username"`
	DisplayName string    `json:"displayName"`
	CreatedAt   time.Time `json:"createdAt,omitzero"`
}

type ListStudentsResponse struct {
	Students []Student `json:"students"`
}
