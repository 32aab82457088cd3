// Package convert maps domain values to the wire messages of slotkeeper.v1.
package convert

import (
	"context"
	"fmt"

	u "github.com/gofrs/uuid/v5"

	pb "github.com/and161185/slotkeeper/api/slotkeeper/v1"
	"github.com/and161185/slotkeeper/internal/errs"
	model "github.com/and161185/slotkeeper/internal/model"
	"github.com/and161185/slotkeeper/internal/policy"
	"github.com/and161185/slotkeeper/internal/service"
)

// Linker resolves a blob key to a client-fetchable URL.
type Linker interface {
	URL(ctx context.Context, key string) (string, error)
}

// --- helpers ---

func link(ctx context.Context, l Linker, key string) (string, error) {
	if key == "" {
		return "", nil
	}
	url, err := l.URL(ctx, key)
	if err != nil {
		return "", fmt.Errorf("%w: link %s: %v", errs.ErrStorage, key, err)
	}
	return url, nil
}

// ParseID parses a wire UUID. Empty input yields uuid.Nil.
func ParseID(s string) (u.UUID, error) {
	if s == "" {
		return u.Nil, nil
	}
	id, err := u.FromString(s)
	if err != nil {
		return u.Nil, fmt.Errorf("validation: invalid id %q", s)
	}
	return id, nil
}

// --- Slots ---

// ToWireSlot builds the client view of s. Keys are kept next to their URLs so
// a client can name its own artifacts as character references.
func ToWireSlot(ctx context.Context, l Linker, s model.Slot) (*pb.Slot, error) {
	out := ToWireSlotUnlinked(s)
	for _, k := range s.History {
		url, err := link(ctx, l, k)
		if err != nil {
			return nil, err
		}
		out.HistoryURLs = append(out.HistoryURLs, url)
	}
	if n := len(out.HistoryURLs); n > 0 && s.CurrentArtifact == s.History[n-1] {
		out.CurrentArtifactURL = out.HistoryURLs[n-1]
	} else {
		url, err := link(ctx, l, s.CurrentArtifact)
		if err != nil {
			return nil, err
		}
		out.CurrentArtifactURL = url
	}
	return out, nil
}

// ToWireSlotUnlinked is ToWireSlot with keys only and empty URLs.
func ToWireSlotUnlinked(s model.Slot) *pb.Slot {
	rule := policy.For(s.SlotIndex)
	return &pb.Slot{
		ID:                 s.ID.String(),
		OwnerID:            s.OwnerID.String(),
		SlotIndex:          s.SlotIndex,
		Kind:               string(rule.Kind),
		AttemptsUsed:       s.AttemptsUsed,
		MaxAttempts:        rule.MaxAttempts,
		Locked:             s.Locked,
		State:              string(s.State()),
		CurrentArtifactKey: s.CurrentArtifact,
		HistoryURLs:        make([]string, 0, len(s.History)),
		HistoryKeys:        append([]string{}, s.History...),
		PromptHistory:      append([]string{}, s.PromptHistory...),
		UpdatedAt:          s.UpdatedAt,
	}
}

// ToWireSlots converts slots preserving order.
func ToWireSlots(ctx context.Context, l Linker, in []model.Slot) ([]*pb.Slot, error) {
	out := make([]*pb.Slot, 0, len(in))
	for _, s := range in {
		w, err := ToWireSlot(ctx, l, s)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, nil
}

// FromWireGenerate extracts the optional generation inputs.
func FromWireGenerate(in *pb.GenerateRequest) model.GenerationParams {
	return model.GenerationParams{
		AspectRatio:         in.AspectRatio,
		ReferenceImage:      in.ReferenceImage,
		ReferenceMIME:       in.ReferenceMIME,
		CharacterReferences: in.CharacterReferences,
	}
}

// --- Admin views ---

// ToWirePresence converts presence entries.
func ToWirePresence(in []service.PresenceEntry) []pb.PresenceEntry {
	out := make([]pb.PresenceEntry, 0, len(in))
	for _, e := range in {
		out = append(out, pb.PresenceEntry{UserID: e.UserID.String(), Username: e.Username, Since: e.Since})
	}
	return out
}

// ToWireStudents drops credentials and keeps the public fields.
func ToWireStudents(in []model.User) []pb.Student {
	out := make([]pb.Student, 0, len(in))
	for _, x := range in {
		out = append(out, pb.Student{
			UserID:      x.ID.String(),
			Username:    x.Username,
			DisplayName: x.DisplayName,
			CreatedAt:   x.CreatedAt,
		})
	}
	return out
}
