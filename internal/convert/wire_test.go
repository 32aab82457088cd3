package convert

import (
	"context"
	"errors"
	"testing"
	"time"

	u "github.com/gofrs/uuid/v5"

	"github.com/and161185/slotkeeper/internal/blobstore"
	"github.com/and161185/slotkeeper/internal/errs"
	model "github.com/and161185/slotkeeper/internal/model"
	"github.com/and161185/slotkeeper/internal/service"
)

type brokenLinker struct{}

func (brokenLinker) URL(context.Context, string) (string, error) { return "", errors.New("presign failed") }

func TestToWireSlot(t *testing.T) {
	t.Parallel()

	s := model.Slot{
		ID:              u.Must(u.NewV4()),
		OwnerID:         u.Must(u.NewV4()),
		SlotIndex:       1,
		AttemptsUsed:    2,
		Phase:           model.PhaseActive,
		CurrentArtifact: "k2",
		History:         []string{"k1", "k2"},
		PromptHistory:   []string{"a fox", "a red fox"},
	}
	w, err := ToWireSlot(context.Background(), blobstore.NewMemory(), s)
	if err != nil {
		t.Fatalf("ToWireSlot: %v", err)
	}
	if w.Kind != "character" || w.MaxAttempts != 5 || w.State != "OPEN" {
		t.Fatalf("bad policy fields: %+v", w)
	}
	if len(w.HistoryURLs) != 2 || w.HistoryURLs[0] != "mem://k1" || w.CurrentArtifactURL != "mem://k2" {
		t.Fatalf("bad urls: %+v", w)
	}
	if w.HistoryKeys[1] != "k2" || w.PromptHistory[1] != "a red fox" {
		t.Fatalf("bad history: %+v", w)
	}

	// mutating the view must not touch the slot
	w.PromptHistory[0] = "x"
	if s.PromptHistory[0] != "a fox" {
		t.Fatalf("view shares prompt slice with slot")
	}
}

func TestToWireSlot_EmptyAndCleared(t *testing.T) {
	t.Parallel()

	w, err := ToWireSlot(context.Background(), brokenLinker{}, model.Slot{Phase: model.PhaseCleared, Locked: true, AttemptsUsed: 3, SlotIndex: 4})
	if err != nil {
		t.Fatalf("no keys must not need links: %v", err)
	}
	if w.State != "CLEARED" || w.CurrentArtifactURL != "" || w.HistoryURLs == nil || len(w.HistoryURLs) != 0 {
		t.Fatalf("bad cleared view: %+v", w)
	}
}

func TestToWireSlots_LinkErrorIsStorage(t *testing.T) {
	t.Parallel()

	_, err := ToWireSlots(context.Background(), brokenLinker{}, []model.Slot{{History: []string{"k"}, PromptHistory: []string{"p"}, CurrentArtifact: "k"}})
	if !errors.Is(err, errs.ErrStorage) {
		t.Fatalf("want ErrStorage, got %v", err)
	}
}

func TestParseID(t *testing.T) {
	t.Parallel()

	if id, err := ParseID(""); err != nil || id != u.Nil {
		t.Fatalf("empty: %v %v", id, err)
	}
	if _, err := ParseID("nope"); err == nil {
		t.Fatalf("want error on bad id")
	}
	want := u.Must(u.NewV4())
	if id, err := ParseID(want.String()); err != nil || id != want {
		t.Fatalf("roundtrip: %v %v", id, err)
	}
}

func TestAdminViews(t *testing.T) {
	t.Parallel()

	now := time.Now()
	id := u.Must(u.NewV4())
	p := ToWirePresence([]service.PresenceEntry{{UserID: id, Username: "mia", Since: now}})
	if len(p) != 1 || p[0].UserID != id.String() || p[0].Username != "mia" || !p[0].Since.Equal(now) {
		t.Fatalf("bad presence: %+v", p)
	}

	st := ToWireStudents([]model.User{{ID: id, Username: "mia", DisplayName: "Mia", PwdHash: []byte("h")}})
	if len(st) != 1 || st[0].DisplayName != "Mia" {
		t.Fatalf("bad students: %+v", st)
	}
}
