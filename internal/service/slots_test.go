package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/require"

	"github.com/and161185/slotkeeper/internal/archive"
	"github.com/and161185/slotkeeper/internal/blobstore"
	"github.com/and161185/slotkeeper/internal/config"
	"github.com/and161185/slotkeeper/internal/errs"
	"github.com/and161185/slotkeeper/internal/model"
	"github.com/and161185/slotkeeper/internal/policy"
)

func TestSubmit_RecordsUntilCapThenRefuses(t *testing.T) {
	h := newHarness()
	svc := h.slots()
	p := student()
	ctx := context.Background()

	var res SubmitResult
	var err error
	for i := 1; i <= 3; i++ {
		res, err = svc.Submit(ctx, p, 2, "a quiet lake", model.GenerationParams{})
		require.NoError(t, err)
		require.False(t, res.Blocked)
		require.Equal(t, i, res.Slot.AttemptsUsed)
		require.Len(t, res.Slot.History, i)
		require.Len(t, res.Slot.PromptHistory, i)
		require.True(t, h.blobs.Has(res.Slot.CurrentArtifact))
	}
	require.True(t, res.Slot.Locked)
	require.Equal(t, model.StateLocked, res.Slot.State())

	_, err = svc.Submit(ctx, p, 2, "a quiet lake", model.GenerationParams{})
	require.ErrorIs(t, err, errs.ErrQuotaExhausted)
	require.EqualValues(t, 3, h.gen.calls.Load(), "no backend call once locked")
	require.Len(t, h.blobs.Keys(), 3)
}

func TestSubmit_TwoToThreeLocks(t *testing.T) {
	h := newHarness()
	p := student()
	h.seed(t, p.UserID, 4, 2, false)

	res, err := h.slots().Submit(context.Background(), p, 4, "a red barn", model.GenerationParams{})
	require.NoError(t, err)
	require.Equal(t, 3, res.Slot.AttemptsUsed)
	require.True(t, res.Slot.Locked)
	require.Len(t, res.Slot.History, 3)
	require.Equal(t, res.Slot.History[2], res.Slot.CurrentArtifact)
	require.Equal(t, "a red barn", res.Slot.PromptHistory[2])
}

func TestSubmit_CharacterSlotMountainIsBlocked(t *testing.T) {
	h := newHarness()
	p := student()

	res, err := h.slots().Submit(context.Background(), p, 1, "a majestic mountain at sunset", model.GenerationParams{})
	require.NoError(t, err)
	require.True(t, res.Blocked)
	require.Equal(t, model.BlockPolicySpecific, res.Verdict.BlockReason)
	require.Equal(t, policy.Message(model.BlockPolicySpecific), res.Verdict.Explanation)
	require.Zero(t, res.Slot.AttemptsUsed)
	require.Zero(t, h.gen.calls.Load())

	got, err := h.repo.Load(context.Background(), p.UserID, 1)
	require.NoError(t, err)
	require.Zero(t, got.AttemptsUsed)
	require.Empty(t, got.History)
}

func TestSubmit_WelcomeSignIsTextRequest(t *testing.T) {
	h := newHarness()
	res, err := h.slots().Submit(context.Background(), student(), 2, "a sign that says WELCOME", model.GenerationParams{})
	require.NoError(t, err)
	require.True(t, res.Blocked)
	require.Equal(t, model.BlockTextRequest, res.Verdict.BlockReason)
	require.Zero(t, h.gen.calls.Load())
}

func TestSubmit_ModerationOutageFailsClosed(t *testing.T) {
	h := newHarness()
	h.cls = errClassifier{err: errors.New("classifier 503")}
	p := student()

	res, err := h.slots().Submit(context.Background(), p, 2, "a quiet lake", model.GenerationParams{})
	require.ErrorIs(t, err, errs.ErrModerationUnavailable)
	require.True(t, res.Blocked)
	require.Equal(t, model.BlockSystemError, res.Verdict.BlockReason)
	require.Zero(t, h.gen.calls.Load())

	got, _ := h.repo.Load(context.Background(), p.UserID, 2)
	require.Zero(t, got.AttemptsUsed)
}

func TestSubmit_GenerationFailureConsumesNothing(t *testing.T) {
	h := newHarness()
	h.gen.err = errors.New("backend 500")
	p := student()

	_, err := h.slots().Submit(context.Background(), p, 3, "a boat", model.GenerationParams{})
	require.ErrorIs(t, err, errs.ErrGenerationFailed)

	got, _ := h.repo.Load(context.Background(), p.UserID, 3)
	require.Zero(t, got.AttemptsUsed)
	require.Empty(t, h.blobs.Keys())
	require.False(t, h.pres.Active(p.UserID))
}

func TestSubmit_GenerationTimeout(t *testing.T) {
	h := newHarness()
	h.gen.block = true
	h.cfg.GenerationTimeout = 20 * time.Millisecond
	p := student()

	start := time.Now()
	_, err := h.slots().Submit(context.Background(), p, 3, "a boat", model.GenerationParams{})
	require.ErrorIs(t, err, errs.ErrGenerationFailed)
	require.Less(t, time.Since(start), time.Second)

	got, _ := h.repo.Load(context.Background(), p.UserID, 3)
	require.Zero(t, got.AttemptsUsed)
}

func TestSubmit_UploadFailureLeavesNoBlob(t *testing.T) {
	h := newHarness()
	h.blobs.putErr = func(string) error { return errors.New("bucket gone") }
	p := student()

	_, err := h.slots().Submit(context.Background(), p, 3, "a boat", model.GenerationParams{})
	require.ErrorIs(t, err, errs.ErrStorage)
	require.Empty(t, h.blobs.Keys())

	got, _ := h.repo.Load(context.Background(), p.UserID, 3)
	require.Zero(t, got.AttemptsUsed)
}

func TestSubmit_LedgerFailureDeletesUploadedBlob(t *testing.T) {
	h := newHarness()
	h.slotsRepo = &failingSlots{SlotRepository: h.repo, recordErr: errs.ErrInvariantViolation}

	_, err := h.slots().Submit(context.Background(), student(), 3, "a boat", model.GenerationParams{})
	require.ErrorIs(t, err, errs.ErrInvariantViolation)
	require.Empty(t, h.blobs.Keys())
}

func TestSubmit_PresenceDuringGeneration(t *testing.T) {
	h := newHarness()
	p := student()
	var during bool
	h.gen.hook = func() { during = h.pres.Active(p.UserID) }

	_, err := h.slots().Submit(context.Background(), p, 2, "a boat", model.GenerationParams{})
	require.NoError(t, err)
	require.True(t, during)
	require.False(t, h.pres.Active(p.UserID))
}

func TestSubmit_ConcurrentRespectsCap(t *testing.T) {
	h := newHarness()
	svc := h.slots()
	p := student()

	const n = 12
	var wg sync.WaitGroup
	var mu sync.Mutex
	var ok, exhausted int
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Submit(context.Background(), p, 5, "a boat", model.GenerationParams{})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, errs.ErrQuotaExhausted):
				exhausted++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 3, ok)
	require.Equal(t, n-3, exhausted)
	got, _ := h.repo.Load(context.Background(), p.UserID, 5)
	require.Equal(t, 3, got.AttemptsUsed)
	require.NoError(t, got.Validate(3))
	require.ElementsMatch(t, got.History, h.blobs.Keys(), "no orphan or dangling blobs")
	require.Zero(t, h.locks.Len())
}

func TestSubmit_AccessAndValidation(t *testing.T) {
	h := newHarness()
	svc := h.slots()
	ctx := context.Background()

	ro := model.Principal{UserID: uuid.Must(uuid.NewV4()), Role: model.RoleAdminReadonly}
	_, err := svc.Submit(ctx, ro, 2, "a boat", model.GenerationParams{})
	require.ErrorIs(t, err, errs.ErrForbidden)

	p := student()
	_, err = svc.Submit(ctx, p, 15, "a boat", model.GenerationParams{})
	require.Error(t, err)
	_, err = svc.Submit(ctx, p, -1, "a boat", model.GenerationParams{})
	require.Error(t, err)
	_, err = svc.Submit(ctx, p, 2, "   ", model.GenerationParams{})
	require.Error(t, err)
	_, err = svc.Submit(ctx, p, 2, "a boat", model.GenerationParams{AspectRatio: "7:3"})
	require.Error(t, err)
	require.Zero(t, h.gen.calls.Load())
}

func TestSubmit_GateLockedRefusesStudentsOnly(t *testing.T) {
	h := newHarness()
	svc := h.slots()
	require.NoError(t, h.settings.SetLoginLocked(context.Background(), true))

	_, err := svc.Submit(context.Background(), student(), 2, "a boat", model.GenerationParams{})
	require.ErrorIs(t, err, errs.ErrLoginLocked)

	a := model.Principal{UserID: uuid.Must(uuid.NewV4()), Role: model.RoleAdmin}
	_, err = svc.Submit(context.Background(), a, 2, "a boat", model.GenerationParams{})
	require.NoError(t, err)
}

func TestSubmit_References(t *testing.T) {
	h := newHarness()
	svc := h.slots()
	p := student()
	ctx := context.Background()

	ch := h.seed(t, p.UserID, 1, 1, false)
	_, err := svc.Submit(ctx, p, 3, "my fox on a hill", model.GenerationParams{
		ReferenceImage:      tinyPNG(),
		CharacterReferences: []string{ch.History[0]},
	})
	require.NoError(t, err)
	require.Len(t, h.gen.lastRefs, 2)
	require.Equal(t, "image/png", h.gen.lastRefs[0].MIMEType)

	other, _ := blobstore.NewKey(uuid.Must(uuid.NewV4()), 1, blobstore.KindOriginal, "image/png")
	_, err = svc.Submit(ctx, p, 3, "a fox", model.GenerationParams{CharacterReferences: []string{other}})
	require.ErrorIs(t, err, errs.ErrForbidden)

	_, err = svc.Submit(ctx, p, 3, "a fox", model.GenerationParams{ReferenceImage: []byte("plain text, not an image")})
	require.Error(t, err)

	_, err = svc.Submit(ctx, p, 3, "a fox", model.GenerationParams{CharacterReferences: []string{"a", "b", "c", "d"}})
	require.Error(t, err)
}

func TestExit_OpenSlotIsNoop(t *testing.T) {
	h := newHarness()
	p := student()
	seeded := h.seed(t, p.UserID, 2, 1, false)

	s, err := h.slots().Exit(context.Background(), p, 2, "discard")
	require.NoError(t, err)
	require.Equal(t, model.StateOpen, s.State())
	require.Equal(t, seeded.History, s.History)
	require.True(t, h.blobs.Has(seeded.History[0]))
}

func TestExit_Discard(t *testing.T) {
	h := newHarness()
	p := student()
	seeded := h.seed(t, p.UserID, 2, 3, true)

	s, err := h.slots().Exit(context.Background(), p, 2, "discard")
	require.NoError(t, err)
	require.Equal(t, model.StateCleared, s.State())
	require.Empty(t, s.History)
	require.Empty(t, s.CurrentArtifact)
	require.Equal(t, 3, s.AttemptsUsed)
	require.Len(t, s.PromptHistory, 3)
	require.True(t, s.Locked)
	for _, k := range seeded.History {
		require.False(t, h.blobs.Has(k))
	}

	again, err := h.slots().Exit(context.Background(), p, 2, "archive")
	require.NoError(t, err)
	require.Equal(t, model.StateCleared, again.State())
}

func TestExit_ArchiveKeepsOriginalWhenReencodeFails(t *testing.T) {
	h := newHarness()
	h.enc = &failingEncoder{failOn: 2, enc: archive.New(64, 40)}
	h.cfg.ArchiveParallel = 1
	p := student()
	seeded := h.seed(t, p.UserID, 2, 3, true)

	s, err := h.slots().Exit(context.Background(), p, 2, "archive")
	require.NoError(t, err)
	require.Equal(t, model.StateArchived, s.State())
	require.Len(t, s.History, 3, "never fewer artifacts")
	require.Len(t, s.PromptHistory, 3)
	require.Equal(t, s.History[2], s.CurrentArtifact)

	var kept, replaced int
	for i, k := range s.History {
		require.True(t, h.blobs.Has(k), "ref %d dangling", i)
		if k == seeded.History[i] {
			kept++
		} else {
			replaced++
			require.False(t, h.blobs.Has(seeded.History[i]), "replaced original must be purged")
		}
	}
	require.Equal(t, 1, kept)
	require.Equal(t, 2, replaced)
	require.Equal(t, 2, countPrefix(h.blobs.Keys(), "/archive/"))
	require.Equal(t, 1, countPrefix(h.blobs.Keys(), "/original/"))
}

func TestExit_ArchiveUploadFailureKeepsOriginal(t *testing.T) {
	h := newHarness()
	h.blobs.putErr = func(key string) error {
		return errors.New("put refused")
	}
	p := student()
	seeded := h.seed(t, p.UserID, 3, 3, true)

	s, err := h.slots().Exit(context.Background(), p, 3, "archive")
	require.NoError(t, err)
	require.Equal(t, seeded.History, s.History)
	require.Equal(t, model.StateArchived, s.State())
}

func TestExit_ArchiveLedgerFailureRemovesCopies(t *testing.T) {
	h := newHarness()
	h.slotsRepo = &failingSlots{SlotRepository: h.repo, archiveErr: errors.New("db down")}
	p := student()
	seeded := h.seed(t, p.UserID, 3, 2, true)

	_, err := h.slots().Exit(context.Background(), p, 3, "archive")
	require.Error(t, err)
	require.ElementsMatch(t, seeded.History, h.blobs.Keys())

	got, _ := h.repo.Get(context.Background(), seeded.ID)
	require.Equal(t, model.StateLocked, got.State())
}

func TestExit_PolicyOverridesRequestedMode(t *testing.T) {
	h := newHarness()
	h.cfg.ExitPolicy = config.ExitPolicyDiscard
	p := student()
	h.seed(t, p.UserID, 2, 3, true)

	s, err := h.slots().Exit(context.Background(), p, 2, "archive")
	require.NoError(t, err)
	require.Equal(t, model.StateCleared, s.State())

	h2 := newHarness()
	_, err = h2.slots().Exit(context.Background(), p, 2, "shred")
	require.Error(t, err)
}

func TestList_Permissions(t *testing.T) {
	h := newHarness()
	h.cfg.SlotCount = 4
	svc := h.slots()
	ctx := context.Background()
	p := student()

	out, err := svc.List(ctx, p, uuid.Nil)
	require.NoError(t, err)
	require.Len(t, out, 4)
	for i, s := range out {
		require.Equal(t, i, s.SlotIndex)
		require.Equal(t, p.UserID, s.OwnerID)
	}

	_, err = svc.List(ctx, p, uuid.Must(uuid.NewV4()))
	require.ErrorIs(t, err, errs.ErrForbidden)

	ro := model.Principal{UserID: uuid.Must(uuid.NewV4()), Role: model.RoleAdminReadonly}
	out, err = svc.List(ctx, ro, p.UserID)
	require.NoError(t, err)
	require.Len(t, out, 4)

	require.NoError(t, h.settings.SetLoginLocked(ctx, true))
	_, err = svc.List(ctx, p, uuid.Nil)
	require.ErrorIs(t, err, errs.ErrLoginLocked)
}

func TestLoad_SharedCallIgnoresFirstCallerDeadline(t *testing.T) {
	h := newHarness()
	slow := &slowSlots{SlotRepository: h.repo, delay: 100 * time.Millisecond}
	h.slotsRepo = slow
	svc := h.slots()
	p := student()

	short, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	var wg sync.WaitGroup
	var errA error
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, errA = svc.Exit(short, p, 3, "")
	}()
	time.Sleep(5 * time.Millisecond)

	slot, errB := svc.Exit(context.Background(), p, 3, "")
	wg.Wait()

	require.ErrorIs(t, errA, context.DeadlineExceeded)
	require.NoError(t, errB)
	require.Equal(t, 3, slot.SlotIndex)
	require.Equal(t, model.StateOpen, slot.State())
	require.Equal(t, int32(1), slow.loads.Load())
}
