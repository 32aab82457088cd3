package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/and161185/slotkeeper/internal/archive"
	"github.com/and161185/slotkeeper/internal/blobstore"
	"github.com/and161185/slotkeeper/internal/config"
	"github.com/and161185/slotkeeper/internal/errs"
	"github.com/and161185/slotkeeper/internal/generation"
	"github.com/and161185/slotkeeper/internal/model"
	"github.com/and161185/slotkeeper/internal/policy"
	"github.com/and161185/slotkeeper/internal/presence"
	"github.com/and161185/slotkeeper/internal/repository"
	"github.com/and161185/slotkeeper/internal/slotlock"
)

// SlotService runs the slot lifecycle for students and admins.
type SlotService interface {
	// Submit moderates prompt, generates an image and records the attempt.
	Submit(ctx context.Context, p model.Principal, slotIndex int, prompt string, params model.GenerationParams) (SubmitResult, error)
	// Exit leaves a locked slot by archiving or discarding its artifacts.
	Exit(ctx context.Context, p model.Principal, slotIndex int, mode string) (model.Slot, error)
	// List returns all slots of owner, ordered by index.
	List(ctx context.Context, p model.Principal, ownerID uuid.UUID) ([]model.Slot, error)
}

// SubmitResult is the outcome of a submission. A moderation rejection is a
// result (Blocked) rather than an error; the slot is returned unchanged.
type SubmitResult struct {
	Slot    model.Slot
	Blocked bool
	Verdict model.Verdict
}

// Moderator is the pre-generation gate.
type Moderator interface {
	Evaluate(ctx context.Context, prompt string, slotIndex int) (model.Verdict, error)
}

// Reencoder produces the degraded copy kept by an archive exit.
type Reencoder interface {
	Reencode(data []byte) ([]byte, error)
}

// SlotDeps are the collaborators of SlotServiceImpl.
type SlotDeps struct {
	Slots     repository.SlotRepository
	Settings  repository.SettingsRepository
	Moderator Moderator
	Generator generation.Generator
	Blobs     blobstore.Store
	Encoder   Reencoder
	Locks     *slotlock.Locker
	Presence  *presence.Tracker
	Log       *zap.Logger
}

// SlotConfig holds lifecycle limits.
type SlotConfig struct {
	SlotCount         int
	ExitPolicy        string // archive | discard | choice
	GenerationTimeout time.Duration
	ArchiveParallel   int
	MaxPromptLen      int
	MaxReferences     int
	MaxReferenceBytes int
}

func (c *SlotConfig) defaults() {
	if c.SlotCount <= 0 {
		c.SlotCount = 15
	}
	if c.ExitPolicy == "" {
		c.ExitPolicy = config.ExitPolicyArchive
	}
	if c.ArchiveParallel <= 0 {
		c.ArchiveParallel = 4
	}
	if c.MaxPromptLen <= 0 {
		c.MaxPromptLen = 2000
	}
	if c.MaxReferences <= 0 {
		c.MaxReferences = 3
	}
	if c.MaxReferenceBytes <= 0 {
		c.MaxReferenceBytes = 8 << 20
	}
}

type SlotServiceImpl struct {
	SlotDeps
	cfg SlotConfig
	sf  singleflight.Group
}

// NewSlotService constructs the lifecycle controller.
func NewSlotService(d SlotDeps, cfg SlotConfig) *SlotServiceImpl {
	cfg.defaults()
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	if d.Locks == nil {
		d.Locks = slotlock.New()
	}
	if d.Presence == nil {
		d.Presence = presence.New(0)
	}
	return &SlotServiceImpl{SlotDeps: d, cfg: cfg}
}

// writer reports whether p may run the normal path; admin_readonly may not.
func writer(p model.Principal) error {
	switch p.Role {
	case model.RoleStudent, model.RoleAdmin:
	default:
		return errs.ErrForbidden
	}
	if p.UserID == uuid.Nil {
		return errs.ErrUnauthorized
	}
	return nil
}

func (s *SlotServiceImpl) checkIndex(slotIndex int) error {
	if slotIndex < 0 || slotIndex >= s.cfg.SlotCount {
		return fmt.Errorf("validation: slot index %d outside [0,%d)", slotIndex, s.cfg.SlotCount)
	}
	return nil
}

// loadTimeout bounds a shared load, which no single caller's context owns.
const loadTimeout = 10 * time.Second

// load collapses concurrent first loads of the same slot in this process.
// The shared call is detached from the first caller's cancellation; each
// caller waits on its own ctx.
func (s *SlotServiceImpl) load(ctx context.Context, ownerID uuid.UUID, slotIndex int) (model.Slot, error) {
	key := ownerID.String() + "/" + strconv.Itoa(slotIndex)
	ch := s.sf.DoChan(key, func() (any, error) {
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), loadTimeout)
		defer cancel()
		return s.Slots.Load(lctx, ownerID, slotIndex)
	})
	select {
	case <-ctx.Done():
		return model.Slot{}, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return model.Slot{}, r.Err
		}
		return r.Val.(model.Slot).Clone(), nil
	}
}

// Submit implements SlotService.
func (s *SlotServiceImpl) Submit(ctx context.Context, p model.Principal, slotIndex int, prompt string, params model.GenerationParams) (SubmitResult, error) {
	if err := writer(p); err != nil {
		return SubmitResult{}, err
	}
	if err := s.checkIndex(slotIndex); err != nil {
		return SubmitResult{}, err
	}
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return SubmitResult{}, errors.New("validation: empty prompt")
	}
	if len(prompt) > s.cfg.MaxPromptLen {
		return SubmitResult{}, errors.New("validation: prompt too long")
	}
	if err := generation.ValidateAspectRatio(params.AspectRatio); err != nil {
		return SubmitResult{}, err
	}
	if err := checkGate(ctx, s.Settings, p); err != nil {
		return SubmitResult{}, err
	}

	slot, err := s.load(ctx, p.UserID, slotIndex)
	if err != nil {
		return SubmitResult{}, err
	}
	maxAttempts := policy.MaxAttempts(slotIndex)
	if !slot.CanGenerate(maxAttempts) {
		s.Log.Debug("submit refused: quota",
			zap.String("slot", slot.ID.String()),
			zap.Int("attempts", slot.AttemptsUsed),
			zap.String("state", string(slot.State())),
		)
		return SubmitResult{}, errs.ErrQuotaExhausted
	}

	refs, err := s.references(ctx, p.UserID, params)
	if err != nil {
		return SubmitResult{}, err
	}

	v, err := s.Moderator.Evaluate(ctx, prompt, slotIndex)
	if err != nil {
		return SubmitResult{Slot: slot, Blocked: true, Verdict: v}, err
	}
	if !v.Allowed {
		s.Log.Info("submit blocked",
			zap.String("slot", slot.ID.String()),
			zap.String("reason", string(v.BlockReason)),
		)
		return SubmitResult{Slot: slot, Blocked: true, Verdict: v}, nil
	}

	done := s.Presence.Begin(p.UserID)
	defer done()

	art, err := s.generate(ctx, prompt, params.AspectRatio, refs)
	if err != nil {
		s.Log.Error("generation failed", zap.String("slot", slot.ID.String()), zap.Error(err))
		return SubmitResult{}, err
	}

	key, err := blobstore.NewKey(p.UserID, slotIndex, blobstore.KindOriginal, art.MIMEType)
	if err != nil {
		return SubmitResult{}, err
	}
	if err := s.Blobs.Put(ctx, key, art.Data, art.MIMEType); err != nil {
		s.discard(key)
		s.Log.Error("artifact upload failed", zap.String("slot", slot.ID.String()), zap.Error(err))
		return SubmitResult{}, fmt.Errorf("%w: upload: %v", errs.ErrStorage, err)
	}

	unlock, err := s.Locks.Lock(ctx, slot.ID)
	if err != nil {
		s.discard(key)
		return SubmitResult{}, err
	}
	defer unlock()

	updated, err := s.Slots.RecordAttempt(ctx, slot.ID, key, prompt)
	if err != nil {
		s.discard(key)
		s.logLedgerErr("record attempt", slot.ID, err)
		return SubmitResult{}, err
	}
	s.Log.Info("attempt recorded",
		zap.String("slot", updated.ID.String()),
		zap.Int("attempts", updated.AttemptsUsed),
		zap.Bool("locked", updated.Locked),
	)
	return SubmitResult{Slot: updated, Verdict: v}, nil
}

func (s *SlotServiceImpl) generate(ctx context.Context, prompt, ar string, refs []model.ReferenceImage) (model.Artifact, error) {
	if s.cfg.GenerationTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.GenerationTimeout)
		defer cancel()
	}
	art, err := s.Generator.Generate(ctx, prompt, ar, refs)
	if err != nil {
		return model.Artifact{}, fmt.Errorf("%w: %v", errs.ErrGenerationFailed, err)
	}
	if len(art.Data) == 0 {
		return model.Artifact{}, fmt.Errorf("%w: empty artifact", errs.ErrGenerationFailed)
	}
	if art.MIMEType == "" {
		art.MIMEType = http.DetectContentType(art.Data)
	}
	return art, nil
}

// references gathers the uploaded reference image and the caller's own
// artifacts named as character references.
func (s *SlotServiceImpl) references(ctx context.Context, owner uuid.UUID, params model.GenerationParams) ([]model.ReferenceImage, error) {
	n := len(params.CharacterReferences)
	if len(params.ReferenceImage) > 0 {
		n++
	}
	if n > s.cfg.MaxReferences {
		return nil, fmt.Errorf("validation: at most %d reference images", s.cfg.MaxReferences)
	}
	var refs []model.ReferenceImage
	if len(params.ReferenceImage) > 0 {
		if len(params.ReferenceImage) > s.cfg.MaxReferenceBytes {
			return nil, errors.New("validation: reference image too large")
		}
		mt := params.ReferenceMIME
		if mt == "" {
			mt = http.DetectContentType(params.ReferenceImage)
		}
		if !strings.HasPrefix(mt, "image/") {
			return nil, fmt.Errorf("validation: reference is %s, not an image", mt)
		}
		refs = append(refs, model.ReferenceImage{Data: params.ReferenceImage, MIMEType: mt})
	}
	for _, key := range params.CharacterReferences {
		ownerID, _, _, err := blobstore.ParseKey(key)
		if err != nil {
			return nil, err
		}
		if ownerID != owner {
			return nil, errs.ErrForbidden
		}
		data, ct, err := s.Blobs.Get(ctx, key)
		if errors.Is(err, blobstore.ErrNotFound) {
			return nil, fmt.Errorf("reference %s: %w", key, errs.ErrNotFound)
		}
		if err != nil {
			return nil, fmt.Errorf("%w: reference: %v", errs.ErrStorage, err)
		}
		if ct == "" {
			ct = http.DetectContentType(data)
		}
		refs = append(refs, model.ReferenceImage{Data: data, MIMEType: ct})
	}
	return refs, nil
}

// Exit implements SlotService.
func (s *SlotServiceImpl) Exit(ctx context.Context, p model.Principal, slotIndex int, requested string) (model.Slot, error) {
	if err := writer(p); err != nil {
		return model.Slot{}, err
	}
	if err := s.checkIndex(slotIndex); err != nil {
		return model.Slot{}, err
	}
	mode, err := config.ResolveExit(s.cfg.ExitPolicy, requested)
	if err != nil {
		return model.Slot{}, err
	}
	if err := checkGate(ctx, s.Settings, p); err != nil {
		return model.Slot{}, err
	}

	slot, err := s.load(ctx, p.UserID, slotIndex)
	if err != nil {
		return model.Slot{}, err
	}
	unlock, err := s.Locks.Lock(ctx, slot.ID)
	if err != nil {
		return model.Slot{}, err
	}
	defer unlock()

	// re-read under the writer lock
	slot, err = s.Slots.Get(ctx, slot.ID)
	if err != nil {
		return model.Slot{}, err
	}
	if slot.State() != model.StateLocked {
		// OPEN: nothing to leave yet; ARCHIVED/CLEARED: already left.
		return slot, nil
	}

	switch mode {
	case model.ExitDiscard:
		return s.clear(ctx, slot, "exit discard")
	default:
		return s.archive(ctx, slot)
	}
}

// clear drops the artifact refs and then deletes the blobs they named.
func (s *SlotServiceImpl) clear(ctx context.Context, slot model.Slot, op string) (model.Slot, error) {
	old := slot.History
	updated, err := s.Slots.ClearArtifactsKeepLock(ctx, slot.ID)
	if err != nil {
		s.logLedgerErr(op, slot.ID, err)
		return model.Slot{}, err
	}
	s.purge(ctx, slot.ID, old)
	s.Log.Info(op, zap.String("slot", slot.ID.String()), zap.Int("purged", len(old)))
	return updated, nil
}

// archive replaces every artifact with a degraded copy. An artifact whose
// copy cannot be produced or stored keeps its original ref.
func (s *SlotServiceImpl) archive(ctx context.Context, slot model.Slot) (model.Slot, error) {
	refs, written := s.reencodeAll(ctx, slot)

	updated, err := s.Slots.Archive(ctx, slot.ID, refs)
	if err != nil {
		for _, k := range written {
			s.discard(k)
		}
		s.logLedgerErr("exit archive", slot.ID, err)
		return model.Slot{}, err
	}

	var replaced []string
	for i, k := range slot.History {
		if refs[i] != k {
			replaced = append(replaced, k)
		}
	}
	s.purge(ctx, slot.ID, replaced)
	s.Log.Info("exit archive",
		zap.String("slot", slot.ID.String()),
		zap.Int("artifacts", len(refs)),
		zap.Int("reencoded", len(replaced)),
	)
	return updated, nil
}

func (s *SlotServiceImpl) reencodeAll(ctx context.Context, slot model.Slot) (refs, written []string) {
	refs = append([]string(nil), slot.History...)
	var mu sync.Mutex

	var g errgroup.Group
	g.SetLimit(s.cfg.ArchiveParallel)
	for i, key := range slot.History {
		g.Go(func() error {
			nk, err := s.reencodeOne(ctx, slot, key)
			if err != nil {
				s.Log.Warn("archive: keeping original",
					zap.String("slot", slot.ID.String()),
					zap.String("key", key),
					zap.Error(err),
				)
				return nil
			}
			mu.Lock()
			refs[i] = nk
			written = append(written, nk)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return refs, written
}

func (s *SlotServiceImpl) reencodeOne(ctx context.Context, slot model.Slot, key string) (string, error) {
	data, _, err := s.Blobs.Get(ctx, key)
	if err != nil {
		return "", fmt.Errorf("read: %w", err)
	}
	out, err := s.Encoder.Reencode(data)
	if err != nil {
		return "", fmt.Errorf("reencode: %w", err)
	}
	nk, err := blobstore.NewKey(slot.OwnerID, slot.SlotIndex, blobstore.KindArchive, archive.ContentType)
	if err != nil {
		return "", err
	}
	if err := s.Blobs.Put(ctx, nk, out, archive.ContentType); err != nil {
		s.discard(nk)
		return "", fmt.Errorf("upload: %w", err)
	}
	return nk, nil
}

// List implements SlotService.
func (s *SlotServiceImpl) List(ctx context.Context, p model.Principal, ownerID uuid.UUID) ([]model.Slot, error) {
	if !p.Role.Valid() || p.UserID == uuid.Nil {
		return nil, errs.ErrUnauthorized
	}
	if ownerID == uuid.Nil {
		ownerID = p.UserID
	}
	if ownerID != p.UserID && !p.Role.IsAdmin() {
		return nil, errs.ErrForbidden
	}
	if err := checkGate(ctx, s.Settings, p); err != nil {
		return nil, err
	}
	return s.Slots.LoadAll(ctx, ownerID, s.cfg.SlotCount)
}

// purge deletes blobs the ledger no longer references. Failures leave
// orphans, never dangling refs, so they are only logged.
func (s *SlotServiceImpl) purge(ctx context.Context, slotID uuid.UUID, keys []string) {
	purgeBlobs(context.WithoutCancel(ctx), s.Blobs, s.Log, slotID, keys)
}

// discard best-effort deletes a blob that never made it into the ledger.
func (s *SlotServiceImpl) discard(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.Blobs.Delete(ctx, key); err != nil {
		s.Log.Warn("orphan blob", zap.String("key", key), zap.Error(err))
	}
}

func (s *SlotServiceImpl) logLedgerErr(op string, slotID uuid.UUID, err error) {
	logLedgerErr(s.Log, op, slotID, err)
}

func purgeBlobs(ctx context.Context, blobs blobstore.Store, log *zap.Logger, slotID uuid.UUID, keys []string) {
	for _, k := range keys {
		if err := blobs.Delete(ctx, k); err != nil {
			log.Error("purge failed, orphan blob",
				zap.String("slot", slotID.String()),
				zap.String("key", k),
				zap.Error(err),
			)
		}
	}
}

func logLedgerErr(log *zap.Logger, op string, slotID uuid.UUID, err error) {
	switch {
	case errors.Is(err, errs.ErrInvariantViolation):
		log.Error("ledger invariant violation", zap.String("op", op), zap.String("slot", slotID.String()), zap.Error(err))
	case errors.Is(err, errs.ErrQuotaExhausted), errors.Is(err, errs.ErrFailedPrecondition), errors.Is(err, errs.ErrNotFound):
		log.Debug("ledger refused", zap.String("op", op), zap.String("slot", slotID.String()), zap.Error(err))
	default:
		log.Error("ledger write failed", zap.String("op", op), zap.String("slot", slotID.String()), zap.Error(err))
	}
}
