package service

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/slotkeeper/internal/archive"
	"github.com/and161185/slotkeeper/internal/blobstore"
	"github.com/and161185/slotkeeper/internal/config"
	"github.com/and161185/slotkeeper/internal/model"
	"github.com/and161185/slotkeeper/internal/moderation"
	"github.com/and161185/slotkeeper/internal/presence"
	"github.com/and161185/slotkeeper/internal/repository"
	"github.com/and161185/slotkeeper/internal/repository/memory"
	"github.com/and161185/slotkeeper/internal/slotlock"
)

func tinyPNG() []byte {
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for i := range img.Pix {
		img.Pix[i] = 0x7f
	}
	img.Set(0, 0, color.Black)
	var buf bytes.Buffer
	_ = png.Encode(&buf, img)
	return buf.Bytes()
}

// fakeGen returns a fixed PNG or err. hook runs inside Generate.
type fakeGen struct {
	err   error
	block bool // wait for ctx instead of returning
	hook  func()
	calls atomic.Int32

	mu       sync.Mutex
	lastRefs []model.ReferenceImage
}

func (g *fakeGen) Generate(ctx context.Context, _, _ string, refs []model.ReferenceImage) (model.Artifact, error) {
	g.calls.Add(1)
	g.mu.Lock()
	g.lastRefs = refs
	g.mu.Unlock()
	if g.hook != nil {
		g.hook()
	}
	if g.block {
		<-ctx.Done()
		return model.Artifact{}, ctx.Err()
	}
	if g.err != nil {
		return model.Artifact{}, g.err
	}
	return model.Artifact{Data: tinyPNG(), MIMEType: "image/png"}, nil
}

// flakyBlobs wraps the in-memory store with injectable failures.
type flakyBlobs struct {
	*blobstore.Memory
	putErr func(key string) error
	getErr func(key string) error
}

func (f *flakyBlobs) Put(ctx context.Context, key string, data []byte, ct string) error {
	if f.putErr != nil {
		if err := f.putErr(key); err != nil {
			return err
		}
	}
	return f.Memory.Put(ctx, key, data, ct)
}

func (f *flakyBlobs) Get(ctx context.Context, key string) ([]byte, string, error) {
	if f.getErr != nil {
		if err := f.getErr(key); err != nil {
			return nil, "", err
		}
	}
	return f.Memory.Get(ctx, key)
}

// failingEncoder fails for the n-th call (1-based) and encodes otherwise.
type failingEncoder struct {
	failOn int32
	n      atomic.Int32
	enc    *archive.Encoder
}

func (e *failingEncoder) Reencode(data []byte) ([]byte, error) {
	if e.n.Add(1) == e.failOn {
		return nil, errors.New("corrupt image")
	}
	return e.enc.Reencode(data)
}

// failingSlots wraps a repository and fails RecordAttempt.
type failingSlots struct {
	repository.SlotRepository
	recordErr  error
	archiveErr error
}

func (f *failingSlots) RecordAttempt(ctx context.Context, id uuid.UUID, ref, prompt string) (model.Slot, error) {
	if f.recordErr != nil {
		return model.Slot{}, f.recordErr
	}
	return f.SlotRepository.RecordAttempt(ctx, id, ref, prompt)
}

func (f *failingSlots) Archive(ctx context.Context, id uuid.UUID, refs []string) (model.Slot, error) {
	if f.archiveErr != nil {
		return model.Slot{}, f.archiveErr
	}
	return f.SlotRepository.Archive(ctx, id, refs)
}

type errClassifier struct{ err error }

func (c errClassifier) Classify(context.Context, string, model.SlotContext) (model.Verdict, error) {
	return model.Verdict{}, c.err
}

type harness struct {
	repo     *memory.SlotRepo
	settings *memory.SettingsRepo
	users    *memory.UserRepo
	blobs    *flakyBlobs
	gen      *fakeGen
	enc      Reencoder
	locks    *slotlock.Locker
	pres     *presence.Tracker
	cls      moderation.Classifier
	cfg      SlotConfig

	slotsRepo repository.SlotRepository
}

func newHarness() *harness {
	repo := memory.NewSlotRepo()
	return &harness{
		repo:      repo,
		slotsRepo: repo,
		settings:  memory.NewSettingsRepo(),
		users:     memory.NewUserRepo(),
		blobs:     &flakyBlobs{Memory: blobstore.NewMemory()},
		gen:       &fakeGen{},
		enc:       archive.New(64, 40),
		locks:     slotlock.New(),
		pres:      presence.New(time.Minute),
		cls:       moderation.NewRuleClassifier(),
		cfg:       SlotConfig{SlotCount: 15, ExitPolicy: config.ExitPolicyChoice},
	}
}

func (h *harness) slots() *SlotServiceImpl {
	return NewSlotService(SlotDeps{
		Slots:     h.slotsRepo,
		Settings:  h.settings,
		Moderator: moderation.NewGate(h.cls, time.Second, nil),
		Generator: h.gen,
		Blobs:     h.blobs,
		Encoder:   h.enc,
		Locks:     h.locks,
		Presence:  h.pres,
	}, h.cfg)
}

func (h *harness) admin() *AdminServiceImpl {
	return NewAdminService(h.slotsRepo, h.users, h.blobs, h.locks, h.pres, nil)
}

func student() model.Principal {
	return model.Principal{UserID: uuid.Must(uuid.NewV4()), Role: model.RoleStudent}
}

// seed stores a locked-or-open active slot with n real artifacts.
func (h *harness) seed(t *testing.T, owner uuid.UUID, idx, n int, locked bool) model.Slot {
	t.Helper()
	s, err := h.repo.Load(context.Background(), owner, idx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	for i := 0; i < n; i++ {
		k, _ := blobstore.NewKey(owner, idx, blobstore.KindOriginal, "image/png")
		_ = h.blobs.Memory.Put(context.Background(), k, tinyPNG(), "image/png")
		s.History = append(s.History, k)
		s.PromptHistory = append(s.PromptHistory, "prompt")
		s.CurrentArtifact = k
	}
	s.AttemptsUsed = n
	s.Locked = locked
	h.repo.Put(s)
	return s
}

func countPrefix(keys []string, sub string) int {
	n := 0
	for _, k := range keys {
		if strings.Contains(k, sub) {
			n++
		}
	}
	return n
}

// slowSlots delays Load and honors its context like the postgres ledger.
type slowSlots struct {
	repository.SlotRepository
	delay time.Duration
	loads atomic.Int32
}

func (s *slowSlots) Load(ctx context.Context, owner uuid.UUID, idx int) (model.Slot, error) {
	s.loads.Add(1)
	select {
	case <-ctx.Done():
		return model.Slot{}, ctx.Err()
	case <-time.After(s.delay):
	}
	return s.SlotRepository.Load(ctx, owner, idx)
}
