// Package grpcserver exposes the slotkeeper gRPC API handlers.
package grpcserver

import (
	"context"
	"net"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"

	pb "github.com/and161185/slotkeeper/api/slotkeeper/v1"
	"github.com/and161185/slotkeeper/internal/convert"
	"github.com/and161185/slotkeeper/internal/model"
	"github.com/and161185/slotkeeper/internal/service"
)

// Deps are the services the handlers delegate to.
type Deps struct {
	Auth  service.AuthService
	Slots service.SlotService
	Admin service.AdminService
	Gate  service.GateService
	Links convert.Linker
	Log   *zap.Logger
}

// Server wires services into gRPC handlers.
type Server struct {
	pb.UnimplementedSlotKeeperServer
	Deps
}

var _ pb.SlotKeeperServer = (*Server)(nil)

// New constructs a gRPC server with injected services.
func New(d Deps) *Server {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	return &Server{Deps: d}
}

// Register mounts the service on gs.
func (s *Server) Register(gs grpc.ServiceRegistrar) { pb.RegisterSlotKeeperServer(gs, s) }

func caller(ctx context.Context) (model.Principal, error) {
	p, ok := PrincipalFromCtx(ctx)
	if !ok {
		return model.Principal{}, withInfo(codes.Unauthenticated, "no auth", "UNAUTHENTICATED", nil)
	}
	return p, nil
}

// clientIP drops the port so every connection from one host shares a
// limiter bucket.
func clientIP(ctx context.Context) string {
	addr := remoteAddr(ctx)
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

func slotID(raw string) (uuid.UUID, error) {
	id, err := convert.ParseID(raw)
	if err != nil || id == uuid.Nil {
		return uuid.Nil, invalid("bad slot id")
	}
	return id, nil
}

// --- Auth ---

// Login authenticates a user and returns an access token.
func (s *Server) Login(ctx context.Context, req *pb.LoginRequest) (*pb.LoginResponse, error) {
	if req.Username == "" || req.Password == "" {
		return nil, invalid("empty username/password")
	}
	tok, u, err := s.Auth.LoginWithIP(ctx, req.Username, req.Password, clientIP(ctx))
	if err != nil {
		return nil, toStatus(err, nil)
	}
	return &pb.LoginResponse{
		AccessToken: tok.AccessToken,
		UserID:      u.ID.String(),
		Role:        string(u.Role),
		ExpiresAt:   tok.ExpiresAt,
	}, nil
}

// CreateStudent provisions a student account (admin only).
func (s *Server) CreateStudent(ctx context.Context, req *pb.CreateStudentRequest) (*pb.CreateStudentResponse, error) {
	p, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	id, err := s.Auth.CreateStudent(ctx, p, req.Username, req.Password, req.DisplayName)
	if err != nil {
		return nil, toStatus(err, nil)
	}
	return &pb.CreateStudentResponse{UserID: id.String()}, nil
}

// --- Slots ---

// Generate moderates, generates and records one attempt. A moderation block
// is an OK response with Blocked set.
func (s *Server) Generate(ctx context.Context, req *pb.GenerateRequest) (*pb.GenerateResponse, error) {
	p, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	res, err := s.Slots.Submit(ctx, p, req.SlotIndex, req.Prompt, convert.FromWireGenerate(req))
	if err != nil {
		var meta map[string]string
		if res.Blocked {
			meta = map[string]string{"blockType": string(res.Verdict.BlockReason), "message": res.Verdict.Explanation}
		}
		return nil, toStatus(err, meta)
	}
	if res.Blocked {
		return &pb.GenerateResponse{
			Blocked:   true,
			BlockType: string(res.Verdict.BlockReason),
			Message:   res.Verdict.Explanation,
		}, nil
	}
	// The attempt is already recorded; a link failure must not read as a
	// failed generation. Keys are enough to fetch the links later via ListSlots.
	view, err := convert.ToWireSlot(ctx, s.Links, res.Slot)
	if err != nil {
		s.Log.Error("link artifact", zap.String("slot", res.Slot.ID.String()), zap.Error(err))
		view = convert.ToWireSlotUnlinked(res.Slot)
	}
	return &pb.GenerateResponse{ImageURL: view.CurrentArtifactURL, Slot: view}, nil
}

// ListSlots returns the caller's slots, or another user's for admins.
func (s *Server) ListSlots(ctx context.Context, req *pb.ListSlotsRequest) (*pb.ListSlotsResponse, error) {
	p, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	owner, err := convert.ParseID(req.UserID)
	if err != nil {
		return nil, toStatus(err, nil)
	}
	slots, err := s.Slots.List(ctx, p, owner)
	if err != nil {
		return nil, toStatus(err, nil)
	}
	views, err := convert.ToWireSlots(ctx, s.Links, slots)
	if err != nil {
		return nil, toStatus(err, nil)
	}
	return &pb.ListSlotsResponse{Slots: views}, nil
}

func (s *Server) slotResponse(ctx context.Context, slot model.Slot, err error) (*pb.SlotResponse, error) {
	if err != nil {
		return nil, toStatus(err, nil)
	}
	view, err := convert.ToWireSlot(ctx, s.Links, slot)
	if err != nil {
		return nil, toStatus(err, nil)
	}
	return &pb.SlotResponse{Slot: view}, nil
}

// ExitSlot leaves a locked slot by archive or discard.
func (s *Server) ExitSlot(ctx context.Context, req *pb.ExitSlotRequest) (*pb.SlotResponse, error) {
	p, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	slot, err := s.Slots.Exit(ctx, p, req.SlotIndex, req.Mode)
	return s.slotResponse(ctx, slot, err)
}

// --- Admin ---

type adminOp func(context.Context, model.Principal, uuid.UUID) (model.Slot, error)

func (s *Server) override(ctx context.Context, req *pb.SlotIDRequest, op adminOp) (*pb.SlotResponse, error) {
	p, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	id, err := slotID(req.SlotID)
	if err != nil {
		return nil, err
	}
	slot, err := op(ctx, p, id)
	return s.slotResponse(ctx, slot, err)
}

// ResetSlot zeroes a slot and reopens it.
func (s *Server) ResetSlot(ctx context.Context, req *pb.SlotIDRequest) (*pb.SlotResponse, error) {
	return s.override(ctx, req, s.Admin.Reset)
}

// ForceLockSlot locks a slot as-is.
func (s *Server) ForceLockSlot(ctx context.Context, req *pb.SlotIDRequest) (*pb.SlotResponse, error) {
	return s.override(ctx, req, s.Admin.ForceLock)
}

// ForceUnlockSlot reopens a slot below its cap.
func (s *Server) ForceUnlockSlot(ctx context.Context, req *pb.SlotIDRequest) (*pb.SlotResponse, error) {
	return s.override(ctx, req, s.Admin.ForceUnlock)
}

// ForceClearSlot drops a slot's artifacts.
func (s *Server) ForceClearSlot(ctx context.Context, req *pb.SlotIDRequest) (*pb.SlotResponse, error) {
	return s.override(ctx, req, s.Admin.ForceClear)
}

// SetLoginLocked flips the global gate.
func (s *Server) SetLoginLocked(ctx context.Context, req *pb.SetLoginLockedRequest) (*pb.GateState, error) {
	p, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.Gate.SetLocked(ctx, p, req.Locked); err != nil {
		return nil, toStatus(err, nil)
	}
	return &pb.GateState{LoginLocked: req.Locked}, nil
}

// GetPresence lists users currently generating.
func (s *Server) GetPresence(ctx context.Context, _ *pb.Empty) (*pb.PresenceResponse, error) {
	p, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	entries, err := s.Admin.Presence(ctx, p)
	if err != nil {
		return nil, toStatus(err, nil)
	}
	return &pb.PresenceResponse{Generating: convert.ToWirePresence(entries)}, nil
}

// ListStudents lists student accounts.
func (s *Server) ListStudents(ctx context.Context, _ *pb.Empty) (*pb.ListStudentsResponse, error) {
	p, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	users, err := s.Admin.Students(ctx, p)
	if err != nil {
		return nil, toStatus(err, nil)
	}
	return &pb.ListStudentsResponse{Students: convert.ToWireStudents(users)}, nil
}

// --- Gate ---

// GetGate reads the gate.
func (s *Server) GetGate(ctx context.Context, _ *pb.Empty) (*pb.GateState, error) {
	locked, err := s.Gate.Locked(ctx)
	if err != nil {
		return nil, toStatus(err, nil)
	}
	return &pb.GateState{LoginLocked: locked}, nil
}

// WatchGate streams gate transitions until the client goes away.
func (s *Server) WatchGate(_ *pb.Empty, stream grpc.ServerStreamingServer[pb.GateState]) error {
	err := s.Gate.Watch(stream.Context(), func(locked bool) error {
		return stream.Send(&pb.GateState{LoginLocked: locked})
	})
	return toStatus(err, nil)
}
