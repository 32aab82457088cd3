// Package service contains application services: authentication, the slot
// lifecycle, administrative overrides and the login gate.
package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	pkgcrypto "github.com/and161185/slotkeeper/internal/crypto"
	"github.com/and161185/slotkeeper/internal/errs"
	"github.com/and161185/slotkeeper/internal/limiter"
	"github.com/and161185/slotkeeper/internal/model"
	"github.com/and161185/slotkeeper/internal/repository"
)

// AuthService defines authentication and account provisioning.
type AuthService interface {
	// LoginWithIP applies rate-limiting and the login gate, then authenticates the user.
	LoginWithIP(ctx context.Context, username, password string, ip string) (tokens model.Tokens, user model.User, err error)
	// CreateStudent provisions a student account; admin only.
	CreateStudent(ctx context.Context, p model.Principal, username, password, displayName string) (uuid.UUID, error)
	// EnsureAdmin creates the bootstrap admin if the username is free.
	EnsureAdmin(ctx context.Context, username, password string) error
}

// Claims is the access token payload.
type Claims struct {
	Role model.Role `json:"role"`
	jwt.RegisteredClaims
}

type AuthServiceImpl struct {
	users     repository.UserRepository
	settings  repository.SettingsRepository
	signKey   []byte
	accessTTL time.Duration
	lim       limiter.Limiter
	log       *zap.Logger
}

// NewAuthService constructs AuthService with required dependencies.
func NewAuthService(users repository.UserRepository, settings repository.SettingsRepository, signKey []byte,
	accessTTL time.Duration, lim limiter.Limiter, log *zap.Logger) *AuthServiceImpl {
	if log == nil {
		log = zap.NewNop()
	}
	return &AuthServiceImpl{users: users, settings: settings, signKey: signKey, accessTTL: accessTTL, lim: lim, log: log}
}

const (
	minPasswordLen = 6
	maxUsernameLen = 64
)

func validateCredentials(username, password string) error {
	switch {
	case username == "" || password == "":
		return errors.New("validation: empty username/password")
	case len(username) > maxUsernameLen || strings.ContainsAny(username, " \t\r\n"):
		return errors.New("validation: bad username")
	case len(password) < minPasswordLen:
		return errors.New("validation: password too short")
	}
	return nil
}

// create stores a new user record with a per-user salt.
func (s *AuthServiceImpl) create(ctx context.Context, username, password, displayName string, role model.Role) (uuid.UUID, error) {
	if err := validateCredentials(username, password); err != nil {
		return uuid.Nil, err
	}
	uid, err := uuid.NewV4()
	if err != nil {
		return uuid.Nil, err
	}
	saltAuth, err := pkgcrypto.NewSalt()
	if err != nil {
		return uuid.Nil, err
	}
	if displayName == "" {
		displayName = username
	}
	u := &model.User{
		ID:          uid,
		Username:    username,
		DisplayName: displayName,
		Role:        role,
		PwdHash:     pkgcrypto.HashPassword([]byte(password), saltAuth),
		SaltAuth:    saltAuth,
	}
	if err := s.users.Create(ctx, u); err != nil {
		return uuid.Nil, err
	}
	return uid, nil
}

// CreateStudent creates a student account on behalf of an admin.
func (s *AuthServiceImpl) CreateStudent(ctx context.Context, p model.Principal, username, password, displayName string) (uuid.UUID, error) {
	if !p.Role.CanMutate() {
		return uuid.Nil, errs.ErrForbidden
	}
	id, err := s.create(ctx, username, password, displayName, model.RoleStudent)
	if err != nil {
		return uuid.Nil, err
	}
	s.log.Info("student created", zap.String("user", id.String()), zap.String("by", p.UserID.String()))
	return id, nil
}

// EnsureAdmin creates an admin account unless the username already exists.
func (s *AuthServiceImpl) EnsureAdmin(ctx context.Context, username, password string) error {
	_, err := s.users.GetByUsername(ctx, username)
	if err == nil {
		return nil
	}
	if !errors.Is(err, errs.ErrNotFound) {
		return err
	}
	id, err := s.create(ctx, username, password, "", model.RoleAdmin)
	if errors.Is(err, errs.ErrAlreadyExists) {
		return nil
	}
	if err != nil {
		return err
	}
	s.log.Info("bootstrap admin created", zap.String("user", id.String()))
	return nil
}

// LoginWithIP authenticates with rate limiting by (username, ip).
func (s *AuthServiceImpl) LoginWithIP(ctx context.Context, username, password, ip string) (model.Tokens, model.User, error) {
	ipHash := limiter.HashIP(ip)

	// Check if requests are currently allowed for this (user, ip).
	allowed, _, err := s.lim.Allow(ctx, username, ipHash)
	if err != nil {
		return model.Tokens{}, model.User{}, err
	}
	if !allowed {
		return model.Tokens{}, model.User{}, errs.ErrRateLimited
	}

	u, err := s.users.GetByUsername(ctx, username)
	if err != nil || !pkgcrypto.VerifyPassword([]byte(password), u.SaltAuth, u.PwdHash) {
		// Record failure; if threshold reached, return rate-limited.
		if blocked, _, ferr := s.lim.Failure(ctx, username, ipHash); ferr == nil && blocked {
			return model.Tokens{}, model.User{}, errs.ErrRateLimited
		}
		// unknown user and wrong password look the same
		return model.Tokens{}, model.User{}, errs.ErrUnauthorized
	}

	// Gate is checked only after the password, so a locked gate does not
	// reveal which usernames exist.
	if !u.Role.IsAdmin() {
		locked, err := s.settings.LoginLocked(ctx)
		if err != nil {
			return model.Tokens{}, model.User{}, err
		}
		if locked {
			return model.Tokens{}, model.User{}, errs.ErrLoginLocked
		}
	}

	// Success: reset counters (best-effort).
	_ = s.lim.Success(ctx, username, ipHash)

	access, exp, err := s.issueAccessToken(u.ID, u.Role)
	if err != nil {
		return model.Tokens{}, model.User{}, err
	}
	return model.Tokens{AccessToken: access, ExpiresAt: exp}, *u, nil
}

// issueAccessToken creates a signed HS256 JWT for the given subject and role.
func (s *AuthServiceImpl) issueAccessToken(userID uuid.UUID, role model.Role) (string, time.Time, error) {
	now := time.Now()
	exp := now.Add(s.accessTTL)
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(s.signKey)
	return signed, exp, err
}
