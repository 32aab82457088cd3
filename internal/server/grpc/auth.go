package grpcserver

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"
	"google.golang.org/grpc/metadata"

	pb "github.com/and161185/slotkeeper/api/slotkeeper/v1"
	"github.com/and161185/slotkeeper/internal/model"
	"github.com/and161185/slotkeeper/internal/service"
)

// Authenticator checks HS256 access tokens issued by the auth service.
type Authenticator struct {
	signKey []byte
	public  map[string]bool
}

// NewAuthenticator constructs an Authenticator. Login and the gate reads are
// reachable without a token so a client can show the gate before login.
func NewAuthenticator(signKey []byte) *Authenticator {
	return &Authenticator{
		signKey: signKey,
		public: map[string]bool{
			pb.LoginMethod:     true,
			pb.GetGateMethod:   true,
			pb.WatchGateMethod: true,
		},
	}
}

// principalFromMD extracts "authorization: Bearer <JWT>", verifies HS256 and
// returns the subject and role.
func (a *Authenticator) principalFromMD(ctx context.Context) (model.Principal, error) {
	tok, err := bearerTokenFromMD(ctx)
	if err != nil {
		return model.Principal{}, err
	}

	var claims service.Claims
	parsed, err := jwt.ParseWithClaims(tok, &claims, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return a.signKey, nil
	}, jwt.WithLeeway(30*time.Second))
	if err != nil || !parsed.Valid {
		return model.Principal{}, errors.New("invalid token")
	}

	id, err := uuid.FromString(claims.Subject)
	if err != nil || id == uuid.Nil {
		return model.Principal{}, errors.New("bad subject")
	}
	if !claims.Role.Valid() {
		return model.Principal{}, errors.New("bad role")
	}
	return model.Principal{UserID: id, Role: claims.Role}, nil
}

func bearerTokenFromMD(ctx context.Context) (string, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return "", errors.New("no metadata")
	}
	for _, v := range md.Get("authorization") {
		v = strings.TrimSpace(v)
		if len(v) >= 7 && strings.EqualFold(v[:7], "bearer ") {
			t := strings.TrimSpace(v[7:])
			if t != "" {
				return t, nil
			}
		}
	}
	return "", errors.New("no bearer token")
}
