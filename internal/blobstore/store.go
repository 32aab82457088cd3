// Package blobstore stores generated artifacts in object storage.
//
// Keys follow slots/<ownerID>/<slotIndex>/<kind>/<uuid>.<ext> so that every
// artifact is namespaced by its owner and slot.
package blobstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/gofrs/uuid/v5"
)

// ErrNotFound is returned by Get for a missing key.
var ErrNotFound = errors.New("blob not found")

// Store is the object storage collaborator. Delete of a missing key is not an error.
type Store interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, string, error)
	Delete(ctx context.Context, key string) error
	// URL returns a link the client can fetch the artifact from.
	URL(ctx context.Context, key string) (string, error)
}

// Kind is the artifact category inside a slot namespace.
type Kind string

const (
	KindOriginal  Kind = "original"
	KindArchive   Kind = "archive"
	KindReference Kind = "reference"
)

const keyPrefix = "slots"

// NewKey returns a fresh key for an artifact of contentType.
func NewKey(ownerID uuid.UUID, slotIndex int, kind Kind, contentType string) (string, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/%s/%d/%s/%s.%s", keyPrefix, ownerID, slotIndex, kind, id, Ext(contentType)), nil
}

// ParseKey extracts the owner and slot index from a key built by NewKey.
func ParseKey(key string) (ownerID uuid.UUID, slotIndex int, kind Kind, err error) {
	parts := strings.Split(key, "/")
	if len(parts) != 5 || parts[0] != keyPrefix {
		return uuid.Nil, 0, "", fmt.Errorf("validation: malformed blob key %q", key)
	}
	ownerID, err = uuid.FromString(parts[1])
	if err != nil {
		return uuid.Nil, 0, "", fmt.Errorf("validation: blob key owner: %w", err)
	}
	slotIndex, err = strconv.Atoi(parts[2])
	if err != nil || slotIndex < 0 {
		return uuid.Nil, 0, "", fmt.Errorf("validation: blob key slot %q", parts[2])
	}
	return ownerID, slotIndex, Kind(parts[3]), nil
}

// Ext maps an image content type to a file extension.
func Ext(contentType string) string {
	switch strings.ToLower(contentType) {
	case "image/png":
		return "png"
	case "image/jpeg", "image/jpg":
		return "jpg"
	case "image/webp":
		return "webp"
	case "image/gif":
		return "gif"
	}
	return "bin"
}
