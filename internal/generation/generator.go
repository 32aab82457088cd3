// Package generation talks to the image backend.
package generation

import (
	"context"
	"fmt"

	"github.com/and161185/slotkeeper/internal/model"
)

// Generator produces one image for a prompt. Implementations must honor ctx
// cancellation; the caller applies the generation timeout.
type Generator interface {
	Generate(ctx context.Context, prompt, aspectRatio string, refs []model.ReferenceImage) (model.Artifact, error)
}

// AspectRatios lists the supported aspect ratios; "" means the backend default.
var AspectRatios = []string{"1:1", "3:4", "4:3", "9:16", "16:9"}

// ValidateAspectRatio rejects ratios the backend does not support.
func ValidateAspectRatio(ar string) error {
	if ar == "" {
		return nil
	}
	for _, a := range AspectRatios {
		if a == ar {
			return nil
		}
	}
	return fmt.Errorf("validation: unsupported aspect ratio %q", ar)
}
