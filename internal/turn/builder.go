// ABOUTME: Builds the user/model turn pair committed for one submission
// ABOUTME: Enforces the all-or-nothing shape of video references before persistence

package turn

import (
	"errors"
	"fmt"

	"github.com/2389/parley/internal/store"
)

// ErrInvalidShape is returned for a malformed video reference
var ErrInvalidShape = errors.New("invalid shape")

// Build assembles the turns for one submission.
//
// The user turn is always first and carries userText plus the optional image.
// A model turn follows only when modelText is non-empty or a video is given.
// A non-nil video must carry title, url and thumbnail together.
func Build(userText, modelText, image string, video *store.Video) ([]store.Turn, error) {
	if video != nil && !video.Complete() {
		return nil, fmt.Errorf("%w: video requires title, url and thumbnail", ErrInvalidShape)
	}

	turns := []store.Turn{{
		Role:      store.RoleUser,
		TextParts: []string{userText},
		Image:     image,
	}}

	if modelText == "" && video == nil {
		return turns, nil
	}

	model := store.Turn{
		Role:      store.RoleModel,
		TextParts: []string{},
	}
	if modelText != "" {
		model.TextParts = []string{modelText}
	}
	if video != nil {
		v := *video
		model.Video = &v
	}
	return append(turns, model), nil
}
