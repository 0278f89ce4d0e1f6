package reply

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"parley/internal/model"
)

// ErrAbstain is the generator's deliberate non-reply decision. It is a
// policy outcome, not a failure: the scheduler counts it as a skip.
var ErrAbstain = errors.New("generator abstained")

// Request carries everything the generator needs for one draft.
type Request struct {
	PostText       string
	Voice          string
	Classification model.Classification
	MaxChars       int
}

// Generator produces reply text for a post, or abstains.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// LoadVoice reads the voice profile file. A missing or empty voice file is
// an error: generation without a personality is worse than no generation.
func LoadVoice(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("voice file: %w", err)
	}
	voice := strings.TrimSpace(string(b))
	if voice == "" {
		return "", fmt.Errorf("voice file %s is empty", path)
	}
	return voice, nil
}
