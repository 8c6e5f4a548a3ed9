package switcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Confirmer asks the user a yes/no question.
type Confirmer interface {
	Confirm(ctx context.Context, prompt string) (bool, error)
}

// ConfirmFunc adapts a function to Confirmer.
type ConfirmFunc func(ctx context.Context, prompt string) (bool, error)

// Confirm calls f.
func (f ConfirmFunc) Confirm(ctx context.Context, prompt string) (bool, error) {
	return f(ctx, prompt)
}

// PromptConfirmer writes the prompt to Out and reads one line from In.
// The read blocks without a timeout. Nothing past the newline is consumed, so
// input typed ahead stays on In for whoever reads it next.
type PromptConfirmer struct {
	In  io.Reader
	Out io.Writer
}

// Confirm prompts and reports whether the answer was yes. End of input
// without an answer counts as no.
func (p PromptConfirmer) Confirm(_ context.Context, prompt string) (bool, error) {
	if p.Out != nil {
		if _, err := fmt.Fprint(p.Out, prompt); err != nil {
			return false, fmt.Errorf("write confirmation prompt: %w", err)
		}
	}
	if p.In == nil {
		return false, nil
	}
	line, err := readLine(p.In)
	if err != nil && !errors.Is(err, io.EOF) {
		return false, fmt.Errorf("reading confirmation: %w", err)
	}
	return IsYes(line), nil
}

// maxAnswer caps how much of an answer line is kept.
const maxAnswer = 256

// readLine reads up to and including the first newline one byte at a time.
func readLine(r io.Reader) (string, error) {
	var sb strings.Builder
	var b [1]byte
	for {
		n, err := r.Read(b[:])
		if n == 1 {
			if b[0] == '\n' {
				return sb.String(), nil
			}
			if sb.Len() < maxAnswer {
				sb.WriteByte(b[0])
			}
		}
		if err != nil {
			return sb.String(), err
		}
	}
}

// IsYes reports whether answer is a case-insensitive "y" or "yes".
func IsYes(answer string) bool {
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true
	default:
		return false
	}
}
