// Package switcher moves a client terminal from one session to another.
//
// A switch detaches the caller's current session and then attaches the
// target. Detach always completes before attach starts, the only abort point
// is the optional confirmation before the detach, and nothing is retried or
// rolled back: when the detach succeeds and the attach fails the client ends
// up attached to neither session.
package switcher

import (
	"context"
	"errors"
	"fmt"
	"io"

	"pkt.systems/pslog"
	"pkt.systems/shellkeep/schema"
)

// Attacher binds the client terminal to a session, blocking while attached.
type Attacher interface {
	Attach(ctx context.Context, name schema.SessionName, opts schema.AttachOptions) error
}

// Detacher unbinds clients from the named sessions.
type Detacher interface {
	Detach(ctx context.Context, names []schema.SessionName) error
}

// Intent is a single switch request.
type Intent struct {
	// Current is the session the caller runs in, empty when outside any session.
	Current schema.SessionName
	Target  schema.SessionName
	// Confirm asks before detaching from Current.
	Confirm bool
	Options schema.AttachOptions
}

// Outcome reports how a switch ended.
type Outcome int

const (
	// OutcomeAttached means the caller was outside a session and attached to the target.
	OutcomeAttached Outcome = iota + 1
	// OutcomeSwitched means the current session was detached and the target attached.
	OutcomeSwitched
	// OutcomeAlreadyInSession means the target is the current session; nothing was done.
	OutcomeAlreadyInSession
	// OutcomeCancelled means the user declined the confirmation; nothing was done.
	OutcomeCancelled
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAttached:
		return "attached"
	case OutcomeSwitched:
		return "switched"
	case OutcomeAlreadyInSession:
		return "already-in-session"
	case OutcomeCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Coordinator sequences the detach and attach of a switch.
type Coordinator struct {
	Attacher  Attacher
	Detacher  Detacher
	Confirmer Confirmer
	// Status receives user-facing progress lines. Nil discards them.
	Status io.Writer
}

// Run executes intent.
func (c *Coordinator) Run(ctx context.Context, intent Intent) (Outcome, error) {
	if err := schema.ValidateSessionName(intent.Target); err != nil {
		return 0, &ValidationError{Name: intent.Target, Err: err}
	}
	if c.Attacher == nil || c.Detacher == nil {
		return 0, errors.New("switcher: attacher and detacher are required")
	}
	log := pslog.Ctx(ctx).With("target", intent.Target)

	switch {
	case intent.Current == intent.Target:
		c.statusf("already in session '%s'\n", intent.Target)
		return OutcomeAlreadyInSession, nil
	case intent.Current == "":
		log.Info("switch attach", "reason", "not in a session")
		c.statusf("attaching to session '%s'...\n", intent.Target)
		if err := c.Attacher.Attach(ctx, intent.Target, intent.Options); err != nil {
			return 0, &TransportError{Step: StepAttach, Session: intent.Target, Err: err}
		}
		return OutcomeAttached, nil
	}

	log = log.With("current", intent.Current)
	log.Info("switch start", "confirm", intent.Confirm)
	if intent.Confirm {
		ok, err := c.confirm(ctx, intent)
		if err != nil {
			return 0, err
		}
		if !ok {
			log.Info("switch cancelled")
			c.statusf("switch cancelled\n")
			return OutcomeCancelled, nil
		}
	}

	c.statusf("detaching from session '%s'...\n", intent.Current)
	if err := c.Detacher.Detach(ctx, []schema.SessionName{intent.Current}); err != nil {
		log.Warn("switch detach failed", "err", err)
		return 0, &TransportError{Step: StepDetach, Session: intent.Current, Err: err}
	}

	c.statusf("attaching to session '%s'...\n", intent.Target)
	if err := c.Attacher.Attach(ctx, intent.Target, intent.Options); err != nil {
		log.Warn("switch attach failed", "err", err)
		return 0, &TransportError{Step: StepAttach, Session: intent.Target, Err: err}
	}
	log.Info("switch complete")
	return OutcomeSwitched, nil
}

func (c *Coordinator) confirm(ctx context.Context, intent Intent) (bool, error) {
	if c.Confirmer == nil {
		return false, errors.New("switcher: confirmation requested without a confirmer")
	}
	prompt := fmt.Sprintf("Switch from session '%s' to '%s'? [y/N] ", intent.Current, intent.Target)
	return c.Confirmer.Confirm(ctx, prompt)
}

func (c *Coordinator) statusf(format string, args ...any) {
	if c.Status == nil {
		return
	}
	_, _ = fmt.Fprintf(c.Status, format, args...)
}
