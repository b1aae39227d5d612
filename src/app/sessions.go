package app

import (
	"context"
	"errors"

	"learnassist/src/model"
	"learnassist/src/storage"
)

// CreateSession creates a session. When mode is empty and sample is not,
// the mode is detected from sample.
func (a *App) CreateSession(ctx context.Context, userID string, mode model.Mode, title, sample string) (*model.Session, error) {
	if mode == "" && sample != "" {
		mode = a.Router.DetectMode(ctx, sample)
	}
	sess, err := a.Store.CreateSession(ctx, userID, mode, title)
	if err != nil {
		return nil, err
	}
	a.touchRuntime(ctx, sess.ID, func(rs *storage.RuntimeState) {
		rs.Status = sess.Status
		rs.Mode = sess.Mode
	})
	return sess, nil
}

// DeleteSession soft-deletes a session and drops its volatile state.
func (a *App) DeleteSession(ctx context.Context, sessionID string) error {
	if err := a.Store.DeleteSession(ctx, sessionID); err != nil {
		return err
	}
	if err := a.Runtime.Delete(ctx, sessionID); err != nil {
		a.log.Warn().Err(err).Str("session_id", sessionID).Msg("Failed to drop runtime state")
	}
	if err := a.Conversation.Clear(ctx, sessionID); err != nil {
		a.log.Warn().Err(err).Str("session_id", sessionID).Msg("Failed to clear conversation")
	}
	return nil
}

// ModeSwitch reports the outcome of SwitchMode.
type ModeSwitch struct {
	Session     *model.Session `json:"session"`
	From        model.Mode     `json:"from"`
	To          model.Mode     `json:"to"`
	Allowed     []model.Kind   `json:"allowed"`
	Invalidated int            `json:"invalidated"`
}

// SwitchMode moves a session to mode and invalidates cached results of the
// kinds the new mode no longer allows.
func (a *App) SwitchMode(ctx context.Context, sessionID string, mode model.Mode) (*ModeSwitch, error) {
	current, err := a.Store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if _, ok := a.Router.Modes()[mode]; !ok {
		return nil, &model.InvalidModeError{Mode: mode, AllowedModes: []model.Mode{model.ModeLiterature, model.ModeScience}}
	}

	out := &ModeSwitch{From: current.Mode, To: mode, Allowed: a.Router.AllowedKinds(mode)}
	if current.Mode == mode {
		out.Session = current
		return out, nil
	}

	sess, err := a.Store.UpdateMode(ctx, sessionID, mode)
	if err != nil {
		return nil, err
	}
	out.Session = sess

	for _, kind := range a.Router.AllowedKinds(current.Mode) {
		if a.Router.Allowed(mode, kind) {
			continue
		}
		n, err := a.cache.InvalidateKind(ctx, kind)
		if err != nil {
			a.log.Warn().Err(err).Str("kind", string(kind)).Msg("Failed to invalidate cached results")
			continue
		}
		out.Invalidated += n
	}

	a.touchRuntime(ctx, sessionID, func(rs *storage.RuntimeState) {
		rs.Status = sess.Status
		rs.Mode = mode
	})
	a.log.Info().
		Str("session_id", sessionID).
		Str("from", string(current.Mode)).
		Str("to", string(mode)).
		Int("invalidated", out.Invalidated).
		Msg("Session mode switched")
	return out, nil
}

// activeSession returns the session or an error when it is missing or
// deleted.
func (a *App) activeSession(ctx context.Context, sessionID string) (*model.Session, error) {
	sess, err := a.Store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status == model.SessionDeleted {
		return nil, model.ErrSessionDeleted
	}
	return sess, nil
}

func (a *App) touchRuntime(ctx context.Context, sessionID string, fn func(*storage.RuntimeState)) {
	if err := a.Runtime.Update(ctx, sessionID, fn); err != nil && !errors.Is(err, context.Canceled) {
		a.log.Warn().Err(err).Str("session_id", sessionID).Msg("Failed to update runtime state")
	}
}
