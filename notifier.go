package authcore

import (
	"context"
	"log/slog"

	"github.com/MrEthical07/authcore/internal/notify"
	"github.com/MrEthical07/authcore/onetime"
	"github.com/MrEthical07/authcore/storage"
)

// Notifier delivers one-time tokens out of band, typically by email.
// Calls run on a background worker after the triggering operation has
// returned; errors are logged and never reach the caller.
type Notifier interface {
	SendVerification(ctx context.Context, principal storage.Principal, token onetime.Issued) error
	SendPasswordReset(ctx context.Context, principal storage.Principal, token onetime.Issued) error
}

// LogNotifier logs that a token was issued without logging the token
// itself. It is the default when no notifier is configured.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n LogNotifier) SendVerification(ctx context.Context, p storage.Principal, t onetime.Issued) error {
	n.logger().InfoContext(ctx, "verification token issued", "subject_id", p.ID, "expires_at", t.ExpiresAt)
	return nil
}

func (n LogNotifier) SendPasswordReset(ctx context.Context, p storage.Principal, t onetime.Issued) error {
	n.logger().InfoContext(ctx, "password reset token issued", "subject_id", p.ID, "expires_at", t.ExpiresAt)
	return nil
}

func (n LogNotifier) logger() *slog.Logger {
	if n.Logger == nil {
		return slog.Default()
	}
	return n.Logger
}

const (
	notifyVerification = "verification"
	notifyReset        = "password_reset"
)

// dispatchNotification hands delivery to the worker pool. The principal is
// copied so later mutations by the caller are not observed.
func (e *Engine) dispatchNotification(kind string, p storage.Principal, token onetime.Issued) {
	p = p.Clone()
	p.PasswordHash = ""

	accepted := e.notify.Submit(notify.Job{
		Kind:      kind,
		SubjectID: p.ID,
		Run: func(ctx context.Context) error {
			if kind == notifyReset {
				return e.notifier.SendPasswordReset(ctx, p, token)
			}
			return e.notifier.SendVerification(ctx, p, token)
		},
	})
	if !accepted {
		e.metricInc(MetricNotificationDropped)
	}
}
