package authcore

import (
	"io"
	"log/slog"
	"time"

	internalaudit "github.com/MrEthical07/authcore/internal/audit"
	"github.com/MrEthical07/authcore/storage"
)

// TokenPair is a freshly minted access token with its refresh token.
type TokenPair struct {
	SubjectID        string
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
}

// RegisterInput is the input for [Engine.Register].
type RegisterInput struct {
	Email    string
	Password string
}

// RegisterResult carries the created principal (without its password hash)
// and a token pair. VerificationSent reports whether a verification token
// was queued for delivery.
type RegisterResult struct {
	Principal        storage.Principal
	Tokens           TokenPair
	VerificationSent bool
}

// LoginResult is either a token pair or, when the principal has TOTP
// enabled, a pending token to be exchanged via [Engine.CompleteTwoFactor].
type LoginResult struct {
	Tokens            *TokenPair
	TwoFactorRequired bool
	PendingToken      string
	PendingExpiresAt  time.Time
}

// AccessClaims is what [Engine.ValidateAccess] extracts from a valid
// access token.
type AccessClaims struct {
	SubjectID string
	TokenID   string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// TOTPEnrollment is unsaved second-factor material returned by
// [Engine.BeginTOTPEnrollment]. Nothing is persisted until
// [Engine.ConfirmTOTPEnrollment] receives a correct code for Secret.
type TOTPEnrollment struct {
	Secret        string
	URI           string
	RecoveryCodes []string
}

// RoleInput creates a role.
type RoleInput struct {
	Name        string
	Permissions []string
}

// RoleUpdate changes the non-nil fields of a role.
type RoleUpdate struct {
	Name        *string
	Permissions *[]string
}

// AuditEvent is a structured audit record emitted by the engine.
type AuditEvent = internalaudit.Event

// AuditSink receives [AuditEvent] values from the engine's audit dispatcher.
type AuditSink = internalaudit.Sink

// NoOpSink is an [AuditSink] that silently discards all events.
type NoOpSink = internalaudit.NoOpSink

// ChannelSink is a buffered channel-based [AuditSink].
type ChannelSink = internalaudit.ChannelSink

// JSONWriterSink writes one JSON object per event to an [io.Writer].
type JSONWriterSink = internalaudit.JSONWriterSink

// SlogSink logs events through a [slog.Logger].
type SlogSink = internalaudit.SlogSink

func NewChannelSink(buffer int) *ChannelSink {
	return internalaudit.NewChannelSink(buffer)
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return internalaudit.NewJSONWriterSink(w)
}

func NewSlogSink(logger *slog.Logger) *SlogSink {
	return internalaudit.NewSlogSink(logger)
}
