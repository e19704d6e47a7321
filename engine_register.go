package authcore

import (
	"context"
	"errors"
	"strconv"

	"github.com/MrEthical07/authcore/storage"
	"github.com/google/uuid"
)

// Register creates a principal holding the default role and signs it in.
//
// The email must be unused (EmailInUse) and the password must satisfy the
// policy (WeakPassword, with every violation itemized) before anything is
// written. When Account.SendVerificationOnRegister is set a verification
// token is queued for delivery after the principal is persisted.
func (e *Engine) Register(ctx context.Context, in RegisterInput) (*RegisterResult, error) {
	ctx, cancel := e.operationContext(ctx)
	defer cancel()

	res, err := e.register(ctx, in)
	if err != nil {
		e.countFailure(MetricRegisterFailure, err)
		e.emitAudit(ctx, auditEventRegister, false, "", err, nil)
		return nil, err
	}

	e.metricInc(MetricRegisterSuccess)
	e.emitAudit(ctx, auditEventRegister, true, res.Principal.ID, nil, func() map[string]string {
		return map[string]string{"verification_sent": strconv.FormatBool(res.VerificationSent)}
	})
	return res, nil
}

func (e *Engine) register(ctx context.Context, in RegisterInput) (*RegisterResult, error) {
	email, ok := normalizeEmail(in.Email)
	if !ok {
		return nil, invalidInput("email is not a valid address")
	}

	_, err := e.store.GetPrincipalByEmail(ctx, email)
	switch {
	case err == nil:
		return nil, ErrEmailInUse
	case !errors.Is(err, storage.ErrNotFound):
		return nil, storageError(err, KindUnavailable)
	}

	if err := e.checkPolicy(in.Password, email); err != nil {
		return nil, err
	}

	hash, err := e.hashPassword(ctx, in.Password)
	if err != nil {
		return nil, err
	}

	now := e.now()
	p, err := e.store.CreatePrincipal(ctx, storage.Principal{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: hash,
		Roles:        []string{e.config.Account.DefaultRole},
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	if err != nil {
		// a concurrent registration won the email
		return nil, storageError(err, KindUnavailable)
	}

	pair, err := e.issuePair(ctx, p.ID)
	if err != nil {
		return nil, err
	}

	sent := false
	if e.config.Account.SendVerificationOnRegister {
		sent = e.sendVerification(ctx, p)
	}

	p.PasswordHash = ""
	return &RegisterResult{
		Principal:        p,
		Tokens:           *pair,
		VerificationSent: sent,
	}, nil
}
