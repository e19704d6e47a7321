package authcore

import (
	"context"
	"strconv"
	"time"

	"github.com/MrEthical07/authcore/jwt"
	"github.com/MrEthical07/authcore/rbac"
	"github.com/MrEthical07/authcore/storage"
)

// Refresh rotates a refresh token: the presented token is redeemed
// (deleted) atomically and a new pair is issued. Of two concurrent calls
// with the same token exactly one succeeds; the other gets InvalidToken.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	ctx, cancel := e.operationContext(ctx)
	defer cancel()

	pair, subjectID, err := e.refresh(ctx, refreshToken)
	if err != nil {
		e.countFailure(MetricRefreshFailure, err)
		e.emitAudit(ctx, auditEventRefreshInvalid, false, subjectID, err, nil)
		return nil, err
	}

	e.metricInc(MetricRefreshSuccess)
	e.emitAudit(ctx, auditEventRefreshSuccess, true, subjectID, nil, nil)
	return pair, nil
}

func (e *Engine) refresh(ctx context.Context, refreshToken string) (*TokenPair, string, error) {
	claims, err := e.codec.Verify(refreshToken, jwt.TypeRefresh)
	if err != nil {
		return nil, "", tokenError(err)
	}

	owner, err := e.store.RedeemRefreshToken(ctx, jwt.Fingerprint(refreshToken), e.now())
	if err != nil {
		return nil, claims.Subject, storageError(err, KindInvalidToken)
	}
	if owner != claims.Subject {
		e.logger.Error("refresh record subject mismatch", "subject_id", claims.Subject)
		return nil, claims.Subject, ErrInvalidToken
	}

	if _, err := e.loadActive(ctx, owner); err != nil {
		return nil, owner, err
	}

	pair, err := e.issuePair(ctx, owner)
	if err != nil {
		return nil, owner, err
	}
	return pair, owner, nil
}

// Logout forgets refreshToken and, when accessToken is a valid access
// token, blacklists it until its natural expiry. Either may be empty.
// Logging out twice is not an error.
func (e *Engine) Logout(ctx context.Context, refreshToken, accessToken string) error {
	ctx, cancel := e.operationContext(ctx)
	defer cancel()

	var subjectID string

	if refreshToken != "" {
		if claims, err := e.codec.Verify(refreshToken, jwt.TypeRefresh); err == nil {
			subjectID = claims.Subject
		}
		if err := e.store.DeleteRefreshToken(ctx, jwt.Fingerprint(refreshToken)); err != nil {
			err = storageError(err, KindUnavailable)
			e.metricInc(MetricUnavailable)
			return err
		}
	}

	if accessToken != "" {
		// an invalid or expired access token needs no revocation
		if claims, err := e.codec.Verify(accessToken, jwt.TypeAccess); err == nil {
			subjectID = claims.Subject
			err := e.store.Blacklist(ctx, storage.BlacklistEntry{
				Fingerprint: jwt.Fingerprint(accessToken),
				CreatedAt:   e.now(),
				ExpiresAt:   claims.ExpiresAt.Time,
			})
			if err != nil {
				err = storageError(err, KindUnavailable)
				e.metricInc(MetricUnavailable)
				return err
			}
		}
	}

	e.metricInc(MetricLogout)
	e.emitAudit(ctx, auditEventLogout, true, subjectID, nil, nil)
	return nil
}

// LogoutAll deletes every refresh token of subjectID. Outstanding access
// tokens stay valid until they expire.
func (e *Engine) LogoutAll(ctx context.Context, subjectID string) error {
	ctx, cancel := e.operationContext(ctx)
	defer cancel()

	if subjectID == "" {
		return invalidInput("subject id is required")
	}

	n, err := e.store.DeleteAllRefreshTokensFor(ctx, subjectID)
	if err != nil {
		err = storageError(err, KindUnavailable)
		e.emitAudit(ctx, auditEventLogoutAll, false, subjectID, err, nil)
		return err
	}

	e.metricInc(MetricLogoutAll)
	e.emitAudit(ctx, auditEventLogoutAll, true, subjectID, nil, func() map[string]string {
		return map[string]string{"revoked": strconv.Itoa(n)}
	})
	return nil
}

// ValidateAccess checks signature, type, expiry and the blacklist. Refresh
// and pending tokens are rejected as InvalidToken.
func (e *Engine) ValidateAccess(ctx context.Context, accessToken string) (*AccessClaims, error) {
	ctx, cancel := e.operationContext(ctx)
	defer cancel()

	start := time.Now()
	defer func() {
		e.metrics.Observe(MetricValidateLatency, time.Since(start))
	}()

	return e.validateAccess(ctx, accessToken)
}

func (e *Engine) validateAccess(ctx context.Context, accessToken string) (*AccessClaims, error) {
	claims, err := e.codec.Verify(accessToken, jwt.TypeAccess)
	if err != nil {
		return nil, tokenError(err)
	}

	revoked, err := e.store.IsBlacklisted(ctx, jwt.Fingerprint(accessToken), e.now())
	if err != nil {
		err = storageError(err, KindUnavailable)
		e.metricInc(MetricUnavailable)
		return nil, err
	}
	if revoked {
		e.metricInc(MetricAccessBlacklisted)
		return nil, ErrInvalidToken
	}

	return &AccessClaims{
		SubjectID: claims.Subject,
		TokenID:   claims.ID,
		IssuedAt:  claims.IssuedAt.Time,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// Authorize validates accessToken, loads its principal and evaluates req
// against the principal's current roles. The returned principal carries no
// password hash.
func (e *Engine) Authorize(ctx context.Context, accessToken string, req rbac.Requirement) (*storage.Principal, error) {
	ctx, cancel := e.operationContext(ctx)
	defer cancel()

	claims, err := e.validateAccess(ctx, accessToken)
	if err != nil {
		return nil, err
	}

	p, err := e.loadActive(ctx, claims.SubjectID)
	if err != nil {
		return nil, err
	}

	if !req.Satisfied(p) {
		e.metricInc(MetricAccessDenied)
		e.emitAudit(ctx, auditEventAccessDenied, false, p.ID, ErrAccessDenied, func() map[string]string {
			return map[string]string{"requirement": req.String()}
		})
		return nil, ErrAccessDenied
	}

	p.PasswordHash = ""
	return &p, nil
}
