package api

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/octohub/internal/apperr"
	"github.com/xenking/octohub/internal/domain/scope"
	"github.com/xenking/octohub/internal/domain/token"
	"github.com/xenking/octohub/internal/domain/user"
)

// HandlerFunc is a route handler that reports failures by returning them.
type HandlerFunc func(w http.ResponseWriter, r *http.Request) error

// handle is the error boundary of a route. Returned errors are converted
// once, here, into the response envelope.
func (s *Server) handle(h HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := h(w, r); err != nil {
			s.fail(w, r, err)
		}
	})
}

// fail writes err as an error response. Unexpected errors are logged with
// the request logger.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	e := apperr.From(mapDomainError(err))
	lg := zctx.From(r.Context())
	switch e.Kind {
	case apperr.KindInternal, apperr.KindUnavailable:
		lg.Error("Request error", zap.String("code", e.MachineCode()), zap.Error(err))
	case apperr.KindTimeout:
		lg.Warn("Request timed out", zap.Error(err))
	default:
		lg.Debug("Request rejected", zap.String("code", e.MachineCode()), zap.Error(err))
	}
	WriteError(w, r, e, s.cfg.Development)
}

// PanicHandler answers requests whose handler panicked.
func (s *Server) PanicHandler(w http.ResponseWriter, r *http.Request) {
	WriteError(w, r, apperr.Internal(errors.New("panic")), false)
}

// mapDomainError translates domain sentinels into the HTTP taxonomy.
func mapDomainError(err error) error {
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return err
	}

	var allowList *token.InvalidAllowListError
	switch {
	case errors.Is(err, user.ErrEmailTaken):
		return apperr.Conflict("email already registered")
	case errors.Is(err, user.ErrBreachedPassword):
		return apperr.Validation("validation failed", FieldErrors{
			"password": "appears in a known data breach, choose another",
		})
	case errors.Is(err, user.ErrInvalidCredentials):
		return apperr.Unauthenticated("invalid email or password")
	case errors.Is(err, token.ErrNotFound):
		return apperr.NotFound("token not found")
	case errors.Is(err, token.ErrNoOwner):
		return apperr.Forbidden("credential cannot own tokens")
	case errors.Is(err, token.ErrScopeEscalation),
		errors.Is(err, token.ErrStrongerToken):
		return apperr.Forbidden(err.Error())
	case errors.Is(err, scope.ErrScopeNotAllowed),
		errors.Is(err, scope.ErrInvalidScope):
		return apperr.Validation("validation failed", FieldErrors{"scopes": err.Error()})
	case errors.Is(err, token.ErrInvalidType):
		return apperr.Validation("validation failed", FieldErrors{"type": err.Error()})
	case errors.Is(err, token.ErrExpiryInPast):
		return apperr.Validation("validation failed", FieldErrors{"expiresAt": err.Error()})
	case errors.Is(err, token.ErrInvalidRateLimit):
		return apperr.Validation("validation failed", FieldErrors{"rateLimit": err.Error()})
	case errors.As(err, &allowList):
		return apperr.Validation("validation failed", FieldErrors{allowList.Field: allowList.Error()})
	}
	return err
}
