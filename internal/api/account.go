package api

import (
	"net/http"
	"time"

	"github.com/go-faster/jx"

	"github.com/xenking/octohub/internal/apperr"
	"github.com/xenking/octohub/internal/domain/auth"
	"github.com/xenking/octohub/internal/domain/scope"
	"github.com/xenking/octohub/internal/domain/user"
)

func (s *Server) register(w http.ResponseWriter, r *http.Request) error {
	body := Body[RegisterBody](r)
	noteDetail(r.Context(), "email", user.NormalizeEmail(body.Email))

	u, err := s.users.Register(r.Context(), user.RegisterRequest{
		Email:    body.Email,
		Password: body.Password,
		Name:     body.Name,
	})
	if err != nil {
		return err
	}
	noteActor(r.Context(), u.ID)

	WriteSuccess(w, r, http.StatusCreated, EncoderFunc(func(e *jx.Encoder) { encodeUser(e, u) }), "account created")
	return nil
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) error {
	body := Body[LoginBody](r)
	noteDetail(r.Context(), "email", user.NormalizeEmail(body.Email))

	u, err := s.users.Authenticate(r.Context(), body.Email, body.Password)
	if err != nil {
		return err
	}
	noteActor(r.Context(), u.ID)

	raw, sess, err := s.sessions.Start(r.Context(), u.ID)
	if err != nil {
		return err
	}
	noteDetail(r.Context(), "sessionId", sess.ID)

	http.SetCookie(w, &http.Cookie{
		Name:     s.cfg.SessionCookie,
		Value:    raw,
		Path:     "/",
		Expires:  sess.ExpiresAt,
		MaxAge:   int(time.Until(sess.ExpiresAt).Seconds()),
		HttpOnly: true,
		Secure:   s.cfg.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	WriteSuccess(w, r, http.StatusOK, EncoderFunc(func(e *jx.Encoder) { encodeUser(e, u) }), "logged in")
	return nil
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request) error {
	ac, _ := auth.FromContext(r.Context())
	sc, ok := ac.(*auth.SessionContext)
	if !ok {
		return apperr.Unauthenticated("authentication required")
	}
	if err := s.sessions.End(r.Context(), sc.Session.ID); err != nil {
		return err
	}
	noteDetail(r.Context(), "sessionId", sc.Session.ID)

	http.SetCookie(w, &http.Cookie{
		Name:     s.cfg.SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.cfg.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	WriteSuccess(w, r, http.StatusOK, Null, "logged out")
	return nil
}

func (s *Server) me(w http.ResponseWriter, r *http.Request) error {
	ac, ok := auth.FromContext(r.Context())
	if !ok {
		return apperr.Unauthenticated("authentication required")
	}
	WriteSuccess(w, r, http.StatusOK, EncoderFunc(func(e *jx.Encoder) { encodeAuthContext(e, ac) }), "")
	return nil
}

// catalog lists every grantable scope by permission level.
func (s *Server) catalog(w http.ResponseWriter, r *http.Request) error {
	WriteSuccess(w, r, http.StatusOK, EncoderFunc(func(e *jx.Encoder) {
		e.ObjStart()
		e.Field("read", func(e *jx.Encoder) { encodeScopes(e, scope.ReadScopes) })
		e.Field("write", func(e *jx.Encoder) { encodeScopes(e, scope.WriteScopes) })
		e.Field("admin", func(e *jx.Encoder) { encodeScopes(e, scope.AdminScopes) })
		e.Field("basicAllowed", func(e *jx.Encoder) { encodeScopes(e, scope.ReadScopes) })
		e.ObjEnd()
	}), "")
	return nil
}
