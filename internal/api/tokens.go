package api

import (
	"net/http"

	"github.com/go-faster/jx"

	"github.com/xenking/octohub/internal/apperr"
	"github.com/xenking/octohub/internal/domain/auth"
	"github.com/xenking/octohub/internal/domain/paging"
	"github.com/xenking/octohub/internal/domain/scope"
	"github.com/xenking/octohub/internal/domain/token"
)

const secretNotice = "store this token now, it will not be shown again"

func caller(r *http.Request) (auth.Context, error) {
	ac, ok := auth.FromContext(r.Context())
	if !ok {
		return nil, apperr.Unauthenticated("authentication required")
	}
	return ac, nil
}

func (s *Server) listTokens(w http.ResponseWriter, r *http.Request) error {
	ac, err := caller(r)
	if err != nil {
		return err
	}
	q := Query[ListQuery](r)
	page := paging.Page{Number: q.Page, PerPage: q.PerPage}.Normalize()

	items, total, err := s.tokens.List(r.Context(), ac, page)
	if err != nil {
		return err
	}
	WritePage(w, r, items, func(e *jx.Encoder, t auth.APIToken) { encodeToken(e, &t, "") }, page, total)
	return nil
}

func (s *Server) createToken(w http.ResponseWriter, r *http.Request) error {
	ac, err := caller(r)
	if err != nil {
		return err
	}
	body := Body[CreateTokenBody](r)

	issued, err := s.tokens.Issue(r.Context(), ac, token.IssueRequest{
		Name:             body.Name,
		Type:             scope.TokenType(body.Type),
		Scopes:           body.Scopes,
		ExpiresAt:        body.ExpiresAt,
		RateLimit:        body.RateLimit,
		AllowedIPs:       body.AllowedIPs,
		AllowedReferrers: body.AllowedReferrers,
	})
	if err != nil {
		return err
	}
	noteDetail(r.Context(), "tokenId", issued.Token.ID)
	noteDetail(r.Context(), "scopes", issued.Token.Scopes.Strings())

	WriteSuccess(w, r, http.StatusCreated, EncoderFunc(func(e *jx.Encoder) {
		encodeToken(e, issued.Token, issued.Secret)
	}), secretNotice)
	return nil
}

func (s *Server) getToken(w http.ResponseWriter, r *http.Request) error {
	ac, err := caller(r)
	if err != nil {
		return err
	}
	tok, err := s.tokens.Get(r.Context(), ac, r.PathValue("id"))
	if err != nil {
		return err
	}
	WriteSuccess(w, r, http.StatusOK, EncoderFunc(func(e *jx.Encoder) { encodeToken(e, tok, "") }), "")
	return nil
}

func (s *Server) tokenScopes(w http.ResponseWriter, r *http.Request) error {
	ac, err := caller(r)
	if err != nil {
		return err
	}
	id := r.PathValue("id")
	set, err := s.tokens.Scopes(r.Context(), ac, id)
	if err != nil {
		return err
	}
	WriteSuccess(w, r, http.StatusOK, EncoderFunc(func(e *jx.Encoder) {
		e.ObjStart()
		e.Field("id", func(e *jx.Encoder) { e.Str(id) })
		e.Field("scopes", func(e *jx.Encoder) { encodeScopes(e, set) })
		e.ObjEnd()
	}), "")
	return nil
}

func (s *Server) updateToken(w http.ResponseWriter, r *http.Request) error {
	ac, err := caller(r)
	if err != nil {
		return err
	}
	id := r.PathValue("id")
	noteDetail(r.Context(), "tokenId", id)
	body := Body[UpdateTokenBody](r)

	req := token.UpdateRequest{
		Name:             body.Name,
		Scopes:           body.Scopes,
		ExpiresAt:        body.ExpiresAt,
		ClearExpiresAt:   body.ClearExpiresAt,
		RateLimit:        body.RateLimit,
		ClearRateLimit:   body.ClearRateLimit,
		AllowedIPs:       body.AllowedIPs,
		AllowedReferrers: body.AllowedReferrers,
	}
	if body.Type != nil {
		typ := scope.TokenType(*body.Type)
		req.Type = &typ
	}

	tok, err := s.tokens.Update(r.Context(), ac, id, req)
	if err != nil {
		return err
	}
	noteDetail(r.Context(), "scopes", tok.Scopes.Strings())

	WriteSuccess(w, r, http.StatusOK, EncoderFunc(func(e *jx.Encoder) { encodeToken(e, tok, "") }), "token updated")
	return nil
}

func (s *Server) regenerateToken(w http.ResponseWriter, r *http.Request) error {
	ac, err := caller(r)
	if err != nil {
		return err
	}
	id := r.PathValue("id")
	noteDetail(r.Context(), "tokenId", id)

	issued, err := s.tokens.Regenerate(r.Context(), ac, id)
	if err != nil {
		return err
	}
	WriteSuccess(w, r, http.StatusOK, EncoderFunc(func(e *jx.Encoder) {
		encodeToken(e, issued.Token, issued.Secret)
	}), secretNotice)
	return nil
}

func (s *Server) revokeToken(w http.ResponseWriter, r *http.Request) error {
	ac, err := caller(r)
	if err != nil {
		return err
	}
	id := r.PathValue("id")
	noteDetail(r.Context(), "tokenId", id)

	if err := s.tokens.Revoke(r.Context(), ac, id); err != nil {
		return err
	}
	WriteSuccess(w, r, http.StatusOK, Null, "token revoked")
	return nil
}
