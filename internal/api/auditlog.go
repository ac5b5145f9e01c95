package api

import (
	"net/http"

	"github.com/xenking/octohub/internal/apperr"
	"github.com/xenking/octohub/internal/domain/paging"
)

func (s *Server) listAuditLogs(w http.ResponseWriter, r *http.Request) error {
	ac, err := caller(r)
	if err != nil {
		return err
	}
	actor := ac.ActorID()
	if actor == "" {
		return apperr.Forbidden("credential has no audit trail")
	}
	q := Query[ListQuery](r)
	page := paging.Page{Number: q.Page, PerPage: q.PerPage}.Normalize()

	entries, total, err := s.audit.List(r.Context(), actor, page)
	if err != nil {
		return err
	}
	WritePage(w, r, entries, encodeAuditEntry, page, total)
	return nil
}
