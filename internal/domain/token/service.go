package token

import (
	"context"
	"net/netip"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"

	"github.com/xenking/octohub/internal/domain/auth"
	"github.com/xenking/octohub/internal/domain/paging"
	"github.com/xenking/octohub/internal/domain/scope"
)

// IssueRequest holds the input for a new token.
type IssueRequest struct {
	Name             string
	Type             scope.TokenType
	Scopes           []string
	ExpiresAt        *time.Time
	RateLimit        *int
	AllowedIPs       []string
	AllowedReferrers []string
}

// UpdateRequest changes the non-nil fields of a token. ClearExpiresAt and
// ClearRateLimit remove the expiry and the per-token quota.
type UpdateRequest struct {
	Name             *string
	Type             *scope.TokenType
	Scopes           []string
	ExpiresAt        *time.Time
	ClearExpiresAt   bool
	RateLimit        *int
	ClearRateLimit   bool
	AllowedIPs       []string
	AllowedReferrers []string
}

// Issued is a token together with its plaintext secret, which is only
// available at creation or regeneration.
type Issued struct {
	Token  *auth.APIToken
	Secret string
}

// Config holds token service settings.
type Config struct {
	Pepper []byte
	// DefaultTTL applies when an issue request has no expiry. Zero issues
	// non-expiring tokens.
	DefaultTTL time.Duration
}

// Service manages tokens owned by users.
type Service struct {
	tokens      Repository
	invalidator Invalidator
	pepper      []byte
	defaultTTL  time.Duration
	now         func() time.Time
}

// NewService creates a Service. invalidator may be nil.
func NewService(cfg Config, tokens Repository, invalidator Invalidator) *Service {
	return &Service{
		tokens:      tokens,
		invalidator: invalidator,
		pepper:      cfg.Pepper,
		defaultTTL:  cfg.DefaultTTL,
		now:         time.Now,
	}
}

// Issue creates a token owned by the caller's user.
func (s *Service) Issue(ctx context.Context, caller auth.Context, req IssueRequest) (*Issued, error) {
	owner := caller.ActorID()
	if owner == "" {
		return nil, ErrNoOwner
	}
	if req.Type == "" {
		req.Type = scope.TokenAdvanced
	}
	set, err := s.checkScopes(caller, req.Type, req.Scopes)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	expires := req.ExpiresAt
	if expires == nil && s.defaultTTL > 0 {
		t := now.Add(s.defaultTTL)
		expires = &t
	}
	if err := checkLimits(now, expires, req.RateLimit, req.AllowedIPs, req.AllowedReferrers); err != nil {
		return nil, err
	}

	secret, err := auth.GenerateSecret()
	if err != nil {
		return nil, errors.Wrap(err, "generate secret")
	}
	tok := &auth.APIToken{
		ID:               uuid.NewString(),
		Name:             strings.TrimSpace(req.Name),
		Type:             req.Type,
		UserID:           &owner,
		Prefix:           auth.Prefix(secret),
		Hash:             auth.HashSecret(s.pepper, secret),
		Scopes:           set,
		ExpiresAt:        expires,
		RateLimit:        req.RateLimit,
		AllowedIPs:       req.AllowedIPs,
		AllowedReferrers: req.AllowedReferrers,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.tokens.Create(ctx, tok); err != nil {
		return nil, errors.Wrap(err, "create token")
	}
	return &Issued{Token: tok, Secret: secret}, nil
}

// List returns a page of the caller's live tokens and the total count.
func (s *Service) List(ctx context.Context, caller auth.Context, page paging.Page) ([]auth.APIToken, int, error) {
	owner := caller.ActorID()
	if owner == "" {
		return nil, 0, ErrNoOwner
	}
	return s.tokens.ListByUser(ctx, owner, page.Normalize())
}

// Get returns one of the caller's tokens.
func (s *Service) Get(ctx context.Context, caller auth.Context, id string) (*auth.APIToken, error) {
	tok, err := s.tokens.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	owner := caller.ActorID()
	if owner == "" || tok.UserID == nil || *tok.UserID != owner {
		return nil, ErrNotFound
	}
	return tok, nil
}

// Scopes returns the exact scope set of one of the caller's tokens.
func (s *Service) Scopes(ctx context.Context, caller auth.Context, id string) (scope.Set, error) {
	tok, err := s.Get(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	return tok.Scopes, nil
}

// Update applies req to one of the caller's tokens.
func (s *Service) Update(ctx context.Context, caller auth.Context, id string, req UpdateRequest) (*auth.APIToken, error) {
	tok, err := s.manage(ctx, caller, id)
	if err != nil {
		return nil, err
	}

	typ, set := tok.Type, tok.Scopes
	if req.Type != nil {
		typ = *req.Type
	}
	if req.Scopes != nil || req.Type != nil {
		raw := req.Scopes
		if raw == nil {
			raw = set.Strings()
		}
		if set, err = s.checkScopes(caller, typ, raw); err != nil {
			return nil, err
		}
	}

	upd := *tok
	upd.Type, upd.Scopes = typ, set
	if req.Name != nil {
		upd.Name = strings.TrimSpace(*req.Name)
	}
	switch {
	case req.ClearExpiresAt:
		upd.ExpiresAt = nil
	case req.ExpiresAt != nil:
		upd.ExpiresAt = req.ExpiresAt
	}
	switch {
	case req.ClearRateLimit:
		upd.RateLimit = nil
	case req.RateLimit != nil:
		upd.RateLimit = req.RateLimit
	}
	if req.AllowedIPs != nil {
		upd.AllowedIPs = req.AllowedIPs
	}
	if req.AllowedReferrers != nil {
		upd.AllowedReferrers = req.AllowedReferrers
	}

	now := s.now().UTC()
	if err := checkLimits(now, req.ExpiresAt, req.RateLimit, upd.AllowedIPs, upd.AllowedReferrers); err != nil {
		return nil, err
	}
	upd.UpdatedAt = now

	if err := s.tokens.Update(ctx, &upd); err != nil {
		return nil, errors.Wrap(err, "update token")
	}
	s.invalidate(tok.Hash)
	return &upd, nil
}

// Regenerate replaces a token's secret. The old secret stops working
// immediately.
func (s *Service) Regenerate(ctx context.Context, caller auth.Context, id string) (*Issued, error) {
	tok, err := s.manage(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	secret, err := auth.GenerateSecret()
	if err != nil {
		return nil, errors.Wrap(err, "generate secret")
	}

	now := s.now().UTC()
	upd := *tok
	upd.Hash = auth.HashSecret(s.pepper, secret)
	upd.Prefix = auth.Prefix(secret)
	upd.UpdatedAt = now
	if err := s.tokens.UpdateSecret(ctx, id, upd.Hash, upd.Prefix, now); err != nil {
		return nil, errors.Wrap(err, "update secret")
	}
	s.invalidate(tok.Hash)
	return &Issued{Token: &upd, Secret: secret}, nil
}

// Revoke soft-deletes one of the caller's tokens.
func (s *Service) Revoke(ctx context.Context, caller auth.Context, id string) error {
	tok, err := s.manage(ctx, caller, id)
	if err != nil {
		return err
	}
	if err := s.tokens.SoftDelete(ctx, id, s.now().UTC()); err != nil {
		return errors.Wrap(err, "revoke token")
	}
	s.invalidate(tok.Hash)
	return nil
}

// manage loads one of the caller's tokens for a mutation. A token caller
// may only change tokens whose every scope its own scopes allow.
func (s *Service) manage(ctx context.Context, caller auth.Context, id string) (*auth.APIToken, error) {
	tok, err := s.Get(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	if tc, ok := caller.(*auth.TokenContext); ok {
		for sc := range tok.Scopes {
			if !tc.Token.Scopes.Allows(sc) {
				return nil, errors.Wrapf(ErrStrongerToken, "%s", sc)
			}
		}
	}
	return tok, nil
}

func (s *Service) invalidate(hash string) {
	if s.invalidator != nil {
		s.invalidator.InvalidateToken(hash)
	}
}

// checkScopes parses raw and enforces the catalog, the token type
// restriction and, for token callers, that nothing beyond the caller's own
// scopes is granted.
func (s *Service) checkScopes(caller auth.Context, typ scope.TokenType, raw []string) (scope.Set, error) {
	if !typ.Valid() {
		return nil, ErrInvalidType
	}
	set, err := scope.ParseSet(raw)
	if err != nil {
		return nil, err
	}
	if err := scope.CheckCatalog(set); err != nil {
		return nil, err
	}
	if err := scope.CheckTokenType(typ, set); err != nil {
		return nil, err
	}
	if tc, ok := caller.(*auth.TokenContext); ok {
		for sc := range set {
			if !tc.Token.Scopes.Allows(sc) {
				return nil, errors.Wrapf(ErrScopeEscalation, "%s", sc)
			}
		}
	}
	return set, nil
}

func checkLimits(now time.Time, expires *time.Time, rateLimit *int, ips, referrers []string) error {
	if expires != nil && !expires.After(now) {
		return ErrExpiryInPast
	}
	if rateLimit != nil && *rateLimit <= 0 {
		return ErrInvalidRateLimit
	}
	for _, entry := range ips {
		if !validIPEntry(entry) {
			return &InvalidAllowListError{Field: "allowedIps", Entry: entry}
		}
	}
	for _, entry := range referrers {
		if strings.TrimSpace(entry) == "" || strings.ContainsAny(entry, " \t") {
			return &InvalidAllowListError{Field: "allowedReferrers", Entry: entry}
		}
	}
	return nil
}

func validIPEntry(entry string) bool {
	if strings.Contains(entry, "/") {
		_, err := netip.ParsePrefix(entry)
		return err == nil
	}
	_, err := netip.ParseAddr(entry)
	return err == nil
}
