package scope

import "github.com/go-faster/errors"

// ErrScopeNotAllowed is returned when a token type may not hold a scope.
var ErrScopeNotAllowed = errors.New("scope not allowed for token type")

// resources lists every resource and its subresources.
var resources = map[string][]string{
	"user":     {"profile", "email"},
	"repo":     {"contents", "issues", "labels"},
	"org":      {"members", "teams"},
	"token":    nil,
	"audit":    nil,
	"waitlist": nil,
}

var permissions = []Permission{Read, Write, Admin}

var (
	// ReadScopes, WriteScopes and AdminScopes partition the catalog by
	// permission level.
	ReadScopes  = catalogFor(Read)
	WriteScopes = catalogFor(Write)
	AdminScopes = catalogFor(Admin)

	catalog = func() Set {
		all := make(Set)
		for _, p := range permissions {
			for sc := range catalogFor(p) {
				all[sc] = struct{}{}
			}
		}
		return all
	}()
)

func catalogFor(p Permission) Set {
	set := make(Set)
	for res, subs := range resources {
		set[Scope{Resource: res, Permission: p}] = struct{}{}
		for _, sub := range subs {
			set[Scope{Resource: res, Subresource: sub, Permission: p}] = struct{}{}
		}
	}
	return set
}

// Valid reports whether sc names a known resource/subresource.
func Valid(sc Scope) bool {
	return catalog.Has(sc)
}

// Catalog returns every known scope, sorted.
func Catalog() []string {
	return catalog.Strings()
}

// TokenType restricts which scopes a token may carry.
type TokenType string

const (
	// TokenBasic tokens are read-only.
	TokenBasic TokenType = "BASIC"
	// TokenAdvanced tokens may hold any catalog scope.
	TokenAdvanced TokenType = "ADVANCED"
)

// Valid reports whether t is a known token type.
func (t TokenType) Valid() bool {
	return t == TokenBasic || t == TokenAdvanced
}

// CheckTokenType rejects scopes the token type may not hold.
func CheckTokenType(t TokenType, set Set) error {
	if t != TokenBasic {
		return nil
	}
	for sc := range set {
		if WriteScopes.Has(sc) || AdminScopes.Has(sc) {
			return errors.Wrapf(ErrScopeNotAllowed, "%s token cannot hold %s", t, sc)
		}
	}
	return nil
}

// CheckCatalog rejects scopes outside the catalog.
func CheckCatalog(set Set) error {
	for sc := range set {
		if !Valid(sc) {
			return errors.Wrapf(ErrInvalidScope, "unknown scope %s", sc)
		}
	}
	return nil
}
