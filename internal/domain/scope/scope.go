// Package scope models token capabilities of the form
// resource[:subresource]:permission and decides whether a set of granted
// scopes satisfies a required one.
package scope

import (
	"sort"
	"strings"

	"github.com/go-faster/errors"
)

// ErrInvalidScope is returned by Parse for malformed scope strings.
var ErrInvalidScope = errors.New("invalid scope")

// Permission is the access level of a scope.
type Permission string

const (
	Read  Permission = "read"
	Write Permission = "write"
	Admin Permission = "admin"
)

func (p Permission) valid() bool {
	switch p {
	case Read, Write, Admin:
		return true
	}
	return false
}

// Scope is a parsed capability descriptor.
type Scope struct {
	Resource    string
	Subresource string
	Permission  Permission
}

// Parse parses "resource:permission" or "resource:subresource:permission".
func Parse(s string) (Scope, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	var sc Scope
	switch len(parts) {
	case 2:
		sc = Scope{Resource: parts[0], Permission: Permission(parts[1])}
	case 3:
		sc = Scope{Resource: parts[0], Subresource: parts[1], Permission: Permission(parts[2])}
		if sc.Subresource == "" {
			return Scope{}, errors.Wrapf(ErrInvalidScope, "%q: empty subresource", s)
		}
	default:
		return Scope{}, errors.Wrapf(ErrInvalidScope, "%q: want resource[:subresource]:permission", s)
	}
	if sc.Resource == "" {
		return Scope{}, errors.Wrapf(ErrInvalidScope, "%q: empty resource", s)
	}
	if !sc.Permission.valid() {
		return Scope{}, errors.Wrapf(ErrInvalidScope, "%q: unknown permission %q", s, sc.Permission)
	}
	return sc, nil
}

// MustParse is like Parse but panics on error. For package-level tables.
func MustParse(s string) Scope {
	sc, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return sc
}

func (s Scope) String() string {
	if s.Subresource != "" {
		return s.Resource + ":" + s.Subresource + ":" + string(s.Permission)
	}
	return s.Resource + ":" + string(s.Permission)
}

// resourceWide returns the scope with the subresource dropped.
func (s Scope) resourceWide(p Permission) Scope {
	return Scope{Resource: s.Resource, Permission: p}
}

// Set is an unordered collection of scopes.
type Set map[Scope]struct{}

// NewSet builds a set from already parsed scopes.
func NewSet(scopes ...Scope) Set {
	set := make(Set, len(scopes))
	for _, s := range scopes {
		set[s] = struct{}{}
	}
	return set
}

// ParseSet parses every entry, failing on the first malformed one.
// Duplicates collapse.
func ParseSet(raw []string) (Set, error) {
	set := make(Set, len(raw))
	for _, r := range raw {
		s, err := Parse(r)
		if err != nil {
			return nil, err
		}
		set[s] = struct{}{}
	}
	return set, nil
}

// Has reports exact membership.
func (s Set) Has(sc Scope) bool {
	_, ok := s[sc]
	return ok
}

// Strings returns the sorted string form of the set.
func (s Set) Strings() []string {
	out := make([]string, 0, len(s))
	for sc := range s {
		out = append(out, sc.String())
	}
	sort.Strings(out)
	return out
}

// Equal reports set equality.
func (s Set) Equal(other Set) bool {
	if len(s) != len(other) {
		return false
	}
	for sc := range s {
		if !other.Has(sc) {
			return false
		}
	}
	return true
}

// Allows reports whether the set grants required.
//
// admin on a resource implies write and read on it and every subresource;
// write implies read at the same level; a resource-wide grant covers every
// subresource at the same permission.
func (s Set) Allows(required Scope) bool {
	if s.Has(required) {
		return true
	}
	if s.Has(required.resourceWide(Admin)) {
		return true
	}
	if required.Subresource == "" {
		return required.Permission == Read && s.Has(required.resourceWide(Write))
	}
	if s.Has(required.resourceWide(required.Permission)) {
		return true
	}
	if required.Permission == Read {
		if s.Has(required.resourceWide(Write)) {
			return true
		}
		return s.Has(Scope{Resource: required.Resource, Subresource: required.Subresource, Permission: Write})
	}
	return false
}

// HasScope is the string-level entry point used at the HTTP boundary.
// Unparseable granted scopes are ignored; an unparseable required scope is
// only satisfied by an identical granted string.
func HasScope(tokenScopes []string, required string) bool {
	for _, s := range tokenScopes {
		if s == required {
			return true
		}
	}
	req, err := Parse(required)
	if err != nil {
		return false
	}
	set := make(Set, len(tokenScopes))
	for _, raw := range tokenScopes {
		if sc, err := Parse(raw); err == nil {
			set[sc] = struct{}{}
		}
	}
	return set.Allows(req)
}
