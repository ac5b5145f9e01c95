package api

import (
	"fmt"
	"sort"
	"time"

	"github.com/go-faster/jx"

	"github.com/xenking/octohub/internal/domain/audit"
	"github.com/xenking/octohub/internal/domain/auth"
	"github.com/xenking/octohub/internal/domain/scope"
	"github.com/xenking/octohub/internal/domain/user"
	"github.com/xenking/octohub/internal/ratelimit"
)

// encodeAny writes the loosely typed values found in error details and audit
// entries. Map keys are sorted so output is stable.
func encodeAny(e *jx.Encoder, v any) {
	switch v := v.(type) {
	case nil:
		e.Null()
	case Encoder:
		v.Encode(e)
	case string:
		e.Str(v)
	case bool:
		e.Bool(v)
	case int:
		e.Int(v)
	case int64:
		e.Int64(v)
	case float64:
		e.Float64(v)
	case time.Time:
		e.Str(v.UTC().Format(time.RFC3339))
	case time.Duration:
		e.Float64(v.Seconds())
	case []string:
		e.ArrStart()
		for _, s := range v {
			e.Str(s)
		}
		e.ArrEnd()
	case []any:
		e.ArrStart()
		for _, item := range v {
			encodeAny(e, item)
		}
		e.ArrEnd()
	case map[string]string:
		e.ObjStart()
		for _, k := range sortedKeys(v) {
			e.Field(k, func(e *jx.Encoder) { e.Str(v[k]) })
		}
		e.ObjEnd()
	case map[string]any:
		e.ObjStart()
		for _, k := range sortedKeys(v) {
			e.Field(k, func(e *jx.Encoder) { encodeAny(e, v[k]) })
		}
		e.ObjEnd()
	case FieldErrors:
		encodeAny(e, map[string]string(v))
	case error:
		e.Str(v.Error())
	default:
		e.Str(fmt.Sprint(v))
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func encodeTime(e *jx.Encoder, t time.Time) {
	e.Str(t.UTC().Format(time.RFC3339))
}

func encodeOptTime(e *jx.Encoder, t *time.Time) {
	if t == nil {
		e.Null()
		return
	}
	encodeTime(e, *t)
}

func encodeStrings(e *jx.Encoder, s []string) {
	e.ArrStart()
	for _, v := range s {
		e.Str(v)
	}
	e.ArrEnd()
}

func encodeUser(e *jx.Encoder, u *user.User) {
	e.ObjStart()
	e.Field("id", func(e *jx.Encoder) { e.Str(u.ID) })
	e.Field("email", func(e *jx.Encoder) { e.Str(u.Email) })
	e.Field("name", func(e *jx.Encoder) { e.Str(u.Name) })
	e.Field("createdAt", func(e *jx.Encoder) { encodeTime(e, u.CreatedAt) })
	e.ObjEnd()
}

func encodeScopes(e *jx.Encoder, set scope.Set) {
	encodeStrings(e, set.Strings())
}

// encodeToken writes a token without its digest. secret is only non-empty
// right after issue or regeneration.
func encodeToken(e *jx.Encoder, t *auth.APIToken, secret string) {
	e.ObjStart()
	e.Field("id", func(e *jx.Encoder) { e.Str(t.ID) })
	e.Field("name", func(e *jx.Encoder) { e.Str(t.Name) })
	e.Field("type", func(e *jx.Encoder) { e.Str(string(t.Type)) })
	e.Field("prefix", func(e *jx.Encoder) { e.Str(t.Prefix) })
	e.Field("scopes", func(e *jx.Encoder) { encodeScopes(e, t.Scopes) })
	e.Field("expiresAt", func(e *jx.Encoder) { encodeOptTime(e, t.ExpiresAt) })
	e.Field("rateLimit", func(e *jx.Encoder) {
		if t.RateLimit == nil {
			e.Null()
			return
		}
		e.Int(*t.RateLimit)
	})
	e.Field("allowedIps", func(e *jx.Encoder) { encodeStrings(e, t.AllowedIPs) })
	e.Field("allowedReferrers", func(e *jx.Encoder) { encodeStrings(e, t.AllowedReferrers) })
	e.Field("lastUsedAt", func(e *jx.Encoder) { encodeOptTime(e, t.LastUsedAt) })
	e.Field("createdAt", func(e *jx.Encoder) { encodeTime(e, t.CreatedAt) })
	e.Field("updatedAt", func(e *jx.Encoder) { encodeTime(e, t.UpdatedAt) })
	if secret != "" {
		e.Field("token", func(e *jx.Encoder) { e.Str(secret) })
	}
	e.ObjEnd()
}

func encodeAuthContext(e *jx.Encoder, ac auth.Context) {
	e.ObjStart()
	e.Field("type", func(e *jx.Encoder) { e.Str(ac.Kind()) })
	switch c := ac.(type) {
	case *auth.SessionContext:
		e.Field("user", func(e *jx.Encoder) { encodeUser(e, c.User) })
		e.Field("session", func(e *jx.Encoder) {
			e.ObjStart()
			e.Field("id", func(e *jx.Encoder) { e.Str(c.Session.ID) })
			e.Field("expiresAt", func(e *jx.Encoder) { encodeTime(e, c.Session.ExpiresAt) })
			e.ObjEnd()
		})
	case *auth.TokenContext:
		e.Field("userId", func(e *jx.Encoder) {
			if c.Token.UserID == nil {
				e.Null()
				return
			}
			e.Str(*c.Token.UserID)
		})
		e.Field("orgId", func(e *jx.Encoder) {
			if c.Token.OrgID == nil {
				e.Null()
				return
			}
			e.Str(*c.Token.OrgID)
		})
		e.Field("token", func(e *jx.Encoder) { encodeToken(e, c.Token, "") })
	}
	e.ObjEnd()
}

func encodeAuditEntry(e *jx.Encoder, entry audit.Entry) {
	e.ObjStart()
	e.Field("id", func(e *jx.Encoder) { e.Str(entry.ID) })
	e.Field("action", func(e *jx.Encoder) { e.Str(entry.Action) })
	e.Field("status", func(e *jx.Encoder) { e.Str(string(entry.Status)) })
	e.Field("actorId", func(e *jx.Encoder) { e.Str(entry.ActorID) })
	e.Field("actorIp", func(e *jx.Encoder) { e.Str(entry.ActorIP) })
	e.Field("userAgent", func(e *jx.Encoder) { e.Str(entry.UserAgent) })
	e.Field("details", func(e *jx.Encoder) {
		if entry.Details == nil {
			e.ObjStart()
			e.ObjEnd()
			return
		}
		encodeAny(e, entry.Details)
	})
	e.Field("createdAt", func(e *jx.Encoder) { encodeTime(e, entry.CreatedAt) })
	e.ObjEnd()
}

func encodeRateLimitInfo(e *jx.Encoder, info ratelimit.Info) {
	e.ObjStart()
	e.Field("limit", func(e *jx.Encoder) { e.Int(info.Limit) })
	e.Field("remaining", func(e *jx.Encoder) { e.Int(info.Remaining) })
	e.Field("reset", func(e *jx.Encoder) { encodeTime(e, info.Reset) })
	e.Field("isBlocked", func(e *jx.Encoder) { e.Bool(info.IsBlocked) })
	e.ObjEnd()
}
