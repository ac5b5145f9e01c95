package api

import (
	"strconv"
	"strings"
	"time"

	"github.com/asaskevich/govalidator"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/octohub/internal/domain/paging"
	"github.com/xenking/octohub/internal/domain/scope"
)

// fieldDecoder decodes one object member.
type fieldDecoder func(d *jx.Decoder) error

// decodeObject decodes a JSON object member by member. Unknown members are
// skipped. A bad member is recorded and the rest still decoded, so the client
// sees every problem at once.
func decodeObject(d *jx.Decoder, fields map[string]fieldDecoder) error {
	if d.Next() != jx.Object {
		return FieldErrors{"body": "must be a JSON object"}
	}
	fe := FieldErrors{}
	err := d.Obj(func(d *jx.Decoder, key string) error {
		dec, ok := fields[key]
		if !ok {
			return d.Skip()
		}
		raw, err := d.Raw()
		if err != nil {
			return err
		}
		if err := dec(jx.DecodeBytes(raw)); err != nil {
			fe.Add(key, err.Error())
		}
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "decode body")
	}
	return fe.Err()
}

func strField(dst *string) fieldDecoder {
	return func(d *jx.Decoder) error {
		if d.Next() != jx.String {
			return errors.New("must be a string")
		}
		v, err := d.Str()
		if err != nil {
			return errors.New("must be a string")
		}
		*dst = v
		return nil
	}
}

func optStrField(dst **string) fieldDecoder {
	return func(d *jx.Decoder) error {
		if d.Next() == jx.Null {
			*dst = nil
			return d.Null()
		}
		var v string
		if err := strField(&v)(d); err != nil {
			return err
		}
		*dst = &v
		return nil
	}
}

// strsField leaves dst nil for JSON null, so "absent" and "null" both mean
// unchanged, while [] clears.
func strsField(dst *[]string) fieldDecoder {
	return func(d *jx.Decoder) error {
		if d.Next() == jx.Null {
			return d.Null()
		}
		if d.Next() != jx.Array {
			return errors.New("must be an array of strings")
		}
		out := []string{}
		err := d.Arr(func(d *jx.Decoder) error {
			if d.Next() != jx.String {
				return errors.New("must be an array of strings")
			}
			v, err := d.Str()
			if err != nil {
				return err
			}
			out = append(out, v)
			return nil
		})
		if err != nil {
			return errors.New("must be an array of strings")
		}
		*dst = out
		return nil
	}
}

// nullable records an explicit JSON null in isNull before delegating to dec.
func nullable(dec fieldDecoder, isNull *bool) fieldDecoder {
	return func(d *jx.Decoder) error {
		*isNull = d.Next() == jx.Null
		return dec(d)
	}
}

func optIntField(dst **int) fieldDecoder {
	return func(d *jx.Decoder) error {
		if d.Next() == jx.Null {
			*dst = nil
			return d.Null()
		}
		if d.Next() != jx.Number {
			return errors.New("must be an integer")
		}
		v, err := d.Int()
		if err != nil {
			return errors.New("must be an integer")
		}
		*dst = &v
		return nil
	}
}

func optTimeField(dst **time.Time) fieldDecoder {
	return func(d *jx.Decoder) error {
		if d.Next() == jx.Null {
			*dst = nil
			return d.Null()
		}
		var raw string
		if err := strField(&raw)(d); err != nil {
			return errors.New("must be an RFC 3339 timestamp")
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return errors.New("must be an RFC 3339 timestamp")
		}
		*dst = &t
		return nil
	}
}

// RegisterBody is the POST /auth/register payload.
type RegisterBody struct {
	Email    string
	Password string
	Name     string
}

func (b *RegisterBody) Decode(d *jx.Decoder) error {
	return decodeObject(d, map[string]fieldDecoder{
		"email":    strField(&b.Email),
		"password": strField(&b.Password),
		"name":     strField(&b.Name),
	})
}

func (b RegisterBody) Validate() error {
	fe := FieldErrors{}
	checkEmail(fe, b.Email)
	// bcrypt ignores everything past 72 bytes.
	if !govalidator.ByteLength(b.Password, "8", "72") {
		fe.Add("password", "must be between 8 and 72 bytes")
	}
	if !govalidator.StringLength(b.Name, "0", "100") {
		fe.Add("name", "must be at most 100 characters")
	}
	return fe.Err()
}

// LoginBody is the POST /auth/login payload.
type LoginBody struct {
	Email    string
	Password string
}

func (b *LoginBody) Decode(d *jx.Decoder) error {
	return decodeObject(d, map[string]fieldDecoder{
		"email":    strField(&b.Email),
		"password": strField(&b.Password),
	})
}

func (b LoginBody) Validate() error {
	fe := FieldErrors{}
	checkEmail(fe, b.Email)
	if b.Password == "" {
		fe.Add("password", "is required")
	}
	return fe.Err()
}

// CreateTokenBody is the POST /tokens payload.
type CreateTokenBody struct {
	Name             string
	Type             string
	Scopes           []string
	ExpiresAt        *time.Time
	RateLimit        *int
	AllowedIPs       []string
	AllowedReferrers []string
}

func (b *CreateTokenBody) Decode(d *jx.Decoder) error {
	return decodeObject(d, map[string]fieldDecoder{
		"name":             strField(&b.Name),
		"type":             strField(&b.Type),
		"scopes":           strsField(&b.Scopes),
		"expiresAt":        optTimeField(&b.ExpiresAt),
		"rateLimit":        optIntField(&b.RateLimit),
		"allowedIps":       strsField(&b.AllowedIPs),
		"allowedReferrers": strsField(&b.AllowedReferrers),
	})
}

func (b CreateTokenBody) Validate() error {
	fe := FieldErrors{}
	if strings.TrimSpace(b.Name) == "" {
		fe.Add("name", "is required")
	}
	checkTokenName(fe, b.Name)
	if b.Type != "" {
		checkTokenType(fe, b.Type)
	}
	checkScopes(fe, b.Scopes)
	checkRateLimit(fe, b.RateLimit)
	checkAllowedIPs(fe, b.AllowedIPs)
	checkAllowedReferrers(fe, b.AllowedReferrers)
	return fe.Err()
}

// UpdateTokenBody is the PATCH /tokens/{id} payload. Absent fields keep
// their value. An explicit null clears expiresAt and rateLimit.
type UpdateTokenBody struct {
	Name             *string
	Type             *string
	Scopes           []string
	ExpiresAt        *time.Time
	ClearExpiresAt   bool
	RateLimit        *int
	ClearRateLimit   bool
	AllowedIPs       []string
	AllowedReferrers []string
}

func (b *UpdateTokenBody) Decode(d *jx.Decoder) error {
	return decodeObject(d, map[string]fieldDecoder{
		"name":             optStrField(&b.Name),
		"type":             optStrField(&b.Type),
		"scopes":           strsField(&b.Scopes),
		"expiresAt":        nullable(optTimeField(&b.ExpiresAt), &b.ClearExpiresAt),
		"rateLimit":        nullable(optIntField(&b.RateLimit), &b.ClearRateLimit),
		"allowedIps":       strsField(&b.AllowedIPs),
		"allowedReferrers": strsField(&b.AllowedReferrers),
	})
}

func (b UpdateTokenBody) Validate() error {
	fe := FieldErrors{}
	if b.Name != nil {
		if strings.TrimSpace(*b.Name) == "" {
			fe.Add("name", "must not be empty")
		}
		checkTokenName(fe, *b.Name)
	}
	if b.Type != nil {
		checkTokenType(fe, *b.Type)
	}
	checkScopes(fe, b.Scopes)
	checkRateLimit(fe, b.RateLimit)
	checkAllowedIPs(fe, b.AllowedIPs)
	checkAllowedReferrers(fe, b.AllowedReferrers)
	return fe.Err()
}

// ListQuery holds pagination parameters.
type ListQuery struct {
	Page    int `query:"page"`
	PerPage int `query:"perPage"`
}

func (q ListQuery) Validate() error {
	fe := FieldErrors{}
	switch {
	case q.Page < 0:
		fe.Add("page", "must be positive")
	case q.Page > paging.MaxNumber:
		fe.Add("page", "must be at most "+strconv.Itoa(paging.MaxNumber))
	}
	if q.PerPage < 0 {
		fe.Add("perPage", "must be positive")
	}
	return fe.Err()
}

func checkEmail(fe FieldErrors, email string) {
	email = strings.TrimSpace(email)
	switch {
	case email == "":
		fe.Add("email", "is required")
	case !govalidator.IsEmail(email) || !govalidator.ByteLength(email, "3", "254"):
		fe.Add("email", "must be a valid email address")
	}
}

func checkTokenName(fe FieldErrors, name string) {
	if !govalidator.StringLength(name, "0", "100") {
		fe.Add("name", "must be at most 100 characters")
	}
}

func checkTokenType(fe FieldErrors, typ string) {
	if !scope.TokenType(typ).Valid() {
		fe.Add("type", "must be one of BASIC, ADVANCED")
	}
}

func checkScopes(fe FieldErrors, raw []string) {
	for _, s := range raw {
		if _, err := scope.Parse(s); err != nil {
			fe.Add("scopes", "invalid scope "+quote(s))
			return
		}
	}
}

func checkRateLimit(fe FieldErrors, limit *int) {
	if limit != nil && *limit <= 0 {
		fe.Add("rateLimit", "must be a positive number of requests per hour")
	}
}

func checkAllowedIPs(fe FieldErrors, entries []string) {
	for _, e := range entries {
		if !govalidator.IsIP(e) && !govalidator.IsCIDR(e) {
			fe.Add("allowedIps", "invalid IP address or CIDR "+quote(e))
			return
		}
	}
}

func checkAllowedReferrers(fe FieldErrors, entries []string) {
	for _, e := range entries {
		host := strings.TrimPrefix(e, "*.")
		if !govalidator.IsDNSName(host) && !govalidator.IsURL(e) {
			fe.Add("allowedReferrers", "invalid host or URL "+quote(e))
			return
		}
	}
}

func quote(s string) string {
	return `"` + s + `"`
}
