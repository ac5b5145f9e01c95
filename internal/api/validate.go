package api

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/octohub/internal/apperr"
	"github.com/xenking/octohub/pkg/httpmiddleware"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// FieldErrors maps a field name to what is wrong with it.
type FieldErrors map[string]string

func (fe FieldErrors) Error() string {
	parts := make([]string, 0, len(fe))
	for _, k := range sortedKeys(fe) {
		parts = append(parts, k+": "+fe[k])
	}
	return "invalid fields: " + strings.Join(parts, "; ")
}

// Add records msg for field unless the field already has an error.
func (fe FieldErrors) Add(field, msg string) {
	if _, ok := fe[field]; !ok {
		fe[field] = msg
	}
}

// Err returns fe as an error, or nil when empty.
func (fe FieldErrors) Err() error {
	if len(fe) == 0 {
		return nil
	}
	return fe
}

// Validator is implemented by request types with rules beyond decoding.
type Validator interface {
	Validate() error
}

// Decodable is a pointer to a request body type that decodes itself.
// Unknown fields must be skipped, not rejected.
type Decodable[T any] interface {
	*T
	Decode(d *jx.Decoder) error
}

// DecodeBody reads, decodes and validates a JSON body. Every failure is a
// validation error; only an unreadable stream is reported as such.
func DecodeBody[T any, P Decodable[T]](r *http.Request) (T, error) {
	var v T
	data, err := io.ReadAll(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return v, apperr.Validation("request body too large", nil)
		}
		return v, errors.Wrap(err, "read body")
	}
	if len(data) == 0 {
		data = []byte("{}")
	}
	if !jx.Valid(data) {
		return v, apperr.Validation("malformed JSON body", nil)
	}
	if err := P(&v).Decode(jx.DecodeBytes(data)); err != nil {
		return v, validationError(err)
	}
	if err := validate(&v); err != nil {
		return v, err
	}
	return v, nil
}

// DecodeQuery fills a struct from the URL query. Fields are bound by their
// `query` tag and coerced to the field kind before validation.
func DecodeQuery[T any](r *http.Request) (T, error) {
	var v T
	if err := bindQuery(&v, r.URL.Query()); err != nil {
		return v, validationError(err)
	}
	if err := validate(&v); err != nil {
		return v, err
	}
	return v, nil
}

func validate(v any) error {
	val, ok := v.(Validator)
	if !ok {
		return nil
	}
	if err := val.Validate(); err != nil {
		return validationError(err)
	}
	return nil
}

func validationError(err error) error {
	var fe FieldErrors
	if errors.As(err, &fe) {
		return apperr.Validation("validation failed", fe)
	}
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return ae
	}
	return apperr.Validation("invalid request", err.Error())
}

type (
	bodyKey[T any]  struct{}
	queryKey[T any] struct{}
)

// ErrorWriter reports err to the client.
type ErrorWriter func(w http.ResponseWriter, r *http.Request, err error)

// ValidateBody decodes the body into T before the next handler runs and
// stores it for Body. Invalid input never reaches the handler.
func ValidateBody[T any, P Decodable[T]](fail ErrorWriter) httpmiddleware.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			v, err := DecodeBody[T, P](r)
			if err != nil {
				fail(w, r, err)
				return
			}
			ctx := context.WithValue(r.Context(), bodyKey[T]{}, v)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ValidateQuery is ValidateBody for the URL query.
func ValidateQuery[T any](fail ErrorWriter) httpmiddleware.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			v, err := DecodeQuery[T](r)
			if err != nil {
				fail(w, r, err)
				return
			}
			ctx := context.WithValue(r.Context(), queryKey[T]{}, v)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Body returns the value stored by ValidateBody.
func Body[T any](r *http.Request) T {
	v, _ := r.Context().Value(bodyKey[T]{}).(T)
	return v
}

// Query returns the value stored by ValidateQuery.
func Query[T any](r *http.Request) T {
	v, _ := r.Context().Value(queryKey[T]{}).(T)
	return v
}

// bindQuery sets the exported fields of the struct pointed to by dst from q.
func bindQuery(dst any, q url.Values) error {
	rv := reflect.ValueOf(dst)
	if rv.Kind() != reflect.Pointer || rv.Elem().Kind() != reflect.Struct {
		return errors.Errorf("bind query: %T is not a pointer to struct", dst)
	}
	rv = rv.Elem()
	rt := rv.Type()

	fe := FieldErrors{}
	for i := range rt.NumField() {
		field := rt.Field(i)
		name := field.Tag.Get("query")
		if name == "" || name == "-" || !field.IsExported() {
			continue
		}
		values, ok := q[name]
		if !ok || len(values) == 0 {
			continue
		}
		if err := setField(rv.Field(i), values); err != nil {
			fe.Add(name, err.Error())
		}
	}
	return fe.Err()
}

func setField(f reflect.Value, values []string) error {
	raw := strings.TrimSpace(values[len(values)-1])
	switch f.Kind() {
	case reflect.String:
		f.SetString(raw)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(raw, 10, f.Type().Bits())
		if err != nil {
			return errors.New("must be an integer")
		}
		f.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(raw, 10, f.Type().Bits())
		if err != nil {
			return errors.New("must be a non-negative integer")
		}
		f.SetUint(n)
	case reflect.Float32, reflect.Float64:
		n, err := strconv.ParseFloat(raw, f.Type().Bits())
		if err != nil {
			return errors.New("must be a number")
		}
		f.SetFloat(n)
	case reflect.Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return errors.New("must be a boolean")
		}
		f.SetBool(b)
	case reflect.Slice:
		if f.Type().Elem().Kind() != reflect.String {
			return errors.Errorf("unsupported type %s", f.Type())
		}
		var out []string
		for _, v := range values {
			for _, part := range strings.Split(v, ",") {
				if part = strings.TrimSpace(part); part != "" {
					out = append(out, part)
				}
			}
		}
		f.Set(reflect.ValueOf(out))
	default:
		return errors.Errorf("unsupported type %s", f.Type())
	}
	return nil
}
