package api

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/octohub/internal/apperr"
	"github.com/xenking/octohub/internal/domain/paging"
)

// Encoder is a value that writes itself as JSON.
type Encoder interface {
	Encode(e *jx.Encoder)
}

// EncoderFunc adapts a function to Encoder.
type EncoderFunc func(e *jx.Encoder)

func (f EncoderFunc) Encode(e *jx.Encoder) { f(e) }

// Null encodes JSON null.
var Null = EncoderFunc(func(e *jx.Encoder) { e.Null() })

const (
	headerResponseTime = "X-Response-Time"
	headerTotalCount   = "X-Total-Count"
	headerRetryAfter   = "Retry-After"
)

type startKey struct{}

// withStart records when the request entered the API so success responses
// can report X-Response-Time.
func withStart(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithValue(r.Context(), startKey{}, time.Now())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func setResponseTime(w http.ResponseWriter, r *http.Request) {
	start, ok := r.Context().Value(startKey{}).(time.Time)
	if !ok {
		return
	}
	ms := float64(time.Since(start).Microseconds()) / 1000
	w.Header().Set(headerResponseTime, strconv.FormatFloat(ms, 'f', 2, 64)+"ms")
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, body func(e *jx.Encoder)) {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	body(e)

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if _, err := w.Write(e.Bytes()); err != nil {
		zctx.From(r.Context()).Debug("Write response", zap.Error(err))
	}
}

// WriteSuccess writes {"success":true,"data":...,"message":...}. An empty
// message is omitted.
func WriteSuccess(w http.ResponseWriter, r *http.Request, status int, data Encoder, message string) {
	setResponseTime(w, r)
	writeJSON(w, r, status, func(e *jx.Encoder) {
		e.ObjStart()
		e.Field("success", func(e *jx.Encoder) { e.Bool(true) })
		e.Field("data", data.Encode)
		if message != "" {
			e.Field("message", func(e *jx.Encoder) { e.Str(message) })
		}
		e.ObjEnd()
	})
}

// WritePage writes a paginated success envelope and X-Total-Count.
func WritePage[T any](w http.ResponseWriter, r *http.Request, items []T, encode func(e *jx.Encoder, v T), page paging.Page, total int) {
	setResponseTime(w, r)
	w.Header().Set(headerTotalCount, strconv.Itoa(total))
	writeJSON(w, r, http.StatusOK, func(e *jx.Encoder) {
		e.ObjStart()
		e.Field("success", func(e *jx.Encoder) { e.Bool(true) })
		e.Field("data", func(e *jx.Encoder) {
			e.ArrStart()
			for _, v := range items {
				encode(e, v)
			}
			e.ArrEnd()
		})
		e.Field("pagination", func(e *jx.Encoder) {
			e.ObjStart()
			e.Field("page", func(e *jx.Encoder) { e.Int(page.Number) })
			e.Field("perPage", func(e *jx.Encoder) { e.Int(page.PerPage) })
			e.Field("totalItems", func(e *jx.Encoder) { e.Int(total) })
			e.Field("totalPages", func(e *jx.Encoder) { e.Int(page.TotalPages(total)) })
			e.ObjEnd()
		})
		e.ObjEnd()
	})
}

// WriteError writes {"success":false,"error":{...}}. Details of internal
// and unavailable errors are only shown when showDetails is set.
func WriteError(w http.ResponseWriter, r *http.Request, err *apperr.Error, showDetails bool) {
	retryAfter := 0
	if err.Kind == apperr.KindRateLimited && err.RetryAfter > 0 {
		retryAfter = int(math.Ceil(err.RetryAfter.Seconds()))
		w.Header().Set(headerRetryAfter, strconv.Itoa(retryAfter))
	}

	message := err.Message
	details := err.Details
	if internal := err.Kind == apperr.KindInternal || err.Kind == apperr.KindUnavailable; internal {
		if showDetails {
			if err.Err != nil && details == nil {
				details = err.Err.Error()
			}
		} else {
			details = nil
		}
	}

	writeJSON(w, r, err.Status(), func(e *jx.Encoder) {
		e.ObjStart()
		e.Field("success", func(e *jx.Encoder) { e.Bool(false) })
		e.Field("error", func(e *jx.Encoder) {
			e.ObjStart()
			e.Field("code", func(e *jx.Encoder) { e.Str(err.MachineCode()) })
			e.Field("message", func(e *jx.Encoder) { e.Str(message) })
			if details != nil {
				e.Field("details", func(e *jx.Encoder) { encodeAny(e, details) })
			}
			if retryAfter > 0 {
				e.Field("retryAfter", func(e *jx.Encoder) { e.Int(retryAfter) })
			}
			e.ObjEnd()
		})
		e.ObjEnd()
	})
}
