package handler

import (
	"io"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"
)

const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, encode func(e *jx.Encoder)) {
	var e jx.Encoder
	encode(&e)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}

// writeError writes {"code": status, "message": msg}; extra adds fields.
func writeError(w http.ResponseWriter, status int, msg string, extra ...func(e *jx.Encoder)) {
	writeJSON(w, status, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("code")
		e.Int(status)
		e.FieldStart("message")
		e.Str(msg)
		for _, f := range extra {
			f(e)
		}
		e.ObjEnd()
	})
}

func encodeDecimal(e *jx.Encoder, d decimal.Decimal) {
	e.Raw([]byte(d.String()))
}

// readBody returns a decoder over the request body, bounded to maxBodyBytes.
func readBody(r *http.Request) (*jx.Decoder, error) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return nil, errors.Wrap(err, "read body")
	}
	if len(data) > maxBodyBytes {
		return nil, errors.New("request body too large")
	}
	if len(data) == 0 {
		return nil, errors.New("request body is empty")
	}
	return jx.DecodeBytes(data), nil
}
