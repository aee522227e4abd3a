package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type body struct {
	Status string
	Checks map[string]string
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) body {
	t.Helper()
	var b body
	require.NoError(t, jx.DecodeBytes(w.Body.Bytes()).Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "status":
			s, err := d.Str()
			b.Status = s
			return err
		case "checks":
			b.Checks = map[string]string{}
			return d.Obj(func(d *jx.Decoder, name string) error {
				s, err := d.Str()
				b.Checks[name] = s
				return err
			})
		default:
			return d.Skip()
		}
	}))
	return b
}

func fail(msg string) CheckFunc {
	return func(context.Context) error { return errors.New(msg) }
}

func pass(context.Context) error { return nil }

func serve(handler http.HandlerFunc) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	handler(w, httptest.NewRequest(http.MethodGet, "/", nil))
	return w
}

func TestLiveEndpoint(t *testing.T) {
	h := New()
	h.AddLivenessCheck("ok", time.Second, pass)
	h.AddLivenessCheck("db", time.Second, fail("connection refused"))

	w := serve(h.LiveEndpoint)
	assert.Equal(t, http.StatusOK, w.Code, "checks start healthy")
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Equal(t, "ok", decodeBody(t, w).Status)

	for range DefaultThresholds.Failure {
		h.liveness[1].run(context.Background())
	}

	w = serve(h.LiveEndpoint)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	b := decodeBody(t, w)
	assert.Equal(t, "unhealthy", b.Status)
	assert.Equal(t, map[string]string{"db": "connection refused"}, b.Checks)
}

func TestProbe_Thresholds(t *testing.T) {
	h := New()
	h.SetThresholds(Thresholds{Failure: 2, Success: 2})

	var failing bool
	h.AddReadinessCheck("flaky", time.Second, func(context.Context) error {
		if failing {
			return errors.New("down")
		}
		return nil
	})
	h.SetReady(true)
	p := h.readiness[0]
	ctx := context.Background()

	failing = true
	p.run(ctx)
	assert.True(t, h.IsReady(), "one failure is below threshold")
	p.run(ctx)
	assert.False(t, h.IsReady())

	failing = false
	p.run(ctx)
	assert.False(t, h.IsReady(), "one success is below threshold")
	p.run(ctx)
	assert.True(t, h.IsReady())
}

func TestReadyEndpoint_Gate(t *testing.T) {
	h := New()
	h.AddReadinessCheck("store", time.Second, pass)

	w := serve(h.ReadyEndpoint)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, decodeBody(t, w).Checks, "_readiness")

	h.SetReady(true)
	assert.Equal(t, http.StatusOK, serve(h.ReadyEndpoint).Code)
}

func TestStart_RunsChecks(t *testing.T) {
	h := New()
	h.SetThresholds(Thresholds{Failure: 1, Success: 1})
	h.AddReadinessCheck("store", time.Second, fail("no route"))
	h.SetReady(true)

	h.Start(context.Background(), 10*time.Millisecond)
	defer h.Stop()

	assert.Eventually(t, func() bool { return !h.IsReady() }, time.Second, 5*time.Millisecond)
	h.Stop()
	h.Stop()
}

func TestGoroutineCountCheck(t *testing.T) {
	assert.NoError(t, GoroutineCountCheck(1_000_000)(context.Background()))
	assert.Error(t, GoroutineCountCheck(0)(context.Background()))
}
