package middleware

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aman-churiwal/property-listings/internal/config"
	"github.com/aman-churiwal/property-listings/internal/models"
	"github.com/aman-churiwal/property-listings/internal/ratelimit"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	// aligned to a minute so fixed windows start fresh
	return &testClock{now: time.Unix(1_700_000_040, 0)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestPolicy(t *testing.T, clock *testClock) *ratelimit.Policy {
	t.Helper()
	store := ratelimit.NewMemoryStore(ratelimit.WithMemoryClock(clock.Now))
	policy, err := ratelimit.NewPolicy(store, config.DefaultRateLimits(), ratelimit.WithClock(clock.Now))
	require.NoError(t, err)
	return policy
}

// Login route that echoes the username it received, proving the body survives the limiter
func loginRouter(policy *ratelimit.Policy, opts RateLimitOptions) *gin.Engine {
	r := gin.New()
	r.POST("/api/auth/login", RateLimit(policy, config.ClassLogin, opts), func(c *gin.Context) {
		var body struct {
			Username string `json:"username" form:"username"`
		}
		bind := binding.Binding(binding.JSON)
		if c.ContentType() == binding.MIMEPOSTForm {
			bind = binding.FormPost
		}
		if err := c.ShouldBindWith(&body, bind); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"username": body.Username})
	})
	return r
}

func loginRequest(ip, username string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/auth/login",
		strings.NewReader(fmt.Sprintf(`{"username":%q,"password":"x"}`, username)))
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = ip + ":40000"
	return req
}

func TestRateLimit_PerUsername(t *testing.T) {
	clock := newTestClock()
	r := loginRouter(newTestPolicy(t, clock), RateLimitOptions{Now: clock.Now})

	for i := 0; i < 3; i++ {
		w := serve(r, loginRequest(fmt.Sprintf("10.0.0.%d", i), "alice"))
		require.Equal(t, http.StatusOK, w.Code, "attempt %d", i+1)
		assert.JSONEq(t, `{"username":"alice"}`, w.Body.String())
	}

	w := serve(r, loginRequest("10.0.0.50", "alice"))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.JSONEq(t, `{"error":"rate_limit_exceeded","message":"Too many login attempts. Please try again later."}`, w.Body.String())

	w = serve(r, loginRequest("10.0.0.51", "bob"))
	assert.Equal(t, http.StatusOK, w.Code, "other usernames are unaffected")
}

func TestRateLimit_PerIP(t *testing.T) {
	clock := newTestClock()
	r := loginRouter(newTestPolicy(t, clock), RateLimitOptions{Now: clock.Now})

	for i := 0; i < 5; i++ {
		w := serve(r, loginRequest("10.9.9.9", fmt.Sprintf("user%d", i)))
		require.Equal(t, http.StatusOK, w.Code, "attempt %d", i+1)
	}

	w := serve(r, loginRequest("10.9.9.9", "user99"))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "5", w.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))

	w = serve(r, loginRequest("10.9.9.10", "user99"))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRateLimit_Headers(t *testing.T) {
	clock := newTestClock()
	r := loginRouter(newTestPolicy(t, clock), RateLimitOptions{Now: clock.Now})

	w := serve(r, loginRequest("10.0.0.1", "carol"))
	require.Equal(t, http.StatusOK, w.Code)
	// username rule (3/min) is the tighter one
	assert.Equal(t, "3", w.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "2", w.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, strconv.FormatInt(clock.Now().Add(time.Minute).Unix(), 10), w.Header().Get("X-RateLimit-Reset"))
	assert.Empty(t, w.Header().Get("Retry-After"))

	serve(r, loginRequest("10.0.0.1", "carol"))
	serve(r, loginRequest("10.0.0.1", "carol"))
	clock.Advance(20 * time.Second)

	w = serve(r, loginRequest("10.0.0.1", "carol"))
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "40", w.Header().Get("Retry-After"))
}

func TestRateLimit_WindowExpiry(t *testing.T) {
	clock := newTestClock()
	r := loginRouter(newTestPolicy(t, clock), RateLimitOptions{Now: clock.Now})

	for i := 0; i < 3; i++ {
		serve(r, loginRequest("10.0.0.1", "dave"))
	}
	require.Equal(t, http.StatusTooManyRequests, serve(r, loginRequest("10.0.0.1", "dave")).Code)

	clock.Advance(time.Minute)
	assert.Equal(t, http.StatusOK, serve(r, loginRequest("10.0.0.1", "dave")).Code)
}

func TestRateLimit_FormBody(t *testing.T) {
	clock := newTestClock()
	r := loginRouter(newTestPolicy(t, clock), RateLimitOptions{Now: clock.Now})

	form := func(ip string) *http.Request {
		req := httptest.NewRequest(http.MethodPost, "/api/auth/login",
			strings.NewReader(url.Values{"username": {"Erin"}, "password": {"x"}}.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.RemoteAddr = ip + ":1"
		return req
	}

	for i := 0; i < 3; i++ {
		w := serve(r, form(fmt.Sprintf("10.2.0.%d", i)))
		require.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"username":"Erin"}`, w.Body.String())
	}
	assert.Equal(t, http.StatusTooManyRequests, serve(r, form("10.2.0.9")).Code)

	// JSON and form submissions of the same name share the counter
	assert.Equal(t, http.StatusTooManyRequests, serve(r, loginRequest("10.2.0.10", "erin")).Code)
}

func TestRateLimit_PasswordResetPerEmail(t *testing.T) {
	clock := newTestClock()
	policy := newTestPolicy(t, clock)
	r := gin.New()
	r.POST("/reset", RateLimit(policy, config.ClassPasswordReset, RateLimitOptions{Now: clock.Now}), ok)

	reset := func(ip, email string) int {
		req := httptest.NewRequest(http.MethodPost, "/reset", strings.NewReader(`{"email":"`+email+`"}`))
		req.Header.Set("Content-Type", "application/json; charset=utf-8")
		req.RemoteAddr = ip + ":1"
		return serve(r, req).Code
	}

	for i := 0; i < 3; i++ {
		require.Equal(t, http.StatusOK, reset(fmt.Sprintf("10.3.0.%d", i), "frank@example.com"))
	}
	assert.Equal(t, http.StatusTooManyRequests, reset("10.3.0.9", "FRANK@example.com"))
	assert.Equal(t, http.StatusOK, reset("10.3.0.9", "grace@example.com"))

	clock.Advance(time.Hour)
	assert.Equal(t, http.StatusOK, reset("10.3.0.9", "frank@example.com"))
}

func TestRateLimit_RefusesBodiesItCannotRead(t *testing.T) {
	clock := newTestClock()
	r := loginRouter(newTestPolicy(t, clock), RateLimitOptions{Now: clock.Now})

	var form bytes.Buffer
	mw := multipart.NewWriter(&form)
	require.NoError(t, mw.WriteField("username", "henry"))
	require.NoError(t, mw.WriteField("password", "x"))
	require.NoError(t, mw.Close())

	bodies := []struct {
		name        string
		contentType string
		body        string
	}{
		{"multipart", mw.FormDataContentType(), form.String()},
		{"xml", "application/xml", `<login><username>henry</username></login>`},
		{"no content type", "", `{"username":"henry"}`},
	}

	for _, tt := range bodies {
		t.Run(tt.name, func(t *testing.T) {
			for i := 0; i < 6; i++ {
				req := httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader(tt.body))
				if tt.contentType != "" {
					req.Header.Set("Content-Type", tt.contentType)
				}
				req.RemoteAddr = fmt.Sprintf("10.4.%d.%d:1", len(tt.name), i)
				w := serve(r, req)
				require.Equal(t, http.StatusUnsupportedMediaType, w.Code)
				assert.Contains(t, w.Body.String(), "unsupported_media_type")
			}
		})
	}
}

func TestRateLimit_RefusesOversizedBody(t *testing.T) {
	clock := newTestClock()
	r := loginRouter(newTestPolicy(t, clock), RateLimitOptions{Now: clock.Now})

	payload := `{"username":"henry","password":"x","padding":"` + strings.Repeat("x", maxKeyBodyBytes) + `"}`
	for i := 0; i < 6; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader(payload))
		req.Header.Set("Content-Type", "application/json")
		req.RemoteAddr = fmt.Sprintf("10.4.9.%d:1", i)
		w := serve(r, req)
		require.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
		assert.Contains(t, w.Body.String(), "request_too_large")
	}
}

func TestRateLimit_CountsTheUsernameTheHandlerBinds(t *testing.T) {
	clock := newTestClock()
	r := loginRouter(newTestPolicy(t, clock), RateLimitOptions{Now: clock.Now})

	// JSON field names match case-insensitively when binding into a struct
	login := func(ip string) *http.Request {
		req := httptest.NewRequest(http.MethodPost, "/api/auth/login",
			strings.NewReader(`{"USERNAME":"henry","password":"x"}`))
		req.Header.Set("Content-Type", "application/json")
		req.RemoteAddr = ip + ":1"
		return req
	}

	for i := 0; i < 3; i++ {
		w := serve(r, login(fmt.Sprintf("10.4.10.%d", i)))
		require.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"username":"henry"}`, w.Body.String())
	}
	assert.Equal(t, http.StatusTooManyRequests, serve(r, login("10.4.10.9")).Code)
}

type downStore struct{}

var errDown = errors.New("connection refused")

func (downStore) IncrementWindow(context.Context, string, time.Duration) (int64, time.Duration, error) {
	return 0, 0, errDown
}

func (downStore) AppendLog(context.Context, string, time.Time, time.Duration, int) (ratelimit.LogResult, error) {
	return ratelimit.LogResult{}, errDown
}

func (downStore) Ping(context.Context) error { return errDown }

func TestRateLimit_StoreUnavailable(t *testing.T) {
	policy, err := ratelimit.NewPolicy(downStore{}, config.DefaultRateLimits())
	require.NoError(t, err)

	rec, flush := newRecorder(t)
	closed := loginRouter(policy, RateLimitOptions{Recorder: rec})
	w := serve(closed, loginRequest("10.5.0.1", "ivan"))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.JSONEq(t, `{"error":"rate_limit_unavailable","message":"`+unavailableMessage+`"}`, w.Body.String())

	events := flush()
	require.Len(t, events, 1)
	assert.Equal(t, models.EventStoreDegraded, events[0].Kind)

	open := loginRouter(policy, RateLimitOptions{FailOpen: true})
	w = serve(open, loginRequest("10.5.0.1", "ivan"))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"username":"ivan"}`, w.Body.String())
}

type panicStore struct{ downStore }

func (panicStore) IncrementWindow(context.Context, string, time.Duration) (int64, time.Duration, error) {
	panic("counter store bug")
}

func (panicStore) AppendLog(context.Context, string, time.Time, time.Duration, int) (ratelimit.LogResult, error) {
	panic("counter store bug")
}

func TestRateLimit_PanicBlocksEvenWhenFailOpen(t *testing.T) {
	policy, err := ratelimit.NewPolicy(panicStore{}, config.DefaultRateLimits())
	require.NoError(t, err)

	rec, flush := newRecorder(t)
	r := loginRouter(policy, RateLimitOptions{FailOpen: true, Recorder: rec})

	w := serve(r, loginRequest("10.5.0.2", "ivan"))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.NotContains(t, w.Body.String(), "ivan")

	events := flush()
	require.Len(t, events, 1)
	assert.Equal(t, models.EventGateFailure, events[0].Kind)
	assert.Equal(t, config.ClassLogin, events[0].Rule)
}

func TestRateLimit_RecordsDenials(t *testing.T) {
	clock := newTestClock()
	rec, flush := newRecorder(t)
	r := loginRouter(newTestPolicy(t, clock), RateLimitOptions{Now: clock.Now, Recorder: rec})

	for i := 0; i < 4; i++ {
		serve(r, loginRequest("10.6.0.1", "judy"))
	}

	events := flush()
	require.Len(t, events, 1)
	assert.Equal(t, models.EventRateLimited, events[0].Kind)
	assert.Equal(t, "login_username", events[0].Rule)
	assert.Equal(t, "10.6.0.1", events[0].IPAddress)
	assert.Equal(t, "/api/auth/login", events[0].Path)
}
