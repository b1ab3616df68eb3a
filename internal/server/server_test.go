package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aman-churiwal/property-listings/internal/audit"
	"github.com/aman-churiwal/property-listings/internal/config"
	"github.com/aman-churiwal/property-listings/internal/models"
	"github.com/aman-churiwal/property-listings/internal/repository"
	"github.com/aman-churiwal/property-listings/internal/storage"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm/logger"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testServer struct {
	srv      *Server
	db       *storage.Database
	mr       *miniredis.Miniredis
	recorder *audit.Recorder
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Defaults(config.EnvTest)
	require.NoError(t, err)

	// sliding windows keep the counts independent of wall-clock minute boundaries
	for name, class := range cfg.Security.RateLimit.Classes {
		for i := range class.Rules {
			class.Rules[i].Algorithm = "sliding_window"
		}
		cfg.Security.RateLimit.Classes[name] = class
	}
	return cfg
}

func newTestServer(t *testing.T, cfg *config.Config) *testServer {
	t.Helper()

	db, err := storage.NewDatabase("sqlite://file:"+uuid.NewString()+"?mode=memory&cache=shared", logger.Silent)
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate())
	t.Cleanup(func() { _ = db.Close() })

	mr := miniredis.RunT(t)
	redis, err := storage.NewRedis(storage.RedisOptions{Addr: mr.Addr(), DialTimeout: 200 * time.Millisecond})
	require.NoError(t, err)
	t.Cleanup(func() { _ = redis.Close() })

	recorder := audit.NewRecorder(repository.NewSecurityEventRepository(db), audit.Config{FlushInterval: time.Hour})
	recorder.Start()
	t.Cleanup(func() { _ = recorder.Stop(context.Background()) })

	srv, err := New(cfg, Deps{DB: db, Redis: redis, Recorder: recorder})
	require.NoError(t, err)

	return &testServer{srv: srv, db: db, mr: mr, recorder: recorder}
}

func (ts *testServer) do(t *testing.T, method, path, ip, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		req = httptest.NewRequest(method, path, strings.NewReader(string(data)))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if ip != "" {
		req.RemoteAddr = ip + ":50000"
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	ts.srv.GetRouter().ServeHTTP(w, req)
	return w
}

func (ts *testServer) register(t *testing.T, name string) {
	t.Helper()
	w := ts.do(t, http.MethodPost, "/api/auth/register", "10.200.0.1", "", map[string]string{
		"username": name,
		"email":    name + "@example.com",
		"password": "correct-horse",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
}

// Registers and logs in from its own IP so the login limits of other tests are untouched
func (ts *testServer) login(t *testing.T, name string) string {
	t.Helper()
	ts.register(t, name)
	w := ts.do(t, http.MethodPost, "/api/auth/login", "10.201."+fmt.Sprint(len(name))+".1", "", map[string]string{
		"username": name,
		"password": "correct-horse",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.Token
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestBanner(t *testing.T) {
	ts := newTestServer(t, testConfig(t))
	w := ts.do(t, http.MethodGet, "/", "", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, banner, w.Body.String())
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, testConfig(t))

	w := ts.do(t, http.MethodGet, "/health", "", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok","services":{"database":"connected","cache":"connected"}}`, w.Body.String())

	ts.mr.Close()
	w = ts.do(t, http.MethodGet, "/health", "", "", nil)
	assert.Equal(t, http.StatusOK, w.Code, "cache failure alone does not degrade")
	body := decode[map[string]any](t, w)
	assert.Equal(t, "ok", body["status"])
	services := body["services"].(map[string]any)
	assert.Equal(t, "connected", services["database"])
	assert.True(t, strings.HasPrefix(services["cache"].(string), "error: "))
}

func TestHealth_DatabaseDown(t *testing.T) {
	ts := newTestServer(t, testConfig(t))
	require.NoError(t, ts.db.Close())

	w := ts.do(t, http.MethodGet, "/health", "", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	body := decode[map[string]any](t, w)
	assert.Equal(t, "degraded", body["status"])
	services := body["services"].(map[string]any)
	assert.True(t, strings.HasPrefix(services["database"].(string), "error: "))
	assert.Equal(t, "connected", services["cache"])
}

func TestHealth_IsNotRateLimited(t *testing.T) {
	cfg := testConfig(t)
	api := cfg.Security.RateLimit.Classes[config.ClassAPI]
	api.Rules[0].Limit = 2
	cfg.Security.RateLimit.Classes[config.ClassAPI] = api
	ts := newTestServer(t, cfg)

	for i := 0; i < 5; i++ {
		assert.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/health", "10.9.0.1", "", nil).Code)
	}

	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/api/properties", "10.9.0.1", "", nil).Code)
	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/api/properties", "10.9.0.1", "", nil).Code)
	w := ts.do(t, http.MethodGet, "/api/properties", "10.9.0.1", "", nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.JSONEq(t, `{"error":"rate_limit_exceeded","message":"Too many requests. Please try again later."}`, w.Body.String())
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
}

func TestForbiddenPaths(t *testing.T) {
	ts := newTestServer(t, testConfig(t))

	for _, p := range []string{"/.git/config", "/.ENV", "/api/%2Egit/HEAD", "/health/.svn", "/static/%252eenv"} {
		w := ts.do(t, http.MethodGet, p, "", "", nil)
		assert.Equal(t, http.StatusForbidden, w.Code, p)
		assert.Equal(t, "text/plain", w.Header().Get("Content-Type"), p)
		assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"), p)
		assert.Equal(t, "default-src 'none'", w.Header().Get("Content-Security-Policy"), p)
		assert.Equal(t, "no-store, max-age=0", w.Header().Get("Cache-Control"), p)
	}

	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, "/nothing-here", "", "", nil).Code)
}

func TestForbiddenPaths_CheckedBeforeHost(t *testing.T) {
	cfg := testConfig(t)
	cfg.Server.AllowedHosts = []string{"listings.example.com"}
	ts := newTestServer(t, cfg)

	req := httptest.NewRequest(http.MethodGet, "/.git/config", nil)
	req.Host = "attacker.invalid"
	w := httptest.NewRecorder()
	ts.srv.GetRouter().ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/properties", nil)
	req.Host = "attacker.invalid"
	w = httptest.NewRecorder()
	ts.srv.GetRouter().ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	require.NoError(t, ts.recorder.Stop(context.Background()))
	var count int64
	require.NoError(t, ts.db.DB.Model(&models.SecurityEvent{}).Where("kind = ?", models.EventBlockedPath).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestLogin_UnreadableBodyIsRefused(t *testing.T) {
	ts := newTestServer(t, testConfig(t))
	ts.register(t, "victim")

	for i := 0; i < 5; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/auth/login",
			strings.NewReader("--b\r\nContent-Disposition: form-data; name=\"username\"\r\n\r\nvictim\r\n--b--\r\n"))
		req.Header.Set("Content-Type", "multipart/form-data; boundary=b")
		req.RemoteAddr = fmt.Sprintf("10.77.0.%d:1", i)
		w := httptest.NewRecorder()
		ts.srv.GetRouter().ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnsupportedMediaType, w.Code)
	}
}

func TestLogin_PerUsernameLimit(t *testing.T) {
	ts := newTestServer(t, testConfig(t))
	ts.register(t, "alice")
	ts.register(t, "bob")

	attempt := func(ip, username string) int {
		return ts.do(t, http.MethodPost, "/api/auth/login", ip, "", map[string]string{
			"username": username,
			"password": "wrong-password",
		}).Code
	}

	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusUnauthorized, attempt(fmt.Sprintf("10.1.0.%d", i), "alice"))
	}
	assert.Equal(t, http.StatusTooManyRequests, attempt("10.1.0.9", "alice"))

	w := ts.do(t, http.MethodPost, "/api/auth/login", "10.1.0.10", "", map[string]string{
		"username": "bob",
		"password": "correct-horse",
	})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestLogin_PerIPLimit(t *testing.T) {
	ts := newTestServer(t, testConfig(t))

	for i := 0; i < 5; i++ {
		w := ts.do(t, http.MethodPost, "/api/auth/login", "10.2.0.1", "", map[string]string{
			"username": fmt.Sprintf("user%d", i),
			"password": "whatever-it-is",
		})
		assert.Equal(t, http.StatusUnauthorized, w.Code, "attempt %d", i+1)
	}

	w := ts.do(t, http.MethodPost, "/api/auth/login", "10.2.0.1", "", map[string]string{
		"username": "user99",
		"password": "whatever-it-is",
	})
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.JSONEq(t, `{"error":"rate_limit_exceeded","message":"Too many login attempts. Please try again later."}`, w.Body.String())
}

func TestPasswordReset(t *testing.T) {
	ts := newTestServer(t, testConfig(t))
	ts.register(t, "carol")

	known := ts.do(t, http.MethodPost, "/api/auth/password-reset", "10.3.0.1", "", map[string]string{"email": "carol@example.com"})
	unknown := ts.do(t, http.MethodPost, "/api/auth/password-reset", "10.3.0.1", "", map[string]string{"email": "nobody@example.com"})
	assert.Equal(t, http.StatusOK, known.Code)
	assert.Equal(t, known.Body.String(), unknown.Body.String())
	assert.JSONEq(t, `{"status":"reset email sent"}`, known.Body.String())

	keys := ts.mr.Keys()
	var token string
	for _, k := range keys {
		if strings.HasPrefix(k, "pwreset:") {
			token = strings.TrimPrefix(k, "pwreset:")
		}
	}
	require.NotEmpty(t, token)

	w := ts.do(t, http.MethodPost, "/api/auth/password-reset/confirm", "10.3.0.2", "", map[string]string{
		"token":    token,
		"password": "brand-new-password",
	})
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = ts.do(t, http.MethodPost, "/api/auth/password-reset/confirm", "10.3.0.2", "", map[string]string{
		"token":    token,
		"password": "another-password",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	for i := 0; i < 2; i++ {
		ts.do(t, http.MethodPost, "/api/auth/password-reset", fmt.Sprintf("10.3.1.%d", i), "", map[string]string{"email": "Carol@example.com"})
	}
	w = ts.do(t, http.MethodPost, "/api/auth/password-reset", "10.3.1.9", "", map[string]string{"email": "carol@example.com"})
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Contains(t, w.Body.String(), "Too many password reset requests")
}

func TestListingsFlow(t *testing.T) {
	ts := newTestServer(t, testConfig(t))
	ownerToken := ts.login(t, "owner")
	buyerToken := ts.login(t, "buyer")

	w := ts.do(t, http.MethodPost, "/api/properties", "", "", map[string]any{"title": "Nope"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = ts.do(t, http.MethodPost, "/api/properties", "", ownerToken, map[string]any{
		"title":         "Sea view flat",
		"city":          "Porto",
		"property_type": "apartment",
		"price":         320000,
		"is_published":  false,
		"owner_id":      uuid.NewString(),
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	property := decode[models.Property](t, w)
	id := property.ID.String()

	// drafts are hidden from everyone but the owner
	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, "/api/properties/"+id, "", "", nil).Code)
	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, "/api/properties/"+id, "", buyerToken, nil).Code)
	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/api/properties/"+id, "", ownerToken, nil).Code)

	w = ts.do(t, http.MethodPatch, "/api/properties/"+id, "", ownerToken, map[string]any{"is_published": true})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = ts.do(t, http.MethodGet, "/api/properties?city=porto&type=apartment", "", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[struct {
		Items []models.Property `json:"items"`
		Total int64             `json:"total"`
	}](t, w)
	assert.Equal(t, int64(1), list.Total)
	require.Len(t, list.Items, 1)
	assert.NotEqual(t, uuid.Nil, list.Items[0].OwnerID, "owner comes from the token")

	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodGet, "/api/properties?min_price=abc", "", "", nil).Code)

	w = ts.do(t, http.MethodPatch, "/api/properties/"+id, "", buyerToken, map[string]any{"price": 1})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = ts.do(t, http.MethodPost, "/api/properties/"+id+"/offers", "", buyerToken, map[string]any{"amount": 300000, "message": "Cash"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	offer := decode[models.Offer](t, w)

	w = ts.do(t, http.MethodPost, "/api/properties/"+id+"/offers", "", ownerToken, map[string]any{"amount": 1})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	assert.Equal(t, http.StatusForbidden, ts.do(t, http.MethodGet, "/api/properties/"+id+"/offers", "", buyerToken, nil).Code)
	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/api/properties/"+id+"/offers", "", ownerToken, nil).Code)

	w = ts.do(t, http.MethodPatch, "/api/offers/"+offer.ID.String()+"/status", "", ownerToken, map[string]string{"status": "accepted"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, models.OfferAccepted, decode[models.Offer](t, w).Status)

	w = ts.do(t, http.MethodPatch, "/api/offers/"+offer.ID.String()+"/status", "", buyerToken, map[string]string{"status": "withdrawn"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = ts.do(t, http.MethodGet, "/api/offers", "", buyerToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[struct {
		Items []models.Offer `json:"items"`
	}](t, w).Items, 1)

	w = ts.do(t, http.MethodGet, "/api/auth/me", "", buyerToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "buyer", decode[models.User](t, w).Username)
	assert.NotContains(t, w.Body.String(), "password")

	assert.Equal(t, http.StatusForbidden, ts.do(t, http.MethodDelete, "/api/properties/"+id, "", buyerToken, nil).Code)
	assert.Equal(t, http.StatusNoContent, ts.do(t, http.MethodDelete, "/api/properties/"+id, "", ownerToken, nil).Code)
	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, "/api/properties/"+id, "", "", nil).Code)
}

func TestAdminEndpoints(t *testing.T) {
	ts := newTestServer(t, testConfig(t))
	userToken := ts.login(t, "plainuser")
	ts.register(t, "root")

	require.NoError(t, ts.db.DB.Model(&models.User{}).Where("username = ?", "root").Update("role", models.RoleAdmin).Error)
	w := ts.do(t, http.MethodPost, "/api/auth/login", "10.7.0.1", "", map[string]string{"username": "root", "password": "correct-horse"})
	require.Equal(t, http.StatusOK, w.Code)
	adminToken := decode[struct {
		Token string `json:"token"`
	}](t, w).Token

	assert.Equal(t, http.StatusUnauthorized, ts.do(t, http.MethodGet, "/admin/status", "", "", nil).Code)
	assert.Equal(t, http.StatusForbidden, ts.do(t, http.MethodGet, "/admin/status", "", userToken, nil).Code)

	w = ts.do(t, http.MethodGet, "/admin/status", "", adminToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	status := decode[map[string]any](t, w)
	assert.EqualValues(t, 2, status["users"])

	// generate an event and flush the recorder so it is queryable
	ts.do(t, http.MethodGet, "/.git/config", "198.51.100.4", "", nil)
	require.NoError(t, ts.recorder.Stop(context.Background()))

	w = ts.do(t, http.MethodGet, "/admin/security-events?kind=blocked_path", "", adminToken, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	events := decode[struct {
		Events []models.SecurityEvent `json:"events"`
		Total  int64                  `json:"total"`
	}](t, w)
	assert.Equal(t, int64(1), events.Total)
	require.Len(t, events.Events, 1)
	assert.Equal(t, "198.51.100.4", events.Events[0].IPAddress)

	w = ts.do(t, http.MethodGet, "/admin/security-events/summary", "", adminToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, decode[map[string]any](t, w)["total"])

	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodGet, "/admin/security-events?from=yesterday", "", adminToken, nil).Code)
	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodGet, "/admin/security-events?kind=mystery", "", adminToken, nil).Code)

	w = ts.do(t, http.MethodGet, "/admin/circuit-breakers", "", adminToken, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodPost, "/admin/circuit-breakers/nope/reset", "", adminToken, nil).Code)

	w = ts.do(t, http.MethodDelete, "/admin/security-events?older_than=1h", "", adminToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"deleted":0}`, w.Body.String())
}

func TestRedisCounterStoreIsBreakerWrapped(t *testing.T) {
	cfg := testConfig(t)
	cfg.Security.RateLimit.Store = config.StoreRedis
	ts := newTestServer(t, cfg)

	w := ts.do(t, http.MethodGet, "/api/properties", "10.8.0.1", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, ts.mr.Keys(), "counters live in redis")

	ts.mr.Close()
	w = ts.do(t, http.MethodGet, "/api/properties", "10.8.0.1", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "rate_limit_unavailable")
}
