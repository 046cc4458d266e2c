package testutils

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/clubhouse/meetings-server/internal/api"
	"github.com/clubhouse/meetings-server/internal/live"
	"github.com/clubhouse/meetings-server/internal/metrics"
	"github.com/clubhouse/meetings-server/internal/repository"
	"github.com/clubhouse/meetings-server/internal/service"
	"github.com/clubhouse/meetings-server/internal/testutils"
	"github.com/clubhouse/meetings-server/internal/utils"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

const testJWTSecret = "test-secret-key"

// Test accounts carried in the generated tokens
const (
	AdminUserID  = "admin-user"
	MemberUserID = "member-user"
	OtherUserID  = "other-user"
)

// TestContext holds all dependencies for tests
type TestContext struct {
	Router     *gin.Engine
	Repository *repository.SQLRepository
	Service    service.Service
	Registry   *live.Registry
	Metrics    *prometheus.Registry
	JWTSecret  []byte
	AdminJWT   string
	MemberJWT  string
	OtherJWT   string

	server *httptest.Server
}

// SetupTestContext creates a new test context backed by an in-memory database
func SetupTestContext(t *testing.T) *TestContext {
	t.Helper()

	repo := testutils.NewRepository(t)
	logger := utils.DiscardLogger()

	promRegistry := prometheus.NewRegistry()
	m, err := metrics.New(promRegistry)
	require.NoError(t, err, "Failed to register metrics")

	registry := live.NewRegistry(logger, m)
	svc := service.NewDefaultService(repo, registry, service.Options{
		DefaultLanguage: "de",
		Logger:          logger,
		Metrics:         m,
	})

	handler := api.NewHandler(svc, registry, api.NewJWTVerifier(testJWTSecret), api.Options{
		Logger:   logger,
		Gatherer: promRegistry,
	})

	// Set up Gin router
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(gin.Recovery())
	handler.SetupRoutes(router)

	return &TestContext{
		Router:     router,
		Repository: repo,
		Service:    svc,
		Registry:   registry,
		Metrics:    promRegistry,
		JWTSecret:  []byte(testJWTSecret),
		AdminJWT:   Token(t, testJWTSecret, AdminUserID, "Anna Admin", true),
		MemberJWT:  Token(t, testJWTSecret, MemberUserID, "Max Member", false),
		OtherJWT:   Token(t, testJWTSecret, OtherUserID, "Olga Other", false),
	}
}

// CleanupTestContext cleans up test resources
func CleanupTestContext(tc *TestContext) {
	if tc.server != nil {
		tc.server.Close()
	}
}

// Server starts a real HTTP server for the router, needed for websockets
func (tc *TestContext) Server() *httptest.Server {
	if tc.server == nil {
		tc.server = httptest.NewServer(tc.Router)
	}
	return tc.server
}

// WebSocketURL returns the ws:// address of path on the test server
func (tc *TestContext) WebSocketURL(path string) string {
	return "ws" + strings.TrimPrefix(tc.Server().URL, "http") + path
}

// Token signs an HS256 token for the given account
func Token(t *testing.T, secret, userID, name string, admin bool) string {
	t.Helper()

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   userID,
		"name":  name,
		"admin": admin,
		"exp":   time.Now().Add(24 * time.Hour).Unix(),
		"iat":   time.Now().Unix(),
	})

	tokenString, err := token.SignedString([]byte(secret))
	require.NoError(t, err, "Failed to generate JWT token")

	return tokenString
}

// PerformRequest executes an HTTP request against the router
func PerformRequest(r http.Handler, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	var reqBody *bytes.Buffer

	if body != nil {
		jsonBody, _ := json.Marshal(body)
		reqBody = bytes.NewBuffer(jsonBody)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req, _ := http.NewRequest(method, path, reqBody)
	req.Header.Set("Content-Type", "application/json")

	for k, v := range headers {
		req.Header.Set(k, v)
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

// AuthHeaders returns headers with Authorization token
func AuthHeaders(token string) map[string]string {
	return map[string]string{
		"Authorization": fmt.Sprintf("Bearer %s", token),
	}
}

// DecodeJSON unmarshals a recorded response body into v
func DecodeJSON(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v), "body: %s", w.Body.String())
}
