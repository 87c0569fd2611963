package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"liveclass/internal/core/domain"
	"liveclass/internal/core/services"
	apperrors "liveclass/pkg/errors"
	"liveclass/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func testRouter(t *testing.T, auth services.AuthService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	cl := logger.NewContextLogger(zaptest.NewLogger(t))

	router := gin.New()
	router.Use(RequestLogger(cl), RecoveryMiddleware(cl), ErrorHandlerMiddleware(cl))

	api := router.Group("/api", AuthMiddleware(auth))
	api.GET("/me", func(c *gin.Context) {
		uid, _ := UserID(c)
		c.JSON(http.StatusOK, gin.H{"user_id": uid})
	})
	api.POST("/streams", RequireRole(domain.UserRoleInstructor), func(c *gin.Context) {
		c.Status(http.StatusCreated)
	})
	api.GET("/conflict", func(c *gin.Context) {
		_ = c.Error(apperrors.New(apperrors.ErrCodeStreamFull, "stream is full").WithContext("capacity", 2))
	})
	router.GET("/panic", func(c *gin.Context) {
		panic("boom")
	})
	return router
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestAuthMiddleware(t *testing.T) {
	auth := services.NewAuthService("test-secret", time.Hour, time.Hour)
	router := testRouter(t, auth)

	token, err := auth.GenerateToken("teacher-1", "ada", domain.UserRoleInstructor)
	require.NoError(t, err)

	t.Run("missing header", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/me", nil))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, "UNAUTHORIZED", decodeBody(t, w)["error"])
	})

	t.Run("malformed header", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
		req.Header.Set("Authorization", "Token "+token)
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("valid token", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		router.ServeHTTP(w, req)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "teacher-1", decodeBody(t, w)["user_id"])
		assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
	})
}

func TestRequireRole(t *testing.T) {
	auth := services.NewAuthService("test-secret", time.Hour, time.Hour)
	router := testRouter(t, auth)

	student, err := auth.GenerateToken("student-1", "bo", domain.UserRoleStudent)
	require.NoError(t, err)
	instructor, err := auth.GenerateToken("teacher-1", "ada", domain.UserRoleInstructor)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/streams", nil)
	req.Header.Set("Authorization", "Bearer "+student)
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "NOT_AUTHORIZED", decodeBody(t, w)["error"])

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/api/streams", nil)
	req.Header.Set("Authorization", "Bearer "+instructor)
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusCreated, w.Code)
}

func TestErrorHandlerMiddleware_RendersAppError(t *testing.T) {
	auth := services.NewAuthService("test-secret", time.Hour, time.Hour)
	router := testRouter(t, auth)
	token, err := auth.GenerateToken("teacher-1", "ada", domain.UserRoleInstructor)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/conflict", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-Request-ID", "req-42")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "req-42", w.Header().Get("X-Request-ID"))
	body := decodeBody(t, w)
	assert.Equal(t, "STREAM_FULL", body["error"])
	assert.Equal(t, "stream is full", body["message"])
	assert.Equal(t, map[string]interface{}{"capacity": float64(2)}, body["details"])
}

func TestRecoveryMiddleware(t *testing.T) {
	router := testRouter(t, services.NewAuthService("test-secret", time.Hour, time.Hour))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/panic", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "INTERNAL_ERROR", decodeBody(t, w)["error"])
}
