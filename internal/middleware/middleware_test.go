package middleware_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"hagerbet/internal/config"
	"hagerbet/internal/domain/model"
	"hagerbet/internal/middleware"
	"hagerbet/internal/repository"

	"github.com/golang-jwt/jwt/v4"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mwErrorResponse struct {
	Error string `json:"error"`
}

type mwOKResponse struct {
	UserID       int64  `json:"user_id"`
	Role         string `json:"role"`
	TokenVersion int    `json:"token_version"`
}

type MockUserRepo struct {
	mock.Mock
}

func (m *MockUserRepo) FindByID(ctx context.Context, id int64) (*model.User, error) {
	args := m.Called(ctx, id)
	u, _ := args.Get(0).(*model.User)
	return u, args.Error(1)
}

var _ repository.UserRepository = (*MockUserRepo)(nil)

func mustMakeJWT(t *testing.T, secret string, sub int64, role string, tv int, signingMethod jwt.SigningMethod) string {
	t.Helper()

	claims := jwt.MapClaims{
		"sub":  sub,
		"role": role,
		"tv":   tv,
		"iat":  1,
		"exp":  9999999999,
	}

	s, err := jwt.NewWithClaims(signingMethod, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func runRequest(t *testing.T, e *echo.Echo, path string, authHeader string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, path, nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decodeMWError(t *testing.T, rec *httptest.ResponseRecorder) mwErrorResponse {
	t.Helper()
	var r mwErrorResponse
	_ = json.NewDecoder(rec.Body).Decode(&r)
	return r
}

func okHandler(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"ok": "true"})
}

// Test: Authorizationなし・Bearer以外・署名違い・アルゴリズム違いは401
func TestAuthJWT_Unauthorized(t *testing.T) {
	cfg := config.Config{JWTSecret: "test-secret"}

	cases := []struct {
		name   string
		header string
	}{
		{"no header", ""},
		{"bad scheme", "Token abc.def.ghi"},
		{"bad signature", "Bearer " + mustMakeJWT(t, "wrong-secret", 1, "USER", 0, jwt.SigningMethodHS256)},
		{"wrong alg", "Bearer " + mustMakeJWT(t, cfg.JWTSecret, 1, "USER", 0, jwt.SigningMethodHS512)},
		{"missing role", "Bearer " + mustMakeJWT(t, cfg.JWTSecret, 1, "", 0, jwt.SigningMethodHS256)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := echo.New()
			e.GET("/protected", okHandler, middleware.AuthJWT(cfg))

			rec := runRequest(t, e, "/protected", tc.header)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Equal(t, "unauthorized", decodeMWError(t, rec).Error)
		})
	}
}

// Test: 正常ならcontextにuser_id・role・tvが入る
func TestAuthJWT_Success_SetsContext(t *testing.T) {
	e := echo.New()
	cfg := config.Config{JWTSecret: "test-secret"}

	raw := mustMakeJWT(t, cfg.JWTSecret, 123, "USER", 7, jwt.SigningMethodHS256)

	e.GET("/protected", func(c echo.Context) error {
		userID, _ := c.Get(middleware.CtxUserIDKey).(int64)
		role, _ := c.Get(middleware.CtxUserRoleKey).(string)
		tv, _ := c.Get(middleware.CtxTokenVersionKey).(int)

		return c.JSON(http.StatusOK, mwOKResponse{UserID: userID, Role: role, TokenVersion: tv})
	}, middleware.AuthJWT(cfg))

	rec := runRequest(t, e, "/protected", "Bearer "+raw)
	require.Equal(t, http.StatusOK, rec.Code)

	var body mwOKResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, int64(123), body.UserID)
	assert.Equal(t, "USER", body.Role)
	assert.Equal(t, 7, body.TokenVersion)
}

// Test: AuthJWT無しでGuardだけなら401
func TestTokenVersionGuard_MissingContext(t *testing.T) {
	e := echo.New()
	userRepo := new(MockUserRepo)

	e.GET("/protected", okHandler, middleware.TokenVersionGuard(userRepo))

	rec := runRequest(t, e, "/protected", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	userRepo.AssertNotCalled(t, "FindByID", mock.Anything, mock.Anything)
}

// Test: tvがDBと一致すれば通し、不一致やユーザーなしは401
func TestTokenVersionGuard(t *testing.T) {
	cfg := config.Config{JWTSecret: "test-secret"}

	cases := []struct {
		name     string
		user     *model.User
		findErr  error
		wantCode int
	}{
		{"match", &model.User{ID: 1, Role: model.RoleUser, TokenVersion: 5, IsActive: true}, nil, http.StatusOK},
		{"mismatch", &model.User{ID: 1, Role: model.RoleUser, TokenVersion: 6, IsActive: true}, nil, http.StatusUnauthorized},
		{"not found", nil, repository.ErrUserNotFound, http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := echo.New()
			userRepo := new(MockUserRepo)
			userRepo.On("FindByID", mock.Anything, int64(1)).Return(tc.user, tc.findErr)

			e.GET("/protected", okHandler, middleware.AuthJWT(cfg), middleware.TokenVersionGuard(userRepo))

			raw := mustMakeJWT(t, cfg.JWTSecret, 1, "USER", 5, jwt.SigningMethodHS256)
			rec := runRequest(t, e, "/protected", "Bearer "+raw)
			assert.Equal(t, tc.wantCode, rec.Code)
			userRepo.AssertExpectations(t)
		})
	}
}

// Test: USERは403、ADMINは200
func TestAdminRoleGuard(t *testing.T) {
	cfg := config.Config{JWTSecret: "test-secret"}
	e := echo.New()
	e.GET("/admin", okHandler, middleware.AuthJWT(cfg), middleware.AdminRoleGuard())

	rec := runRequest(t, e, "/admin", "Bearer "+mustMakeJWT(t, cfg.JWTSecret, 1, "USER", 0, jwt.SigningMethodHS256))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "admin only", decodeMWError(t, rec).Error)

	rec = runRequest(t, e, "/admin", "Bearer "+mustMakeJWT(t, cfg.JWTSecret, 2, "ADMIN", 0, jwt.SigningMethodHS256))
	assert.Equal(t, http.StatusOK, rec.Code)
}

// Test: リクエストIDを付けてステータス付きで1行ログを出す
func TestRequestLogger(t *testing.T) {
	var buf bytes.Buffer
	log := zerolog.New(&buf)

	e := echo.New()
	e.Use(middleware.RequestLogger(log))
	e.GET("/missing", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusNotFound, "nope")
	})

	req := httptest.NewRequest(http.MethodGet, "/missing", nil)
	req.Header.Set(middleware.HeaderRequestID, "req-1")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "req-1", rec.Header().Get(middleware.HeaderRequestID))

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "warn", line["level"])
	assert.Equal(t, "req-1", line["request_id"])
	assert.Equal(t, float64(http.StatusNotFound), line["status"])
	assert.Equal(t, "/missing", line["path"])
}

// Test: panicは500になり、IDが無ければ採番される
func TestRequestLogger_Panic(t *testing.T) {
	var buf bytes.Buffer
	e := echo.New()
	e.Use(middleware.RequestLogger(zerolog.New(&buf)))
	e.GET("/boom", func(c echo.Context) error {
		panic("boom")
	})

	req := httptest.NewRequest(http.MethodGet, "/boom", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(middleware.HeaderRequestID))
	assert.Contains(t, buf.String(), "request panicked")
}
