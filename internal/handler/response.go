package handler

import (
	"net/http"
	"strconv"

	"hagerbet/internal/middleware"
	"hagerbet/internal/usecase"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

type ErrorResponse struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

// SuccessResponse は { message: string } の形
type SuccessResponse struct {
	Message string `json:"message"`
}

func writeError(c echo.Context, err error) error {
	if err == nil {
		return nil
	}
	if he, ok := usecase.AsHTTPError(err); ok {
		if he.Status >= http.StatusInternalServerError {
			logServerError(c, he.Status, err)
		}
		return c.JSON(he.Status, ErrorResponse{Error: he.Message, Fields: he.Fields})
	}

	//500
	logServerError(c, http.StatusInternalServerError, err)
	return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
}

// RequestLogger が載せたロガーに書く（無ければ捨てる）
func logServerError(c echo.Context, status int, err error) {
	req := c.Request()
	zerolog.Ctx(req.Context()).Error().
		Err(err).
		Int("status", status).
		Str("method", req.Method).
		Str("path", req.URL.Path).
		Msg("request failed")
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, ErrorResponse{Error: msg})
}

func unauthorized(c echo.Context) error {
	return c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
}

// middleware.AuthJWT が c.Set("user_id", int64) した値を取り出す
func getUserIDFromContext(c echo.Context) (int64, bool) {
	v := c.Get(middleware.CtxUserIDKey)
	if v == nil {
		return 0, false
	}

	id, ok := v.(int64)
	if !ok {
		return 0, false
	}

	return id, true
}

func actorFromContext(c echo.Context) (usecase.Actor, bool) {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		return usecase.Actor{}, false
	}
	role, _ := c.Get(middleware.CtxUserRoleKey).(string)
	return usecase.Actor{UserID: userID, Admin: role == middleware.RoleAdmin}, true
}

func paramID(c echo.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// page（default 1）, limit（default 20）
func pageParams(c echo.Context) (int, int, bool) {
	page := 1
	if v := c.QueryParam("page"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			return 0, 0, false
		}
		page = p
	}

	limit := 20
	if v := c.QueryParam("limit"); v != "" {
		l, err := strconv.Atoi(v)
		if err != nil {
			return 0, 0, false
		}
		limit = l
	}
	return page, limit, true
}
