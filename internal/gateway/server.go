package gateway

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/katipally/Jarvis-sub002/internal/llm"
)

// New builds the gateway's echo server: health probe, the conversation
// websocket, and REST session management.
func New(gen llm.Generator) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	store := NewStore()
	h := NewHandler(store, gen)

	e.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	e.GET("/ws/conversation", h.ServeConversation)

	e.GET("/conversation/sessions", func(c echo.Context) error {
		infos := store.List()
		return c.JSON(http.StatusOK, map[string]any{
			"sessions": infos,
			"total":    len(infos),
		})
	})

	e.GET("/conversation/session/:id", func(c echo.Context) error {
		s, ok := store.Get(c.Param("id"))
		if !ok {
			return c.JSON(http.StatusNotFound, map[string]any{
				"error":      "Session not found",
				"session_id": c.Param("id"),
			})
		}
		return c.JSON(http.StatusOK, map[string]any{
			"session":  s.Info(),
			"messages": s.Messages(),
		})
	})

	e.DELETE("/conversation/session/:id", func(c echo.Context) error {
		if store.Delete(c.Param("id")) {
			return c.JSON(http.StatusOK, map[string]string{"status": "deleted", "session_id": c.Param("id")})
		}
		return c.JSON(http.StatusNotFound, map[string]string{"status": "not_found", "session_id": c.Param("id")})
	})

	e.POST("/conversation/session/:id/clear", func(c echo.Context) error {
		if s, ok := store.Get(c.Param("id")); ok {
			s.ClearMessages()
			return c.JSON(http.StatusOK, map[string]string{"status": "cleared", "session_id": c.Param("id")})
		}
		return c.JSON(http.StatusNotFound, map[string]string{"status": "not_found", "session_id": c.Param("id")})
	})

	return e
}
