package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/probelab/scoutrelay/internal/adapters/signal"
	"github.com/probelab/scoutrelay/internal/app"
	"github.com/probelab/scoutrelay/internal/config"
	"github.com/probelab/scoutrelay/internal/domain"
	"github.com/probelab/scoutrelay/internal/store"
)

func genClientToken() string {
	return uuid.NewString()
}

// ClientTokenMiddleware pins a stable token to each browser; the relay
// uses it as the connection identity.
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie("ct")
		if token == "" {
			token = genClientToken()
			c.SetCookie("ct", token, 3600*24*7, "/", "", false, true)
		}
		c.Set("client_token", token)
		c.Next()
	}
}

func SetupRouter(ctx context.Context, cfg *config.Config, coord *app.Coordinator, st store.SessionStore) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	cookieStore := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("RelaySessions", cookieStore))
	r.Use(ClientTokenMiddleware())

	if cfg.StaticPath != "" {
		r.Static("/static", cfg.StaticPath)
		r.GET("/", func(c *gin.Context) {
			c.File(cfg.StaticPath + "/index.html")
		})
	}

	log.Info().Str("module", "adapters.http").Str("static", cfg.StaticPath).Msg("router setup")

	api := r.Group("/api")

	ctl := signal.NewRelayWSController(coord, cfg.ReadLimit, cfg.PingPeriod)
	api.GET("/ws/relay", func(c *gin.Context) {
		log.Info().Str("module", "adapters.http").Str("conn", c.GetString("client_token")).Msg("ws relay endpoint hit")
		ctl.HandleRelay(ctx, c)
	})

	api.GET("/sessions/:id", func(c *gin.Context) {
		sess, err := st.FindSession(c.Request.Context(), domain.SessionID(c.Param("id")))
		if errors.Is(err, store.ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup failed"})
			return
		}
		c.JSON(http.StatusOK, sess)
	})

	return r
}
