// Package httpapi wires the gin router: health/metrics endpoints, the
// login endpoint that issues join tokens, and the websocket upgrade that
// hands every new connection to internal/signaling.
package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/mossy-p/sfu-core/internal/authn"
	"github.com/mossy-p/sfu-core/internal/peer"
	"github.com/mossy-p/sfu-core/internal/signaling"
	"github.com/mossy-p/sfu-core/internal/transport/ws"
)

// OriginFilter is a CORS/origin check: allow-list origins get CORS
// headers, everything else with a non-empty Origin is rejected before
// it reaches any handler.
func OriginFilter(allowedOrigins []string) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin == "" {
			origin = c.GetHeader("Sec-WebSocket-Origin")
		}

		allowed := false
		for _, o := range allowedOrigins {
			if origin == o {
				allowed = true
				break
			}
		}

		if !allowed && origin != "" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "origin not allowed"})
			return
		}
		if allowed {
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
			c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
			c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

type loginRequest struct {
	UserName string `json:"userName" binding:"required"`
}

type loginResponse struct {
	Token  string `json:"token"`
	UserID string `json:"userId"`
}

// login issues a join token for any requested display name — a
// demo-grade "accept anything" policy. A real deployment would swap
// this for a call into an identity service.
func login(jwtSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req loginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}

		userID := uuid.New().String()
		token, err := authn.Issue(jwtSecret, userID, req.UserName)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to issue token"})
			return
		}
		c.JSON(http.StatusOK, loginResponse{Token: token, UserID: userID})
	}
}

// Deps bundles everything the router needs to build handlers, so New's
// signature stays stable as the signaling package grows.
type Deps struct {
	AllowedOrigins []string
	JWTSecret      string
	Environment    string
	Dispatcher     *signaling.Dispatcher
	Peers          *peer.Registry
	Logger         *zap.Logger
}

func New(deps Deps) *gin.Engine {
	if deps.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(OriginFilter(deps.AllowedOrigins))

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	api.POST("/auth/login", login(deps.JWTSecret))

	r.GET("/ws", handleWebSocket(deps))

	return r
}

func handleWebSocket(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		conn, err := ws.Upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			deps.Logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}

		wsConn := ws.NewConn(conn, deps.Logger)
		peerID := uuid.New().String()
		p := peer.New(peerID, "", "", "", wsConn, false)
		deps.Peers.Add(p)

		go wsConn.WriteLoop()
		wsConn.ReadLoop(
			func(raw []byte) { deps.Dispatcher.Dispatch(c.Request.Context(), p, raw) },
			func() {
				wsConn.Close()
				deps.Dispatcher.HandleDisconnect(p.ID)
			},
		)
	}
}
