package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mossy-p/conversa/internal/auth"
	"github.com/mossy-p/conversa/internal/handlers"
	"github.com/mossy-p/conversa/internal/media"
	"github.com/mossy-p/conversa/internal/metrics"
	"github.com/mossy-p/conversa/internal/middleware"
	"go.uber.org/zap"
)

// Options configures the router.
type Options struct {
	AllowedOrigins []string
	Tokens         *auth.Tokens
	AuthLimiter    *middleware.IPRateLimiter
	// UploadsDir is served under /uploads when media is stored locally.
	UploadsDir string
}

// NewRouter wires every HTTP and WebSocket route.
func NewRouter(api *handlers.API, socket *handlers.SocketHandler, opts Options, logger *zap.Logger) *gin.Engine {
	router := gin.New()
	router.Use(middleware.Recovery(logger), middleware.RequestLogger(logger))

	// Global CORS middleware (runs before routing)
	router.Use(middleware.OriginFilter(opts.AllowedOrigins))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(metrics.Handler()))
	if opts.UploadsDir != "" {
		router.Group("/uploads", middleware.UploadHeaders(media.ContentTypeFor)).Static("/", opts.UploadsDir)
	}

	authed := middleware.JWTAuth(opts.Tokens)
	apiGroup := router.Group("/api")

	authGroup := apiGroup.Group("/auth")
	{
		public := []gin.HandlerFunc{}
		if opts.AuthLimiter != nil {
			public = append(public, opts.AuthLimiter.Handler())
		}
		authGroup.POST("/register", append(public, api.Register)...)
		authGroup.POST("/login", append(public, api.Login)...)
		authGroup.GET("/me", authed, api.Me)
	}

	users := apiGroup.Group("/users", authed)
	{
		users.GET("/non-friends", api.NonFriends)
		users.GET("/search", api.SearchUsers)
		users.PUT("/update", api.UpdateProfile)
		users.GET("/online-status/:id", api.OnlineStatus)
		users.GET("/:id", api.GetUser)
		users.POST("/:id/block", api.BlockUser)
		users.DELETE("/:id/block", api.UnblockUser)
	}

	convs := apiGroup.Group("/conversation", authed)
	{
		convs.POST("", api.CreateConversation)
		convs.GET("", api.ListConversations)
		convs.GET("/:id", api.GetConversation)
		convs.POST("/group/create", api.CreateGroup)
		convs.PUT("/group/add-members", api.AddMembers)
		convs.PUT("/group/remove-member", api.RemoveMember)
		convs.PUT("/group/update", api.UpdateGroup)
		convs.PUT("/group/promote", api.PromoteAdmin)
		convs.PUT("/group/demote", api.DemoteAdmin)
		convs.PUT("/group/leave", api.LeaveGroup)
		convs.DELETE("/group/delete", api.DeleteGroup)
	}

	msgs := apiGroup.Group("/message", authed)
	{
		msgs.POST("/send", api.SendMessage)
		msgs.POST("/delete", api.DeleteMessage)
		msgs.POST("/upload", api.UploadImage)
		msgs.POST("/upload-audio", api.UploadAudio)
		msgs.GET("/:id", api.ListMessages)
		// Older clients append their own id; the token decides who is asking.
		msgs.GET("/:id/:userid", api.ListMessages)
	}

	router.GET("/ws", authed, socket.ServeWS)
	return router
}
