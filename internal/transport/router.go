package transport

import (
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/openquill/voxsignal/internal/channel"
	"github.com/openquill/voxsignal/internal/errors"
	"github.com/openquill/voxsignal/internal/log"
	"github.com/openquill/voxsignal/internal/monitor"
	"github.com/openquill/voxsignal/internal/signaling"
	"github.com/openquill/voxsignal/internal/store"
	"github.com/openquill/voxsignal/internal/token"
	"github.com/openquill/voxsignal/internal/validation"
)

const identityKey = "identity"

type Router struct {
	channels store.ChannelStore
	acl      store.CampaignACL
	manager  *channel.Manager
	monitor  *monitor.Monitor
	issuer   *signaling.CredentialIssuer
	auth     token.Auth
	engine   *gin.Engine
	logger   *log.Logger
}

func NewRouter(
	channels store.ChannelStore,
	acl store.CampaignACL,
	manager *channel.Manager,
	mon *monitor.Monitor,
	issuer *signaling.CredentialIssuer,
	auth token.Auth,
	allowedOrigins []string,
	wsHandler http.HandlerFunc,
	logger *log.Logger,
) *Router {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(otelgin.Middleware("voxsignal"))

	if len(allowedOrigins) > 0 {
		engine.Use(cors.New(cors.Config{
			AllowOrigins:     allowedOrigins,
			AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Authorization", "Content-Type"},
			ExposeHeaders:    []string{"Content-Length"},
			AllowCredentials: false,
		}))
	}

	r := &Router{
		channels: channels,
		acl:      acl,
		manager:  manager,
		monitor:  mon,
		issuer:   issuer,
		auth:     auth,
		engine:   engine,
		logger:   logger,
	}

	r.setupRoutes(wsHandler)
	return r
}

func (r *Router) Handler() http.Handler {
	return r.engine
}

func (r *Router) setupRoutes(wsHandler http.HandlerFunc) {
	r.engine.GET("/health", r.healthCheck)
	if wsHandler != nil {
		r.engine.GET("/ws", gin.WrapF(wsHandler))
	}

	api := r.engine.Group("/api", r.requireAuth)
	api.GET("/campaigns/:campaignId/channels", r.listChannels)
	api.POST("/channels", r.createChannel)
	api.PUT("/channels/:channelId", r.updateChannel)
	api.DELETE("/channels/:channelId", r.deleteChannel)
	api.POST("/channels/:channelId/join", r.joinChannel)
	api.GET("/channels/:channelId/stats", r.channelStats)
	api.GET("/webrtc/credentials", r.webrtcCredentials)
}

// requireAuth verifies the bearer token and stashes the identity.
func (r *Router) requireAuth(c *gin.Context) {
	t := c.Query("token")
	if t == "" {
		auth := c.GetHeader("Authorization")
		if len(auth) > 7 && auth[:7] == "Bearer " {
			t = auth[7:]
		}
	}
	if t == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"success": false,
			"error":   "missing token",
		})
		return
	}

	identity, err := r.auth.Verify(t)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"success": false,
			"error":   "invalid token",
		})
		return
	}

	c.Set(identityKey, identity)
	c.Next()
}

func (r *Router) identity(c *gin.Context) *token.Identity {
	return c.MustGet(identityKey).(*token.Identity)
}

func (r *Router) bindingError(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{
		"success": false,
		"error":   "Validation failed",
		"details": validation.FormatValidationError(err),
	})
}

func (r *Router) serviceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"success": false,
			"error":   "channel not found",
		})
	case errors.Is(err, store.ErrLastChannel):
		c.JSON(http.StatusConflict, gin.H{
			"success": false,
			"error":   "cannot delete the last channel of a campaign",
		})
	case errors.Is(err, channel.ErrChannelFull):
		c.JSON(http.StatusConflict, gin.H{
			"success": false,
			"error":   "channel is full",
		})
	case errors.Is(err, signaling.ErrNoTURNSecret):
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"success": false,
			"error":   "relay credentials unavailable",
		})
	default:
		r.logger.Error("request failed", log.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   "internal error",
		})
	}
}

func (r *Router) forbidden(c *gin.Context) {
	c.JSON(http.StatusForbidden, gin.H{
		"success": false,
		"error":   "not allowed",
	})
}

type channelView struct {
	*store.ChannelRecord
	ActiveUsers int `json:"active_users"`
}

func (r *Router) channelView(rec *store.ChannelRecord) channelView {
	view := channelView{ChannelRecord: rec}
	if ch, ok := r.manager.GetChannel(rec.ID); ok {
		view.ActiveUsers = ch.Len()
	}
	return view
}

func (r *Router) listChannels(c *gin.Context) {
	var uri CampaignURI
	if err := c.ShouldBindUri(&uri); err != nil {
		r.bindingError(c, err)
		return
	}

	ctx := c.Request.Context()
	identity := r.identity(c)

	if ok, err := r.acl.IsMember(ctx, uri.CampaignID, identity.UserID); err != nil {
		r.serviceError(c, err)
		return
	} else if !ok {
		r.forbidden(c)
		return
	}

	records, err := r.channels.ListByCampaign(ctx, uri.CampaignID)
	if err != nil {
		r.serviceError(c, err)
		return
	}

	views := make([]channelView, 0, len(records))
	for _, rec := range records {
		views = append(views, r.channelView(rec))
	}
	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"channels": views,
	})
}

func (r *Router) createChannel(c *gin.Context) {
	var body CreateChannelBody
	if err := c.ShouldBindJSON(&body); err != nil {
		r.bindingError(c, err)
		return
	}

	ctx := c.Request.Context()
	identity := r.identity(c)

	if ok, err := r.acl.IsOwner(ctx, body.CampaignID, identity.UserID); err != nil {
		r.serviceError(c, err)
		return
	} else if !ok {
		r.forbidden(c)
		return
	}

	maxUsers := body.MaxUsers
	if maxUsers <= 0 {
		maxUsers = channel.DefaultMaxOccupancy
	}

	rec, err := r.channels.Create(ctx, body.CampaignID, body.Name, body.Description, maxUsers)
	if err != nil {
		r.serviceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"channel": r.channelView(rec),
	})
}

func (r *Router) updateChannel(c *gin.Context) {
	var uri ChannelURI
	if err := c.ShouldBindUri(&uri); err != nil {
		r.bindingError(c, err)
		return
	}
	var body UpdateChannelBody
	if err := c.ShouldBindJSON(&body); err != nil {
		r.bindingError(c, err)
		return
	}

	ctx := c.Request.Context()
	identity := r.identity(c)

	rec, err := r.channels.Get(ctx, uri.ChannelID)
	if err != nil {
		r.serviceError(c, err)
		return
	}

	if ok, err := r.acl.IsOwner(ctx, rec.CampaignID, identity.UserID); err != nil {
		r.serviceError(c, err)
		return
	} else if !ok {
		r.forbidden(c)
		return
	}

	updated, err := r.channels.Update(ctx, uri.ChannelID, store.ChannelUpdate{
		Name:        body.Name,
		Description: body.Description,
		MaxUsers:    body.MaxUsers,
	})
	if err != nil {
		r.serviceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"channel": r.channelView(updated),
	})
}

func (r *Router) deleteChannel(c *gin.Context) {
	var uri ChannelURI
	if err := c.ShouldBindUri(&uri); err != nil {
		r.bindingError(c, err)
		return
	}

	ctx := c.Request.Context()
	identity := r.identity(c)

	rec, err := r.channels.Get(ctx, uri.ChannelID)
	if err != nil {
		r.serviceError(c, err)
		return
	}

	if ok, err := r.acl.IsOwner(ctx, rec.CampaignID, identity.UserID); err != nil {
		r.serviceError(c, err)
		return
	} else if !ok {
		r.forbidden(c)
		return
	}

	if err := r.channels.Delete(ctx, uri.ChannelID); err != nil {
		r.serviceError(c, err)
		return
	}
	r.manager.RemoveChannel(uri.ChannelID)

	c.JSON(http.StatusOK, gin.H{"success": true})
}

// joinChannel makes sure the live channel exists and admits the caller.
// The WebSocket join_channel event does the signaling-side join; this
// endpoint covers persistence and capacity screening.
func (r *Router) joinChannel(c *gin.Context) {
	var uri ChannelURI
	if err := c.ShouldBindUri(&uri); err != nil {
		r.bindingError(c, err)
		return
	}

	ctx := c.Request.Context()
	identity := r.identity(c)

	rec, err := r.channels.Get(ctx, uri.ChannelID)
	if err != nil {
		r.serviceError(c, err)
		return
	}

	if ok, err := r.acl.IsMember(ctx, rec.CampaignID, identity.UserID); err != nil {
		r.serviceError(c, err)
		return
	} else if !ok {
		r.forbidden(c)
		return
	}

	ch := r.manager.CreateChannel(rec.ID, rec.MaxUsers)
	if ch.Len() >= rec.MaxUsers && !ch.HasUser(identity.UserID) {
		r.serviceError(c, errors.New(channel.ErrChannelFull, "channel at capacity"))
		return
	}

	if err := r.channels.AddMember(ctx, rec.ID, identity.UserID); err != nil {
		r.serviceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"channel": r.channelView(rec),
	})
}

func (r *Router) channelStats(c *gin.Context) {
	var uri ChannelURI
	if err := c.ShouldBindUri(&uri); err != nil {
		r.bindingError(c, err)
		return
	}

	ctx := c.Request.Context()
	identity := r.identity(c)

	rec, err := r.channels.Get(ctx, uri.ChannelID)
	if err != nil {
		r.serviceError(c, err)
		return
	}

	owner, err := r.acl.IsOwner(ctx, rec.CampaignID, identity.UserID)
	if err != nil {
		r.serviceError(c, err)
		return
	}
	member, err := r.acl.IsMember(ctx, rec.CampaignID, identity.UserID)
	if err != nil {
		r.serviceError(c, err)
		return
	}
	if !owner && !member {
		r.forbidden(c)
		return
	}

	report, ok := r.monitor.ChannelReport(rec.ID)
	if !ok {
		// channel never saw activity, report zeros
		report = monitor.ChannelStats{RoomID: rec.ID}
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"stats":   report,
	})
}

func (r *Router) webrtcCredentials(c *gin.Context) {
	identity := r.identity(c)

	creds, err := r.issuer.Issue(identity.UserID)
	if err != nil {
		r.serviceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":     true,
		"credentials": creds,
	})
}

func (r *Router) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
	})
}
