// Package api serves the account, directory and history endpoints next to the relay.
package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/life-stream-dev/life-stream-go-chat-relay/internal/auth"
	"github.com/life-stream-dev/life-stream-go-chat-relay/internal/database"
	"github.com/life-stream-dev/life-stream-go-chat-relay/internal/logger"
)

// Forgetter drops cached identities for removed accounts.
type Forgetter interface {
	Forget(userID string)
}

type Options struct {
	CookieName   string
	TokenTTL     time.Duration
	SecureCookie bool
}

type Handler struct {
	users        database.UserStore
	messages     database.MessageStore
	tokens       *auth.Tokens
	identities   Forgetter
	cookieName   string
	tokenTTL     time.Duration
	secureCookie bool
}

func NewHandler(users database.UserStore, messages database.MessageStore, tokens *auth.Tokens, identities Forgetter, options Options) *Handler {
	if options.CookieName == "" {
		options.CookieName = "token"
	}
	return &Handler{
		users:        users,
		messages:     messages,
		tokens:       tokens,
		identities:   identities,
		cookieName:   options.CookieName,
		tokenTTL:     options.TokenTTL,
		secureCookie: options.SecureCookie,
	}
}

type credentials struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type person struct {
	ID       string `json:"_id"`
	Username string `json:"username"`
}

type profile struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

// Register mounts every endpoint on router.
func (h *Handler) Register(router gin.IRouter) {
	router.GET("/test", h.test)
	router.GET("/", h.online)
	router.GET("/profile", h.profile)
	router.POST("/register", h.register)
	router.POST("/login", h.login)
	router.POST("/logout", h.logout)
	router.GET("/people", h.people)
	router.GET("/messages/:userId", h.RequireAuth(), h.history)
}

func (h *Handler) test(c *gin.Context) {
	c.JSON(http.StatusOK, "test ok")
}

func (h *Handler) online(c *gin.Context) {
	c.JSON(http.StatusOK, "Server Online")
}

func (h *Handler) setToken(c *gin.Context, token string, maxAge int) {
	c.SetSameSite(http.SameSiteNoneMode)
	c.SetCookie(h.cookieName, token, maxAge, "/", "", h.secureCookie, false)
}

func (h *Handler) issue(c *gin.Context, user *database.User) {
	token, err := h.tokens.Issue(user.ID.Hex(), user.Username)
	if err != nil {
		logger.ErrorF("Fail to issue token for %s: %v", user.Username, err)
		c.Status(http.StatusInternalServerError)
		return
	}
	h.setToken(c, token, int(h.tokenTTL.Seconds()))
	c.JSON(http.StatusCreated, gin.H{"id": user.ID.Hex()})
}

func (h *Handler) register(c *gin.Context) {
	var body credentials
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, "invalid")
		return
	}

	hash, err := auth.HashPassword(body.Password)
	if err != nil {
		logger.ErrorF("Fail to hash password: %v", err)
		c.Status(http.StatusInternalServerError)
		return
	}

	user, err := h.users.Create(c.Request.Context(), body.Username, hash)
	if err != nil {
		if errors.Is(err, database.ErrUsernameTaken) {
			c.JSON(http.StatusUnauthorized, "nameUsed")
			return
		}
		logger.ErrorF("Fail to register %s: %v", body.Username, err)
		c.Status(http.StatusInternalServerError)
		return
	}
	h.issue(c, user)
}

func (h *Handler) login(c *gin.Context) {
	var body credentials
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, "invalid")
		return
	}

	user, err := h.users.FindByUsername(c.Request.Context(), body.Username)
	if err != nil {
		if errors.Is(err, database.ErrUserNotFound) {
			c.JSON(http.StatusUnauthorized, "notFound")
			return
		}
		logger.ErrorF("Fail to look up %s: %v", body.Username, err)
		c.Status(http.StatusInternalServerError)
		return
	}
	if err = auth.ComparePassword(user.Password, body.Password); err != nil {
		c.JSON(http.StatusUnauthorized, "incorrect")
		return
	}
	h.issue(c, user)
}

func (h *Handler) logout(c *gin.Context) {
	h.setToken(c, "", -1)
	c.JSON(http.StatusCreated, "ok")
}

func (h *Handler) profile(c *gin.Context) {
	token, err := c.Cookie(h.cookieName)
	if err != nil || token == "" {
		c.JSON(http.StatusUnauthorized, "No cookie or token")
		return
	}
	claims, err := h.tokens.Parse(token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, "Invalid token")
		return
	}

	ctx := c.Request.Context()
	if _, err = h.users.FindByID(ctx, claims.UserID); err != nil {
		if !errors.Is(err, database.ErrUserNotFound) {
			logger.ErrorF("Fail to look up user %s: %v", claims.UserID, err)
			c.Status(http.StatusInternalServerError)
			return
		}
		// account is gone, drop its history and the stale session
		if _, err = h.messages.DeleteByParticipant(ctx, claims.UserID); err != nil {
			logger.ErrorF("Fail to delete messages of removed user %s: %v", claims.UserID, err)
		}
		if h.identities != nil {
			h.identities.Forget(claims.UserID)
		}
		h.setToken(c, "", -1)
		c.JSON(http.StatusUnauthorized, "User not found")
		return
	}

	c.JSON(http.StatusOK, profile{UserID: claims.UserID, Username: claims.Username})
}

func (h *Handler) people(c *gin.Context) {
	users, err := h.users.List(c.Request.Context())
	if err != nil {
		logger.ErrorF("Fail to list users: %v", err)
		c.Status(http.StatusInternalServerError)
		return
	}
	result := make([]person, 0, len(users))
	for _, user := range users {
		result = append(result, person{ID: user.ID.Hex(), Username: user.Username})
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) history(c *gin.Context) {
	claims := c.MustGet(claimsKey).(*auth.Claims)
	messages, err := h.messages.FindByParticipants(c.Request.Context(), c.Param("userId"), claims.UserID)
	if err != nil {
		if errors.Is(err, database.ErrEmptyParticipant) {
			c.JSON(http.StatusBadRequest, "invalid")
			return
		}
		logger.ErrorF("Fail to load history for %s: %v", claims.UserID, err)
		c.Status(http.StatusInternalServerError)
		return
	}
	c.JSON(http.StatusOK, messages)
}
