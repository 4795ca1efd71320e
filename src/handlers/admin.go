package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/quizforge/credpool/src/middleware"
	"github.com/quizforge/credpool/src/models"
	"github.com/quizforge/credpool/src/services"
)

// AdminHandler handles operator endpoints: authentication, credential
// registration and the pool dashboard data.
type AdminHandler struct {
	store        *services.CredentialStore
	adminService *services.AdminService
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(store *services.CredentialStore, adminService *services.AdminService) *AdminHandler {
	return &AdminHandler{
		store:        store,
		adminService: adminService,
	}
}

// AdminLoginRequest represents the request body for admin login
type AdminLoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// AdminLoginResponse represents the response for successful login
type AdminLoginResponse struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expires_at"`
}

// HandleAdminLogin authenticates an admin user and returns a JWT token
func (ah *AdminHandler) HandleAdminLogin(c *gin.Context) {
	var req AdminLoginRequest
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "invalid request body",
		})
		return
	}

	admin, err := ah.adminService.AuthenticateAdmin(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error": "invalid username or password",
		})
		return
	}

	token, err := middleware.GenerateAdminToken(admin.ID, admin.Username)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "failed to generate token",
		})
		return
	}

	expiresAt := time.Now().Add(24 * time.Hour)
	c.SetCookie(
		"admin_token",
		token,
		int(24*time.Hour.Seconds()),
		"/",
		"",
		true, // Secure
		true, // HttpOnly
	)

	c.JSON(http.StatusOK, AdminLoginResponse{
		Token:     token,
		ExpiresAt: expiresAt.Unix(),
	})
}

// HandleAdminLogout clears the admin token cookie
func (ah *AdminHandler) HandleAdminLogout(c *gin.Context) {
	c.SetCookie(
		"admin_token",
		"",
		-1,
		"/",
		"",
		true, // Secure
		true, // HttpOnly
	)

	c.JSON(http.StatusOK, gin.H{
		"status": "logged out",
	})
}

// HandleAdminStatus returns the current admin authentication status
func (ah *AdminHandler) HandleAdminStatus(c *gin.Context) {
	adminID, _ := c.Get("admin_id")
	username, _ := c.Get("username")

	c.JSON(http.StatusOK, gin.H{
		"authenticated": true,
		"admin_id":      adminID.(string),
		"username":      username.(string),
	})
}

// HandleListAccounts returns all provider accounts
func (ah *AdminHandler) HandleListAccounts(c *gin.Context) {
	accounts, err := ah.store.ListAccounts(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "failed to list accounts",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"accounts": accounts,
		"total":    len(accounts),
	})
}

// UpsertAccountRequest represents the request body for account registration
type UpsertAccountRequest struct {
	Name     string `json:"name" binding:"required"`
	Provider string `json:"provider" binding:"required"`
	Priority int    `json:"priority"`
}

// HandleUpsertAccount registers or updates a provider account
func (ah *AdminHandler) HandleUpsertAccount(c *gin.Context) {
	var req UpsertAccountRequest
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "invalid request body",
		})
		return
	}

	id, err := ah.store.UpsertAccount(c.Request.Context(), req.Name, req.Provider, req.Priority)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "failed to upsert account",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"id": id,
	})
}

// KeySummary is the safe listing shape: the plaintext and full fingerprint
// never leave the service.
type KeySummary struct {
	ID                  int64            `json:"id"`
	AccountName         string           `json:"account_name"`
	Provider            string           `json:"provider"`
	Slot                int              `json:"slot"`
	KeySuffix           string           `json:"key_suffix"`
	Model               string           `json:"model,omitempty"`
	Status              models.KeyStatus `json:"status"`
	DailyLimit          int              `json:"daily_limit"`
	UsedToday           int              `json:"used_today"`
	Remaining           int              `json:"remaining"`
	ConsecutiveFailures int              `json:"consecutive_failures"`
	TemporaryBlockUntil *time.Time       `json:"temporary_block_until,omitempty"`
	LastUsedAt          *time.Time       `json:"last_used_at,omitempty"`
}

// HandleListKeys returns a safe listing of every pooled credential
func (ah *AdminHandler) HandleListKeys(c *gin.Context) {
	keys, err := ah.store.ListKeys(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "failed to list keys",
		})
		return
	}

	summaries := make([]KeySummary, 0, len(keys))
	for i := range keys {
		k := &keys[i]
		summaries = append(summaries, KeySummary{
			ID:                  k.ID,
			AccountName:         k.AccountName,
			Provider:            k.Provider,
			Slot:                k.Slot,
			KeySuffix:           k.HashSuffix(),
			Model:               k.Model,
			Status:              k.Status,
			DailyLimit:          k.DailyLimit,
			UsedToday:           k.UsedToday,
			Remaining:           k.Remaining(),
			ConsecutiveFailures: k.ConsecutiveFailures,
			TemporaryBlockUntil: k.TemporaryBlockUntil,
			LastUsedAt:          k.LastUsedAt,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"keys":  summaries,
		"total": len(summaries),
	})
}

// RegisterKeyRequest represents the request body for credential registration
type RegisterKeyRequest struct {
	AccountID  int64  `json:"account_id" binding:"required"`
	Key        string `json:"key" binding:"required"`
	DailyLimit int    `json:"daily_limit" binding:"required"`
	Model      string `json:"model"`
	Slot       int    `json:"slot"`
}

// HandleRegisterKey adds a credential to the pool. Registration is
// idempotent: re-posting the same key material returns the existing ID.
func (ah *AdminHandler) HandleRegisterKey(c *gin.Context) {
	var req RegisterKeyRequest
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "invalid request body",
		})
		return
	}

	id, err := ah.store.UpsertKey(c.Request.Context(), req.AccountID, req.Key, req.DailyLimit, req.Model, req.Slot)
	if err != nil {
		if errors.Is(err, services.ErrAccountNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "account not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "failed to register key",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"id": id,
	})
}

// HandleReenableKey is the operator action that takes a disabled key back
// to active. Nothing inside the pool ever does this on its own.
func (ah *AdminHandler) HandleReenableKey(c *gin.Context) {
	keyID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "invalid key id",
		})
		return
	}

	if err := ah.store.ReenableKey(c.Request.Context(), keyID); err != nil {
		if errors.Is(err, services.ErrKeyNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "key not found or not disabled",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "failed to re-enable key",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "re-enabled",
	})
}

// HandlePoolStats returns per-status counts and usage totals
func (ah *AdminHandler) HandlePoolStats(c *gin.Context) {
	stats, err := ah.store.Stats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "failed to collect stats",
		})
		return
	}

	c.JSON(http.StatusOK, stats)
}
