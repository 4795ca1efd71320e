package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/quizforge/credpool/src/models"
	"github.com/quizforge/credpool/src/services"
)

// PoolHandler exposes the selection contract to in-house callers.
type PoolHandler struct {
	engine *services.SelectionEngine
}

// NewPoolHandler creates a new pool handler
func NewPoolHandler(engine *services.SelectionEngine) *PoolHandler {
	return &PoolHandler{engine: engine}
}

// SelectRequest represents the request body for credential selection
type SelectRequest struct {
	Provider  string   `json:"provider" binding:"required"`
	Excluding []string `json:"excluding"`
}

// SelectResponse carries the decrypted credential for exactly one logical
// outbound call. Callers must report the outcome with the same key_id.
type SelectResponse struct {
	KeyID      int64  `json:"key_id"`
	Credential string `json:"credential"`
	Model      string `json:"model,omitempty"`
	KeySuffix  string `json:"key_suffix"`
	Remaining  int    `json:"remaining"`
}

// HandleSelect picks the best available credential for a provider
func (ph *PoolHandler) HandleSelect(c *gin.Context) {
	var req SelectRequest
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "invalid request body",
		})
		return
	}

	excluding := make(map[string]struct{}, len(req.Excluding))
	for _, fp := range req.Excluding {
		excluding[fp] = struct{}{}
	}

	cred, err := ph.engine.SelectCredential(c.Request.Context(), req.Provider, excluding)
	if err != nil {
		switch {
		case services.IsNoneAvailable(err):
			c.JSON(http.StatusNotFound, gin.H{
				"error": "no credential available",
			})
		case errors.Is(err, services.ErrStoreUnavailable):
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"error": "credential store unavailable",
			})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "selection failed",
			})
		}
		return
	}

	c.JSON(http.StatusOK, SelectResponse{
		KeyID:      cred.Key.ID,
		Credential: cred.Plaintext,
		Model:      cred.Model,
		KeySuffix:  cred.Key.HashSuffix(),
		Remaining:  cred.Key.Remaining(),
	})
}

// OutcomeRequest represents the request body for an outcome report
type OutcomeRequest struct {
	KeyID   int64  `json:"key_id" binding:"required"`
	Outcome string `json:"outcome" binding:"required"`
	Units   int    `json:"units"`
}

// HandleOutcome applies the reported result of one call to the key's state
func (ph *PoolHandler) HandleOutcome(c *gin.Context) {
	var req OutcomeRequest
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "invalid request body",
		})
		return
	}

	outcome, err := models.ParseOutcome(req.Outcome)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": err.Error(),
		})
		return
	}

	if err := ph.engine.ReportOutcome(c.Request.Context(), req.KeyID, outcome, req.Units); err != nil {
		switch {
		case errors.Is(err, services.ErrKeyNotFound):
			c.JSON(http.StatusNotFound, gin.H{
				"error": "unknown key",
			})
		case errors.Is(err, services.ErrStoreUnavailable):
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"error": "credential store unavailable",
			})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "failed to record outcome",
			})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "recorded",
	})
}
