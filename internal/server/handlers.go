package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	commonerrors "agrichat-backend/internal/common/errors"
	"agrichat-backend/internal/dialogue"
)

type predictRequest struct {
	Message  string `json:"message"`
	UserType string `json:"user_type"`
	UserID   string `json:"userId"`
}

func (s *Server) handlePredict(c *gin.Context) {
	var req predictRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, commonerrors.NewValidationFailedError("request body must be JSON"))
		return
	}

	req.Message = strings.TrimSpace(req.Message)
	if req.Message == "" {
		abortWithError(c, commonerrors.NewMissingFieldError("message"))
		return
	}

	userID, role, err := s.resolveIdentity(c, req)
	if err != nil {
		abortWithError(c, err)
		return
	}

	ctx := c.Request.Context()
	if s.cfg.Server.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(s.cfg.Server.RequestTimeout)*time.Millisecond)
		defer cancel()
	}

	outcome, err := s.dialogue.Handle(ctx, dialogue.Request{
		UserID:         userID,
		UserRole:       role,
		Message:        req.Message,
		IdempotencyKey: c.GetHeader("Idempotency-Key"),
	})
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, outcome)
}

// resolveIdentity yields the caller's id and role. With auth required the
// token is the only identity source; the request body may still narrow the
// role. Without auth the body's userId is trusted as-is.
func (s *Server) resolveIdentity(c *gin.Context, req predictRequest) (string, string, error) {
	if s.cfg.Auth.Required {
		identity, err := s.verifier.VerifyHeader(c.GetHeader("Authorization"))
		if err != nil {
			return "", "", err
		}
		role := identity.Role
		if role == "" {
			role = req.UserType
		}
		return identity.UserID, role, nil
	}

	if req.UserID == "" {
		return "", "", commonerrors.NewAuthTokenMissingError()
	}
	return req.UserID, req.UserType, nil
}

func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	payload := gin.H{"status": "ok"}
	for name, store := range s.stores {
		if err := store.Ping(ctx); err != nil {
			status = http.StatusServiceUnavailable
			payload["status"] = "degraded"
			payload[name] = err.Error()
		}
	}
	c.JSON(status, payload)
}

func abortWithError(c *gin.Context, err error) {
	std := commonerrors.AsStandard(err)
	c.AbortWithStatusJSON(commonerrors.HTTPStatus(std.Code), gin.H{"error": std})
}
