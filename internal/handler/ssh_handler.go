package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"compose-deploy/internal/config"
	"compose-deploy/internal/model"
	"compose-deploy/internal/service"
	"compose-deploy/pkg/utils"
)

type SSHHandler struct {
	sshService *service.SSHService
	base       config.SSHConfig
	hosts      hostAllowlist
}

// NewSSHHandler tests connections with the server's configured credentials;
// requests may only change the port, the user and the host to one of
// allowedHosts.
func NewSSHHandler(sshService *service.SSHService, base config.SSHConfig, allowedHosts []string) *SSHHandler {
	return &SSHHandler{
		sshService: sshService,
		base:       base,
		hosts:      newHostAllowlist(allowedHosts),
	}
}

func (h *SSHHandler) TestConnection(c *gin.Context) {
	var req model.SSHTestRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, errorResponse(utils.NewValidationError("body", err.Error())))
			return
		}
	}

	if !h.hosts.check(c, req.Host) {
		return
	}
	cfg := h.base
	if req.Host != "" {
		cfg.Host = req.Host
	}
	if req.Port != 0 {
		if err := utils.ValidatePort(req.Port); err != nil {
			c.JSON(http.StatusBadRequest, errorResponse(utils.NewValidationError("port", req.Port)))
			return
		}
		cfg.Port = req.Port
	}
	if req.Username != "" {
		cfg.User = req.Username
	}

	result := h.sshService.TestConnection(c.Request.Context(), cfg)
	c.JSON(http.StatusOK, result)
}
