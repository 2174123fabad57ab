package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"compose-deploy/pkg/utils"
)

// RequireJSON rejects POST requests that are not declared as JSON, even
// when the body is empty. Browsers cannot send that content type across
// origins without a CORS preflight.
func RequireJSON() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method == http.MethodPost && c.ContentType() != gin.MIMEJSON {
			c.AbortWithStatusJSON(http.StatusUnsupportedMediaType,
				errorResponse(utils.NewValidationError("Content-Type", c.ContentType())))
			return
		}
		c.Next()
	}
}

type hostAllowlist map[string]bool

func newHostAllowlist(hosts []string) hostAllowlist {
	allowed := make(hostAllowlist, len(hosts))
	for _, h := range hosts {
		allowed[h] = true
	}
	return allowed
}

// check validates a requested host override. An empty host keeps the
// configured target and is always accepted.
func (a hostAllowlist) check(c *gin.Context, host string) bool {
	if host == "" {
		return true
	}
	if err := utils.ValidateHost(host); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(utils.NewValidationError("host", host)))
		return false
	}
	if !a[host] {
		c.JSON(http.StatusForbidden, errorResponse(utils.NewValidationError("host", host)))
		return false
	}
	return true
}
