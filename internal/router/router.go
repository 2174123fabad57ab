package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"compose-deploy/internal/handler"
)

func RegisterRoutes(r *gin.Engine, sshHandler *handler.SSHHandler, deployHandler *handler.DeployHandler) {
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api")
	api.Use(handler.RequireJSON())
	{
		ssh := api.Group("/ssh")
		{
			ssh.POST("/test", sshHandler.TestConnection)
		}

		deploy := api.Group("/deploy")
		{
			deploy.POST("", deployHandler.Deploy)
			deploy.GET("/:taskId", deployHandler.Progress)
			deploy.GET("/:taskId/logs", deployHandler.Logs)
		}

		api.GET("/history", deployHandler.History)
	}
}
