package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/scoutkit/creator-pipeline/internal/common"
	"github.com/scoutkit/creator-pipeline/internal/httpapi/handlers"
	"github.com/scoutkit/creator-pipeline/internal/httpapi/middleware"
	"github.com/scoutkit/creator-pipeline/internal/queue"
)

func NewRouter(h *handlers.Handler) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(gin.Logger())
	r.Use(middleware.Recovery())

	r.NoRoute(func(c *gin.Context) {
		common.Fail(c, http.StatusNotFound, 40400, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusMethodNotAllowed, 40500, "method not allowed")
	})

	r.Use(middleware.RequestID())

	r.GET("/ping", h.Ping)

	// job API
	r.POST("/jobs", h.CreateJob)
	r.GET("/jobs/:job_id", h.GetJob)
	r.GET("/jobs/:job_id/creators", h.ListJobCreators)
	r.DELETE("/jobs/:job_id", h.DeleteJob)

	// queue-delivered worker callbacks; authenticated by signature, not JWT login
	r.POST(queue.PathSearch, h.SearchWorker)
	r.POST(queue.PathEnrich, h.EnrichWorker)
	r.POST(queue.PathMonitor, h.MonitorWorker)

	return r
}
