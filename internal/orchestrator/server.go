package orchestrator

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pricedock/pricedock/internal/metrics"
	"github.com/pricedock/pricedock/internal/store"
)

// NewRouter builds the orchestrator's HTTP surface.
func NewRouter(o *Orchestrator, collector *metrics.Collector, logger *slog.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, collector.Snapshot())
	})

	r.POST("/jobs", func(c *gin.Context) {
		var req CreateJobRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		job, err := o.CreateJob(c.Request.Context(), req)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, job)
	})

	r.GET("/jobs", func(c *gin.Context) {
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
		jobs, err := o.ListJobs(c.Request.Context(), limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"jobs": jobs})
	})

	r.GET("/jobs/:id", func(c *gin.Context) {
		job, err := o.GetJob(c.Request.Context(), c.Param("id"))
		if err != nil {
			if errors.Is(err, store.ErrJobNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, job)
	})

	r.POST("/jobs/:id/retry", func(c *gin.Context) {
		job, err := o.Retry(c.Request.Context(), c.Param("id"))
		if err != nil {
			if errors.Is(err, store.ErrJobNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		logger.Info("job retry requested", "job_id", job.JobID)
		c.JSON(http.StatusOK, job)
	})

	return r
}
