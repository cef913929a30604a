package analyzer

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pricedock/pricedock/internal/metrics"
	"github.com/pricedock/pricedock/internal/models"
	"github.com/pricedock/pricedock/internal/store"
)

// AnalyzeRequest asks the worker to analyze a job whose file already landed.
// The descriptor fields restate what the job record holds; the worker rejects
// a trigger whose file reference disagrees with the record.
type AnalyzeRequest struct {
	JobID              string          `json:"job_id" binding:"required"`
	FileReference      string          `json:"file_reference"`
	SupplierID         string          `json:"supplier_id"`
	FileType           models.FileType `json:"file_type"`
	DefaultCurrency    string          `json:"default_currency,omitempty"`
	CompositeDelimiter string          `json:"composite_delimiter,omitempty"`
}

// AnalyzeResponse acknowledges an accepted analysis.
type AnalyzeResponse struct {
	RemoteJobID string `json:"remote_job_id"`
}

// StatusResponse is the poll shape for one running or finished analysis.
type StatusResponse struct {
	JobID              string                 `json:"job_id"`
	Phase              models.Phase           `json:"phase"`
	Status             models.Status          `json:"status"`
	ProgressPercentage float64                `json:"progress_percentage"`
	ItemsProcessed     int                    `json:"items_processed"`
	ItemsTotal         int                    `json:"items_total"`
	MatchesFound       int                    `json:"matches_found"`
	ReviewQueued       int                    `json:"review_queued"`
	ErrorCount         int                    `json:"error_count"`
	Error              string                 `json:"error,omitempty"`
	Metrics            *models.ParsingMetrics `json:"metrics,omitempty"`
}

// NewRouter builds the worker's HTTP surface.
func NewRouter(svc *Service, collector *metrics.Collector, logger *slog.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()
		if err := svc.Healthy(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.POST("/analyze", func(c *gin.Context) {
		var req AnalyzeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		job, err := svc.store.GetJob(c.Request.Context(), req.JobID)
		if err != nil {
			if errors.Is(err, store.ErrJobNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if job.Phase != models.PhaseAnalyzing {
			c.JSON(http.StatusConflict, gin.H{"error": "job is not in the analyzing phase", "phase": job.Phase})
			return
		}
		if req.FileReference != "" && req.FileReference != job.FileReference {
			c.JSON(http.StatusConflict, gin.H{"error": "file reference does not match the job record"})
			return
		}

		remoteID := uuid.NewString()
		svc.Accept(req.JobID, remoteID)
		logger.Info("analysis accepted", "job_id", req.JobID, "remote_job_id", remoteID)
		c.JSON(http.StatusAccepted, AnalyzeResponse{RemoteJobID: remoteID})
	})

	r.GET("/jobs/:id", func(c *gin.Context) {
		remoteID := c.Param("id")
		jobID, ok := svc.Lookup(remoteID)
		if !ok {
			// Finished runs are evicted from the active table; the job
			// record itself is still addressable by its own id.
			jobID = remoteID
		}

		job, err := svc.store.GetJob(c.Request.Context(), jobID)
		if err != nil {
			if errors.Is(err, store.ErrJobNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, statusOf(job))
	})

	r.GET("/stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, collector.Snapshot())
	})

	return r
}

func statusOf(job *models.JobRecord) StatusResponse {
	resp := StatusResponse{
		JobID:          job.JobID,
		Phase:          job.Phase,
		Status:         job.Status,
		ItemsProcessed: job.Analysis.ItemsProcessed,
		ItemsTotal:     job.Analysis.ItemsTotal,
		MatchesFound:   job.Analysis.MatchesFound,
		ReviewQueued:   job.Analysis.ReviewQueued,
		ErrorCount:     job.Analysis.ErrorCount,
		Error:          job.Error,
		Metrics:        job.Metrics,
	}
	if job.Phase == models.PhaseComplete {
		resp.ProgressPercentage = 100
	} else if job.Analysis.ItemsTotal > 0 {
		resp.ProgressPercentage = 100 * float64(job.Analysis.ItemsProcessed) / float64(job.Analysis.ItemsTotal)
	}
	return resp
}
