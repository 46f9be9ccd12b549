package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/scoutkit/creator-pipeline/internal/common"
	"github.com/scoutkit/creator-pipeline/internal/discovery"
	"github.com/scoutkit/creator-pipeline/internal/observability"
)

type createJobReq struct {
	OwnerID       uint64   `json:"owner_id"`
	Platform      string   `json:"platform" binding:"required"`
	Keywords      []string `json:"keywords" binding:"required"`
	TargetResults int      `json:"target_results"`
}

var supportedPlatforms = map[string]bool{
	"tiktok":    true,
	"instagram": true,
	"youtube":   true,
	"twitter":   true,
}

func (h *Handler) CreateJob(c *gin.Context) {
	var req createJobReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	if !supportedPlatforms[req.Platform] {
		common.Fail(c, http.StatusBadRequest, 10002, "unsupported platform")
		return
	}
	if len(req.Keywords) == 0 {
		common.Fail(c, http.StatusBadRequest, 10003, "keywords required")
		return
	}
	if req.TargetResults <= 0 {
		req.TargetResults = 100
	}

	job, err := h.Jobs.CreateJob(c.Request.Context(), req.OwnerID, req.Platform, req.Keywords, req.TargetResults)
	if err != nil {
		h.Logger.Error("create job failed", "error", err)
		common.Fail(c, http.StatusInternalServerError, 50001, "failed to create job")
		return
	}

	if err := h.Jobs.StartJob(c.Request.Context(), job); err != nil {
		h.Logger.Error("enqueue first search failed", "job_id", job.ID, "error", err)
		common.Fail(c, http.StatusInternalServerError, 50002, "enqueue failed")
		return
	}
	observability.JobsTransitioned.WithLabelValues(string(job.Status)).Inc()

	common.OK(c, gin.H{
		"job_id":         job.ID,
		"status":         job.Status,
		"target_results": job.TargetResults,
		"timeout_at":     job.TimeoutAt,
	})
}

type jobStatusResp struct {
	JobID            string           `json:"job_id"`
	Status           discovery.Status `json:"status"`
	Platform         string           `json:"platform"`
	Keywords         []string         `json:"keywords"`
	TargetResults    int              `json:"target_results"`
	ProcessedResults int              `json:"processed_results"`
	ProcessedRuns    int              `json:"processed_runs"`
	Error            *string          `json:"error,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
	CompletedAt      *time.Time       `json:"completed_at,omitempty"`
}

func (h *Handler) GetJob(c *gin.Context) {
	jobID := c.Param("job_id")
	if jobID == "" {
		common.Fail(c, http.StatusBadRequest, 10004, "job_id required")
		return
	}

	// Status reads are the hot path while clients poll; serve from the
	// short-TTL cache when the entry is fresh.
	var cached jobStatusResp
	if h.Cache != nil {
		err := h.Cache.GetJobStatus(c.Request.Context(), jobID, &cached)
		if err == nil {
			common.OK(c, cached)
			return
		}
		if err != redis.Nil {
			h.Logger.Warn("status cache read failed", "job_id", jobID, "error", err)
		}
	}

	job, err := h.Jobs.GetJob(c.Request.Context(), jobID)
	if err != nil {
		if errors.Is(err, discovery.ErrJobNotFound) {
			common.Fail(c, http.StatusNotFound, 40402, "job not found")
			return
		}
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
		return
	}

	resp := jobStatusResp{
		JobID:            job.ID,
		Status:           job.Status,
		Platform:         job.Platform,
		Keywords:         job.Keywords,
		TargetResults:    job.TargetResults,
		ProcessedResults: job.ProcessedResults,
		ProcessedRuns:    job.ProcessedRuns,
		Error:            job.Error,
		CreatedAt:        job.CreatedAt,
		CompletedAt:      job.CompletedAt,
	}
	if h.Cache != nil {
		if err := h.Cache.SetJobStatus(c.Request.Context(), jobID, resp); err != nil {
			h.Logger.Warn("status cache write failed", "job_id", jobID, "error", err)
		}
	}
	common.OK(c, resp)
}

func (h *Handler) ListJobCreators(c *gin.Context) {
	jobID := c.Param("job_id")
	if jobID == "" {
		common.Fail(c, http.StatusBadRequest, 10004, "job_id required")
		return
	}

	if _, err := h.Jobs.GetJob(c.Request.Context(), jobID); err != nil {
		if errors.Is(err, discovery.ErrJobNotFound) {
			common.Fail(c, http.StatusNotFound, 40402, "job not found")
			return
		}
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
		return
	}

	limit, _ := strconv.Atoi(c.Query("limit"))
	var beforeID uint64
	if v := c.Query("before_id"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			beforeID = n
		}
	}

	creators, err := h.Jobs.ListCreators(c.Request.Context(), jobID, limit, beforeID)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 50003, "failed to list creators")
		return
	}

	var nextBeforeID uint64
	if len(creators) > 0 {
		nextBeforeID = creators[len(creators)-1].ID
	}

	common.OK(c, gin.H{
		"creators":       creators,
		"next_before_id": nextBeforeID,
	})
}

func (h *Handler) DeleteJob(c *gin.Context) {
	jobID := c.Param("job_id")
	if jobID == "" {
		common.Fail(c, http.StatusBadRequest, 10004, "job_id required")
		return
	}

	if _, err := h.Jobs.GetJob(c.Request.Context(), jobID); err != nil {
		if errors.Is(err, discovery.ErrJobNotFound) {
			common.Fail(c, http.StatusNotFound, 40402, "job not found")
			return
		}
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
		return
	}

	if err := h.Jobs.DeleteJob(c.Request.Context(), jobID); err != nil {
		common.Fail(c, http.StatusInternalServerError, 50004, "failed to delete job")
		return
	}
	if h.Cache != nil {
		_ = h.Cache.InvalidateJobStatus(c.Request.Context(), jobID)
	}

	common.OK(c, gin.H{"deleted": jobID})
}
