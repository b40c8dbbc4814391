// Package handlers implements the HTTP API on top of the job engine.
package handlers

import (
	"encoding/base64"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Actief-IT-Services/aits-print-server/internal/core"
	"github.com/Actief-IT-Services/aits-print-server/internal/store"
)

type SubmitJobRequest struct {
	PrinterName  string                 `json:"printer_name"`
	DocumentName string                 `json:"document_name" binding:"required"`
	Content      string                 `json:"content" binding:"required"`
	Copies       int                    `json:"copies"`
	Options      map[string]interface{} `json:"options"`
}

type JobResponse struct {
	ID           string                 `json:"id"`
	PrinterName  string                 `json:"printer_name"`
	DocumentName string                 `json:"document_name"`
	Copies       int                    `json:"copies"`
	Options      map[string]interface{} `json:"options,omitempty"`
	Status       string                 `json:"status"`
	ErrorMessage string                 `json:"error_message,omitempty"`
	RetryCount   int                    `json:"retry_count"`
	CreatedAt    time.Time              `json:"created_at"`
	UpdatedAt    time.Time              `json:"updated_at"`
	CompletedAt  *time.Time             `json:"completed_at,omitempty"`
}

type StatsResponse struct {
	Pending       int    `json:"pending"`
	Processing    int    `json:"processing"`
	Completed     int    `json:"completed"`
	Failed        int    `json:"failed"`
	Cancelled     int    `json:"cancelled"`
	Total         int    `json:"total"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Uptime        string `json:"uptime"`
}

type JobHandler struct {
	queue *core.Queue
}

func NewJobHandler(queue *core.Queue) *JobHandler {
	return &JobHandler{queue: queue}
}

func jobResponse(job *store.Job) JobResponse {
	return JobResponse{
		ID:           job.ID,
		PrinterName:  job.PrinterName,
		DocumentName: job.DocumentName,
		Copies:       job.Copies,
		Options:      job.Options,
		Status:       string(job.Status),
		ErrorMessage: job.ErrorMessage,
		RetryCount:   job.RetryCount,
		CreatedAt:    job.CreatedAt,
		UpdatedAt:    job.UpdatedAt,
		CompletedAt:  job.CompletedAt,
	}
}

// SubmitJob accepts a base64-encoded document and enqueues it. The
// response arrives as soon as the job is durable, not when it prints.
func (h *JobHandler) SubmitJob(c *gin.Context) {
	var req SubmitJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}

	payload, err := base64.StdEncoding.DecodeString(req.Content)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "content must be base64 encoded"})
		return
	}

	job, err := h.queue.Submit(c.Request.Context(), core.SubmitRequest{
		PrinterName:  req.PrinterName,
		DocumentName: req.DocumentName,
		Payload:      payload,
		Copies:       req.Copies,
		Options:      req.Options,
	})
	if err != nil {
		if errors.Is(err, core.ErrValidation) {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "failed to submit job"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"success": true, "job_id": job.ID, "job": jobResponse(job)})
}

// ListJobs returns jobs newest first, optionally filtered by ?status=
// and capped by ?limit= (default 50, max 500).
func (h *JobHandler) ListJobs(c *gin.Context) {
	var status store.JobStatus
	if s := c.Query("status"); s != "" {
		status = store.JobStatus(s)
		if !status.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "unknown status: " + s})
			return
		}
	}

	limit := 50
	if l := c.Query("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "limit must be a positive integer"})
			return
		}
		limit = parsed
	}
	if limit > 500 {
		limit = 500
	}

	jobs, err := h.queue.List(c.Request.Context(), status, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "failed to list jobs"})
		return
	}

	responses := make([]JobResponse, 0, len(jobs))
	for _, job := range jobs {
		responses = append(responses, jobResponse(job))
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "jobs": responses, "count": len(responses)})
}

func (h *JobHandler) GetJob(c *gin.Context) {
	job, err := h.queue.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "job not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "failed to get job"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "job": jobResponse(job)})
}

// CancelJob distinguishes a missing job (404) from one that exists but
// is already printing or terminal (409).
func (h *JobHandler) CancelJob(c *gin.Context) {
	cancelled, err := h.queue.Cancel(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "job not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "failed to cancel job"})
		return
	}
	if !cancelled {
		c.JSON(http.StatusConflict, gin.H{"success": false, "error": "job is not cancellable in its current state"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *JobHandler) Stats(c *gin.Context) {
	stats, err := h.queue.Stats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "failed to get stats"})
		return
	}

	uptime := h.queue.Uptime()
	c.JSON(http.StatusOK, gin.H{"success": true, "stats": StatsResponse{
		Pending:       stats.Pending,
		Processing:    stats.Processing,
		Completed:     stats.Completed,
		Failed:        stats.Failed,
		Cancelled:     stats.Cancelled,
		Total:         stats.Total,
		UptimeSeconds: int64(uptime.Seconds()),
		Uptime:        uptime.Truncate(time.Second).String(),
	}})
}
