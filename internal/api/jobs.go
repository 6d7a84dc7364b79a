package api

import (
	"github.com/gin-gonic/gin"

	"github.com/driveline/driveline/internal/jobs"
)

// JobsHandler exposes the read-only job queue surface
type JobsHandler struct {
	queue *jobs.Queue
}

// NewJobsHandler creates the jobs handler
func NewJobsHandler(q *jobs.Queue) *JobsHandler {
	return &JobsHandler{queue: q}
}

// Get returns one job record
func (h *JobsHandler) Get(c *gin.Context) {
	job, ok := h.queue.Get(c.Param("id"))
	if !ok {
		NotFoundResponse(c, "job")
		return
	}
	SuccessResponse(c, job)
}

// Metrics returns the aggregate queue snapshot
func (h *JobsHandler) Metrics(c *gin.Context) {
	SuccessResponse(c, h.queue.Metrics())
}
