package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/driveline/driveline/internal/export"
	"github.com/driveline/driveline/internal/jobs"
	"github.com/driveline/driveline/internal/pipeline"
	"github.com/driveline/driveline/internal/store"
	"github.com/driveline/driveline/pkg/logging"
)

// StrategyHandler serves strategy generation and retrieval
type StrategyHandler struct {
	orchestrator *pipeline.Orchestrator
	store        store.Store
	queue        *jobs.Queue
	exporter     *export.Service
	logger       *logging.Logger
}

// NewStrategyHandler creates the strategy handler
func NewStrategyHandler(o *pipeline.Orchestrator, s store.Store, q *jobs.Queue, e *export.Service) *StrategyHandler {
	return &StrategyHandler{
		orchestrator: o,
		store:        s,
		queue:        q,
		exporter:     e,
		logger:       logging.GetLogger().Component("api"),
	}
}

// snapshotRequest is the driver context submitted by the client
type snapshotRequest struct {
	SnapshotID string  `json:"snapshot_id"`
	Latitude   float64 `json:"latitude" binding:"required"`
	Longitude  float64 `json:"longitude" binding:"required"`
	Address    string  `json:"address"`
	LocalTime  string  `json:"local_time"`
	DayOfWeek  string  `json:"day_of_week"`
}

func (r *snapshotRequest) toSnapshot() pipeline.Snapshot {
	id := r.SnapshotID
	if id == "" {
		id = uuid.New().String()
	}
	return pipeline.Snapshot{
		ID:        id,
		Latitude:  r.Latitude,
		Longitude: r.Longitude,
		Address:   r.Address,
		LocalTime: r.LocalTime,
		DayOfWeek: r.DayOfWeek,
	}
}

// Generate runs the pipeline synchronously and returns the terminal run
func (h *StrategyHandler) Generate(c *gin.Context) {
	var req snapshotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequestResponse(c, "invalid snapshot payload: "+err.Error())
		return
	}

	snap := req.toSnapshot()
	ctx := logging.WithRunID(c.Request.Context(), snap.ID)

	run, err := h.orchestrator.Run(ctx, snap)
	if err != nil {
		ErrorResponseFromError(c, err)
		return
	}

	SuccessResponse(c, run)
}

// Refresh enqueues a background re-run and returns the job id
func (h *StrategyHandler) Refresh(c *gin.Context) {
	var req snapshotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequestResponse(c, "invalid snapshot payload: "+err.Error())
		return
	}

	snap := req.toSnapshot()
	jobID := h.queue.Enqueue("", func(ctx context.Context) error {
		_, err := h.orchestrator.Run(ctx, snap)
		return err
	}, jobs.Options{
		Context: map[string]string{"snapshot_id": snap.ID},
	})

	AcceptedResponse(c, gin.H{
		"job_id":      jobID,
		"snapshot_id": snap.ID,
	})
}

// Get returns the stored run for a snapshot id
func (h *StrategyHandler) Get(c *gin.Context) {
	run, err := h.store.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		ErrorResponseFromError(c, err)
		return
	}
	SuccessResponse(c, run)
}

// Export renders the stored run as a downloadable report
func (h *StrategyHandler) Export(c *gin.Context) {
	run, err := h.store.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		ErrorResponseFromError(c, err)
		return
	}

	format := export.Format(c.DefaultQuery("format", "pdf"))
	res, err := h.exporter.Export(run, format)
	if err != nil {
		ErrorResponseFromError(c, err)
		return
	}

	c.Header("Content-Disposition", `attachment; filename="`+res.Filename+`"`)
	c.Data(http.StatusOK, res.ContentType, res.Data)
}
