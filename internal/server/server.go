// Package server exposes the thin HTTP API: starting runs, reading run
// bundles, managing schedules, and issue intelligence queries.
package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"sentinel/internal/intel"
	"sentinel/internal/orchestrate"
	"sentinel/internal/prompt"
	"sentinel/internal/schedule"
	"sentinel/internal/store"
)

// discoverySimilarity is the looser threshold for interactive similar-issue
// lookups; post-run root cause analysis uses 0.35.
const discoverySimilarity = 0.25

// RunStarter launches a run in the background. *orchestrate.Executor
// satisfies it.
type RunStarter interface {
	Start(req orchestrate.RunRequest) string
}

// Server wires the HTTP handlers.
type Server struct {
	store     store.RecordStore
	starter   RunStarter
	schedules *schedule.Manager
	analyzer  *intel.Analyzer
	logger    *zap.Logger
}

func New(st store.RecordStore, starter RunStarter, schedules *schedule.Manager, analyzer *intel.Analyzer, logger *zap.Logger) *Server {
	return &Server{store: st, starter: starter, schedules: schedules, analyzer: analyzer, logger: logger}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/health", s.health)

	api := r.Group("/api")
	{
		api.POST("/runs", s.startRun)
		api.GET("/runs", s.listRuns)
		api.GET("/runs/:id", s.runBundle)

		api.GET("/devices", s.listDevices)
		api.GET("/networks", s.listNetworks)
		api.GET("/personas", s.listPersonas)

		api.POST("/schedules", s.createSchedule)
		api.GET("/schedules", s.listSchedules)
		api.GET("/schedules/:id", s.getSchedule)
		api.POST("/schedules/:id/start", s.startSchedule)
		api.POST("/schedules/:id/stop", s.stopSchedule)
		api.DELETE("/schedules/:id", s.deleteSchedule)

		api.GET("/issues/similar", s.similarIssues)
		api.GET("/issues/trends", s.issueTrends)
	}
	return r
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":           "ok",
		"active_schedules": s.schedules.ActiveCount(),
	})
}

func (s *Server) startRun(c *gin.Context) {
	var req orchestrate.RunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}
	if req.ProjectID == "" || req.DeviceID == "" || req.NetworkID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "project_id, device_id, and network_id are required"})
		return
	}
	ctx := c.Request.Context()
	if _, err := s.store.GetProject(ctx, req.ProjectID); err != nil {
		s.notFoundOr500(c, err, "project")
		return
	}
	if _, err := s.store.GetDevice(ctx, req.DeviceID); err != nil {
		s.notFoundOr500(c, err, "device")
		return
	}
	if _, err := s.store.GetNetwork(ctx, req.NetworkID); err != nil {
		s.notFoundOr500(c, err, "network")
		return
	}
	if req.Persona != "" {
		if _, ok := prompt.PersonaByKey(req.Persona); !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown persona: " + req.Persona})
			return
		}
	}

	id := s.starter.Start(req)
	c.JSON(http.StatusAccepted, gin.H{"run_id": id})
}

func (s *Server) listRuns(c *gin.Context) {
	projectID := c.Query("project_id")
	if projectID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "project_id is required"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	runs, err := s.store.ListRuns(c.Request.Context(), projectID, limit)
	if err != nil {
		s.internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

// runBundle returns the denormalized view of one run: the record plus its
// issues, evidence, steps, telemetry, and intelligence events.
func (s *Server) runBundle(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")
	run, err := s.store.GetRun(ctx, id)
	if err != nil {
		s.notFoundOr500(c, err, "run")
		return
	}
	issues, err := s.store.IssuesForRun(ctx, id)
	if err != nil {
		s.internalError(c, err)
		return
	}
	evidence, err := s.store.EvidenceForRun(ctx, id)
	if err != nil {
		s.internalError(c, err)
		return
	}
	steps, err := s.store.StepsForRun(ctx, id)
	if err != nil {
		s.internalError(c, err)
		return
	}
	events, err := s.store.EventsForRun(ctx, id)
	if err != nil {
		s.internalError(c, err)
		return
	}
	perf, err := s.store.PerfMetricsForRun(ctx, id)
	if err != nil {
		s.internalError(c, err)
		return
	}
	violations, err := s.store.A11yViolationsForRun(ctx, id)
	if err != nil {
		s.internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"run":             run,
		"issues":          issues,
		"evidence":        evidence,
		"steps":           steps,
		"events":          events,
		"perf_metrics":    perf,
		"a11y_violations": violations,
	})
}

func (s *Server) listDevices(c *gin.Context) {
	devices, err := s.store.ListDevices(c.Request.Context())
	if err != nil {
		s.internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"devices": devices})
}

func (s *Server) listNetworks(c *gin.Context) {
	networks, err := s.store.ListNetworks(c.Request.Context())
	if err != nil {
		s.internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"networks": networks})
}

func (s *Server) listPersonas(c *gin.Context) {
	personas := make([]gin.H, 0, len(prompt.Personas))
	for _, p := range prompt.Personas {
		personas = append(personas, gin.H{"key": p.Key, "label": p.Label})
	}
	c.JSON(http.StatusOK, gin.H{"personas": personas})
}

type createScheduleRequest struct {
	schedule.Schedule
	AutoStart bool `json:"auto_start"`
}

func (s *Server) createSchedule(c *gin.Context) {
	var req createScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}
	if req.ProjectID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "project_id is required"})
		return
	}
	if _, err := s.store.GetProject(c.Request.Context(), req.ProjectID); err != nil {
		s.notFoundOr500(c, err, "project")
		return
	}
	created := s.schedules.Create(req.Schedule)
	if req.AutoStart {
		if err := s.schedules.Start(created.ID); err != nil {
			s.internalError(c, err)
			return
		}
	}
	status, err := s.schedules.Get(created.ID)
	if err != nil {
		s.internalError(c, err)
		return
	}
	c.JSON(http.StatusCreated, status)
}

func (s *Server) listSchedules(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"schedules": s.schedules.List()})
}

func (s *Server) getSchedule(c *gin.Context) {
	status, err := s.schedules.Get(c.Param("id"))
	if err != nil {
		s.scheduleError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

func (s *Server) startSchedule(c *gin.Context) {
	if err := s.schedules.Start(c.Param("id")); err != nil {
		s.scheduleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "started"})
}

func (s *Server) stopSchedule(c *gin.Context) {
	s.schedules.Stop(c.Param("id"))
	c.JSON(http.StatusOK, gin.H{"status": "stopped"})
}

func (s *Server) deleteSchedule(c *gin.Context) {
	if err := s.schedules.Delete(c.Param("id")); err != nil {
		s.scheduleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

func (s *Server) similarIssues(c *gin.Context) {
	projectID := c.Query("project_id")
	title := c.Query("title")
	if projectID == "" || title == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "project_id and title are required"})
		return
	}
	similar, err := s.analyzer.SimilarIssues(c.Request.Context(), projectID,
		c.Query("exclude_id"), title, c.Query("description"), discoverySimilarity)
	if err != nil {
		s.internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"similar": similar})
}

func (s *Server) issueTrends(c *gin.Context) {
	projectID := c.Query("project_id")
	if projectID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "project_id is required"})
		return
	}
	windowDays, _ := strconv.Atoi(c.DefaultQuery("window_days", "30"))
	trends, err := s.analyzer.Trends(c.Request.Context(), projectID, windowDays)
	if err != nil {
		s.internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"trends": trends})
}

func (s *Server) scheduleError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, schedule.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "schedule not found"})
	case errors.Is(err, schedule.ErrAlreadyRunning):
		c.JSON(http.StatusConflict, gin.H{"error": "schedule already running"})
	default:
		s.internalError(c, err)
	}
}

func (s *Server) notFoundOr500(c *gin.Context, err error, what string) {
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": what + " not found"})
		return
	}
	s.internalError(c, err)
}

func (s *Server) internalError(c *gin.Context, err error) {
	s.logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}
