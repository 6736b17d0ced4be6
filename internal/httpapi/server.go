// Package httpapi implements the minimal task submission surface (§6):
// submit, cancel, and get. The rest of a full HTTP surface (SSE push,
// auth, a frontend SPA) is out of scope; this exists only so an operator
// or an external scheduler has a way to hand tasks to the Dispatcher.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"biopatrol/internal/dispatcher"
	"biopatrol/internal/logging"
	"biopatrol/internal/task"
)

// APIResponse is the uniform response envelope every handler writes.
type APIResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Registry looks up submitted tasks by id, independent of which robot
// ultimately runs them.
type Registry struct {
	mu    sync.Mutex
	tasks map[string]*task.Task
}

// NewRegistry builds an empty task registry.
func NewRegistry() *Registry {
	return &Registry{tasks: make(map[string]*task.Task)}
}

func (r *Registry) put(t *task.Task) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks[t.TaskID] = t
}

// Get returns the task registered under id, if any.
func (r *Registry) Get(id string) (*task.Task, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	return t, ok
}

// ErrTaskNotFound is the error the get and cancel handlers report for an
// unknown task id.
var ErrTaskNotFound = errors.New("httpapi: task not found")

// submitTaskRequest mirrors the wire Task JSON shape (§6): callers name
// steps and their params; status/timestamps are server-assigned.
type submitTaskRequest struct {
	TaskID  string       `json:"task_id"`
	RobotID string       `json:"robot_id"`
	Steps   []*task.Step `json:"steps"`
}

// Server exposes submit/cancel/get over HTTP using gin, grounded on the
// teacher's webui.Server request/response conventions.
type Server struct {
	engine     *gin.Engine
	httpServer *http.Server
	dispatcher *dispatcher.Dispatcher
	registry   *Registry
	logger     logging.Logger
}

// Config configures the HTTP surface.
type Config struct {
	BindAddress string
	Debug       bool
}

// New builds a Server bound to disp for routing submitted tasks.
func New(cfg Config, disp *dispatcher.Dispatcher, logger logging.Logger) *Server {
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{
		engine:     engine,
		dispatcher: disp,
		registry:   NewRegistry(),
		logger:     logging.OrNop(logger),
	}

	api := engine.Group("/api")
	api.GET("/health", s.handleHealth)
	tasks := api.Group("/tasks")
	{
		tasks.POST("", s.handleSubmit)
		tasks.GET("/:id", s.handleGet)
		tasks.POST("/:id/cancel", s.handleCancel)
	}

	s.httpServer = &http.Server{
		Addr:         cfg.BindAddress,
		Handler:      engine,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, APIResponse{Success: true, Data: gin.H{"status": "ok"}})
}

func (s *Server) handleSubmit(c *gin.Context) {
	var req submitTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, APIResponse{Error: fmt.Sprintf("invalid task payload: %v", err)})
		return
	}

	t := task.New(req.TaskID, req.RobotID, req.Steps)
	s.registry.put(t)

	if err := s.dispatcher.Submit(t); err != nil {
		s.logger.Warn("httpapi: submit rejected task %s: %v", t.TaskID, err)
		c.JSON(http.StatusOK, APIResponse{Success: false, Data: gin.H{"task_id": t.TaskID}, Error: err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, APIResponse{Success: true, Data: gin.H{"task_id": t.TaskID}})
}

func (s *Server) handleGet(c *gin.Context) {
	id := c.Param("id")
	t, ok := s.registry.Get(id)
	if !ok {
		c.JSON(http.StatusNotFound, APIResponse{Error: ErrTaskNotFound.Error()})
		return
	}
	c.JSON(http.StatusOK, APIResponse{Success: true, Data: t.Snapshot()})
}

func (s *Server) handleCancel(c *gin.Context) {
	id := c.Param("id")
	t, ok := s.registry.Get(id)
	if !ok {
		c.JSON(http.StatusNotFound, APIResponse{Error: ErrTaskNotFound.Error()})
		return
	}
	cancelled := t.Cancel()
	c.JSON(http.StatusOK, APIResponse{Success: true, Data: gin.H{"cancelled": cancelled}})
}

// Start begins serving HTTP requests. It blocks until Stop shuts the
// server down or a fatal listener error occurs.
func (s *Server) Start() error {
	s.logger.Info("httpapi: listening on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("httpapi: serve: %w", err)
	}
	return nil
}

// Stop gracefully shuts the HTTP server down within ctx's deadline.
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
