package adminhttp

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"levtrader/internal/leverage"
	"levtrader/internal/logger"
	"levtrader/internal/store"
)

// LifecycleAPI is the leveraged-manager surface the admin API exposes.
type LifecycleAPI interface {
	Snapshot(ctx context.Context) (*leverage.SnapshotReport, error)
	GetPolicy(ctx context.Context) (leverage.Policy, error)
	UpdatePolicy(ctx context.Context, patch leverage.PolicyPatch) (leverage.Policy, error)
}

// TaskAPI is the scheduler surface the admin API exposes.
type TaskAPI interface {
	ListTasks(ctx context.Context) ([]store.ScheduledTask, error)
	StartTaskBackground(ctx context.Context, id string) (*store.ScheduledTask, error)
	ListTaskLogs(ctx context.Context, taskID string, limit int) ([]store.TaskLog, error)
}

// EngineAPI is the execution-engine surface the admin API exposes.
type EngineAPI interface {
	ListIntents(ctx context.Context, limit int) ([]store.TradeIntent, error)
	ListEvents(ctx context.Context, limit int) ([]store.ExecutionEvent, error)
}

// Router mounts the admin API routes.
type Router struct {
	lifecycle LifecycleAPI
	tasks     TaskAPI
	engine    EngineAPI
}

func NewRouter(lifecycle LifecycleAPI, tasks TaskAPI, eng EngineAPI) *Router {
	return &Router{lifecycle: lifecycle, tasks: tasks, engine: eng}
}

func (r *Router) Register(group *gin.RouterGroup) {
	if group == nil {
		return
	}
	group.GET("/leveraged/snapshot", r.handleSnapshot)
	group.GET("/leveraged/policy", r.handleGetPolicy)
	group.PATCH("/leveraged/policy", r.handleUpdatePolicy)
	group.GET("/tasks", r.handleListTasks)
	group.POST("/tasks/:id/run", r.handleRunTask)
	group.GET("/tasks/:id/logs", r.handleTaskLogs)
	group.GET("/intents", r.handleListIntents)
	group.GET("/events", r.handleListEvents)
}

func (r *Router) handleSnapshot(c *gin.Context) {
	report, err := r.lifecycle.Snapshot(c.Request.Context())
	if err != nil {
		logger.Errorf("[api] snapshot failed ip=%s err=%v", c.ClientIP(), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, report)
}

func (r *Router) handleGetPolicy(c *gin.Context) {
	policy, err := r.lifecycle.GetPolicy(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"policy": policy})
}

func (r *Router) handleUpdatePolicy(c *gin.Context) {
	var patch leverage.PolicyPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	policy, err := r.lifecycle.UpdatePolicy(c.Request.Context(), patch)
	if err != nil {
		logger.Errorf("[api] policy update failed ip=%s err=%v", c.ClientIP(), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	logger.Infof("[api] policy updated ip=%s", c.ClientIP())
	c.JSON(http.StatusOK, gin.H{"policy": policy})
}

func (r *Router) handleListTasks(c *gin.Context) {
	tasks, err := r.tasks.ListTasks(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"tasks": tasks})
}

func (r *Router) handleRunTask(c *gin.Context) {
	id := c.Param("id")
	task, err := r.tasks.StartTaskBackground(c.Request.Context(), id)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, context.Canceled) {
			status = http.StatusServiceUnavailable
		}
		logger.Warnf("[api] run task %s failed ip=%s err=%v", id, c.ClientIP(), err)
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	logger.Infof("[api] task %s dispatched ip=%s", task.Name, c.ClientIP())
	c.JSON(http.StatusAccepted, gin.H{"task": task})
}

func (r *Router) handleTaskLogs(c *gin.Context) {
	id := c.Param("id")
	limit := parseLimit(c, 50)
	logs, err := r.tasks.ListTaskLogs(c.Request.Context(), id, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"logs": logs})
}

func (r *Router) handleListIntents(c *gin.Context) {
	intents, err := r.engine.ListIntents(c.Request.Context(), parseLimit(c, 100))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"intents": intents})
}

func (r *Router) handleListEvents(c *gin.Context) {
	events, err := r.engine.ListEvents(c.Request.Context(), parseLimit(c, 100))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

func parseLimit(c *gin.Context, def int) int {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", ""))
	if limit <= 0 {
		limit = def
	}
	if limit > 500 {
		limit = 500
	}
	return limit
}
