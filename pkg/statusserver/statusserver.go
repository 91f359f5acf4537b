// Package statusserver exposes a Run's progress over HTTP (spec.md §6's
// status HTTP surface), the same minimal Gin health/status idiom tarsy's
// cmd/tarsy/main.go wires directly into its router.
package statusserver

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/codeready-toolchain/sumeval/pkg/models"
	"github.com/codeready-toolchain/sumeval/pkg/store"
)

// Server serves /health and /runs/:id/status against a Store.
type Server struct {
	store store.Store
}

// New builds a Server backed by s.
func New(s store.Store) *Server {
	return &Server{store: s}
}

// Handler builds the Gin engine with every route registered.
func (srv *Server) Handler() http.Handler {
	router := gin.Default()
	router.GET("/health", srv.health)
	router.GET("/runs/:id/status", srv.runStatus)
	return router
}

func (srv *Server) health(c *gin.Context) {
	reqCtx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	if _, err := srv.store.ListRuns(reqCtx, nil); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

// phaseStatus is one phase's reported progress in the /runs/:id/status
// response, per spec.md §4.3's PhaseProgress cursor.
type phaseStatus struct {
	Phase       models.Phase `json:"phase"`
	Total       int          `json:"total"`
	Completed   int          `json:"completed"`
	CompletedAt *time.Time   `json:"completed_at,omitempty"`
	Error       string       `json:"error,omitempty"`
}

func (srv *Server) runStatus(c *gin.Context) {
	runID := c.Param("id")

	run, err := srv.store.GetRun(c.Request.Context(), runID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	phases := make([]phaseStatus, 0, len(models.Phases))
	for _, phase := range models.Phases {
		progress, err := srv.store.GetPhaseProgress(c.Request.Context(), runID, phase)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		entry := phaseStatus{Phase: phase}
		if progress != nil {
			entry.Total = progress.Total
			entry.Completed = progress.Completed
			entry.CompletedAt = progress.CompletedAt
			entry.Error = progress.Error
		}
		phases = append(phases, entry)
	}

	c.JSON(http.StatusOK, gin.H{
		"run":    run,
		"phases": phases,
	})
}
