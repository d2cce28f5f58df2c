package api

import (
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/rawblock/factory-engine/internal/batch"
	"github.com/rawblock/factory-engine/internal/parser"
	"github.com/rawblock/factory-engine/internal/shadow"
	"github.com/rawblock/factory-engine/internal/solver"
	"github.com/rawblock/factory-engine/pkg/models"
)

const (
	maxBatchMachines = 10_000
	maxTextBody      = 4 << 20
)

// SolveRequest is the body of POST /api/v1/solve.
type SolveRequest struct {
	Machines []models.Machine `json:"machines" binding:"required,min=1,max=10000"`
	Policy   string           `json:"policy" binding:"omitempty,oneof=strict skip"` // Defaults to the server policy
}

// ShadowRequest is the body of POST /api/v1/shadow.
type ShadowRequest struct {
	Machines []models.Machine `json:"machines" binding:"required,min=1,max=1000"`
}

// handleSolve solves a JSON list of machines and returns the batch report.
// POST /api/v1/solve { "machines": [...], "policy": "skip" }
func (h *APIHandler) handleSolve(c *gin.Context) {
	var req SolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	policy := h.solver.Policy()
	if req.Policy != "" {
		policy = batch.Policy(req.Policy)
	}
	h.runBatch(c, req.Machines, policy)
}

// handleSolveText solves machines posted in puzzle line format.
// POST /api/v1/solve/text?policy=skip
func (h *APIHandler) handleSolveText(c *gin.Context) {
	policy := h.solver.Policy()
	if q := c.Query("policy"); q != "" {
		p, err := batch.ParsePolicy(q)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid policy", "details": err.Error()})
			return
		}
		policy = p
	}

	body := http.MaxBytesReader(c.Writer, c.Request.Body, maxTextBody)
	machines, err := parser.ParseMachines(body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid machine text", "details": err.Error()})
		return
	}
	if len(machines) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No machines in request body"})
		return
	}
	if len(machines) > maxBatchMachines {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Too many machines", "limit": maxBatchMachines})
		return
	}
	h.runBatch(c, machines, policy)
}

func (h *APIHandler) runBatch(c *gin.Context, machines []models.Machine, policy batch.Policy) {
	report, err := h.solver.SolveAllWithPolicy(c.Request.Context(), machines, policy)
	if report == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Solve cancelled", "details": err.Error()})
		return
	}

	model := report.Model()
	if h.dbStore != nil {
		if err := h.dbStore.SaveBatchReport(c.Request.Context(), model, machines); err != nil {
			log.Printf("[API] Failed to save run %s to DB: %v", model.RunID, err)
		}
	}

	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":   "Batch failed",
			"details": err.Error(),
			"report":  model,
		})
		return
	}
	c.JSON(http.StatusOK, model)
}

// handleMachine solves a single machine and reports both answers with
// their feasibility.
func (h *APIHandler) handleMachine(c *gin.Context) {
	var m models.Machine
	if err := c.ShouldBindJSON(&m); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}
	if err := solver.Validate(m); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Machine exceeds engine capacity", "details": err.Error()})
		return
	}

	toggle, toggleErr := solver.MinimumTogglePresses(m)
	joltage, stats, joltageErr := solver.MinimumJoltagePressesWithStats(m)

	c.JSON(http.StatusOK, gin.H{
		"machine": m.String(),
		"toggle":  answer(toggle, toggleErr),
		"joltage": answer(joltage, joltageErr),
		"stats":   stats,
	})
}

func answer(presses int, err error) gin.H {
	if err != nil {
		return gin.H{"infeasible": true, "error": err.Error()}
	}
	return gin.H{"infeasible": false, "presses": presses}
}

// handleGetRuns returns the persisted run history, newest first.
func (h *APIHandler) handleGetRuns(c *gin.Context) {
	if h.dbStore == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Database not connected"})
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	runs, totalCount, err := h.dbStore.GetRuns(c.Request.Context(), page, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch runs", "details": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":       runs,
		"totalCount": totalCount,
		"page":       page,
		"limit":      limit,
	})
}

// handleGetRun returns the machine results of one persisted run.
func (h *APIHandler) handleGetRun(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid run id"})
		return
	}
	if h.dbStore == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Database not connected"})
		return
	}

	results, err := h.dbStore.GetRunResults(c.Request.Context(), id.String())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch run", "details": err.Error()})
		return
	}
	if len(results) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "Run not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"runId": id.String(), "results": results})
}

// handleShadow cross-checks posted machines against the search backend.
func (h *APIHandler) handleShadow(c *gin.Context) {
	if h.shadow == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Shadow mode disabled"})
		return
	}

	var req ShadowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	results, summary, err := h.shadow.CompareAll(c.Request.Context(), req.Machines)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Shadow comparison failed",
			"details": err.Error(),
			"results": results,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": results, "summary": summary})
}

// handleShadowReport returns the drift report of the current snapshot.
func (h *APIHandler) handleShadowReport(c *gin.Context) {
	if h.shadow == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Shadow mode disabled"})
		return
	}

	report, err := h.shadow.GenerateDriftReport(c.Request.Context())
	if errors.Is(err, shadow.ErrNoDatabase) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Database not connected"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to build drift report", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, report)
}
