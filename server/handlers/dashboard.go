package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nandipalleparthu-eng/saferoute-ai/server/assessor"
	"github.com/nandipalleparthu-eng/saferoute-ai/server/models"
	"github.com/nandipalleparthu-eng/saferoute-ai/server/simulator"
	"github.com/nandipalleparthu-eng/saferoute-ai/server/state"
	"go.uber.org/zap"
)

// DashboardHandler serves the operator console API: the current reading,
// manual slider edits, assessments and simulation control.
type DashboardHandler struct {
	holder   *state.Holder
	assessor *assessor.Assessor
	driver   *simulator.Driver
	logger   *zap.Logger
}

type fieldUpdateRequest struct {
	Field string          `json:"field" binding:"required"`
	Value json.RawMessage `json:"value" binding:"required"`
}

func NewDashboardHandler(holder *state.Holder, riskAssessor *assessor.Assessor, driver *simulator.Driver, logger *zap.Logger) *DashboardHandler {
	return &DashboardHandler{
		holder:   holder,
		assessor: riskAssessor,
		driver:   driver,
		logger:   logger,
	}
}

func (h *DashboardHandler) GetReading(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"reading": h.holder.Snapshot()})
}

// PatchReading replaces one field of the current reading. Values are trusted
// as-is; the editable ranges served by GetBounds are rendering hints only.
func (h *DashboardHandler) PatchReading(c *gin.Context) {
	var request fieldUpdateRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request format"})
		return
	}

	if request.Field == "driving_mode" {
		var raw string
		if err := json.Unmarshal(request.Value, &raw); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Driving mode must be a string"})
			return
		}
		mode, err := models.ParseDrivingMode(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.holder.SetMode(mode)
	} else {
		var value float64
		if err := json.Unmarshal(request.Value, &value); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Sensor value must be a number"})
			return
		}
		if err := h.holder.SetField(request.Field, value); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{"reading": h.holder.Snapshot()})
}

func (h *DashboardHandler) GetBounds(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"bounds": models.EditableBounds()})
}

// Assess is the manual trigger: classify whatever reading is currently held,
// regardless of simulation state.
func (h *DashboardHandler) Assess(c *gin.Context) {
	startTime := time.Now()

	assessment, err := h.assessor.Assess(c.Request.Context(), h.holder.Snapshot())
	if err != nil {
		h.logger.Error("Manual assessment failed",
			zap.Error(err),
			zap.String("client_ip", c.ClientIP()))
		c.JSON(http.StatusBadGateway, gin.H{"error": "Risk classification failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"assessment":      assessment,
		"processing_time": time.Since(startTime).Milliseconds(),
	})
}

func (h *DashboardHandler) GetAssessment(c *gin.Context) {
	assessment := h.assessor.Current()
	if assessment == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "No assessment yet"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"assessment": assessment,
		"busy":       h.assessor.Busy(),
	})
}

func (h *DashboardHandler) GetHistory(c *gin.Context) {
	history := h.assessor.History()
	c.JSON(http.StatusOK, gin.H{
		"history":  history,
		"count":    len(history),
		"capacity": assessor.HistoryCapacity,
	})
}

func (h *DashboardHandler) GetStats(c *gin.Context) {
	stats := h.assessor.GetStats()

	c.JSON(http.StatusOK, gin.H{
		"assessor":           stats,
		"busy":               h.assessor.Busy(),
		"simulation_running": h.driver.Running(),
		"uptime_seconds":     time.Since(stats.StartTime).Seconds(),
	})
}

func (h *DashboardHandler) StartSimulation(c *gin.Context) {
	h.driver.Start()
	c.JSON(http.StatusOK, gin.H{"running": true})
}

func (h *DashboardHandler) StopSimulation(c *gin.Context) {
	h.driver.Stop()
	c.JSON(http.StatusOK, gin.H{"running": false})
}

func (h *DashboardHandler) SimulationStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"running": h.driver.Running()})
}
