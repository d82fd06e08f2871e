package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nandipalleparthu-eng/saferoute-ai/server/assessor"
	"github.com/nandipalleparthu-eng/saferoute-ai/server/models"
	"github.com/nandipalleparthu-eng/saferoute-ai/server/simulator"
	"github.com/nandipalleparthu-eng/saferoute-ai/server/state"
	"go.uber.org/zap"
)

type stubClassifier struct {
	verdict models.RiskVerdict
	err     error
}

func (s *stubClassifier) Classify(ctx context.Context, reading models.SensorReading) (models.RiskVerdict, error) {
	return s.verdict, s.err
}

func testFixture(classifier assessor.Classifier) (*gin.Engine, *state.Holder, *assessor.Assessor, *simulator.Driver) {
	gin.SetMode(gin.TestMode)
	logger := zap.NewNop()

	holder := state.NewHolder(models.SensorReading{
		VehicleID:      "BUS_01",
		LeftClearance:  120,
		RightClearance: 115,
		ClosingSpeed:   0.5,
		VehicleSpeed:   45,
		DrivingMode:    models.ModeTraffic,
	})
	riskAssessor := assessor.New(classifier, nil, 0, nil, logger)
	driver := simulator.NewDriver(holder, riskAssessor, time.Hour, logger)
	handler := NewDashboardHandler(holder, riskAssessor, driver, logger)

	router := gin.New()
	router.GET("/api/v1/reading", handler.GetReading)
	router.PATCH("/api/v1/reading", handler.PatchReading)
	router.GET("/api/v1/bounds", handler.GetBounds)
	router.POST("/api/v1/assess", handler.Assess)
	router.GET("/api/v1/assessment", handler.GetAssessment)
	router.GET("/api/v1/history", handler.GetHistory)
	router.GET("/api/v1/stats", handler.GetStats)
	router.POST("/api/v1/simulation/start", handler.StartSimulation)
	router.POST("/api/v1/simulation/stop", handler.StopSimulation)
	router.GET("/api/v1/simulation/status", handler.SimulationStatus)

	return router, holder, riskAssessor, driver
}

func doRequest(router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	request := httptest.NewRequest(method, path, reader)
	if body != "" {
		request.Header.Set("Content-Type", "application/json")
	}
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, request)
	return recorder
}

func TestGetReading(t *testing.T) {
	router, _, _, _ := testFixture(&stubClassifier{})

	recorder := doRequest(router, http.MethodGet, "/api/v1/reading", "")
	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d", recorder.Code)
	}

	var response struct {
		Reading models.SensorReading `json:"reading"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &response); err != nil {
		t.Fatalf("bad response body: %v", err)
	}
	if response.Reading.LeftClearance != 120 {
		t.Errorf("left clearance = %v, want 120", response.Reading.LeftClearance)
	}
}

func TestPatchReading(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
		check      func(t *testing.T, reading models.SensorReading)
	}{
		{
			name:       "numeric field",
			body:       `{"field":"closing_speed","value":7.25}`,
			wantStatus: http.StatusOK,
			check: func(t *testing.T, reading models.SensorReading) {
				if reading.ClosingSpeed != 7.25 {
					t.Errorf("closing speed = %v", reading.ClosingSpeed)
				}
			},
		},
		{
			name:       "out of UI range accepted",
			body:       `{"field":"vehicle_speed","value":140}`,
			wantStatus: http.StatusOK,
			check: func(t *testing.T, reading models.SensorReading) {
				if reading.VehicleSpeed != 140 {
					t.Errorf("vehicle speed = %v", reading.VehicleSpeed)
				}
			},
		},
		{
			name:       "driving mode",
			body:       `{"field":"driving_mode","value":"depot"}`,
			wantStatus: http.StatusOK,
			check: func(t *testing.T, reading models.SensorReading) {
				if reading.DrivingMode != models.ModeDepot {
					t.Errorf("driving mode = %q", reading.DrivingMode)
				}
			},
		},
		{
			name:       "unknown field",
			body:       `{"field":"altitude","value":1}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "unknown driving mode",
			body:       `{"field":"driving_mode","value":"offroad"}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "non-numeric value for sensor field",
			body:       `{"field":"closing_speed","value":"fast"}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "missing value",
			body:       `{"field":"closing_speed"}`,
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router, holder, _, _ := testFixture(&stubClassifier{})

			recorder := doRequest(router, http.MethodPatch, "/api/v1/reading", tt.body)
			if recorder.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", recorder.Code, tt.wantStatus, recorder.Body.String())
			}
			if tt.check != nil {
				tt.check(t, holder.Snapshot())
			}
		})
	}
}

func TestGetBounds(t *testing.T) {
	router, _, _, _ := testFixture(&stubClassifier{})

	recorder := doRequest(router, http.MethodGet, "/api/v1/bounds", "")
	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d", recorder.Code)
	}

	var response struct {
		Bounds models.SliderBounds `json:"bounds"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &response); err != nil {
		t.Fatalf("bad response body: %v", err)
	}
	if response.Bounds.ClosingSpeed.Max != models.UIClosingMax {
		t.Errorf("closing speed max = %v, want %v", response.Bounds.ClosingSpeed.Max, models.UIClosingMax)
	}
}

func TestManualAssess(t *testing.T) {
	router, _, riskAssessor, _ := testFixture(&stubClassifier{
		verdict: models.RiskVerdict{RiskLevel: models.RiskLow, Explanation: "clear"},
	})

	recorder := doRequest(router, http.MethodPost, "/api/v1/assess", "")
	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d (body %s)", recorder.Code, recorder.Body.String())
	}

	var response struct {
		Assessment models.RiskAssessment `json:"assessment"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &response); err != nil {
		t.Fatalf("bad response body: %v", err)
	}
	if response.Assessment.RiskLevel != models.RiskLow || response.Assessment.Explanation != "clear" {
		t.Errorf("assessment = %+v", response.Assessment)
	}

	if got := len(riskAssessor.History()); got != 1 {
		t.Errorf("history length = %d, want 1", got)
	}
}

func TestManualAssessFailure(t *testing.T) {
	router, _, riskAssessor, _ := testFixture(&stubClassifier{err: errors.New("boom")})

	recorder := doRequest(router, http.MethodPost, "/api/v1/assess", "")
	if recorder.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", recorder.Code)
	}
	if got := len(riskAssessor.History()); got != 0 {
		t.Errorf("failed assess left %d history entries", got)
	}
}

func TestGetAssessmentBeforeFirstResult(t *testing.T) {
	router, _, _, _ := testFixture(&stubClassifier{})

	recorder := doRequest(router, http.MethodGet, "/api/v1/assessment", "")
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", recorder.Code)
	}
}

func TestSimulationControl(t *testing.T) {
	router, _, _, driver := testFixture(&stubClassifier{})

	recorder := doRequest(router, http.MethodPost, "/api/v1/simulation/start", "")
	if recorder.Code != http.StatusOK {
		t.Fatalf("start status = %d", recorder.Code)
	}
	if !driver.Running() {
		t.Error("driver not running after start endpoint")
	}

	recorder = doRequest(router, http.MethodGet, "/api/v1/simulation/status", "")
	if !strings.Contains(recorder.Body.String(), "true") {
		t.Errorf("status body = %s", recorder.Body.String())
	}

	recorder = doRequest(router, http.MethodPost, "/api/v1/simulation/stop", "")
	if recorder.Code != http.StatusOK {
		t.Fatalf("stop status = %d", recorder.Code)
	}
	if driver.Running() {
		t.Error("driver still running after stop endpoint")
	}
}

func TestGetStats(t *testing.T) {
	router, _, _, _ := testFixture(&stubClassifier{
		verdict: models.RiskVerdict{RiskLevel: models.RiskLow, Explanation: "clear"},
	})

	doRequest(router, http.MethodPost, "/api/v1/assess", "")

	recorder := doRequest(router, http.MethodGet, "/api/v1/stats", "")
	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d", recorder.Code)
	}

	var response struct {
		Assessor struct {
			TotalAssessed int64 `json:"total_assessed"`
			Succeeded     int64 `json:"succeeded"`
		} `json:"assessor"`
		Busy              bool `json:"busy"`
		SimulationRunning bool `json:"simulation_running"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &response); err != nil {
		t.Fatalf("bad response body: %v", err)
	}
	if response.Assessor.TotalAssessed != 1 || response.Assessor.Succeeded != 1 {
		t.Errorf("stats = %+v", response.Assessor)
	}
	if response.Busy || response.SimulationRunning {
		t.Errorf("unexpected busy/running flags: %+v", response)
	}
}
