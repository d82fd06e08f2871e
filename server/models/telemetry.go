package models

import (
	"fmt"
	"time"
)

type DrivingMode string

const (
	ModeTraffic DrivingMode = "traffic"
	ModeHighway DrivingMode = "highway"
	ModeDepot   DrivingMode = "depot"
)

func ParseDrivingMode(s string) (DrivingMode, error) {
	switch DrivingMode(s) {
	case ModeTraffic, ModeHighway, ModeDepot:
		return DrivingMode(s), nil
	}
	return "", fmt.Errorf("unknown driving mode %q", s)
}

type RiskLevel string

const (
	RiskLow    RiskLevel = "LOW"
	RiskMedium RiskLevel = "MEDIUM"
	RiskHigh   RiskLevel = "HIGH"
)

func ParseRiskLevel(s string) (RiskLevel, bool) {
	switch RiskLevel(s) {
	case RiskLow, RiskMedium, RiskHigh:
		return RiskLevel(s), true
	}
	return "", false
}

// SensorReading is one snapshot of the simulated proximity channels.
// Distances are centimeters, closing speed m/s, vehicle speed km/h.
type SensorReading struct {
	VehicleID      string      `json:"vehicle_id,omitempty"`
	LeftClearance  float64     `json:"left_clearance"`
	RightClearance float64     `json:"right_clearance"`
	ClosingSpeed   float64     `json:"closing_speed"`
	VehicleSpeed   float64     `json:"vehicle_speed"`
	DrivingMode    DrivingMode `json:"driving_mode"`
	Timestamp      int64       `json:"timestamp,omitempty"`
}

// Bounds the simulator clamps each channel to after perturbation. Manual
// slider edits are not clamped; the wider UI ranges below are published to
// the dashboard for rendering only.
const (
	SimClearanceMin = 10.0
	SimClearanceMax = 300.0
	SimClosingMin   = 0.0
	SimClosingMax   = 15.0
	SimVehicleMin   = 0.0
	SimVehicleMax   = 100.0
)

const (
	UIClearanceMin = 5.0
	UIClearanceMax = 300.0
	UIClosingMin   = 0.0
	UIClosingMax   = 25.0
	UIVehicleMin   = 0.0
	UIVehicleMax   = 120.0
)

type ChannelBounds struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

type SliderBounds struct {
	LeftClearance  ChannelBounds `json:"left_clearance"`
	RightClearance ChannelBounds `json:"right_clearance"`
	ClosingSpeed   ChannelBounds `json:"closing_speed"`
	VehicleSpeed   ChannelBounds `json:"vehicle_speed"`
}

func EditableBounds() SliderBounds {
	return SliderBounds{
		LeftClearance:  ChannelBounds{Min: UIClearanceMin, Max: UIClearanceMax},
		RightClearance: ChannelBounds{Min: UIClearanceMin, Max: UIClearanceMax},
		ClosingSpeed:   ChannelBounds{Min: UIClosingMin, Max: UIClosingMax},
		VehicleSpeed:   ChannelBounds{Min: UIVehicleMin, Max: UIVehicleMax},
	}
}

func Clamp(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// RiskVerdict is the classifier's answer for a single reading, before the
// orchestrator wraps it into a RiskAssessment.
type RiskVerdict struct {
	RiskLevel   RiskLevel `json:"risk_level"`
	Explanation string    `json:"explanation"`
}

// RiskAssessment is one completed classification. Never mutated after
// creation; evicted from history oldest-first.
type RiskAssessment struct {
	ID          string        `json:"id"`
	RiskLevel   RiskLevel     `json:"risk_level"`
	Explanation string        `json:"explanation"`
	Reading     SensorReading `json:"reading"`
	Timestamp   time.Time     `json:"timestamp"`
}

type Alert struct {
	Level     RiskLevel     `json:"level"`
	Message   string        `json:"message"`
	Reading   SensorReading `json:"reading"`
	Timestamp int64         `json:"timestamp"`
}
