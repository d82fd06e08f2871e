package state

import (
	"fmt"
	"sync"

	"github.com/nandipalleparthu-eng/saferoute-ai/server/models"
)

// Holder owns the single current sensor reading. Manual values are stored
// as-is; only the simulator clamps (this is an operator sandbox, not a
// safety-critical input path).
type Holder struct {
	mutex   sync.RWMutex
	reading models.SensorReading
}

func NewHolder(initial models.SensorReading) *Holder {
	return &Holder{reading: initial}
}

func (h *Holder) Snapshot() models.SensorReading {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return h.reading
}

func (h *Holder) Replace(reading models.SensorReading) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.reading = reading
}

// SetField replaces one numeric channel by its wire name, leaving the
// others untouched.
func (h *Holder) SetField(field string, value float64) error {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	switch field {
	case "left_clearance":
		h.reading.LeftClearance = value
	case "right_clearance":
		h.reading.RightClearance = value
	case "closing_speed":
		h.reading.ClosingSpeed = value
	case "vehicle_speed":
		h.reading.VehicleSpeed = value
	default:
		return fmt.Errorf("unknown sensor field %q", field)
	}
	return nil
}

func (h *Holder) SetMode(mode models.DrivingMode) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.reading.DrivingMode = mode
}
