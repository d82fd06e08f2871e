package simulator

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/nandipalleparthu-eng/saferoute-ai/server/models"
	"github.com/nandipalleparthu-eng/saferoute-ai/server/state"
	"go.uber.org/zap"
)

const DefaultPeriod = 4 * time.Second

// Per-tick jitter amplitude for each channel, in channel units.
const (
	clearanceJitter = 25.0
	closingJitter   = 2.0
	vehicleJitter   = 10.0
)

// Assessor is the slice of the orchestrator the driver needs.
type Assessor interface {
	Assess(ctx context.Context, reading models.SensorReading) (*models.RiskAssessment, error)
}

// Driver perturbs the sensor state on a wall-clock ticker and forwards each
// new reading to the assessor. Ticks never wait for the previous assessment
// to finish, and stopping the driver cancels future ticks only; an in-flight
// assessment still completes and still updates state.
type Driver struct {
	holder   *state.Holder
	assessor Assessor
	period   time.Duration
	logger   *zap.Logger

	mutex   sync.Mutex
	quit    chan struct{}
	running bool
}

func NewDriver(holder *state.Holder, assessor Assessor, period time.Duration, logger *zap.Logger) *Driver {
	if period <= 0 {
		period = DefaultPeriod
	}
	return &Driver{
		holder:   holder,
		assessor: assessor,
		period:   period,
		logger:   logger,
	}
}

// Start transitions the driver to Running. No-op if already running.
func (d *Driver) Start() {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if d.running {
		return
	}
	d.running = true
	d.quit = make(chan struct{})

	go d.run(d.quit)
	d.logger.Info("Simulation started", zap.Duration("period", d.period))
}

// Stop transitions the driver back to Idle. No partial tick is delivered.
func (d *Driver) Stop() {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if !d.running {
		return
	}
	d.running = false
	close(d.quit)
	d.logger.Info("Simulation stopped")
}

func (d *Driver) Running() bool {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return d.running
}

func (d *Driver) run(quit chan struct{}) {
	ticker := time.NewTicker(d.period)
	defer ticker.Stop()

	for {
		select {
		case <-quit:
			return
		case <-ticker.C:
			d.tick()
		}
	}
}

func (d *Driver) tick() {
	reading := Perturb(d.holder.Snapshot())
	d.holder.Replace(reading)

	go func() {
		if _, err := d.assessor.Assess(context.Background(), reading); err != nil {
			d.logger.Warn("Tick assessment failed", zap.Error(err))
		}
	}()
}

// Perturb applies an independent bounded random delta to each numeric
// channel and clamps it to the simulation bounds. The driving mode is left
// unchanged.
func Perturb(reading models.SensorReading) models.SensorReading {
	reading.LeftClearance = models.Clamp(reading.LeftClearance+jitter(clearanceJitter),
		models.SimClearanceMin, models.SimClearanceMax)
	reading.RightClearance = models.Clamp(reading.RightClearance+jitter(clearanceJitter),
		models.SimClearanceMin, models.SimClearanceMax)
	reading.ClosingSpeed = models.Clamp(reading.ClosingSpeed+jitter(closingJitter),
		models.SimClosingMin, models.SimClosingMax)
	reading.VehicleSpeed = models.Clamp(reading.VehicleSpeed+jitter(vehicleJitter),
		models.SimVehicleMin, models.SimVehicleMax)
	reading.Timestamp = time.Now().UnixMilli()
	return reading
}

func jitter(amplitude float64) float64 {
	return (rand.Float64()*2 - 1) * amplitude
}
