package assessor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/nandipalleparthu-eng/saferoute-ai/server/cache"
	"github.com/nandipalleparthu-eng/saferoute-ai/server/models"
	"go.uber.org/zap"
)

// HistoryCapacity bounds the newest-first assessment log. Oldest entries
// are dropped once the log is full.
const HistoryCapacity = 20

// Classifier maps one reading to a risk verdict. Fallible; the live
// implementation is llm.Client, tests inject stubs.
type Classifier interface {
	Classify(ctx context.Context, reading models.SensorReading) (models.RiskVerdict, error)
}

// EventSink receives every stored assessment plus an alert for each non-LOW
// result. Delivery is fire-and-forget; the assessor never blocks on it.
type EventSink interface {
	NotifyAssessment(assessment models.RiskAssessment)
	NotifyAlert(alert models.Alert)
}

type Stats struct {
	StartTime      time.Time `json:"start_time"`
	TotalAssessed  int64     `json:"total_assessed"`
	Succeeded      int64     `json:"succeeded"`
	Failed         int64     `json:"failed"`
	AlertsRaised   int64     `json:"alerts_raised"`
	CacheHits      int64     `json:"cache_hits"`
	AverageLatency float64   `json:"average_latency_ms"`
	InFlight       int32     `json:"in_flight"`
}

// Assessor drives the request/response cycle against the classifier and
// owns the current assessment, the bounded history and the busy flag.
type Assessor struct {
	classifier Classifier
	cache      cache.Cache
	cacheTTL   time.Duration
	events     EventSink
	logger     *zap.Logger

	inFlight atomic.Int32

	mutex   sync.RWMutex
	current *models.RiskAssessment
	history []models.RiskAssessment
	stats   Stats
}

func New(classifier Classifier, verdictCache cache.Cache, cacheTTL time.Duration, events EventSink, logger *zap.Logger) *Assessor {
	return &Assessor{
		classifier: classifier,
		cache:      verdictCache,
		cacheTTL:   cacheTTL,
		events:     events,
		logger:     logger,
		stats:      Stats{StartTime: time.Now()},
	}
}

// Busy reports whether at least one classification call is outstanding.
// Overlapping calls are not blocked; this flag exists for UI feedback only,
// and when two calls do overlap the last one to complete wins.
func (a *Assessor) Busy() bool {
	return a.inFlight.Load() > 0
}

// Assess classifies the given reading, stores the result as the current
// assessment and prepends it to the history. A failed classification is an
// error to the caller and leaves the current assessment and history exactly
// as they were.
func (a *Assessor) Assess(ctx context.Context, reading models.SensorReading) (*models.RiskAssessment, error) {
	a.inFlight.Add(1)
	defer a.inFlight.Add(-1)

	startTime := time.Now()

	a.mutex.Lock()
	a.stats.TotalAssessed++
	a.mutex.Unlock()

	verdict, cached := a.cachedVerdict(ctx, reading)
	if !cached {
		var err error
		verdict, err = a.classifier.Classify(ctx, reading)
		if err != nil {
			a.mutex.Lock()
			a.stats.Failed++
			a.mutex.Unlock()

			a.logger.Error("Risk classification failed", zap.Error(err))
			return nil, fmt.Errorf("risk classification failed: %w", err)
		}
		a.storeVerdict(ctx, reading, verdict)
	}

	assessment := models.RiskAssessment{
		ID:          uuid.NewString(),
		RiskLevel:   verdict.RiskLevel,
		Explanation: verdict.Explanation,
		Reading:     reading,
		Timestamp:   time.Now(),
	}

	a.mutex.Lock()
	a.current = &assessment
	a.history = append([]models.RiskAssessment{assessment}, a.history...)
	if len(a.history) > HistoryCapacity {
		a.history = a.history[:HistoryCapacity]
	}
	a.stats.Succeeded++
	a.updateLatencyStats(time.Since(startTime))
	raiseAlert := assessment.RiskLevel != models.RiskLow
	if raiseAlert {
		a.stats.AlertsRaised++
	}
	a.mutex.Unlock()

	if a.events != nil {
		a.events.NotifyAssessment(assessment)
		if raiseAlert {
			a.events.NotifyAlert(models.Alert{
				Level:     assessment.RiskLevel,
				Message:   fmt.Sprintf("%s risk: %s", assessment.RiskLevel, assessment.Explanation),
				Reading:   reading,
				Timestamp: assessment.Timestamp.UnixMilli(),
			})
		}
	}

	a.logger.Debug("Assessment stored",
		zap.String("id", assessment.ID),
		zap.String("risk_level", string(assessment.RiskLevel)),
		zap.Bool("cached", cached))

	return &assessment, nil
}

func (a *Assessor) cachedVerdict(ctx context.Context, reading models.SensorReading) (models.RiskVerdict, bool) {
	if a.cache == nil {
		return models.RiskVerdict{}, false
	}

	verdict, err := a.cache.Get(ctx, cache.ReadingKey(reading))
	if err != nil {
		return models.RiskVerdict{}, false
	}

	a.mutex.Lock()
	a.stats.CacheHits++
	a.mutex.Unlock()

	return verdict, true
}

func (a *Assessor) storeVerdict(ctx context.Context, reading models.SensorReading, verdict models.RiskVerdict) {
	if a.cache == nil {
		return
	}

	if err := a.cache.SetWithTTL(ctx, cache.ReadingKey(reading), verdict, a.cacheTTL); err != nil {
		a.logger.Warn("Failed to cache verdict", zap.Error(err))
	}
}

// Current returns a copy of the latest assessment, or nil before the first
// successful classification.
func (a *Assessor) Current() *models.RiskAssessment {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	if a.current == nil {
		return nil
	}
	assessment := *a.current
	return &assessment
}

// History returns the assessment log, newest first.
func (a *Assessor) History() []models.RiskAssessment {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	history := make([]models.RiskAssessment, len(a.history))
	copy(history, a.history)
	return history
}

func (a *Assessor) GetStats() Stats {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	stats := a.stats
	stats.InFlight = a.inFlight.Load()
	return stats
}

// updateLatencyStats keeps an exponential moving average. Caller holds the
// mutex.
func (a *Assessor) updateLatencyStats(latency time.Duration) {
	currentLatency := float64(latency.Milliseconds())

	if a.stats.AverageLatency == 0 {
		a.stats.AverageLatency = currentLatency
	} else {
		alpha := 0.1
		a.stats.AverageLatency = alpha*currentLatency + (1-alpha)*a.stats.AverageLatency
	}
}
