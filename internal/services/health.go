package services

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/temcen/partnerrec/internal/database"
)

// Check probes one dependency.
type Check func(ctx context.Context) error

type HealthService struct {
	critical    map[string]Check
	nonCritical map[string]Check
	active      ActiveArtifact
	metrics     *Metrics
	logger      *logrus.Logger
	timeout     time.Duration
}

type HealthStatus struct {
	Status       string                 `json:"status"`
	Timestamp    time.Time              `json:"timestamp"`
	Services     map[string]string      `json:"services"`
	Critical     []string               `json:"critical_failures,omitempty"`
	NonCritical  []string               `json:"non_critical_failures,omitempty"`
	ModelVersion string                 `json:"model_version,omitempty"`
	Details      map[string]interface{} `json:"details,omitempty"`
}

// NewHealthService treats PostgreSQL as critical: without it no fallback
// list can be computed. Every redis instance and Neo4j only degrade.
func NewHealthService(db *database.Database, active ActiveArtifact, metrics *Metrics, logger *logrus.Logger) *HealthService {
	critical, degrading := db.Probes()
	return newHealthService(asChecks(critical), asChecks(degrading), active, metrics, logger)
}

func asChecks(probes map[string]database.Probe) map[string]Check {
	checks := make(map[string]Check, len(probes))
	for name, probe := range probes {
		checks[name] = Check(probe)
	}
	return checks
}

func newHealthService(critical, nonCritical map[string]Check, active ActiveArtifact, metrics *Metrics, logger *logrus.Logger) *HealthService {
	return &HealthService{
		critical:    critical,
		nonCritical: nonCritical,
		active:      active,
		metrics:     metrics,
		logger:      logger,
		timeout:     5 * time.Second,
	}
}

func (s *HealthService) CheckHealth(ctx context.Context) *HealthStatus {
	status := &HealthStatus{
		Timestamp: time.Now(),
		Services:  make(map[string]string),
	}

	// Check critical services
	allCriticalHealthy := true
	for _, name := range sortedChecks(s.critical) {
		if err := s.run(ctx, s.critical[name]); err != nil {
			status.Services[name] = "unhealthy"
			status.Critical = append(status.Critical, name)
			allCriticalHealthy = false
			s.logger.WithError(err).Errorf("Critical service %s is unhealthy", name)
			s.update(name, false)
		} else {
			status.Services[name] = "healthy"
			s.update(name, true)
		}
	}

	// Check non-critical services
	for _, name := range sortedChecks(s.nonCritical) {
		if err := s.run(ctx, s.nonCritical[name]); err != nil {
			status.Services[name] = "unhealthy"
			status.NonCritical = append(status.NonCritical, name)
			s.logger.WithError(err).Warnf("Non-critical service %s is unhealthy", name)
			s.update(name, false)
		} else {
			status.Services[name] = "healthy"
			s.update(name, true)
		}
	}

	// Without a model every user gets trending lists.
	if active := s.active.Load(); active != nil {
		status.ModelVersion = active.RunID()
		status.Services["model"] = "healthy"
		status.Details = map[string]interface{}{"model_trained_at": active.Artifact.TrainedAt}
		s.update("model", true)
	} else {
		status.Services["model"] = "unhealthy"
		status.NonCritical = append(status.NonCritical, "model")
		s.update("model", false)
	}

	// Overall status
	if allCriticalHealthy {
		if len(status.NonCritical) == 0 {
			status.Status = "healthy"
		} else {
			status.Status = "degraded"
		}
	} else {
		status.Status = "unhealthy"
	}

	return status
}

func (s *HealthService) run(ctx context.Context, check Check) (err error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err = errors.New("health check panicked")
		}
	}()
	return check(ctx)
}

func (s *HealthService) update(name string, healthy bool) {
	if s.metrics != nil {
		s.metrics.UpdateHealthMetrics(name, healthy)
	}
}

func sortedChecks(checks map[string]Check) []string {
	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
