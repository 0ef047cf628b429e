package services

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/temcen/partnerrec/internal/artifact"
	"github.com/temcen/partnerrec/internal/messaging"
)

// ArtifactRegistry is the read side of the artifact registry.
type ArtifactRegistry interface {
	ActiveRunID(ctx context.Context) (string, error)
	LoadActive(ctx context.Context) (*artifact.Artifact, *artifact.Manifest, error)
}

// ArtifactLoader keeps the in-process holder in step with the registry's
// active pointer.
type ArtifactLoader struct {
	registry ArtifactRegistry
	holder   *artifact.Holder
	metrics  *Metrics
	logger   *logrus.Logger
}

func NewArtifactLoader(registry ArtifactRegistry, holder *artifact.Holder, metrics *Metrics, logger *logrus.Logger) *ArtifactLoader {
	return &ArtifactLoader{registry: registry, holder: holder, metrics: metrics, logger: logger}
}

// Reload swaps in the active artifact when it differs from the one held.
// On any error the held artifact keeps serving.
func (l *ArtifactLoader) Reload(ctx context.Context) (bool, error) {
	runID, err := l.registry.ActiveRunID(ctx)
	if err != nil {
		if errors.Is(err, artifact.ErrNoActive) {
			return false, nil
		}
		return false, err
	}
	if runID == l.holder.RunID() {
		return false, nil
	}

	a, m, err := l.registry.LoadActive(ctx)
	if err != nil {
		return false, err
	}

	previous := l.holder.Swap(artifact.NewActive(a, m))
	if l.metrics != nil {
		l.metrics.SetActiveArtifact(a.TrainedAt)
	}

	fields := logrus.Fields{
		"training_run_id": a.RunID,
		"trained_at":      a.TrainedAt.Format(time.RFC3339),
		"partners":        len(a.Partners),
	}
	if previous != nil {
		fields["previous_run_id"] = previous.RunID()
	}
	l.logger.WithFields(fields).Info("Model artifact activated")
	return true, nil
}

// HandleEvent reloads on model activation events.
func (l *ArtifactLoader) HandleEvent(ctx context.Context, event messaging.ModelEvent) error {
	if event.Type != messaging.EventModelActivated {
		return nil
	}
	_, err := l.Reload(ctx)
	return err
}

// Poll reloads every interval until ctx ends. It covers lost events and a
// server started without Kafka.
func (l *ArtifactLoader) Poll(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := l.Reload(ctx); err != nil {
				l.logger.WithError(err).Warn("Periodic artifact reload failed")
			}
		}
	}
}
