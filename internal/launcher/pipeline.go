package launcher

import (
	"context"
	"log/slog"
	"time"
	"workloadlauncher/internal/apperrors"
	"workloadlauncher/internal/observability"
)

// stage is one step of a launch. Stages run in order and the first error
// ends the launch.
type stage struct {
	name  string
	stage apperrors.Stage // Reported when run fails with an untyped error
	run   func(ctx context.Context) error
}

// pipeline runs the stages of one launch and records its outcome.
type pipeline struct {
	operation string
	backend   string
	unit      string
	metrics   *observability.Metrics
	logger    *slog.Logger
}

func (p *pipeline) run(ctx context.Context, stages []stage) error {
	start := time.Now()
	p.metrics.RecordLaunchStarted(ctx, p.operation)

	for _, s := range stages {
		stageStart := time.Now()
		if err := s.run(ctx); err != nil {
			err = p.classify(s, err)
			p.metrics.RecordStageError(ctx, p.operation, string(apperrors.StageOf(err)))
			p.metrics.RecordLaunchCompleted(ctx, p.operation, p.backend, false, time.Since(start).Seconds())
			p.logger.Debug("Launch stage failed", "stage", s.name, "error", err)
			return err
		}
		p.logger.Debug("Launch stage completed", "stage", s.name, "duration", time.Since(stageStart))
	}

	p.metrics.RecordLaunchCompleted(ctx, p.operation, p.backend, true, time.Since(start).Seconds())
	p.logger.Info("Launch completed", "duration", time.Since(start))
	return nil
}

// classify makes sure a failed launch reports a stage.
func (p *pipeline) classify(s stage, err error) error {
	if apperrors.StageOf(err) != "" {
		return err
	}
	return apperrors.Platform(s.stage, p.unit, s.name, err)
}
