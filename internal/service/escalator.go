package service

import (
	"context"
	"errors"

	"github.com/wayguide/wayguide/internal/camera"
	"github.com/wayguide/wayguide/internal/escalator"
	"github.com/wayguide/wayguide/internal/guidance"
	"github.com/wayguide/wayguide/internal/monitoring"
)

var directionKeys = map[escalator.Direction]guidance.Key{
	escalator.Up:         guidance.KeyEscalatorUp,
	escalator.Down:       guidance.KeyEscalatorDown,
	escalator.Stationary: guidance.KeyEscalatorStationary,
}

// EscalatorService repeats detection runs and sends one reply per run.
type EscalatorService struct {
	runner

	detector *escalator.Detector
	catalog  *guidance.Catalog
	metrics  *monitoring.Metrics
}

// NewEscalatorService creates an unstarted escalator service. The detector
// is shared between generations so its run guard spans mode switches.
func NewEscalatorService(deps Deps) *EscalatorService {
	return &EscalatorService{
		runner:   newRunner(KindElevator),
		detector: deps.Detector,
		catalog:  deps.Catalog,
		metrics:  deps.Metrics,
	}
}

func (s *EscalatorService) Start(ctx context.Context, dev camera.Source, sink Sink) {
	s.launch(ctx, sink, func(ctx context.Context) { s.loop(ctx, dev) })
}

func (s *EscalatorService) loop(ctx context.Context, dev camera.Source) {
	s.logf("started generation %s", s.gen)
	defer s.logf("stopped generation %s", s.gen)

	for !s.terminated() {
		res, err := s.detector.Run(ctx, dev)
		if ctx.Err() != nil || s.terminated() {
			return
		}

		switch {
		case err == nil:
			s.logf("direction %s (view %s, %d points, mean %.1f deg)", res.Direction, res.View, res.Points, res.MeanAngle)
			s.metrics.EscalatorOutcome(res.Direction.String())
			s.emit(s.catalog.Elevator(directionKeys[res.Direction]))
		case errors.Is(err, escalator.ErrNotFound):
			s.metrics.EscalatorOutcome("not_found")
			s.emit(s.catalog.Elevator(guidance.KeyEscalatorNotFound))
		default:
			if !errors.Is(err, escalator.ErrSensorIO) && !errors.Is(err, camera.ErrClosed) {
				s.logf("unexpected run error: %v", err)
			}
			s.logf("run aborted, stopping: %v", err)
			s.metrics.EscalatorOutcome("sensor_error")
			s.emit(s.catalog.Elevator(guidance.KeyCameraUnavailable))
			return
		}
	}
}
