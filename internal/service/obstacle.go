package service

import (
	"context"
	"time"

	"github.com/wayguide/wayguide/internal/camera"
	"github.com/wayguide/wayguide/internal/guidance"
	"github.com/wayguide/wayguide/internal/monitoring"
	"github.com/wayguide/wayguide/internal/obstacle"
	"github.com/wayguide/wayguide/internal/timeutil"
)

var voteKeys = map[obstacle.Vote]guidance.Key{
	obstacle.StopNear:    guidance.KeyObstacleAhead,
	obstacle.StopCaution: guidance.KeyObstacleAhead,
	obstacle.Forward:     guidance.KeyGoForward,
	obstacle.Right:       guidance.KeyGoRight,
	obstacle.Left:        guidance.KeyGoLeft,
	obstacle.Back:        guidance.KeyGoBack,
}

// ObstacleService classifies disparity frames and sends one guidance reply
// per vote window.
type ObstacleService struct {
	runner

	grid     obstacle.Grid
	voter    *obstacle.Voter
	clock    timeutil.Clock
	interval time.Duration
	catalog  *guidance.Catalog
	metrics  *monitoring.Metrics
}

// NewObstacleService creates an unstarted obstacle service.
func NewObstacleService(deps Deps) *ObstacleService {
	return &ObstacleService{
		runner:   newRunner(KindObstacle),
		grid:     deps.Grid,
		voter:    obstacle.NewVoter(deps.Clock, deps.VoteWindow),
		clock:    deps.Clock,
		interval: deps.ObstacleInterval,
		catalog:  deps.Catalog,
		metrics:  deps.Metrics,
	}
}

func (s *ObstacleService) Start(ctx context.Context, dev camera.Source, sink Sink) {
	s.launch(ctx, sink, func(ctx context.Context) { s.loop(ctx, dev) })
}

func (s *ObstacleService) loop(ctx context.Context, dev camera.Source) {
	s.logf("started generation %s", s.gen)
	defer s.logf("stopped generation %s", s.gen)

	for {
		select {
		case <-s.stopped():
			return
		case <-s.clock.After(s.interval):
		}

		frame, err := dev.NextDisparity(ctx)
		if err != nil {
			if ctx.Err() != nil || s.terminated() {
				return
			}
			s.logf("disparity read failed, stopping: %v", err)
			s.emit(s.catalog.Obstacle(guidance.KeyCameraUnavailable))
			return
		}

		vote, done := s.voter.Add(s.grid.Classify(frame))
		if !done || vote == obstacle.NoVote {
			continue
		}
		s.metrics.ObstacleVote(vote.String())
		s.emit(s.catalog.Obstacle(voteKeys[vote]))
	}
}
