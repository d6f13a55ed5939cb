package service

import (
	"fmt"
	"time"

	"github.com/wayguide/wayguide/internal/escalator"
	"github.com/wayguide/wayguide/internal/guidance"
	"github.com/wayguide/wayguide/internal/monitoring"
	"github.com/wayguide/wayguide/internal/obstacle"
	"github.com/wayguide/wayguide/internal/timeutil"
)

// Deps collects what the concrete services need.
type Deps struct {
	Catalog *guidance.Catalog
	Metrics *monitoring.Metrics
	Clock   timeutil.Clock

	Grid             obstacle.Grid
	VoteWindow       time.Duration
	ObstacleInterval time.Duration

	Detector *escalator.Detector
}

// Builder creates a new, unstarted service of the given kind.
type Builder func(kind Kind) (Service, error)

// Builder returns a Builder backed by the concrete services.
func (d Deps) Builder() Builder {
	return func(kind Kind) (Service, error) {
		switch kind {
		case KindObstacle:
			return NewObstacleService(d), nil
		case KindElevator:
			if d.Detector == nil {
				return nil, fmt.Errorf("no escalator detector configured")
			}
			return NewEscalatorService(d), nil
		}
		return nil, fmt.Errorf("no service for kind %s", kind)
	}
}
