package obstacle

import (
	"time"

	"github.com/wayguide/wayguide/internal/timeutil"
)

// DefaultVoteWindow is the wall-clock span of one majority vote.
const DefaultVoteWindow = time.Second

// Majority returns the most frequent vote. Ties go to the vote seen first.
// An empty slice yields NoVote.
func Majority(votes []Vote) Vote {
	counts := make(map[Vote]int, len(votes))
	var order []Vote
	for _, v := range votes {
		if counts[v] == 0 {
			order = append(order, v)
		}
		counts[v]++
	}
	best, bestN := NoVote, 0
	for _, v := range order {
		if counts[v] > bestN {
			best, bestN = v, counts[v]
		}
	}
	return best
}

// Voter accumulates votes over a fixed window. The window opens on the
// first vote after a reset.
type Voter struct {
	clock  timeutil.Clock
	window time.Duration

	start time.Time
	votes []Vote
}

// NewVoter creates a Voter with the given window.
func NewVoter(clock timeutil.Clock, window time.Duration) *Voter {
	return &Voter{clock: clock, window: window}
}

// Add records v. When the window has elapsed it returns the majority of
// the window (including v) and resets. NoVote entries are not counted.
func (vt *Voter) Add(v Vote) (Vote, bool) {
	now := vt.clock.Now()
	if vt.start.IsZero() {
		vt.start = now
	}
	if v != NoVote {
		vt.votes = append(vt.votes, v)
	}
	if now.Sub(vt.start) < vt.window {
		return NoVote, false
	}
	return vt.Flush(), true
}

// Flush returns the majority of the open window and resets it.
func (vt *Voter) Flush() Vote {
	m := Majority(vt.votes)
	vt.votes = vt.votes[:0]
	vt.start = time.Time{}
	return m
}

// Len is the number of votes in the open window.
func (vt *Voter) Len() int { return len(vt.votes) }
