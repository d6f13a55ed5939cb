package obstacle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/wayguide/wayguide/internal/timeutil"
)

func TestMajority(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		votes []Vote
		want  Vote
	}{
		{"clear winner", []Vote{Forward, Forward, Left}, Forward},
		{"empty", nil, NoVote},
		{"tie goes to first seen", []Vote{Left, Right, Right, Left}, Left},
		{"later majority", []Vote{Back, Right, Right}, Right},
		{"single", []Vote{StopNear}, StopNear},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Majority(tt.votes))
		})
	}
}

func TestVoter_Window(t *testing.T) {
	t.Parallel()

	clock := timeutil.NewMockClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	v := NewVoter(clock, time.Second)

	_, done := v.Add(Forward)
	assert.False(t, done)
	clock.Advance(400 * time.Millisecond)
	_, done = v.Add(Forward)
	assert.False(t, done)
	clock.Advance(600 * time.Millisecond)

	got, done := v.Add(Left)
	assert.True(t, done)
	assert.Equal(t, Forward, got)
	assert.Zero(t, v.Len(), "window resets after a result")

	clock.Advance(100 * time.Millisecond)
	_, done = v.Add(Right)
	assert.False(t, done, "a new window opens on the next vote")
}

func TestVoter_FlushEmpty(t *testing.T) {
	t.Parallel()

	v := NewVoter(timeutil.NewMockClock(time.Unix(0, 0)), time.Second)
	assert.NotPanics(t, func() {
		assert.Equal(t, NoVote, v.Flush())
	})
}

func TestVoter_IgnoresNoVote(t *testing.T) {
	t.Parallel()

	clock := timeutil.NewMockClock(time.Unix(0, 0))
	v := NewVoter(clock, time.Second)
	v.Add(NoVote)
	clock.Advance(time.Second)
	got, done := v.Add(NoVote)
	assert.True(t, done)
	assert.Equal(t, NoVote, got)
}

func TestVoteString(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "forward", Forward.String())
	assert.Equal(t, "stop_near", StopNear.String())
	assert.Equal(t, "vote(42)", Vote(42).String())
}
