package config

import (
	"time"

	"github.com/wayguide/wayguide/internal/escalator"
	"github.com/wayguide/wayguide/internal/guidance"
	"github.com/wayguide/wayguide/internal/obstacle"
	"github.com/wayguide/wayguide/internal/serialmux"
	"github.com/wayguide/wayguide/internal/service"
)

// GetLocale returns the guidance locale or the default.
func (c *Config) GetLocale() string {
	return stringOr(c.Locale, guidance.DefaultLocale)
}

// GetEscalatorWarmup returns how long frames are discarded before locating.
func (c *Config) GetEscalatorWarmup() time.Duration {
	return durationOr(c.Escalator.Warmup, escalator.DefaultWarmup)
}

func (c *Config) GetLocateWindow() time.Duration {
	return durationOr(c.Escalator.LocateWindow, escalator.DefaultLocateWindow)
}

func (c *Config) GetTrackWindow() time.Duration {
	return durationOr(c.Escalator.TrackWindow, escalator.DefaultTrackWindow)
}

// GetMinStepMovementRatio returns the front-view dead zone as a fraction of
// step height.
func (c *Config) GetMinStepMovementRatio() float64 {
	if c.Escalator.MinStepMovementRatio == nil {
		return escalator.DefaultMinStepMovementRatio
	}
	return *c.Escalator.MinStepMovementRatio
}

// GetGrid returns the obstacle grid, with fields absent from the file taken
// from obstacle.DefaultGrid.
func (c *Config) GetGrid() obstacle.Grid {
	if c.Obstacle.Grid == nil {
		return obstacle.DefaultGrid()
	}
	return *c.Obstacle.Grid
}

func (c *Config) GetVoteWindow() time.Duration {
	return durationOr(c.Obstacle.VoteWindow, obstacle.DefaultVoteWindow)
}

// GetObstacleInterval returns the pause between disparity reads.
func (c *Config) GetObstacleInterval() time.Duration {
	return durationOr(c.Obstacle.Interval, 100*time.Millisecond)
}

func (c *Config) GetResetDeviceOnSwitch() bool {
	return boolOr(c.Service.ResetDeviceOnSwitch, true)
}

func (c *Config) GetJoinTimeout() time.Duration {
	return durationOr(c.Service.JoinTimeout, service.DefaultJoinTimeout)
}

// GetReplayDir returns the replay manifest directory, or "" for none.
func (c *Config) GetReplayDir() string {
	return stringOr(c.Camera.ReplayDir, "")
}

func (c *Config) GetReadRetries() int {
	if c.Camera.ReadRetries == nil {
		return 50
	}
	return *c.Camera.ReadRetries
}

func (c *Config) GetReadRetryInterval() time.Duration {
	return durationOr(c.Camera.ReadRetryInterval, 20*time.Millisecond)
}

// GetLinkKind returns "serial" or "tcp".
func (c *Config) GetLinkKind() string {
	return stringOr(c.Link.Kind, LinkSerial)
}

func (c *Config) GetLinkDevice() string {
	return stringOr(c.Link.Device, "/dev/rfcomm0")
}

func (c *Config) GetLinkListen() string {
	return stringOr(c.Link.Listen, "127.0.0.1:7070")
}

// GetLinkRetryInterval returns how long to wait between attempts to open the
// serial device while no client is bound.
func (c *Config) GetLinkRetryInterval() time.Duration {
	return durationOr(c.Link.RetryInterval, time.Second)
}

func (c *Config) GetPortOptions() serialmux.PortOptions {
	if c.Link.Port == nil {
		return serialmux.PortOptions{}
	}
	return *c.Link.Port
}

func (c *Config) GetJournalEnabled() bool {
	return boolOr(c.Journal.Enabled, false)
}

func (c *Config) GetJournalPath() string {
	return stringOr(c.Journal.Path, "wayguide.db")
}

func (c *Config) GetMirrorEnabled() bool {
	return boolOr(c.Mirror.Enabled, false)
}

func (c *Config) GetMirrorBroker() string {
	return stringOr(c.Mirror.Broker, "")
}

func (c *Config) GetMirrorClientID() string {
	return stringOr(c.Mirror.ClientID, "wayguide")
}

func (c *Config) GetMirrorUsername() string {
	return stringOr(c.Mirror.Username, "")
}

func (c *Config) GetMirrorPassword() string {
	return stringOr(c.Mirror.Password, "")
}

func (c *Config) GetMirrorTopicPrefix() string {
	return stringOr(c.Mirror.TopicPrefix, "wayguide")
}

func (c *Config) GetMirrorPublishTimeout() time.Duration {
	return durationOr(c.Mirror.PublishTimeout, 5*time.Second)
}

// GetDebugListen returns the debug HTTP address; "" disables the listener.
func (c *Config) GetDebugListen() string {
	return stringOr(c.Debug.Listen, "127.0.0.1:8090")
}
