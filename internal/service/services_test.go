package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"

	"github.com/wayguide/wayguide/internal/camera"
	"github.com/wayguide/wayguide/internal/escalator"
	"github.com/wayguide/wayguide/internal/flow"
	"github.com/wayguide/wayguide/internal/geom"
	"github.com/wayguide/wayguide/internal/guidance"
	"github.com/wayguide/wayguide/internal/obstacle"
	"github.com/wayguide/wayguide/internal/timeutil"
)

func testDeps(t *testing.T) Deps {
	t.Helper()
	catalog, err := guidance.NewCatalog("")
	require.NoError(t, err)

	clock := timeutil.NewSteppingClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), 100*time.Millisecond)
	down := flow.TrackerFunc(func(prev, cur gocv.Mat, pts []geom.Point, p flow.Params) ([]geom.Point, []bool, error) {
		out := make([]geom.Point, len(pts))
		ok := make([]bool, len(pts))
		for i, pt := range pts {
			out[i] = geom.Point{X: pt.X, Y: pt.Y + 5}
			ok[i] = true
		}
		return out, ok, nil
	})

	return Deps{
		Catalog:    catalog,
		Clock:      timeutil.RealClock{},
		Grid:       obstacle.DefaultGrid(),
		VoteWindow: 5 * time.Millisecond,
		Detector: &escalator.Detector{
			Locator: escalator.Locator{Clock: clock, Warmup: escalator.DefaultWarmup, Window: escalator.DefaultLocateWindow},
			Tracker: escalator.Tracker{
				Clock:  clock,
				Flow:   down,
				Window: escalator.DefaultTrackWindow,
				Front:  flow.FrontParams(),
				Down:   flow.DownParams(),
			},
			Classifier: escalator.DefaultClassifier(),
		},
	}
}

func TestObstacleService_Guidance(t *testing.T) {
	rec := &recorder{}
	devs := &deviceLog{setup: func(d *camera.ScriptedDevice) { d.Disparity = collisionFrame }}
	o := newTestOrchestrator(t, testDeps(t).Builder(), devs, rec, true)

	require.NoError(t, o.Handle(context.Background(), []byte(`{"mode":"obstacle"}`)))
	out := rec.waitFor(t, 2)

	assert.Equal(t, "obstacle模式", out[0].Reply.Message)
	assert.Equal(t, guidance.Reply{Action: guidance.ActionObstacle, Message: "前方不便前行"}, out[1].Reply)
}

func TestObstacleService_SensorFaultReturnsToIdle(t *testing.T) {
	rec := &recorder{}
	devs := &deviceLog{} // nil Disparity: the queue is always empty
	o := newTestOrchestrator(t, testDeps(t).Builder(), devs, rec, true)

	require.NoError(t, o.Switch(context.Background(), KindObstacle))
	require.Eventually(t, func() bool { return o.State() == Idle }, 2*time.Second, time.Millisecond)

	out := rec.replies()
	require.Len(t, out, 2)
	assert.Equal(t, guidance.Reply{Action: guidance.ActionObstacle, Message: "無法取得影像"}, out[1].Reply)
	require.Eventually(t, devs.opened()[0].Closed, time.Second, time.Millisecond)
}

func TestEscalatorService_DetectsDown(t *testing.T) {
	rec := &recorder{}
	devs := &deviceLog{setup: func(d *camera.ScriptedDevice) {
		d.Width, d.Height = 640, 400
		d.Detections = func(int) []camera.Detection {
			return []camera.Detection{
				{Label: camera.LabelDown, XMin: 0.3, YMin: 0.2, XMax: 0.7, YMax: 0.8},
				{Label: camera.LabelStep, XMin: 0.4, YMin: 0.25, XMax: 0.6, YMax: 0.5},
			}
		}
	}}
	o := newTestOrchestrator(t, testDeps(t).Builder(), devs, rec, true)

	require.NoError(t, o.Handle(context.Background(), []byte(`{"mode":"elevator"}`)))
	out := rec.waitFor(t, 2)

	assert.Equal(t, "elevator模式", out[0].Reply.Message)
	assert.Equal(t, guidance.Reply{Action: guidance.ActionElevator, Message: "電梯向下"}, out[1].Reply)
	assert.Equal(t, out[0].Generation, out[1].Generation)
}

func TestEscalatorService_NotFound(t *testing.T) {
	rec := &recorder{}
	devs := &deviceLog{setup: func(d *camera.ScriptedDevice) {
		d.Detections = func(int) []camera.Detection { return nil }
	}}
	o := newTestOrchestrator(t, testDeps(t).Builder(), devs, rec, true)

	require.NoError(t, o.Switch(context.Background(), KindElevator))
	out := rec.waitFor(t, 2)
	assert.Equal(t, guidance.Reply{Action: guidance.ActionElevator, Message: "找不到電梯"}, out[1].Reply)
	assert.Equal(t, RunningElevator, o.State(), "not found is not a fault")
}

func TestEscalatorService_SensorFault(t *testing.T) {
	rec := &recorder{}
	devs := &deviceLog{setup: func(d *camera.ScriptedDevice) { d.ColorLimit = 3 }}
	o := newTestOrchestrator(t, testDeps(t).Builder(), devs, rec, true)

	require.NoError(t, o.Switch(context.Background(), KindElevator))
	require.Eventually(t, func() bool { return o.State() == Idle }, 2*time.Second, time.Millisecond)

	out := rec.replies()
	require.Len(t, out, 2)
	assert.Equal(t, "無法取得影像", out[1].Reply.Message)
}

func TestRunner_NoEmitAfterTerminate(t *testing.T) {
	rec := &recorder{}
	r := newRunner(KindObstacle)
	r.launch(context.Background(), rec, func(ctx context.Context) { <-ctx.Done() })

	assert.True(t, r.emit(tickReply))
	r.Terminate()
	assert.False(t, r.emit(tickReply))
	<-r.Done()
	assert.Equal(t, 1, rec.count())
}

func TestRunner_TerminateBeforeLaunch(t *testing.T) {
	r := newRunner(KindElevator)
	r.Terminate()
	r.Terminate()
	r.launch(context.Background(), &recorder{}, func(ctx context.Context) { <-ctx.Done() })

	select {
	case <-r.Done():
	case <-time.After(time.Second):
		t.Fatal("loop did not observe early termination")
	}
}

func TestDepsBuilder(t *testing.T) {
	d := testDeps(t)
	svc, err := d.Builder()(KindObstacle)
	require.NoError(t, err)
	assert.Equal(t, KindObstacle, svc.Kind())

	d.Detector = nil
	_, err = d.Builder()(KindElevator)
	assert.Error(t, err)
	_, err = d.Builder()(KindNone)
	assert.Error(t, err)
}
