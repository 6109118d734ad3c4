package daemon

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvprime/nvprime/internal/events"
	"github.com/nvprime/nvprime/internal/foundation/errors"
	"github.com/nvprime/nvprime/internal/ipc"
	"github.com/nvprime/nvprime/internal/metrics"
	"github.com/nvprime/nvprime/internal/tuning"
)

type controllerFixture struct {
	*fixture
	liveness *fakeLiveness
	recorder *fakeRecorder
	emitter  *fakeEmitter
	ctrl     *Controller
}

func newControllerFixture(t *testing.T) *controllerFixture {
	t.Helper()
	cf := &controllerFixture{
		fixture:  newFixture(true),
		liveness: newFakeLiveness(),
		recorder: &fakeRecorder{},
		emitter:  &fakeEmitter{},
	}
	cf.ctrl = NewController(cf.state, startScheduler(t), cf.liveness, 10*time.Millisecond, cf.recorder, cf.emitter)
	t.Cleanup(cf.ctrl.Watchdog().Stop)
	return cf
}

func TestController_ApplyThenProcessExit(t *testing.T) {
	cf := newControllerFixture(t)
	ctx := context.Background()

	require.NoError(t, cf.ctrl.Apply(ctx, fullRequest("a", 100)))
	st := cf.ctrl.Status()
	assert.True(t, st.Active)
	assert.Equal(t, 1, st.Watchdogs)
	assert.Equal(t, []events.Type{events.TypeActivated, events.TypeApplied}, cf.emitter.types())

	cf.liveness.kill(100)
	require.Eventually(t, func() bool { return !cf.ctrl.Status().Active }, 2*time.Second, 5*time.Millisecond)

	_, restored := cf.gpu.calls()
	assert.Equal(t, []uint32{250000}, restored)
	require.Eventually(t, func() bool {
		calls := cf.recorder.restoreCalls()
		return len(calls) == 1 && calls[0] == restoreCall{metrics.TriggerWatchdog, metrics.ResultSuccess}
	}, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		types := cf.emitter.types()
		return len(types) == 4 && types[2] == events.TypeReleased && types[3] == events.TypeRestored
	}, 2*time.Second, 5*time.Millisecond)
}

func TestController_TwoProcessesOneRestore(t *testing.T) {
	cf := newControllerFixture(t)
	ctx := context.Background()

	require.NoError(t, cf.ctrl.Apply(ctx, fullRequest("a", 100)))
	require.NoError(t, cf.ctrl.Apply(ctx, fullRequest("b", 200)))

	cf.liveness.kill(100)
	require.Eventually(t, func() bool { return len(cf.ctrl.Status().PIDs) == 1 }, 2*time.Second, 5*time.Millisecond)
	_, restored := cf.gpu.calls()
	assert.Empty(t, restored)

	cf.liveness.kill(200)
	require.Eventually(t, func() bool { return !cf.ctrl.Status().Active }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(40 * time.Millisecond)
	_, restored = cf.gpu.calls()
	assert.Equal(t, []uint32{250000}, restored)
}

func TestController_ResetWhileIdle(t *testing.T) {
	cf := newControllerFixture(t)

	require.NoError(t, cf.ctrl.Reset(context.Background(), "r1"))
	assert.Empty(t, cf.emitter.types())
	assert.Empty(t, cf.recorder.restoreCalls())
}

func TestController_PartialReset(t *testing.T) {
	cf := newControllerFixture(t)
	ctx := context.Background()
	require.NoError(t, cf.ctrl.Apply(ctx, fullRequest("a", 100)))

	cf.gpu.setRestoreErr(stderrors.New("nvml: unknown error"))
	err := cf.ctrl.Reset(ctx, "r1")
	require.Error(t, err)
	assert.True(t, errors.HasCategory(err, errors.CategoryRestore))
	assert.False(t, cf.ctrl.Status().Active)

	assert.Equal(t, []restoreCall{{metrics.TriggerReset, metrics.ResultPartial}}, cf.recorder.restoreCalls())
	types := cf.emitter.types()
	assert.Equal(t, events.TypeRestoreFailed, types[len(types)-1])

	// The monitor for pid 100 finds it untracked and restores nothing more.
	cf.liveness.kill(100)
	require.Eventually(t, func() bool { return cf.ctrl.Watchdog().Active() == 0 }, 2*time.Second, 5*time.Millisecond)
	_, restored := cf.gpu.calls()
	assert.Len(t, restored, 1)
}

func TestController_ApplyFailure(t *testing.T) {
	cf := newControllerFixture(t)
	cf.prio.err = stderrors.New("operation not permitted")
	req := fullRequest("a", 100)
	req.Sys = tuning.SysConfig{Enabled: true, Renice: -5}

	err := cf.ctrl.Apply(context.Background(), req)
	require.Error(t, err)

	assert.Equal(t, []metrics.ResultLabel{metrics.ResultFailed}, cf.recorder.applies)
	assert.Equal(t, []restoreCall{{metrics.TriggerRollback, metrics.ResultSuccess}}, cf.recorder.restoreCalls())
	assert.Equal(t, []events.Type{events.TypeApplyFailed, events.TypeRestored}, cf.emitter.types())
	assert.Equal(t, 0, cf.ctrl.Watchdog().Active())
}

func TestController_SoftEPPFailureIsPartial(t *testing.T) {
	cf := newControllerFixture(t)
	cf.epp.setErr(stderrors.New("write failed"))

	require.NoError(t, cf.ctrl.Apply(context.Background(), fullRequest("a", 100)))
	assert.Equal(t, []metrics.ResultLabel{metrics.ResultPartial}, cf.recorder.applies)
	assert.Equal(t, []string{softFailureEPP}, cf.recorder.softFailures)
	assert.Equal(t, 1, cf.recorder.watchdogs)
}

func TestController_ServesIPC(t *testing.T) {
	cf := newControllerFixture(t)
	svc := ipc.NewService(cf.ctrl)

	t.Run("malformed blob is rejected without state change", func(t *testing.T) {
		dbusErr := svc.ApplyTuning(tuning.ProtocolVersion, 100, `{"cpu": {"enabled": "yes"}}`)
		require.NotNil(t, dbusErr)
		assert.Equal(t, ipc.ErrorConfig, dbusErr.Name)
		assert.False(t, cf.ctrl.Status().Active)
		assert.Equal(t, []metrics.ResultLabel{metrics.ResultRejected}, cf.recorder.applies)
		applied, _ := cf.gpu.calls()
		assert.Empty(t, applied)
	})

	t.Run("valid blob applies", func(t *testing.T) {
		blob, err := fullRequest("", 1).Config.Encode()
		require.NoError(t, err)
		require.Nil(t, svc.ApplyTuning(tuning.ProtocolVersion, 100, blob))
		assert.Equal(t, []int{100}, cf.ctrl.Status().PIDs)
	})

	t.Run("partial reset maps to PartialRestore", func(t *testing.T) {
		cf.gpu.setRestoreErr(stderrors.New("nvml: unknown error"))
		dbusErr := svc.ResetTuning()
		require.NotNil(t, dbusErr)
		assert.Equal(t, ipc.ErrorPartialRestore, dbusErr.Name)
		assert.Empty(t, cf.ctrl.Status().PIDs)
	})
}

func TestController_Shutdown(t *testing.T) {
	cf := newControllerFixture(t)
	require.NoError(t, cf.ctrl.Apply(context.Background(), fullRequest("a", 100)))

	require.NoError(t, cf.ctrl.Shutdown())
	assert.False(t, cf.ctrl.Status().Active)
	assert.Equal(t, []restoreCall{{metrics.TriggerShutdown, metrics.ResultSuccess}}, cf.recorder.restoreCalls())
	assert.Equal(t, 0, cf.recorder.activePIDs)
}

func TestController_ApplyAfterShutdown(t *testing.T) {
	cf := newControllerFixture(t)
	ctx := context.Background()
	require.NoError(t, cf.ctrl.Apply(ctx, fullRequest("a", 100)))
	require.NoError(t, cf.ctrl.Shutdown())

	err := cf.ctrl.Apply(ctx, fullRequest("b", 200))
	require.Error(t, err)
	assert.True(t, errors.HasCategory(err, errors.CategoryDaemon))

	st := cf.ctrl.Status()
	assert.False(t, st.Active)
	assert.Empty(t, st.PIDs)
	applied, restored := cf.gpu.calls()
	assert.Len(t, applied, 1)
	assert.Len(t, restored, 1)
	assert.Equal(t, []metrics.ResultLabel{metrics.ResultSuccess, metrics.ResultFailed}, cf.recorder.applies)
}

func TestController_WatchFailure(t *testing.T) {
	cf := newControllerFixture(t)
	ctx := context.Background()
	require.NoError(t, cf.ctrl.Apply(ctx, fullRequest("a", 100)))

	cf.ctrl.watch = func(int, time.Duration) (uuid.UUID, error) {
		return uuid.Nil, stderrors.New("scheduler stopped")
	}

	t.Run("already tracked pid stays on its earlier monitor", func(t *testing.T) {
		err := cf.ctrl.Apply(ctx, fullRequest("b", 100))
		require.Error(t, err)
		assert.True(t, errors.HasCategory(err, errors.CategoryInternal))

		st := cf.ctrl.Status()
		assert.Equal(t, []int{100}, st.PIDs)
		assert.Equal(t, 1, st.Watchdogs)
	})

	t.Run("new pid is released", func(t *testing.T) {
		err := cf.ctrl.Apply(ctx, fullRequest("c", 200))
		require.Error(t, err)

		assert.Equal(t, []int{100}, cf.ctrl.Status().PIDs)
		_, restored := cf.gpu.calls()
		assert.Empty(t, restored)
	})

	// The earlier monitor still releases pid 100 and restores once.
	cf.liveness.kill(100)
	require.Eventually(t, func() bool { return !cf.ctrl.Status().Active }, 2*time.Second, 5*time.Millisecond)
	_, restored := cf.gpu.calls()
	assert.Equal(t, []uint32{250000}, restored)
}
