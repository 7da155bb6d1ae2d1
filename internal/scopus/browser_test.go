package scopus

import (
	"context"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLinkCancel_RunCancellationReachesUnit(t *testing.T) {
	t.Parallel()

	run, cancelRun := context.WithCancel(context.Background())
	unit, cancelUnit := context.WithCancel(context.Background())
	defer cancelUnit()

	stop := linkCancel(run, cancelUnit)
	defer stop()

	cancelRun()
	require.Eventually(t, func() bool {
		return unit.Err() != nil
	}, time.Second, 5*time.Millisecond)
}

func TestLinkCancel_StoppedUnitsLeaveNothingBehind(t *testing.T) {
	run, cancelRun := context.WithCancel(context.Background())
	defer cancelRun()

	before := runtime.NumGoroutine()
	for i := 0; i < 100; i++ {
		unit, cancelUnit := context.WithCancel(context.Background())
		stop := linkCancel(run, cancelUnit)
		stop()
		cancelUnit()
		<-unit.Done()
	}
	// A watcher goroutine per unit would show up as ~100 extra here.
	require.LessOrEqual(t, runtime.NumGoroutine(), before+3)
}
