package executorrt

import (
	"context"
	"testing"
	"time"

	"github.com/skylinedb/flightdeck/pkg/errs"
	"github.com/skylinedb/flightdeck/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type blockingWriter struct {
	started chan struct{}
}

func (w *blockingWriter) WriteShuffle(ctx context.Context, workDir string, plan []byte) (types.OutputLocation, error) {
	close(w.started)
	<-ctx.Done()
	return types.OutputLocation{}, ctx.Err()
}

type instantWriter struct{}

func (instantWriter) WriteShuffle(ctx context.Context, workDir string, plan []byte) (types.OutputLocation, error) {
	return types.OutputLocation{Path: "some/path", ExecutorID: "localhost1"}, nil
}

func TestExecuteShuffleWriteHappyPath(t *testing.T) {
	rt := New(instantWriter{}, "/tmp/work")
	out, err := rt.ExecuteShuffleWrite(context.Background(), "job-1", 0, 0, []byte("plan"))
	require.NoError(t, err)
	assert.Equal(t, "some/path", out.Path)
}

func TestExecuteShuffleWriteInvalidPlan(t *testing.T) {
	rt := New(instantWriter{}, "/tmp/work")
	_, err := rt.ExecuteShuffleWrite(context.Background(), "job-1", 0, 0, nil)
	assert.True(t, errs.Is(err, errs.InvalidPlan))
}

func TestCancelTaskUnknownReturnsFalse(t *testing.T) {
	rt := New(instantWriter{}, "/tmp/work")
	assert.False(t, rt.CancelTask("job-1", 0, 0))
}

func TestCancelTaskAbortsInFlightExecution(t *testing.T) {
	w := &blockingWriter{started: make(chan struct{})}
	rt := New(w, "/tmp/work")

	done := make(chan error, 1)
	go func() {
		_, err := rt.ExecuteShuffleWrite(context.Background(), "job-1", 1, 0, []byte("plan"))
		done <- err
	}()

	<-w.started
	require.Eventually(t, func() bool {
		return rt.CancelTask("job-1", 1, 0)
	}, time.Second, 5*time.Millisecond)

	select {
	case err := <-done:
		assert.True(t, errs.Is(err, errs.Cancelled))
	case <-time.After(5 * time.Second):
		t.Fatal("expected awaiting caller to observe cancellation within 5s")
	}
}
