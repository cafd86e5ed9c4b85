package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/CillianDeasy/esb-smart-meter-reading-automation/esb"
	"github.com/CillianDeasy/esb-smart-meter-reading-automation/esb/esbtest"
	"github.com/CillianDeasy/esb-smart-meter-reading-automation/pkg/buffer"
	"github.com/CillianDeasy/esb-smart-meter-reading-automation/pkg/types"
	"github.com/CillianDeasy/esb-smart-meter-reading-automation/readings"
)

const threeRowExport = "MPRN,Meter Serial Number,Read Value,Read Type,Read Date and End Time\n" +
	"10012345678,000000000012345678,1.234,Active Import Interval (kW),21-07-2023 14:00\n" +
	"10012345678,000000000012345678,0.500,Active Import Interval (kW),21-07-2023 14:30\n" +
	"10012345678,000000000012345678,0.250,Active Import Interval (kW),21-07-2023 15:00\n"

type recordingWriter struct {
	mu      sync.Mutex
	batches [][]types.Point
	err     error
}

func (w *recordingWriter) Write(ctx context.Context, points []types.Point) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.batches = append(w.batches, points)
	return w.err
}

func (w *recordingWriter) Close() error { return nil }

func (w *recordingWriter) calls() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.batches)
}

func newTestRunner(t *testing.T, export string, writer *recordingWriter) (*Runner, *esbtest.Portal) {
	t.Helper()
	portal := esbtest.NewPortal("user@example.com", "secret", "10012345678", export)
	t.Cleanup(portal.Close)

	dublin, err := time.LoadLocation(readings.DefaultTimezone)
	require.NoError(t, err)

	runner, err := NewRunner(Options{
		Credentials: esb.Credentials{Username: "user@example.com", Password: "secret", MPRN: "10012345678"},
		Client: esb.Config{
			Endpoints: esb.Endpoints{
				PortalURL: portal.PortalURL(),
				LoginURL:  portal.LoginURL(),
				Policy:    esbtest.Policy,
				ExportURL: portal.ExportURL(),
			},
			Timeout: 5 * time.Second,
		},
		Location: dublin,
	}, writer, zap.NewNop())
	require.NoError(t, err)
	return runner, portal
}

func TestRunWritesEveryReading(t *testing.T) {
	writer := &recordingWriter{}
	runner, portal := newTestRunner(t, threeRowExport, writer)

	start := time.Date(2023, 7, 21, 0, 0, 0, 0, time.UTC)
	result, err := runner.Run(context.Background(), start)
	require.NoError(t, err)

	require.Equal(t, "2023-07-21", portal.StartDate())
	require.NotEmpty(t, result.RunID)
	require.Equal(t, 4, result.Lines)
	require.Equal(t, 3, result.Records)
	require.Equal(t, 3, result.Points)
	require.Equal(t, time.Unix(1689944400, 0).UTC(), result.First)
	require.Equal(t, time.Unix(1689948000, 0).UTC(), result.Last)

	require.Equal(t, 1, writer.calls())
	points := writer.batches[0]
	require.Len(t, points, 3)
	for _, p := range points {
		require.Equal(t, readings.DefaultMeasurement, p.Measurement)
		require.Equal(t, map[string]string{
			readings.TagMPRN:         "10012345678",
			readings.TagSerialNumber: "000000000012345678",
			readings.TagReadType:     "Active Import Interval (kW)",
		}, p.Tags)
	}
	require.Equal(t, int64(1689946200), points[1].Timestamp)
	require.Equal(t, 0.5, points[1].Fields[types.DefaultField])
}

func TestRunEmptyExport(t *testing.T) {
	for name, export := range map[string]string{
		"empty body":  "",
		"header only": "MPRN,Meter Serial Number,Read Value,Read Type,Read Date and End Time\n",
	} {
		t.Run(name, func(t *testing.T) {
			writer := &recordingWriter{}
			runner, _ := newTestRunner(t, export, writer)

			_, err := runner.Run(context.Background(), time.Now())
			require.ErrorIs(t, err, ErrNoReadings)
			require.Zero(t, writer.calls())
		})
	}
}

func TestRunLoginFailure(t *testing.T) {
	writer := &recordingWriter{}
	runner, portal := newTestRunner(t, threeRowExport, writer)
	portal.Password = "changed"

	_, err := runner.Run(context.Background(), time.Now())
	require.ErrorIs(t, err, esb.ErrCredentialsRejected)
	require.True(t, isLoginError(err))
	require.Zero(t, writer.calls())
}

func TestRunBadRow(t *testing.T) {
	writer := &recordingWriter{}
	export := "MPRN,Meter Serial Number,Read Value,Read Type,Read Date and End Time\n" +
		"10012345678,000000000012345678,n/a,Active Import Interval (kW),21-07-2023 14:00\n"
	runner, _ := newTestRunner(t, export, writer)

	_, err := runner.Run(context.Background(), time.Now())
	require.Error(t, err)
	require.Contains(t, err.Error(), "row 2")
	require.Zero(t, writer.calls())
}

func TestRunWriteFailure(t *testing.T) {
	writer := &recordingWriter{err: errors.New("remote_write unavailable")}
	runner, _ := newTestRunner(t, threeRowExport, writer)

	_, err := runner.Run(context.Background(), time.Now())

	var writeErr *WriteError
	require.ErrorAs(t, err, &writeErr)
	require.Len(t, writeErr.Points, 3)
	require.Contains(t, err.Error(), "remote_write unavailable")
}

func TestExport(t *testing.T) {
	writer := &recordingWriter{}
	runner, _ := newTestRunner(t, threeRowExport, writer)

	lines, err := runner.Export(context.Background(), time.Now())
	require.NoError(t, err)
	require.Len(t, lines, 4)
	require.Zero(t, writer.calls())
}

func TestMergePoints(t *testing.T) {
	tags := map[string]string{"mprn": "1"}
	carried := []types.Point{
		{Measurement: "m", Tags: tags, Fields: map[string]float64{"value": 1}, Timestamp: 100},
		{Measurement: "m", Tags: tags, Fields: map[string]float64{"value": 2}, Timestamp: 200},
	}
	fresh := []types.Point{
		{Measurement: "m", Tags: tags, Fields: map[string]float64{"value": 20}, Timestamp: 200},
		{Measurement: "m", Tags: tags, Fields: map[string]float64{"value": 3}, Timestamp: 300},
	}

	merged := mergePoints(carried, fresh)
	require.Len(t, merged, 3)
	require.Equal(t, int64(100), merged[0].Timestamp)
	require.Equal(t, 20.0, merged[1].Fields["value"])
	require.Equal(t, int64(300), merged[2].Timestamp)

	require.Equal(t, fresh, mergePoints(nil, fresh))
}

func TestSchedulerCarriesFailedPoints(t *testing.T) {
	writer := &recordingWriter{err: errors.New("backend down")}
	runner, _ := newTestRunner(t, threeRowExport, writer)

	pending := buffer.New[types.Point](100, zap.NewNop())
	startDate := func(now time.Time) (time.Time, error) {
		return time.Date(2023, 7, 21, 0, 0, 0, 0, time.UTC), nil
	}
	s, err := NewScheduler(runner, "@every 1h", startDate, pending, zap.NewNop())
	require.NoError(t, err)

	s.runOnce()
	status := s.Status()
	require.Equal(t, 3, status.PendingPoints)
	require.Contains(t, status.LastError, "backend down")
	require.True(t, status.LastSuccess.IsZero())

	writer.mu.Lock()
	writer.err = nil
	writer.mu.Unlock()

	s.runOnce()
	status = s.Status()
	require.Zero(t, status.PendingPoints)
	require.Empty(t, status.LastError)
	require.False(t, status.LastSuccess.IsZero())
	// The same export again: carried points are superseded, not duplicated
	require.Equal(t, 3, status.LastPoints)
	require.Len(t, writer.batches[1], 3)
}

func TestSchedulerRunOnStart(t *testing.T) {
	writer := &recordingWriter{}
	runner, _ := newTestRunner(t, threeRowExport, writer)

	pending := buffer.New[types.Point](100, zap.NewNop())
	startDate := func(now time.Time) (time.Time, error) { return now, nil }
	s, err := NewScheduler(runner, "@daily", startDate, pending, zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx, true)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return !s.Status().LastSuccess.IsZero()
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop")
	}
	require.Equal(t, 1, writer.calls())
}

// slowWriter holds every write until release is closed
type slowWriter struct {
	started  chan struct{}
	release  chan struct{}
	finished atomic.Bool
}

func (w *slowWriter) Write(ctx context.Context, points []types.Point) error {
	close(w.started)
	<-w.release
	w.finished.Store(true)
	return nil
}

func (w *slowWriter) Close() error { return nil }

func TestSchedulerStopWaitsForStartupRun(t *testing.T) {
	portal := esbtest.NewPortal("user@example.com", "secret", "10012345678", threeRowExport)
	t.Cleanup(portal.Close)

	writer := &slowWriter{started: make(chan struct{}), release: make(chan struct{})}
	runner, err := NewRunner(Options{
		Credentials: esb.Credentials{Username: "user@example.com", Password: "secret", MPRN: "10012345678"},
		Client: esb.Config{
			Endpoints: esb.Endpoints{
				PortalURL: portal.PortalURL(),
				LoginURL:  portal.LoginURL(),
				Policy:    esbtest.Policy,
				ExportURL: portal.ExportURL(),
			},
			Timeout: 5 * time.Second,
		},
	}, writer, zap.NewNop())
	require.NoError(t, err)

	startDate := func(now time.Time) (time.Time, error) { return now, nil }
	s, err := NewScheduler(runner, "@daily", startDate, buffer.New[types.Point](100, zap.NewNop()), zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx, true)
		close(done)
	}()

	select {
	case <-writer.started:
	case <-time.After(5 * time.Second):
		t.Fatal("startup run never reached the writer")
	}
	cancel()

	select {
	case <-done:
		t.Fatal("Run returned while the startup run was still writing")
	case <-time.After(100 * time.Millisecond):
	}

	close(writer.release)
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop")
	}
	require.True(t, writer.finished.Load())
}

func TestNewSchedulerInvalidSpec(t *testing.T) {
	runner, _ := newTestRunner(t, threeRowExport, &recordingWriter{})
	_, err := NewScheduler(runner, "not a schedule", nil, buffer.New[types.Point](1, zap.NewNop()), zap.NewNop())
	require.Error(t, err)
}
