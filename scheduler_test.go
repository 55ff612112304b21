package unitgate

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// TestDefaultTestScheduler_RunOnce tests the scheduler in run-once mode
func TestDefaultTestScheduler_RunOnce(t *testing.T) {
	callCount := 0
	scheduler := NewDefaultTestScheduler(100*time.Millisecond, true, testLogger())
	scheduler.RegisterCallback(func() error {
		callCount++
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	err := scheduler.Start(ctx)
	require.NoError(t, err)

	// In run-once mode, the callback runs exactly once immediately
	assert.Equal(t, 1, callCount)

	// Wait a bit to make sure no more calls happen
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, 1, callCount)
}

// TestDefaultTestScheduler_Periodic tests the scheduler in periodic mode
func TestDefaultTestScheduler_Periodic(t *testing.T) {
	callChan := make(chan struct{}, 10)
	expectedCalls := 4

	scheduler := NewDefaultTestScheduler(10*time.Millisecond, false, testLogger())
	scheduler.RegisterCallback(func() error {
		callChan <- struct{}{}
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err := scheduler.Start(ctx)
	require.NoError(t, err)

	for i := 0; i < expectedCalls; i++ {
		select {
		case <-callChan:
		case <-time.After(1 * time.Second):
			t.Fatalf("Timed out waiting for callback execution %d/%d", i+1, expectedCalls)
		}
	}

	require.NoError(t, scheduler.Stop())
	assert.True(t, scheduler.Stopped())

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Second)
	defer shutdownCancel()
	require.NoError(t, scheduler.WaitForShutdown(shutdownCtx))
}

func TestDefaultTestScheduler_RequiresCallback(t *testing.T) {
	scheduler := NewDefaultTestScheduler(time.Minute, true, testLogger())

	err := scheduler.Start(context.Background())
	require.ErrorContains(t, err, "callback must be registered")
}

func TestDefaultTestScheduler_RunOnceError(t *testing.T) {
	wantErr := errors.New("tests blew up")
	scheduler := NewDefaultTestScheduler(time.Minute, true, testLogger())
	scheduler.RegisterCallback(func() error {
		return wantErr
	})

	err := scheduler.Start(context.Background())
	require.ErrorIs(t, err, wantErr)
}

func TestDefaultTestScheduler_StopIsIdempotent(t *testing.T) {
	scheduler := NewDefaultTestScheduler(time.Minute, true, testLogger())
	scheduler.RegisterCallback(func() error { return nil })

	require.NoError(t, scheduler.Start(context.Background()))
	require.NoError(t, scheduler.Stop())
	require.NoError(t, scheduler.Stop())
}

func TestDefaultTestScheduler_ContextCancelStopsPeriodicRuns(t *testing.T) {
	callChan := make(chan struct{}, 10)
	scheduler := NewDefaultTestScheduler(10*time.Millisecond, false, testLogger())
	scheduler.RegisterCallback(func() error {
		select {
		case callChan <- struct{}{}:
		default:
		}
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, scheduler.Start(ctx))

	// Wait for at least one periodic run, then cancel
	select {
	case <-callChan:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for a periodic run")
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Second)
	defer shutdownCancel()
	require.NoError(t, scheduler.WaitForShutdown(shutdownCtx))
	assert.True(t, scheduler.Stopped())
}
