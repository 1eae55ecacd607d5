package broker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jeffvincent/patchci/internal/node"
	"github.com/jeffvincent/patchci/pkg/ci"
)

func init() {
	// Ensure a driver is registered under a harmless test name so
	// NewRuntime can construct one without touching the real Concourse
	// driver's network calls.
	ci.Register("noop-test-driver", func(cfg ci.Config) ci.Driver { return &countingDriver{} })
}

// blockingDriver blocks inside Setup until released, and records whether its
// ctx was ever canceled while it waited. Unlike countingDriver, it actually
// observes ctx, so it can catch a Runtime that leaks its shutdown signal into
// an in-flight driver call instead of only cutting off the queue.
type blockingDriver struct {
	release        chan struct{}
	observedCancel chan bool
}

func newBlockingDriver() *blockingDriver {
	return &blockingDriver{release: make(chan struct{}), observedCancel: make(chan bool, 1)}
}

func (d *blockingDriver) Setup(ctx context.Context, job ci.CIJob) error {
	select {
	case <-d.release:
		d.observedCancel <- false
	case <-ctx.Done():
		d.observedCancel <- true
		<-d.release
	}
	return nil
}

func (d *blockingDriver) Run(ctx context.Context, projectID string) error { return nil }
func (d *blockingDriver) Clone() ci.Driver                                { return d }

func TestQueueCapacityIsTwiceWorkerCount(t *testing.T) {
	require.Equal(t, 10, QueueCapacity(5))
	require.Equal(t, 2*DefaultCapacity, QueueCapacity(0))
}

func TestRuntimeShutsDownOnContextCancel(t *testing.T) {
	n := node.NewFakeNode(1)
	storage := node.NewFakeStorage(map[node.RID][]node.Patch{
		"R1": {{ID: "abc", Title: "t", Head: "deadbeef"}},
	})

	rt, err := NewRuntime(Config{
		Driver:     ci.Config{EngineURL: "http://unused.invalid", User: "u", Pass: "p"},
		DriverName: "noop-test-driver",
		Capacity:   2,
		Node:       n,
		Storage:    storage,
	}, zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rt.Run(ctx) }()

	n.Emit(node.Event{
		RID:     "R1",
		Updated: []node.RefUpdate{{Kind: node.RefUpdateCreated, Name: "xyz.radicle.patch/abc"}},
	})

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Runtime.Run did not return after context cancellation")
	}
}

func TestRuntimeDoesNotCancelInFlightDriverCallOnShutdown(t *testing.T) {
	driver := newBlockingDriver()
	ci.Register("blocking-test-driver", func(cfg ci.Config) ci.Driver { return driver })

	n := node.NewFakeNode(1)
	storage := node.NewFakeStorage(map[node.RID][]node.Patch{
		"R1": {{ID: "abc", Title: "t", Head: "deadbeef"}},
	})

	rt, err := NewRuntime(Config{
		Driver:     ci.Config{EngineURL: "http://unused.invalid", User: "u", Pass: "p"},
		DriverName: "blocking-test-driver",
		Capacity:   1,
		Node:       n,
		Storage:    storage,
	}, zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rt.Run(ctx) }()

	n.Emit(node.Event{
		RID:     "R1",
		Updated: []node.RefUpdate{{Kind: node.RefUpdateCreated, Name: "xyz.radicle.patch/abc"}},
	})

	// Give the worker time to pick up the job and block inside Setup.
	time.Sleep(50 * time.Millisecond)
	cancel()

	// The runtime's own shutdown signal must not reach the in-flight
	// Setup call's ctx: give it a moment, then release it and check it
	// never observed a cancellation.
	time.Sleep(50 * time.Millisecond)
	close(driver.release)

	select {
	case cancelSeen := <-driver.observedCancel:
		require.False(t, cancelSeen, "driver observed its ctx canceled during shutdown, want it left running")
	case <-time.After(2 * time.Second):
		t.Fatal("blockingDriver.Setup never observed release or cancellation")
	}

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Runtime.Run did not return after releasing the blocked job")
	}
}
