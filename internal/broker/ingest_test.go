package broker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jeffvincent/patchci/internal/node"
	"github.com/jeffvincent/patchci/pkg/ci"
)

func testStorage() *node.FakeStorage {
	return node.NewFakeStorage(map[node.RID][]node.Patch{
		"R1": {{ID: "abc123", Title: "fix bug", Head: "deadbeef"}},
	})
}

func TestIngesterIgnoresNonPatchRefs(t *testing.T) {
	n := node.NewFakeNode(1)
	queue := make(chan ci.CIJob, 1)
	in := NewIngester(n, testStorage(), queue, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go in.Run(ctx)

	n.Emit(node.Event{
		RID: "R1",
		Updated: []node.RefUpdate{
			{Kind: node.RefUpdateUpdated, Name: "refs/heads/main", Old: "a", New: "b"},
		},
	})

	select {
	case job := <-queue:
		t.Fatalf("expected no job, got %+v", job)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestIngesterPublishesJobForCreatedPatch(t *testing.T) {
	n := node.NewFakeNode(1)
	queue := make(chan ci.CIJob, 1)
	in := NewIngester(n, testStorage(), queue, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go in.Run(ctx)

	n.Emit(node.Event{
		RID: "R1",
		Updated: []node.RefUpdate{
			{Kind: node.RefUpdateCreated, Name: "refs/patches/xyz.radicle.patch/abc123"},
		},
	})

	select {
	case job := <-queue:
		assert.Equal(t, "R1", job.ProjectName)
		assert.Equal(t, "R1", job.ProjectID)
		assert.Equal(t, "abc123", job.PatchBranch)
		assert.Equal(t, "deadbeef", job.PatchHead)
		assert.Equal(t, "https://seed.radicle.xyz/R1.git", job.GitURI)
	case <-time.After(time.Second):
		t.Fatal("expected a job to be published")
	}
}

func TestIngesterSuppressesDuplicatePatchHead(t *testing.T) {
	n := node.NewFakeNode(2)
	queue := make(chan ci.CIJob, 2)
	in := NewIngester(n, testStorage(), queue, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go in.Run(ctx)

	ev := node.Event{
		RID: "R1",
		Updated: []node.RefUpdate{
			{Kind: node.RefUpdateUpdated, Name: "xyz.radicle.patch/abc123"},
		},
	}
	n.Emit(ev)
	n.Emit(ev)

	require.Eventually(t, func() bool { return len(queue) == 1 }, time.Second, 10*time.Millisecond)

	select {
	case <-queue:
	default:
		t.Fatal("expected exactly one job in the queue")
	}
	select {
	case job := <-queue:
		t.Fatalf("expected no second job, got %+v", job)
	default:
	}
}

func TestIngesterContinuesAfterStorageError(t *testing.T) {
	n := node.NewFakeNode(2)
	queue := make(chan ci.CIJob, 2)
	in := NewIngester(n, testStorage(), queue, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go in.Run(ctx)

	n.Emit(node.Event{
		RID:     "missing",
		Updated: []node.RefUpdate{{Kind: node.RefUpdateCreated, Name: "xyz.radicle.patch/nope"}},
	})

	select {
	case job := <-queue:
		t.Fatalf("expected no job for a missing repository, got %+v", job)
	case <-time.After(50 * time.Millisecond):
	}

	n.Emit(node.Event{
		RID:     "R1",
		Updated: []node.RefUpdate{{Kind: node.RefUpdateCreated, Name: "xyz.radicle.patch/abc123"}},
	})

	select {
	case job := <-queue:
		assert.Equal(t, "abc123", job.PatchBranch)
	case <-time.After(time.Second):
		t.Fatal("expected the ingester to keep publishing after a storage error")
	}
}
