// Package broker wires the event-to-job pipeline: an Ingester turns node
// ref-update announcements into CI jobs, a Pool of Workers drains the
// resulting queue against a CI Driver, and a Runtime composes the two and
// owns graceful shutdown.
package broker

import (
	"context"
	"fmt"
	"strings"

	lru "github.com/hashicorp/golang-lru"
	"go.uber.org/zap"

	"github.com/jeffvincent/patchci/internal/node"
	"github.com/jeffvincent/patchci/pkg/ci"
)

// patchRefMarker is the substring a ref name must contain to be considered a
// patch reference rather than an ordinary branch or tag.
const patchRefMarker = "xyz.radicle.patch"

// seedURIFormat builds the fetch URL the broker assumes for every
// repository; the broker knows of exactly one seed node.
const seedURIFormat = "https://seed.radicle.xyz/%s.git"

// dedupCacheSize bounds the LRU used to suppress immediate re-announcements
// of the same patch head.
const dedupCacheSize = 4096

// Ingester subscribes to a Node's event stream, filters for patch ref
// creates/updates, and publishes one CIJob per detected patch onto a queue.
type Ingester struct {
	node    node.Node
	storage node.Storage
	queue   chan<- ci.CIJob
	log     *zap.Logger
	seen    *lru.Cache
}

// NewIngester builds an Ingester that reads from n and storage and
// publishes onto queue.
func NewIngester(n node.Node, storage node.Storage, queue chan<- ci.CIJob, log *zap.Logger) *Ingester {
	cache, err := lru.New(dedupCacheSize)
	if err != nil {
		// lru.New only errors on a non-positive size, which dedupCacheSize
		// never is.
		panic(fmt.Sprintf("broker: building dedup cache: %v", err))
	}
	return &Ingester{
		node:    n,
		storage: storage,
		queue:   queue,
		log:     log,
		seen:    cache,
	}
}

// Run subscribes to the node and blocks, publishing jobs until ctx is
// canceled or the node's event stream closes.
func (in *Ingester) Run(ctx context.Context) error {
	events, err := in.node.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("broker: subscribe to node events: %w", err)
	}

	in.log.Info("subscribed to node events")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				in.log.Info("node event stream closed")
				return nil
			}
			in.handleEvent(ctx, ev)
		}
	}
}

func (in *Ingester) handleEvent(ctx context.Context, ev node.Event) {
	for _, update := range ev.Updated {
		if update.Kind != node.RefUpdateCreated && update.Kind != node.RefUpdateUpdated {
			continue
		}
		if !strings.Contains(update.Name, patchRefMarker) {
			continue
		}

		patchID := lastSegment(update.Name)
		if err := in.publishJob(ctx, ev.RID, patchID); err != nil {
			in.log.Warn("failed to publish CI job for patch",
				zap.String("rid", string(ev.RID)),
				zap.String("patch_id", patchID),
				zap.Error(err))
		}
	}
}

func (in *Ingester) publishJob(ctx context.Context, rid node.RID, patchID string) error {
	patch, err := in.storage.Patch(rid, patchID)
	if err != nil {
		return fmt.Errorf("read patch %s in %s: %w", patchID, rid, err)
	}

	dedupKey := fmt.Sprintf("%s/%s/%s", rid, patchID, patch.Head)
	if _, ok := in.seen.Get(dedupKey); ok {
		in.log.Debug("suppressing duplicate patch announcement", zap.String("key", dedupKey))
		return nil
	}
	in.seen.Add(dedupKey, struct{}{})

	projectID := string(rid)
	job := ci.CIJob{
		ProjectName: projectID,
		ProjectID:   projectID,
		PatchBranch: patchID,
		PatchHead:   patch.Head,
		GitURI:      fmt.Sprintf(seedURIFormat, projectID),
	}
	if err := job.Validate(); err != nil {
		return fmt.Errorf("built an invalid job: %w", err)
	}

	in.log.Info("triggering CI job for patch",
		zap.String("project_id", projectID),
		zap.String("patch_id", patchID),
		zap.String("patch_head", patch.Head))

	select {
	case in.queue <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func lastSegment(name string) string {
	if i := strings.LastIndexByte(name, '/'); i >= 0 {
		return name[i+1:]
	}
	return name
}
