// Package ci defines the CI broker's job model and the narrow Driver
// capability used to drive a remote CI engine through a multi-step
// configure/activate/trigger sequence.
//
// The core interface is [Driver], obtained by name via [Get] or [Default];
// platform-specific implementations live alongside it in this package (e.g.
// [ConcourseDriver] for Concourse). Only one driver ships today, but the
// registry exists so a second engine can be added without touching the
// ingester, worker, or pool.
package ci

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
)

// CIJob is an immutable description of one detected patch update. It is
// created by the event ingester, carried through the job queue, and consumed
// exactly once by a single worker.
type CIJob struct {
	// ProjectName is the display/identifier string used in pipeline YAML.
	// For this broker it is the canonical repository id.
	ProjectName string
	// ProjectID is the stable identifier used to name pipelines at the CI
	// engine ("{ProjectID}-configure", "{ProjectID}").
	ProjectID string
	// PatchBranch is the patch identifier, used as the git ref to pull.
	PatchBranch string
	// PatchHead is the commit object id this job targets.
	PatchHead string
	// GitURI is the fetch URL for the repository.
	GitURI string
}

var hexCommit = regexp.MustCompile(`^[0-9a-fA-F]+$`)

// Validate enforces the invariants spec'd for CIJob: every field is
// non-empty, PatchHead looks like a hex commit id, and GitURI is absolute.
func (j CIJob) Validate() error {
	if j.ProjectName == "" || j.ProjectID == "" || j.PatchBranch == "" || j.PatchHead == "" || j.GitURI == "" {
		return fmt.Errorf("ci: job has an empty field: %+v", j)
	}
	if !hexCommit.MatchString(j.PatchHead) {
		return fmt.Errorf("ci: patch head %q is not a hex commit id", j.PatchHead)
	}
	u, err := url.Parse(j.GitURI)
	if err != nil || !u.IsAbs() {
		return fmt.Errorf("ci: git uri %q is not absolute", j.GitURI)
	}
	return nil
}

// Driver is the broker's client of a remote CI engine. It exposes two
// higher-level operations, each encapsulating a multi-step sequence, and is
// Clone-able so a worker pool can hand each worker its own independent
// instance (own token cache, own connection pool).
type Driver interface {
	// Setup ensures a configuration pipeline exists and is active for
	// job.ProjectID.
	Setup(ctx context.Context, job CIJob) error

	// Run triggers the configuration build for projectID, waits for the
	// downstream (configured) pipeline to expose at least one job, then
	// triggers the first job in that pipeline's job list.
	Run(ctx context.Context, projectID string) error

	// Clone returns an independent copy of the driver: same configuration,
	// own token cache, own HTTP client. Workers never share a driver
	// instance.
	Clone() Driver
}

// Config is the provider-agnostic configuration needed to construct any
// Driver: the remote engine's base URL and credentials, plus the polling
// parameters used by Run's wait-for-downstream-pipeline step.
type Config struct {
	EngineURL string
	User      string
	Pass      Secret

	// PollInterval is the minimum interval between status polls while
	// waiting for the downstream pipeline to appear. Defaults applied by
	// the driver constructor if zero.
	PollInterval int64 // seconds
	// PollDeadline bounds the total time spent waiting. Defaults applied by
	// the driver constructor if zero.
	PollDeadline int64 // seconds
}
