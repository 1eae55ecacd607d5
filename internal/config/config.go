// Package config loads the broker's runtime configuration from CLI flags,
// falling back to environment variables when a flag is left at its zero
// value. There is no profile/file-based configuration layer — the node
// profile this broker runs against is out of this module's scope.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/jeffvincent/patchci/internal/broker"
	"github.com/jeffvincent/patchci/pkg/ci"
)

// Flags holds the raw CLI flag values before environment fallback and
// validation are applied.
type Flags struct {
	ConcourseURI string
	CIUser       string
	CIPass       string
	Capacity     int
	PollInterval int64
	PollDeadline int64
}

// env-fallback variable names, one per Flags field.
const (
	envConcourseURI = "PATCHCI_CONCOURSE_URI"
	envCIUser       = "PATCHCI_CI_USER"
	envCIPass       = "PATCHCI_CI_PASS"
	envCapacity     = "PATCHCI_CAPACITY"
	envPollInterval = "PATCHCI_POLL_INTERVAL"
	envPollDeadline = "PATCHCI_POLL_DEADLINE"
)

// Load resolves f into a broker.Config, falling back to the environment for
// any flag left at its zero value, then validates that the required fields
// ended up set.
func Load(f Flags) (broker.Config, error) {
	uri := firstNonEmpty(f.ConcourseURI, os.Getenv(envConcourseURI))
	user := firstNonEmpty(f.CIUser, os.Getenv(envCIUser))
	pass := firstNonEmpty(f.CIPass, os.Getenv(envCIPass))

	capacity := f.Capacity
	if capacity == 0 {
		capacity = envInt(envCapacity, 0)
	}
	pollInterval := f.PollInterval
	if pollInterval == 0 {
		pollInterval = int64(envInt(envPollInterval, 0))
	}
	pollDeadline := f.PollDeadline
	if pollDeadline == 0 {
		pollDeadline = int64(envInt(envPollDeadline, 0))
	}

	if uri == "" {
		return broker.Config{}, fmt.Errorf("config: concourse uri not set (--concourse-uri or %s)", envConcourseURI)
	}
	if user == "" {
		return broker.Config{}, fmt.Errorf("config: ci user not set (--ci-user or %s)", envCIUser)
	}
	if pass == "" {
		return broker.Config{}, fmt.Errorf("config: ci password not set (--ci-pass or %s)", envCIPass)
	}

	return broker.Config{
		Driver: ci.Config{
			EngineURL:    uri,
			User:         user,
			Pass:         ci.Secret(pass),
			PollInterval: pollInterval,
			PollDeadline: pollDeadline,
		},
		DriverName: "concourse",
		Capacity:   capacity,
	}, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func envInt(name string, fallback int) int {
	v := os.Getenv(name)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
