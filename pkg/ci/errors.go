package ci

import "errors"

// ErrNoDownstreamJobs is returned by [ConcourseDriver.Run] when the
// downstream pipeline never exposed a job before the polling deadline
// elapsed.
var ErrNoDownstreamJobs = errors.New("ci: downstream pipeline exposed no jobs before the poll deadline")

// ErrUnauthorized is returned when a request still fails with 401 after one
// forced token re-acquisition.
var ErrUnauthorized = errors.New("ci: request unauthorized after token refresh")

// ErrNoToken is returned when an authenticated operation is attempted and no
// usable access token could be acquired, whether because the password grant
// itself failed or because the resulting token could not be decoded.
var ErrNoToken = errors.New("ci: no access token available")
