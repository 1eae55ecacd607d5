package ci

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/buildkite/roko"
	"golang.org/x/oauth2"
)

func init() {
	Register("concourse", func(cfg Config) Driver {
		return NewConcourseDriver(cfg)
	})
}

const (
	tokenPath  = "/sky/issuer/token"
	tokenScope = "openid profile email federated:id groups"

	// flyClientID and flyClientSecret are Concourse's own fixed OAuth2
	// client credentials for its "fly" CLI, reused here since the password
	// grant Concourse exposes has no broker-specific client registration.
	flyClientID     = "fly"
	flyClientSecret = "Zmx5"

	defaultPollInterval = 2 * time.Second
	defaultPollDeadline = 60 * time.Second
)

// ConcourseDriver drives a Concourse CI engine over its HTTP API: it
// exchanges CI credentials for a bearer token via the password grant, writes
// and unpauses a per-project configuration pipeline, and triggers the
// resulting build chain.
type ConcourseDriver struct {
	cfg         Config
	tokenClient *http.Client
	apiClient   *http.Client // built from the current token, nil until the first acquisition

	token *Token
}

// NewConcourseDriver builds a ConcourseDriver from cfg, applying default
// poll parameters when unset.
func NewConcourseDriver(cfg Config) *ConcourseDriver {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = int64(defaultPollInterval.Seconds())
	}
	if cfg.PollDeadline <= 0 {
		cfg.PollDeadline = int64(defaultPollDeadline.Seconds())
	}
	return &ConcourseDriver{
		cfg:         cfg,
		tokenClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Clone returns an independent ConcourseDriver sharing configuration but
// owning its own token cache and HTTP clients.
func (d *ConcourseDriver) Clone() Driver {
	return NewConcourseDriver(d.cfg)
}

// accessToken returns a valid bearer token, acquiring or refreshing it as
// needed.
func (d *ConcourseDriver) accessToken(ctx context.Context) (string, error) {
	if d.token != nil && !d.token.Expired() {
		return d.token.AccessToken.Reveal(), nil
	}
	return d.refreshToken(ctx)
}

// refreshToken exchanges the configured CI credentials for a fresh token via
// Concourse's password grant, decodes it strictly through [Token], and
// rebuilds apiClient as an oauth2-authenticated client that attaches the new
// bearer token to every subsequent request. Every failure path returns an
// error wrapping [ErrNoToken]: no usable token means no authenticated
// operation can proceed.
func (d *ConcourseDriver) refreshToken(ctx context.Context) (string, error) {
	form := url.Values{
		"grant_type": {"password"},
		"username":   {d.cfg.User},
		"password":   {d.cfg.Pass.Reveal()},
		"scope":      {tokenScope},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.cfg.EngineURL+tokenPath, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("%w: build token request: %w", ErrNoToken, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(flyClientID+":"+flyClientSecret)))

	resp, err := d.tokenClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: acquire access token: %w", ErrNoToken, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: read token response: %w", ErrNoToken, err)
	}
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("%w: acquire access token: %w", ErrNoToken, &ResponseError{Errors: []string{string(body)}})
	}

	var tok Token
	if err := json.Unmarshal(body, &tok); err != nil {
		return "", fmt.Errorf("%w: decode access token: %w", ErrNoToken, err)
	}

	d.token = &tok
	d.apiClient = oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: tok.AccessToken.Reveal(),
		TokenType:   "Bearer",
	}))
	return tok.AccessToken.Reveal(), nil
}

// request performs a single HTTP round trip against the Concourse API and
// applies the status-class-before-decode policy shared by every endpoint:
// any 4xx/5xx response is read as a raw string body and returned as a
// *ResponseError, never passed to a JSON decoder. On a 401 the token is
// force-refreshed and the request retried exactly once.
func (d *ConcourseDriver) request(ctx context.Context, method, path, contentType string, body []byte) ([]byte, error) {
	respBody, status, err := d.doOnce(ctx, method, path, contentType, body)
	if err != nil {
		return nil, err
	}
	if status == http.StatusUnauthorized {
		if _, err := d.refreshToken(ctx); err != nil {
			return nil, err
		}
		respBody, status, err = d.doOnce(ctx, method, path, contentType, body)
		if err != nil {
			return nil, err
		}
		if status == http.StatusUnauthorized {
			return nil, ErrUnauthorized
		}
	}
	if status >= 400 {
		return nil, &ResponseError{Errors: []string{string(respBody)}}
	}
	return respBody, nil
}

func (d *ConcourseDriver) doOnce(ctx context.Context, method, path, contentType string, body []byte) ([]byte, int, error) {
	if _, err := d.accessToken(ctx); err != nil {
		return nil, 0, err
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, d.cfg.EngineURL+path, reader)
	if err != nil {
		return nil, 0, fmt.Errorf("ci: build request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if method == http.MethodPut && contentType == "application/x-yaml" {
		req.Header.Set("X-Concourse-Config-Version", "1")
	}

	resp, err := d.apiClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("ci: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("ci: read response body: %w", err)
	}
	return respBody, resp.StatusCode, nil
}

func (d *ConcourseDriver) requestJSON(ctx context.Context, method, path, contentType string, body []byte, out any) error {
	respBody, err := d.request(ctx, method, path, contentType, body)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("ci: decode %s %s response: %w", method, path, err)
	}
	return nil
}

func configurePipelinePath(projectID string) string {
	return fmt.Sprintf("/api/v1/teams/main/pipelines/%s", configurePipelineName(projectID))
}

func pipelinePath(projectID string) string {
	return fmt.Sprintf("/api/v1/teams/main/pipelines/%s", pipelineName(projectID))
}

const pipelineTemplate = `
jobs:
- name: configure-pipeline
  plan:
  - get: %[1]s
    version: %[2]s
    trigger: false
  - set_pipeline: %[3]s
    file: %[1]s/.concourse/config.yaml

resources:
- name: %[1]s
  type: git
  icon: git
  source:
    uri: %[4]s
    branch: %[5]s
`

// Setup writes the configure-pipeline config for job's project and unpauses
// it, so a later Run can trigger it.
func (d *ConcourseDriver) Setup(ctx context.Context, job CIJob) error {
	if err := job.Validate(); err != nil {
		return err
	}

	body := fmt.Sprintf(pipelineTemplate, job.ProjectName, job.PatchHead, job.ProjectID, job.GitURI, job.PatchBranch)
	if err := d.requestJSON(ctx, http.MethodPut, configurePipelinePath(job.ProjectID)+"/config", "application/x-yaml", []byte(body), nil); err != nil {
		return fmt.Errorf("ci: create pipeline configuration for %s: %w", job.ProjectID, err)
	}

	if err := d.requestJSON(ctx, http.MethodPut, configurePipelinePath(job.ProjectID)+"/unpause", "", nil, nil); err != nil {
		return fmt.Errorf("ci: unpause pipeline configuration for %s: %w", job.ProjectID, err)
	}

	return nil
}

// Run triggers the configure-pipeline build for projectID, waits for the
// resulting project pipeline to expose at least one job, and triggers the
// first such job.
func (d *ConcourseDriver) Run(ctx context.Context, projectID string) error {
	var configureJob PipelineConfigurationJob
	path := configurePipelinePath(projectID) + "/jobs/configure-pipeline/builds"
	if err := d.requestJSON(ctx, http.MethodPost, path, "", nil, &configureJob); err != nil {
		return fmt.Errorf("ci: trigger pipeline configuration for %s: %w", projectID, err)
	}

	jobs, err := d.waitForJobs(ctx, projectID)
	if err != nil {
		return err
	}

	job := jobs[0]
	jobBuildPath := fmt.Sprintf("%s/jobs/%s/builds", pipelinePath(projectID), job.Name)
	var build PipelineConfigurationJob
	if err := d.requestJSON(ctx, http.MethodPost, jobBuildPath, "", nil, &build); err != nil {
		return fmt.Errorf("ci: trigger job %s/%s: %w", projectID, job.Name, err)
	}

	return nil
}

// waitForJobs polls the project pipeline's job list until it is non-empty
// or cfg.PollDeadline elapses.
func (d *ConcourseDriver) waitForJobs(ctx context.Context, projectID string) ([]Job, error) {
	ctx, cancel := context.WithTimeout(ctx, time.Duration(d.cfg.PollDeadline)*time.Second)
	defer cancel()

	interval := time.Duration(d.cfg.PollInterval) * time.Second
	maxAttempts := int(time.Duration(d.cfg.PollDeadline)*time.Second/interval) + 1

	var jobs []Job
	err := roko.NewRetrier(
		roko.WithMaxAttempts(maxAttempts),
		roko.WithStrategy(roko.Constant(interval)),
	).DoWithContext(ctx, func(retrier *roko.Retrier) error {
		var found []Job
		if err := d.requestJSON(ctx, http.MethodGet, pipelinePath(projectID)+"/jobs", "", nil, &found); err != nil {
			return err
		}
		if len(found) == 0 {
			return fmt.Errorf("ci: pipeline %s has no jobs yet", projectID)
		}
		jobs = found
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoDownstreamJobs, err)
	}
	return jobs, nil
}

// GetPipeline reads the declarative config of projectID's already-configured
// pipeline. It is not part of the Driver interface: nothing in this
// package's own operations calls it, but it completes the data model the
// rest of this file decodes into.
func (d *ConcourseDriver) GetPipeline(ctx context.Context, projectID string) (*PipelineConfiguration, error) {
	var cfg PipelineConfiguration
	if err := d.requestJSON(ctx, http.MethodGet, pipelinePath(projectID)+"/config", "", nil, &cfg); err != nil {
		return nil, fmt.Errorf("ci: get pipeline config for %s: %w", projectID, err)
	}
	return &cfg, nil
}
