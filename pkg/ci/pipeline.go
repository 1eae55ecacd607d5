package ci

import "fmt"

// PlanStep is one step of a Concourse job's plan. Only the fields this
// broker's pipeline template and its own reads need are modeled; Concourse's
// plan step vocabulary is much larger.
type PlanStep struct {
	Get         string `json:"get,omitempty"`
	Version     string `json:"version,omitempty"`
	File        string `json:"file,omitempty"`
	SetPipeline string `json:"set_pipeline,omitempty"`
}

// PipelineJob is one entry of a pipeline configuration's jobs list.
type PipelineJob struct {
	Name string     `json:"name"`
	Plan []PlanStep `json:"plan"`
}

// Source is a git resource's source block.
type Source struct {
	Branch string `json:"branch"`
	URI    string `json:"uri"`
}

// Resource is one entry of a pipeline configuration's resources list.
type Resource struct {
	Name   string `json:"name"`
	Type   string `json:"type"`
	Source Source `json:"source"`
	Icon   string `json:"icon"`
}

// PipelineConfig is the declarative body of a pipeline, as returned by the
// pipeline config GET endpoint.
type PipelineConfig struct {
	Resources []Resource    `json:"resources"`
	Jobs      []PipelineJob `json:"jobs"`
}

// PipelineConfiguration wraps the config returned by the pipeline config GET
// endpoint; Concourse nests it under a "config" key alongside version
// metadata this package doesn't need.
type PipelineConfiguration struct {
	Config PipelineConfig `json:"config"`
}

// PipelineConfigurationJob is the build Concourse returns from triggering a
// build, whether the configure-pipeline trigger or a downstream job trigger.
type PipelineConfigurationJob struct {
	ID           int64  `json:"id"`
	Name         string `json:"name"`
	Status       string `json:"status"`
	APIURL       string `json:"api_url"`
	JobName      string `json:"job_name"`
	PipelineID   int64  `json:"pipeline_id"`
	PipelineName string `json:"pipeline_name"`
	TeamName     string `json:"team_name"`
	CreatedBy    string `json:"created_by"`
}

// Job is one entry returned by the pipeline jobs-listing endpoint.
type Job struct {
	ID           int64  `json:"id"`
	Name         string `json:"name"`
	TeamName     string `json:"team_name"`
	PipelineID   int64  `json:"pipeline_id"`
	PipelineName string `json:"pipeline_name"`
}

// Warning is one entry of a ResponseError's optional warnings list.
type Warning struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// ResponseError is the error returned for any 4xx/5xx response from the
// Concourse API. Concourse doesn't return structured JSON for these; the
// raw response body becomes the sole entry in Errors.
type ResponseError struct {
	Errors   []string
	Warnings []Warning
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("concourse: errors=%v warnings=%v", e.Errors, e.Warnings)
}
