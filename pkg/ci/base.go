package ci

import "fmt"

// pipeline naming conventions shared by every Driver implementation: the
// configuration pipeline drives set_pipeline for the real one, so the two
// names must be derivable from a single project id.

// configurePipelineName is the name of the bootstrap pipeline that, once
// triggered, writes and unpauses the project's real pipeline via set_pipeline.
func configurePipelineName(projectID string) string {
	return fmt.Sprintf("%s-configure", projectID)
}

// pipelineName is the name of the project's real, generated pipeline.
func pipelineName(projectID string) string {
	return projectID
}
