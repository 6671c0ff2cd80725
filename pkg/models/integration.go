package models

// IntegrationKind identifies which external system an Integration row
// authenticates against.
type IntegrationKind string

const (
	IntegrationKindGitHub IntegrationKind = "github"
	IntegrationKindLinear IntegrationKind = "linear"
	IntegrationKindSlack  IntegrationKind = "slack"
)

// Integration is a user's configured connection to an external system:
// credentials live behind the adapter, but the reducer needs the
// resolution-relevant config fields to pick a repo_name for a new
// incident (spec §4.E step 6's resolution order).
type Integration struct {
	ID              string
	UserID          string
	Kind            IntegrationKind
	Active          bool
	ServiceMappings map[string]string // service_name -> repo_name
	RepoName        *string
	Repository      *string
	ProjectID       *string
}

// ResolveRepoName applies the spec §4.E resolution order:
// service_mappings[service_name] -> repo_name -> repository -> project_id.
func (i *Integration) ResolveRepoName(serviceName string) (string, bool) {
	if repo, ok := i.ServiceMappings[serviceName]; ok && repo != "" {
		return repo, true
	}
	if i.RepoName != nil && *i.RepoName != "" {
		return *i.RepoName, true
	}
	if i.Repository != nil && *i.Repository != "" {
		return *i.Repository, true
	}
	if i.ProjectID != nil && *i.ProjectID != "" {
		return *i.ProjectID, true
	}
	return "", false
}
