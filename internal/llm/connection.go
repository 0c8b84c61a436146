package llm

import (
	"fmt"
	"strings"
)

// Connection identifies an LLM API endpoint plus credentials. The two
// concrete types are AzureConnection and OpenAIConnection; anything else
// handed to NormalizeConnection is a user error.
type Connection interface {
	Normalize() ConnectionConfig
}

// ConnectionConfig is the normalized request-building view of a connection.
// Azure fills Endpoint/APIVersion, OpenAI fills BaseURL/Organization;
// APIKey is always set.
type ConnectionConfig struct {
	APIKey string

	// Azure
	Endpoint   string
	APIVersion string

	// OpenAI
	BaseURL      string
	Organization string

	azure bool
}

// IsAzure reports whether the config addresses an Azure OpenAI deployment.
func (c ConnectionConfig) IsAzure() bool { return c.azure }

// AzureConnection targets an Azure OpenAI resource.
type AzureConnection struct {
	APIKey     string
	Endpoint   string
	APIVersion string
}

const defaultAzureAPIVersion = "2024-02-01"

func (c AzureConnection) Normalize() ConnectionConfig {
	version := c.APIVersion
	if version == "" {
		version = defaultAzureAPIVersion
	}
	return ConnectionConfig{
		APIKey:     c.APIKey,
		Endpoint:   strings.TrimRight(c.Endpoint, "/"),
		APIVersion: version,
		azure:      true,
	}
}

// OpenAIConnection targets the OpenAI API or a compatible server.
type OpenAIConnection struct {
	APIKey       string
	BaseURL      string
	Organization string
}

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

func (c OpenAIConnection) Normalize() ConnectionConfig {
	base := c.BaseURL
	if base == "" {
		base = defaultOpenAIBaseURL
	}
	return ConnectionConfig{
		APIKey:       c.APIKey,
		BaseURL:      strings.TrimRight(base, "/"),
		Organization: c.Organization,
	}
}

// NormalizeConnection accepts a dynamically-typed connection (as loaded
// from config files) and normalizes it. Unknown types are user errors, not
// panics: connection records come from user-edited YAML.
func NormalizeConnection(conn any) (ConnectionConfig, error) {
	switch c := conn.(type) {
	case AzureConnection:
		return c.Normalize(), nil
	case *AzureConnection:
		return c.Normalize(), nil
	case OpenAIConnection:
		return c.Normalize(), nil
	case *OpenAIConnection:
		return c.Normalize(), nil
	default:
		return ConnectionConfig{}, &UserError{
			Message: fmt.Sprintf("unsupported connection type %T; expected AzureConnection or OpenAIConnection", conn),
		}
	}
}
