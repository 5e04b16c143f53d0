package provider

// Config selects a backend and carries its credentials.
type Config struct {
	Provider string            `json:"provider"`
	APIKey   string            `json:"apiKey"`
	Model    string            `json:"model"`
	Endpoint string            `json:"endpoint,omitempty"`
	Headers  map[string]string `json:"headers,omitempty"`
}

// ConnectionResult is the outcome of a connectivity probe.
type ConnectionResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// BackendInfo describes a backend for pickers and the provider catalog.
type BackendInfo struct {
	ID              string   `json:"id"`
	Name            string   `json:"name"`
	Models          []string `json:"models"`
	DefaultModel    string   `json:"defaultModel"`
	DefaultEndpoint string   `json:"defaultEndpoint"`
	Credential      string   `json:"credential"`
}
