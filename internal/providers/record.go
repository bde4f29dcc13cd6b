package providers

import (
	"fmt"
	"strings"
)

// Record is one configured upstream credential/model binding.
//
// JSON names match what the admin tooling writes into the store, so records
// created by older deployments decode unchanged.
type Record struct {
	ID     string `json:"id"`
	Type   string `json:"type"`
	Model  string `json:"model"`
	APIKey string `json:"apiKey"`

	// Dialect-specific, all optional depending on Type.
	Endpoint   string `json:"endpoint,omitempty"`
	APIVersion string `json:"apiVersion,omitempty"`
	Deployment string `json:"deployment,omitempty"`
	Instance   string `json:"instance,omitempty"`

	CreatedAt int64 `json:"createdAt,omitempty"`
}

// Masked returns a copy of r whose APIKey is safe to show to a caller.
func (r Record) Masked() Record {
	r.APIKey = MaskKey(r.APIKey)
	return r
}

// Validate checks the fields an admin must supply for the record's type.
func (r *Record) Validate() error {
	if strings.TrimSpace(r.Model) == "" {
		return fmt.Errorf("field 'model' is required")
	}
	if strings.TrimSpace(r.APIKey) == "" && r.Type != DialectAnthropic {
		return fmt.Errorf("field 'apiKey' is required")
	}
	switch r.Type {
	case DialectOpenAI, DialectAnthropic:
	case DialectAzure:
		if r.Endpoint == "" && (r.Deployment == "" || r.Instance == "") {
			return fmt.Errorf("azure records require 'deployment' and 'instance' (or 'endpoint')")
		}
	case "":
		return fmt.Errorf("field 'type' is required")
	default:
		return fmt.Errorf("unsupported provider type %q", r.Type)
	}
	return nil
}

// MaskKey hides all but the first and last four characters of key.
// Keys of eight characters or fewer are hidden entirely.
func MaskKey(key string) string {
	if key == "" {
		return ""
	}
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "****" + key[len(key)-4:]
}
