package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/crossmindhq/consensus/internal/providers"
)

// modelsFile is the on-disk shape of the model descriptor catalog.
// Model ids are the map keys.
type modelsFile struct {
	DefaultModels []string                              `yaml:"default_models"`
	Models        map[string]*providers.ModelDescriptor `yaml:"models"`
}

// LoadModels reads the model descriptor YAML at path, resolves credential
// references from the environment and returns the descriptors plus the
// default model id list.
//
// A descriptor whose credential_ref resolves to an empty value is kept but
// disabled, so /models can still report it as unavailable. Duplicate ids and
// malformed entries abort startup.
func LoadModels(path string) ([]*providers.ModelDescriptor, []string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("config: read models file %s: %w", path, err)
	}
	return parseModels(data, os.Getenv)
}

func parseModels(data []byte, lookup func(string) string) ([]*providers.ModelDescriptor, []string, error) {
	var file modelsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, nil, fmt.Errorf("config: parse models file: %w", err)
	}
	if len(file.Models) == 0 {
		return nil, nil, fmt.Errorf("config: models file defines no models")
	}

	descriptors := make([]*providers.ModelDescriptor, 0, len(file.Models))
	for id, d := range file.Models {
		if d == nil {
			return nil, nil, fmt.Errorf("config: model %q has an empty definition", id)
		}
		d.ID = id

		if d.Kind == "" {
			return nil, nil, fmt.Errorf("config: model %q missing provider_kind", id)
		}
		if d.ModelName == "" {
			return nil, nil, fmt.Errorf("config: model %q missing model_name", id)
		}
		if d.CredentialRef == "" {
			return nil, nil, fmt.Errorf("config: model %q missing credential_ref", id)
		}
		if d.MaxTokens <= 0 {
			d.MaxTokens = 1024
		}
		if d.Temperature == 0 {
			d.Temperature = 0.7
		}
		if d.DisplayName == "" {
			d.DisplayName = id
		}

		d.Credential = lookup(d.CredentialRef)
		if d.SecretRef != "" {
			d.CredentialSecret = lookup(d.SecretRef)
		}

		// A model without a resolvable credential stays listed but can never
		// be selected.
		if d.Credential == "" {
			d.Enabled = false
		}
		if d.Kind == providers.KindBaiduErnie && d.CredentialSecret == "" {
			d.Enabled = false
		}

		descriptors = append(descriptors, d)
	}

	return descriptors, file.DefaultModels, nil
}
