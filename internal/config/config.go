// Package config loads and validates the survey pool configuration.
package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/Formily/formily-web/internal/models"
)

//go:embed surveys.schema.json
var surveysSchema []byte

// SurveyFile is the on-disk layout of a survey pool configuration file.
type SurveyFile struct {
	Surveys []models.Survey `json:"surveys"`
}

// LoadSurveys reads a survey pool from a JSON file. The document is checked
// against the embedded JSON schema first, then each survey runs full semantic
// validation, so defects like a branching rule that targets a missing
// question fail here rather than mid-flow.
func LoadSurveys(path string) ([]models.Survey, error) {
	slog.Debug("Config LoadSurveys", "path", path)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read survey config %s: %w", path, err)
	}
	surveys, err := ParseSurveys(data)
	if err != nil {
		return nil, fmt.Errorf("survey config %s: %w", path, err)
	}
	slog.Info("Config loaded surveys", "path", path, "count", len(surveys))
	return surveys, nil
}

// ParseSurveys validates and decodes a survey pool document.
func ParseSurveys(data []byte) ([]models.Survey, error) {
	if err := validateSchema(data); err != nil {
		return nil, err
	}

	var file SurveyFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse survey config: %w", err)
	}

	for i := range file.Surveys {
		if err := file.Surveys[i].Validate(); err != nil {
			return nil, fmt.Errorf("invalid survey config: %w", err)
		}
	}
	return file.Surveys, nil
}

func validateSchema(data []byte) error {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("surveys.schema.json", bytes.NewReader(surveysSchema)); err != nil {
		return fmt.Errorf("failed to load embedded survey schema: %w", err)
	}
	schema, err := compiler.Compile("surveys.schema.json")
	if err != nil {
		return fmt.Errorf("failed to compile survey schema: %w", err)
	}

	var doc interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("survey config is not valid JSON: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("survey config failed schema validation: %w", err)
	}
	return nil
}
