package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/unlock/orchestration-service/internal/domain"
)

// scheduleDocument is one YAML document of a schedule file. The input is
// written as a YAML mapping and handed to the workflow as JSON.
type scheduleDocument struct {
	domain.ScheduleDefinition `yaml:",inline"`
	Input                     map[string]interface{} `yaml:"input,omitempty"`
}

// parseDefinitions reads every document of a YAML stream. Documents are
// separated by "---"; empty documents are skipped.
func parseDefinitions(r io.Reader) ([]domain.ScheduleDefinition, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var defs []domain.ScheduleDefinition
	for i := 0; ; i++ {
		var doc scheduleDocument
		err := dec.Decode(&doc)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("decode schedule document %d: %w", i, err)
		}
		if doc.ID == "" && doc.WorkflowType == "" {
			continue
		}

		def := doc.ScheduleDefinition
		def.ID = domain.NormalizeScheduleID(def.ID)
		if def.OverlapPolicy == "" {
			def.OverlapPolicy = domain.OverlapSkip
		}
		if len(doc.Input) > 0 {
			raw, err := json.Marshal(doc.Input)
			if err != nil {
				return nil, fmt.Errorf("encode input of schedule %q: %w", def.ID, err)
			}
			def.Input = raw
		}
		defs = append(defs, def)
	}

	if len(defs) == 0 {
		return nil, errors.New("no schedule definitions found")
	}
	return defs, nil
}
