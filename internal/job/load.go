package job

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// File is the yaml document read by LoadSpecs.
type File struct {
	Jobs []Spec `yaml:"jobs"`
}

// LoadSpecs reads job specs from a yaml file of the form
//
//	jobs:
//	  - service: fileiterator
//	    batch: true
//	    params:
//	      input: /data/rasters
func LoadSpecs(path string) ([]Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading job file: %w", err)
	}
	return ParseSpecs(data)
}

// ParseSpecs decodes a job file.
func ParseSpecs(data []byte) ([]Spec, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing job file: %w", err)
	}
	for i, s := range f.Jobs {
		if s.Service == "" {
			return nil, fmt.Errorf("job %d: service is required", i)
		}
	}
	return f.Jobs, nil
}
