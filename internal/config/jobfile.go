package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// RetrievalJob describes a windowed retrieval run stored in a YAML file.
// Empty fields fall back to the environment configuration.
type RetrievalJob struct {
	Name                 string `yaml:"name"`
	Query                string `yaml:"query"`
	Start                string `yaml:"start"`
	End                  string `yaml:"end"`
	FetchFrequency       string `yaml:"fetch_frequency"`
	AggregationFrequency string `yaml:"aggregation_frequency"`
	SaveLocation         string `yaml:"save_location"`
	FileFormat           string `yaml:"file_format"`
}

// LoadJobFile reads and validates a retrieval job definition.
func LoadJobFile(path string) (RetrievalJob, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return RetrievalJob{}, fmt.Errorf("op=config.LoadJobFile: %w", err)
	}
	return ParseJob(b)
}

// ParseJob decodes a retrieval job from YAML bytes.
func ParseJob(b []byte) (RetrievalJob, error) {
	var job RetrievalJob
	if err := yaml.Unmarshal(b, &job); err != nil {
		return RetrievalJob{}, fmt.Errorf("op=config.ParseJob: %w", err)
	}
	var missing []string
	if strings.TrimSpace(job.Query) == "" {
		missing = append(missing, "query")
	}
	if strings.TrimSpace(job.Start) == "" {
		missing = append(missing, "start")
	}
	if strings.TrimSpace(job.End) == "" {
		missing = append(missing, "end")
	}
	if len(missing) > 0 {
		return RetrievalJob{}, fmt.Errorf("op=config.ParseJob: missing fields %s", strings.Join(missing, ", "))
	}
	return job, nil
}

// WithDefaults fills unset job fields from the environment configuration.
func (j RetrievalJob) WithDefaults(c Config) RetrievalJob {
	if j.FetchFrequency == "" {
		j.FetchFrequency = c.FetchFrequency
	}
	if j.AggregationFrequency == "" {
		j.AggregationFrequency = c.AggregationFrequency
	}
	if j.SaveLocation == "" {
		j.SaveLocation = c.SaveLocation
	}
	if j.FileFormat == "" {
		j.FileFormat = c.FileFormat
	}
	return j
}
