package schemaindex

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/askdb-inc/askdb-engine/pkg/models"
)

type glossaryFile struct {
	BusinessTerms []models.BusinessTerm `yaml:"business_terms"`
}

// LoadGlossary reads business terms from a YAML file. An empty path returns
// no terms; a missing or malformed file is an error so a configured
// glossary can't silently go unindexed.
func LoadGlossary(path string) ([]models.BusinessTerm, error) {
	if path == "" {
		return nil, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read glossary file: %w", err)
	}

	var file glossaryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse glossary file: %w", err)
	}

	for i, term := range file.BusinessTerms {
		if term.Name == "" {
			return nil, fmt.Errorf("glossary term %d has no name", i)
		}
	}

	return file.BusinessTerms, nil
}
