package models

// BusinessTerm is one entry of the business glossary indexed alongside the
// schema. Terms come from a YAML file maintained by the data team.
type BusinessTerm struct {
	Name           string   `json:"name" yaml:"name"`
	Definition     string   `json:"definition" yaml:"definition"`
	Formula        string   `json:"formula,omitempty" yaml:"formula,omitempty"`
	RelatedTables  []string `json:"related_tables,omitempty" yaml:"related_tables,omitempty"`
	RelatedColumns []string `json:"related_columns,omitempty" yaml:"related_columns,omitempty"`
}
