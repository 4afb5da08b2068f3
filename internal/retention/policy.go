package retention

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/brightpath/compliance-core/internal/store"
)

// Data categories subject to retention. Each maps to one collection.
const (
	CategoryStudentRecords    = "student_records"
	CategoryAssessmentRecords = "assessment_records"
	CategoryCollectedData     = "collected_data"
	CategorySessionData       = "session_data"
	CategoryTempFiles         = "temp_files"
)

// Policy is static configuration: one active policy per data category.
type Policy struct {
	DataCategory     string `yaml:"data_category"`
	RetentionDays    int    `yaml:"retention_days"`
	AutoDelete       bool   `yaml:"auto_delete"`
	RequiresApproval bool   `yaml:"requires_approval"`
}

type policyFile struct {
	Policies []Policy `yaml:"policies"`
}

// DefaultPolicies reflects FERPA record-keeping floors and data-minimization
// ceilings for ephemeral data.
func DefaultPolicies() []Policy {
	return []Policy{
		{DataCategory: CategoryStudentRecords, RetentionDays: 365 * 7, AutoDelete: false, RequiresApproval: true},
		{DataCategory: CategoryAssessmentRecords, RetentionDays: 365 * 5, AutoDelete: true, RequiresApproval: true},
		{DataCategory: CategoryCollectedData, RetentionDays: 365, AutoDelete: true, RequiresApproval: false},
		{DataCategory: CategorySessionData, RetentionDays: 30, AutoDelete: true, RequiresApproval: false},
		{DataCategory: CategoryTempFiles, RetentionDays: 7, AutoDelete: true, RequiresApproval: false},
	}
}

// LoadPolicies reads the policy table from YAML, validating categories and
// falling back to defaults when the file is absent.
func LoadPolicies(path string) ([]Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultPolicies(), nil
		}
		return nil, fmt.Errorf("reading policy file: %w", err)
	}

	var pf policyFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("parsing policy file: %w", err)
	}

	seen := make(map[string]struct{}, len(pf.Policies))
	for _, p := range pf.Policies {
		if _, ok := collectionFor(p.DataCategory); !ok {
			return nil, fmt.Errorf("unknown data category %q in policy file", p.DataCategory)
		}
		if _, dup := seen[p.DataCategory]; dup {
			return nil, fmt.Errorf("duplicate policy for category %q", p.DataCategory)
		}
		if p.RetentionDays <= 0 {
			return nil, fmt.Errorf("non-positive retention for category %q", p.DataCategory)
		}
		seen[p.DataCategory] = struct{}{}
	}
	return pf.Policies, nil
}

func collectionFor(category string) (string, bool) {
	switch category {
	case CategoryStudentRecords:
		return store.StudentRecords, true
	case CategoryAssessmentRecords:
		return store.AssessmentRecords, true
	case CategoryCollectedData:
		return store.CollectedData, true
	case CategorySessionData:
		return store.SessionData, true
	case CategoryTempFiles:
		return store.TempFiles, true
	}
	return "", false
}

// ageField names the timestamp column retention cutoffs compare against.
func ageField(category string) string {
	if category == CategoryCollectedData {
		return "collected_at"
	}
	return "created_at"
}
