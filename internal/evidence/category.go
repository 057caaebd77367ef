package evidence

import "strings"

// FindingCategory groups findings by the kind of defect they represent.
type FindingCategory string

const (
	CategorySecurity    FindingCategory = "security"
	CategoryCorrectness FindingCategory = "correctness"
	CategoryTesting     FindingCategory = "testing"
	CategoryCompliance  FindingCategory = "compliance"
	CategoryDecisions   FindingCategory = "decisions"
)

// ValidFindingCategories contains all valid finding categories.
var ValidFindingCategories = map[FindingCategory]bool{
	CategorySecurity:    true,
	CategoryCorrectness: true,
	CategoryTesting:     true,
	CategoryCompliance:  true,
	CategoryDecisions:   true,
}

// IsValid returns true if the category is recognized.
func (c FindingCategory) IsValid() bool {
	return ValidFindingCategories[c]
}

// scoutCategories is the fixed scout-type to finding-category map. Scout
// names come from the review pipeline and are matched case-insensitively.
var scoutCategories = map[string]FindingCategory{
	"adversarial": CategorySecurity,
	"security":    CategorySecurity,
	"bugs":        CategoryCorrectness,
	"tests":       CategoryTesting,
	"docs":        CategoryCompliance,
	"spec":        CategoryCompliance,
	"decisions":   CategoryDecisions,
}

// CategoryForScoutType maps a scout type to its finding category.
// Unrecognized scout types default to correctness; the map is total.
func CategoryForScoutType(scoutType string) FindingCategory {
	if c, ok := scoutCategories[strings.ToLower(strings.TrimSpace(scoutType))]; ok {
		return c
	}
	return CategoryCorrectness
}

// KnownScoutType reports whether the scout type has an explicit category
// mapping. Callers use this to flag unrecognized scouts at the boundary
// without breaking the total default.
func KnownScoutType(scoutType string) bool {
	_, ok := scoutCategories[strings.ToLower(strings.TrimSpace(scoutType))]
	return ok
}
