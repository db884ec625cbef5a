package networks

import (
	"fmt"
	"sort"
	"strings"

	"affsync/internal/domain"
)

// Validate checks that every required field has a non-blank value. It does
// not look at formats.
func Validate(fields []domain.FieldSpec, creds domain.Credentials) domain.ValidationResult {
	errs := make(map[string]string)
	for _, f := range fields {
		if !f.Required {
			continue
		}
		if strings.TrimSpace(creds.Get(f.Name)) == "" {
			label := f.Label
			if label == "" {
				label = f.Name
			}
			errs[f.Name] = fmt.Sprintf("%s is required", label)
		}
	}
	if len(errs) == 0 {
		return domain.ValidationResult{Valid: true}
	}
	return domain.ValidationResult{Valid: false, Errors: errs}
}

// missingFields lists the failing field names in a stable order.
func missingFields(v domain.ValidationResult) string {
	names := make([]string, 0, len(v.Errors))
	for name := range v.Errors {
		names = append(names, name)
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}
