// README: Service-area validator for canonical locations.
package validate

import "strings"

// ServiceArea reports whether a canonical "City, ST" location is served.
type ServiceArea interface {
	Serves(canonical string) bool
}

// ValidateLocation rejects empty or unserved locations.
func ValidateLocation(canonical string, area ServiceArea) error {
	if strings.TrimSpace(canonical) == "" {
		return invalid("location", ErrOutOfServiceArea, "location is empty")
	}
	if area != nil && !area.Serves(canonical) {
		return invalid("location", ErrOutOfServiceArea, "%s is not served", canonical)
	}
	return nil
}
