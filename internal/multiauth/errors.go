// internal/multiauth/errors.go
package multiauth

import (
	"fmt"
)

// Separator joins a backend tag and a backend-local username into a
// composite identity ("GitLab:alice"). It is reserved: no tag may contain
// it, otherwise composite identities become ambiguously splittable.
const Separator = ":"

// ConfigurationError is a fatal construction-time error raised when a
// backend's resolved tag contains the reserved separator. The message
// distinguishes an explicitly configured service name from a backend's
// default display name so the operator can locate the misconfiguration.
type ConfigurationError struct {
	// BackendName is the backend's default display name
	BackendName string

	// Tag is the offending tag value
	Tag string

	// Explicit is true when the tag came from the service_name option
	Explicit bool
}

func (e *ConfigurationError) Error() string {
	if e.Explicit {
		return fmt.Sprintf("service name %q cannot contain %q", e.Tag, Separator)
	}
	return fmt.Sprintf("backend %s: default display name %q cannot contain %q, set service_name to override it", e.BackendName, e.Tag, Separator)
}
