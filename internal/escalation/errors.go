package escalation

import "fmt"

// ConfigurationError reports a malformed stage table. It is fatal at
// startup and can never occur mid-evaluation, because tables are validated
// once when constructed.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("escalation: invalid stage table: %s", e.Reason)
}

// InvalidInputError reports a missing or unusable evaluation input field.
// No partial result is returned alongside it.
type InvalidInputError struct {
	Field string
}

func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("escalation: invalid input: missing or invalid %s", e.Field)
}
