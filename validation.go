package toolloop

// schemaValidator validates a JSON-like value (map[string]any, []any, float64, ...).
// *jsonschema.Schema from santhosh-tekuri/jsonschema implements it.
type schemaValidator interface {
	Validate(v any) error
}

// validateAgainstSchema runs schema validation on already-coerced arguments.
// Coercion errors are reported by the caller before this runs.
func validateAgainstSchema(validate schemaValidator, args map[string]any) error {
	if validate == nil {
		return nil
	}
	if err := validate.Validate(args); err != nil {
		return &ArgumentError{Reason: err.Error(), Err: ErrValidation}
	}
	return nil
}
