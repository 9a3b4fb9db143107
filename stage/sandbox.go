package stage

import "context"

// SandboxRunner is the narrow slice of sandbox.Executor the Validation
// and Testing stages need. Declared locally so this package never
// imports sandbox directly, matching the DI-by-interface discipline
// used throughout this module.
type SandboxRunner interface {
	Execute(ctx context.Context, code, language string, scanSecurity bool) (map[string]interface{}, error)
}
