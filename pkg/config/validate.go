package config

import (
	"errors"
	"fmt"
)

// Validate checks the configuration for required fields and valid values.
// Returns an error with a descriptive field path on failure. It is called
// after interactive prompting has had a chance to fill missing values, so
// any error here is fatal (the process aborts before the loop starts).
func (c *Config) Validate() error {
	var errs []error

	// executor.backend must be a known value.
	switch c.Executor.Backend {
	case BackendSandbox, BackendVM:
		// valid
	default:
		errs = append(errs, fmt.Errorf("executor.backend must be %q or %q, got %q", BackendSandbox, BackendVM, c.Executor.Backend))
	}

	// model.project is required unless an API key is used (the
	// Generative Language endpoint does not need a project).
	if c.Model.Project == "" && c.Model.APIKey == "" {
		errs = append(errs, fmt.Errorf("model.project or model.api_key is required"))
	}
	if c.Model.Name == "" {
		errs = append(errs, fmt.Errorf("model.name is required"))
	}

	if c.Executor.Backend == BackendSandbox {
		// The sandbox credential is required; the process aborts at
		// startup if it is absent.
		if c.Executor.Sandbox.APIKey == "" {
			errs = append(errs, fmt.Errorf("executor.sandbox.api_key is required when executor.backend is %q (set E2B_API_KEY or executor.sandbox.api_key)", BackendSandbox))
		}
		// URL and Template are mutually exclusive provisioning modes.
		if c.Executor.Sandbox.URL != "" && c.Executor.Sandbox.Template != "" {
			errs = append(errs, fmt.Errorf("executor.sandbox.url and executor.sandbox.template are mutually exclusive"))
		}
		if c.Executor.Sandbox.URL == "" && c.Executor.Sandbox.Template == "" {
			errs = append(errs, fmt.Errorf("either executor.sandbox.url or executor.sandbox.template must be set"))
		}
	}

	if c.Executor.Backend == BackendVM {
		if c.Executor.VM.Host == "" {
			errs = append(errs, fmt.Errorf("executor.vm.host is required when executor.backend is %q", BackendVM))
		}
		if c.Executor.VM.User == "" {
			errs = append(errs, fmt.Errorf("executor.vm.user is required when executor.backend is %q", BackendVM))
		}
		if c.Executor.VM.Port <= 0 {
			errs = append(errs, fmt.Errorf("executor.vm.port must be > 0, got %d", c.Executor.VM.Port))
		}
	}

	return errors.Join(errs...)
}
