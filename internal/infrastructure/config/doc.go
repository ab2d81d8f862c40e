// Package config loads and validates Helm Core configuration.
//
// Configuration comes from a YAML file with hardcoded defaults underneath
// and HELMCORE_* environment variable overrides on top. Validation runs
// once at load; the rest of the system treats the resulting Config as
// immutable.
package config
