// Package config is the single source of truth for runtime
// configuration and on-disk paths of the field client. Configuration
// is loaded from environment variables (prefix EMV) and optionally
// merged with a YAML file; paths default to ~/.synerex_emv and are
// overridable per command.
package config
