// Package config provides configuration management for onionwire.
//
// Configuration comes from three layers, later layers overriding earlier
// ones: compiled-in defaults (NewConfig), an optional YAML file
// (.onionwire in the current or home directory), and CLI flags.
//
// Design decision: We use a single flat Config struct populated once at
// startup and passed through the application via dependency injection
// rather than global state. Validation happens once, after all layers are
// applied, so components can assume a valid configuration.
package config
