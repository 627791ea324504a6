// Package config resolves Paddock's tunables once per process. Values come
// from Default, then an optional YAML file, then PADDOCK_* environment
// variables (dots become underscores, e.g. PADDOCK_HA_START_RETRY).
package config
