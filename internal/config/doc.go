// Package config provides configuration loading, the key/value ConfigStore,
// and path management for agentd.
//
// # Server configuration
//
// Load merges JSON or JSONC files (comments stripped with tidwall/jsonc) in
// priority order:
//
//  1. Global config (~/.config/agentd/agentd.json[c])
//  2. Project config (agentd.json[c] and .agentd/agentd.json[c] in the working directory)
//  3. AGENTD_CONFIG file
//  4. AGENTD_CONFIG_CONTENT inline JSON
//  5. Environment variables (AGENTD_HOST, AGENTD_PORT, AGENTD_SECRET_KEY, ...)
//
// String values may reference {env:VAR} and {file:path}; file paths are
// resolved relative to the file that contains them.
//
// # ConfigStore
//
// FileStore keeps provider parameters in config.yaml and credentials in
// secrets.yaml (mode 0600) inside the config directory. An environment
// variable named after the upper-cased key overrides either file. Watch
// reloads the store when config.yaml changes on disk.
package config
