// Package config loads the pool configuration.
//
// The file format follows the extension (.yaml/.yml, .toml, .json). ${VAR}
// references are expanded from the environment before decoding, and the
// decoded document is checked against an embedded JSON schema. Loading never
// fails: a missing file yields the defaults, and a malformed or invalid file
// yields the defaults plus the problems found, which callers log as warnings.
package config
