// Package config resolves deployment settings from YAML files, environment
// variables and CLI flags with precedence: CLI flags > YAML config >
// Environment variables > Defaults. A YAML file may describe several
// networks; only the selected one is applied. The signing key is read from
// DEPLOYER_PRIVATE_KEY and nowhere else.
package config
