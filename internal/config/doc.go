// Package config loads archie-relay configuration from a YAML file,
// the process environment, or both.
//
// # Precedence
//
// Values are resolved in three layers, later layers winning:
//
//  1. YAML file (optional, with ${VAR} expansion)
//  2. Environment variables (CLAWDBOT_TOKEN, TELEGRAM_BOT_TOKEN, ...)
//  3. Built-in defaults for everything optional
//
// A .env file in the working directory is loaded into the environment
// before resolution, so local development needs no exported variables.
//
// The only required value is the backend bearer credential
// (backend.token / CLAWDBOT_TOKEN); Load fails without it and the
// process exits non-zero.
package config
