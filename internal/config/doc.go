// Package config loads dpwh-projects settings from a YAML file, DPWH_
// environment variables and an optional .env file, and carries the embedded
// list of regional listing pages.
package config
