// Package cli implements the command-line interface for dpwh-projects.
//
// The cli package provides the Cobra-based commands that seed regions, scrape
// one or all regions, advance the rotation, list recent changes and run the
// watch loop. It wires configuration, storage backends, the tracker and
// metrics together and formats results as text or JSON.
package cli
