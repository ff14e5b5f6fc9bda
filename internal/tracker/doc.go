// Package tracker runs the scrape pipeline for DPWH regions.
//
// A region scrape fetches the region page, extracts the project table, maps
// rows to candidate records, reconciles each candidate against the project
// store and appends the resulting change events. Known records missing from
// the page for longer than the missing threshold are reported as potentially
// deleted. A sweep scrapes every active region in order with a short pause in
// between; a rotation tick scrapes just the next region in the rotation.
//
// Failures are contained: a failed fetch fails only its region, a bad row or
// a failed write only increments the region's error count, and a rotation
// tick reports a failed scrape in its result rather than as an error.
package tracker
