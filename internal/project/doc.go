// Package project provides types and functions for tracking DPWH infrastructure projects.
//
// The project package defines regions, project records and change events, and
// implements change detection: every record carries a canonical SHA-256 content
// hash over a fixed set of comparable fields, so a freshly scraped candidate can
// be reconciled against the stored record by contract ID without comparing
// fields one by one. Records that disappear from a region's listing are reported
// as potentially deleted once they have not been seen for a grace period.
package project
