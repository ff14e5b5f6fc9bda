// Package scraper fetches DPWH regional listing pages and pulls the project
// table out of them.
//
// Fetching sends a fixed browser-like header set, decodes gzip, deflate and
// brotli bodies and transcodes the page to UTF-8. Table discovery tries an
// ordered list of selectors and returns the first table that has rows; the
// header row is normalized for field mapping and the remaining rows are
// returned as raw cell text.
package scraper
