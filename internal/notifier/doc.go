// Package notifier posts project change notifications.
//
// The notifier package formats change events as short posts and publishes
// them to Twitter, or prints them in dry-run mode. It handles OAuth
// authentication, spacing between posts and message truncation.
package notifier
