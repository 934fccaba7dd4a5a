// Package poller is the background notification-polling engine.
//
// A Scheduler owns one recurring cron schedule. Every cycle it asks the
// Fetcher for a snapshot of starred sources and items, lets the Tracker pick
// the items that are both unseen and newer than the last reconciliation, and
// hands each of those to the Presenter, which shows one alert per item when
// the Gate reports that consent was granted.
//
// Nothing in a cycle is fatal: fetch failures degrade to an empty read,
// presentation failures skip a single item, and the next tick retries
// naturally.
package poller
