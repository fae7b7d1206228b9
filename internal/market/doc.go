// Package market tracks the provider's view of the gold market.
//
// The Tracker loads the market snapshot on startup, refreshes it on an
// interval, and logs status transitions (TRADEABLE, CLOSED, ...). Readers
// get the last good snapshot; a failed refresh keeps the previous one.
package market
