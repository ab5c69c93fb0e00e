// Package dedupe provides a bounded, time-windowed set of keys for skipping
// work that was already done recently, such as re-sending a read receipt for
// a position the server has acknowledged.
package dedupe
