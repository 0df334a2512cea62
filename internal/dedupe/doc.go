// Package dedupe remembers which conversations already have a summary in
// their owner's session index, so repeated registrations of the same
// conversation can return without touching the store.
package dedupe
