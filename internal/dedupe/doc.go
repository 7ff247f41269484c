// Package dedupe suppresses repeated per-key actions inside a time window.
// The hub uses it to send at most one tool refresh request to a tab per
// window while focus flaps between tabs.
package dedupe
