// Package tracker follows browser focus for the hub.
//
// The focused tab is shown as "Active" in tool descriptions so a client can
// tell which of several same-named tools is usable right now. Whenever focus
// moves, the tracker retags the tools of the old and new tabs and sends the
// new tab a request-tools-refresh, throttled per tab.
package tracker
