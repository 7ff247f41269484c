// Package hub is the tool registry hub: the long-lived coordinator between
// browser tabs that expose tools and the capability server that republishes
// them.
//
// Each tab connects one channel named "mcp-content-script-proxy" and speaks
// a small tagged-union protocol:
//
//	tab → hub   register-tools, tools-updated, tool-result
//	hub → tab   execute-tool, request-tools-refresh, cancel-tool
//
// The hub parses tool lists, hands them to the registry (which names,
// publishes and diffs them), resolves tool results through the correlator,
// and on disconnect removes the tab's tools and fails its in-flight calls.
// Focus changes reach the tracker through the browser host.
package hub
