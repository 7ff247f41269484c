// Package browser abstracts the host environment the hub runs against: the
// browser that knows which tab is focused and can bring a tab to the front.
//
// Two hosts are provided:
//
//   - CDPHost drives a Chromium instance over the DevTools protocol. The
//     focused tab is the first page target Chromium reports, polled at a
//     fixed interval; activation uses Target.activateTarget. Collector
//     handles are bound to page targets by the URL each channel connected
//     from, so focus and activation use the handles collectors announce.
//   - PassiveHost has no browser control. It learns tabs from the channels
//     that connect and focus changes from the admin API.
//
// Both deliver focus changes to listeners registered with OnFocusChange.
package browser
