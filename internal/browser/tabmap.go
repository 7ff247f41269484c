// ABOUTME: Binds collector tab handles to CDP page targets by matching page URLs.
// ABOUTME: Lets CDPHost speak in the handles collectors announce instead of target ids.

package browser

import (
	"strings"

	"github.com/chromedp/cdproto/target"

	"github.com/2389/tabhub/internal/protocol"
)

// unboundPrefix marks a focused page that no connected collector claims.
// Such a handle never equals a collector handle, so no collector tab is
// treated as active while that page is in front.
const unboundPrefix = "cdp:"

// tabMap is not safe for concurrent use; CDPHost guards it with its mutex.
type tabMap struct {
	urls  map[protocol.TabHandle]string
	bound map[protocol.TabHandle]target.ID
}

func newTabMap() *tabMap {
	return &tabMap{
		urls:  make(map[protocol.TabHandle]string),
		bound: make(map[protocol.TabHandle]target.ID),
	}
}

func (m *tabMap) observe(h protocol.TabHandle, url string) {
	if prev, ok := m.urls[h]; ok && samePage(prev, url) {
		return
	}
	m.urls[h] = url
	delete(m.bound, h)
}

func (m *tabMap) forget(h protocol.TabHandle) {
	delete(m.urls, h)
	delete(m.bound, h)
}

// resolve refreshes bindings against the current page targets. A binding
// survives while its target exists and still shows the collector's URL.
// Unbound handles take the first free target with a matching URL.
func (m *tabMap) resolve(pages []*target.Info) {
	byID := make(map[target.ID]*target.Info, len(pages))
	for _, p := range pages {
		byID[p.TargetID] = p
	}

	taken := make(map[target.ID]bool, len(m.bound))
	for h, id := range m.bound {
		p, ok := byID[id]
		if !ok || !samePage(p.URL, m.urls[h]) {
			delete(m.bound, h)
			continue
		}
		taken[id] = true
	}

	for h, url := range m.urls {
		if _, ok := m.bound[h]; ok {
			continue
		}
		for _, p := range pages {
			if taken[p.TargetID] || !samePage(p.URL, url) {
				continue
			}
			m.bound[h] = p.TargetID
			taken[p.TargetID] = true
			break
		}
	}
}

func (m *tabMap) handleFor(id target.ID) protocol.TabHandle {
	for h, bid := range m.bound {
		if bid == id {
			return h
		}
	}
	return protocol.TabHandle(unboundPrefix + string(id))
}

func (m *tabMap) targetFor(h protocol.TabHandle) (target.ID, bool) {
	id, ok := m.bound[h]
	return id, ok
}

// samePage compares URLs ignoring the fragment, which a page can change
// without reloading its collector.
func samePage(a, b string) bool {
	a, _, _ = strings.Cut(a, "#")
	b, _, _ = strings.Cut(b, "#")
	return a != "" && a == b
}
