// ABOUTME: Read-only copies of registry state for the tracker and the admin API.
// ABOUTME: Snapshots never alias the registry's records.

package registry

import (
	"sort"
	"time"

	"github.com/2389/tabhub/internal/channel"
	"github.com/2389/tabhub/internal/protocol"
)

// ToolSnapshot is one published tool of a tab.
type ToolSnapshot struct {
	RawName     string `json:"raw_name"`
	PublicName  string `json:"public_name"`
	Description string `json:"description"`
}

// TabSnapshot is a copy of a TabRecord.
type TabSnapshot struct {
	Domain      string             `json:"domain"`
	DataID      string             `json:"data_id"`
	Handle      protocol.TabHandle `json:"tab"`
	SourceURL   string             `json:"url"`
	LastUpdated time.Time          `json:"last_updated"`
	Status      Status             `json:"status"`
	Connected   bool               `json:"connected"`
	Tools       []ToolSnapshot     `json:"tools"`

	// Channel is the live channel, if any. It is not serialized.
	Channel channel.Channel `json:"-"`
}

// Stats summarizes the registry.
type Stats struct {
	Domains int `json:"domains"`
	Tabs    int `json:"tabs"`
	Tools   int `json:"tools"`
}

// Snapshot returns every record, ordered by domain then data id.
func (r *Registry) Snapshot() []TabSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []TabSnapshot
	for domain, bucket := range r.domains {
		for dataID, rec := range bucket {
			out = append(out, r.snapshotLocked(domain, dataID, rec))
		}
	}
	sortSnapshots(out)
	return out
}

// Tools returns every published target, ordered by public name.
func (r *Registry) Tools() []Target {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Target, 0, len(r.handles))
	for _, h := range r.handles {
		out = append(out, h.target)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PublicName < out[j].PublicName })
	return out
}

// Stats returns counts of domains, tabs and published tools.
func (r *Registry) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := Stats{Domains: len(r.domains), Tools: len(r.handles)}
	for _, bucket := range r.domains {
		s.Tabs += len(bucket)
	}
	return s
}

func (r *Registry) snapshotLocked(domain, dataID string, rec *TabRecord) TabSnapshot {
	status := r.statusLocked(rec)
	tools := make([]ToolSnapshot, 0, len(rec.Tools))
	for _, t := range rec.Tools {
		tools = append(tools, ToolSnapshot{
			RawName:     t.Name,
			PublicName:  PublicName(domain, rec.Handle, t.Name),
			Description: Describe(domain, status, t.Description),
		})
	}
	return TabSnapshot{
		Domain:      domain,
		DataID:      dataID,
		Handle:      rec.Handle,
		SourceURL:   rec.SourceURL,
		LastUpdated: rec.LastUpdated,
		Status:      status,
		Connected:   !rec.IsClosed && rec.Channel != nil,
		Tools:       tools,
		Channel:     rec.Channel,
	}
}
