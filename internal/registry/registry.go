// ABOUTME: Thread-safe registry of tabs, grouped by domain, and the tools they expose.
// ABOUTME: Publishes, updates, and unpublishes tools on the capability server as tabs come and go.

package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/2389/tabhub/internal/channel"
	"github.com/2389/tabhub/internal/protocol"
)

var (
	// ErrUnavailable indicates the tab is unknown, closed, or has no live channel.
	ErrUnavailable = errors.New("tool unavailable")

	// ErrClosed indicates the registry has been closed.
	ErrClosed = errors.New("registry closed")

	// ErrNameTaken indicates another tab already publishes the public name.
	ErrNameTaken = errors.New("public name owned by another tab")
)

// Target identifies the tab tool behind a public name.
type Target struct {
	PublicName string
	Domain     string
	DataID     string
	Tab        protocol.TabHandle
	RawName    string
}

// PublicTool is a tool as the capability server sees it.
type PublicTool struct {
	Name        string
	Title       string
	Description string
	// Properties are the input property names; each accepts any value.
	Properties  []string
	Annotations *protocol.Annotations
	Target      Target
}

// CallFunc executes a published tool.
type CallFunc func(ctx context.Context, args json.RawMessage) protocol.CallResult

// Publisher is the capability server as seen by the registry. Publish must
// not assume the name is new, and Update must not assume it exists.
type Publisher interface {
	Publish(tool PublicTool, call CallFunc) error
	Update(tool PublicTool) error
	Unpublish(name string) error
}

// Executor runs a tool call against the owning tab.
type Executor interface {
	Execute(ctx context.Context, domain, dataID, rawName string, args json.RawMessage) protocol.CallResult
}

// TabRecord is the registry's state for one tab that has registered tools.
type TabRecord struct {
	Tools       []protocol.ToolDescriptor
	LastUpdated time.Time
	SourceURL   string
	Handle      protocol.TabHandle
	Channel     channel.Channel
	IsClosed    bool
}

// Change reports the public names affected by a registration.
type Change struct {
	Published []string
	Updated   []string
	Removed   []string
}

// toolHandle is the registry's side of one published name.
type toolHandle struct {
	target Target
}

// Registry owns every TabRecord. All mutations hold mu, and capability
// server calls are made inside the critical section so that the server
// sees changes in the same order the registry applied them.
type Registry struct {
	mu      sync.Mutex
	domains map[string]map[string]*TabRecord // domain -> data id -> record
	handles map[string]*toolHandle           // public name -> handle
	closed  bool

	publisher Publisher
	executor  Executor
	active    *ActiveTab
	logger    *slog.Logger
	now       func() time.Time
}

// Config contains the registry's collaborators.
type Config struct {
	Publisher Publisher
	Executor  Executor
	Active    *ActiveTab
	Logger    *slog.Logger
}

// New creates a Registry.
func New(cfg Config) *Registry {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	active := cfg.Active
	if active == nil {
		active = &ActiveTab{}
	}
	return &Registry{
		domains:   make(map[string]map[string]*TabRecord),
		handles:   make(map[string]*toolHandle),
		publisher: cfg.Publisher,
		executor:  cfg.Executor,
		active:    active,
		logger:    logger,
		now:       time.Now,
	}
}

// Active returns the shared active-tab state.
func (r *Registry) Active() *ActiveTab { return r.active }

// RegisterOrUpdate creates or replaces the record for dataID under domain
// and publishes every tool in it. When a previous record exists, tools it
// had that are missing now are unpublished, whether or not initial is set;
// initial is only logged. Duplicate raw names in tools
// collapse to the last occurrence.
//
// Publisher failures are logged and joined into the returned error; the
// registry state is still updated.
func (r *Registry) RegisterOrUpdate(domain, dataID string, ch channel.Channel, sender channel.Sender, tools []protocol.ToolDescriptor, initial bool) (Change, error) {
	tools = uniqueByName(tools)

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return Change{}, ErrClosed
	}

	bucket, ok := r.domains[domain]
	if !ok {
		bucket = make(map[string]*TabRecord)
		r.domains[domain] = bucket
	}
	prev := bucket[dataID]

	rec := &TabRecord{
		Tools:       tools,
		LastUpdated: r.now(),
		SourceURL:   sender.URL,
		Handle:      sender.Tab,
		Channel:     ch,
	}
	bucket[dataID] = rec

	var change Change
	var errs []error
	status := r.statusLocked(rec)

	kept := make(map[string]struct{}, len(tools))
	for _, tool := range tools {
		pt := r.publicTool(domain, dataID, rec, tool, status)
		kept[pt.Name] = struct{}{}

		if published, owned := r.ownerLocked(pt.Name, domain, dataID); published {
			if !owned {
				r.logger.Warn("public name collision", "tool_name", pt.Name, "domain", domain, "data_id", dataID)
				errs = append(errs, fmt.Errorf("%w: %s", ErrNameTaken, pt.Name))
				continue
			}
			if err := r.publisher.Update(pt); err != nil {
				errs = append(errs, fmt.Errorf("updating %s: %w", pt.Name, err))
				continue
			}
			change.Updated = append(change.Updated, pt.Name)
			continue
		}

		if err := r.publisher.Publish(pt, r.callFunc(pt.Target)); err != nil {
			errs = append(errs, fmt.Errorf("publishing %s: %w", pt.Name, err))
			continue
		}
		r.handles[pt.Name] = &toolHandle{target: pt.Target}
		change.Published = append(change.Published, pt.Name)
	}

	if prev != nil {
		for _, old := range prev.Tools {
			name := PublicName(domain, prev.Handle, old.Name)
			if _, still := kept[name]; still {
				continue
			}
			if err := r.unpublishLocked(name, domain, dataID); err != nil {
				errs = append(errs, err)
			}
			change.Removed = append(change.Removed, name)
		}
	}

	r.logger.Info("tab tools registered",
		"domain", domain,
		"data_id", dataID,
		"initial", initial,
		"published", len(change.Published),
		"updated", len(change.Updated),
		"removed", len(change.Removed),
		"total_tools", len(r.handles),
	)

	return change, errors.Join(errs...)
}

// UnregisterTab unpublishes every tool of the record and deletes it.
// Unknown records are a no-op, so calling it twice is safe.
func (r *Registry) UnregisterTab(domain, dataID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.unregisterLocked(domain, dataID)
}

// ReleaseChannel unregisters the record only if ch is still its channel. A
// late disconnect of a replaced channel leaves the newer record alone.
func (r *Registry) ReleaseChannel(domain, dataID string, ch channel.Channel) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.domains[domain][dataID]
	if !ok || rec.Channel == nil || rec.Channel.ID() != ch.ID() {
		return false
	}
	r.unregisterLocked(domain, dataID)
	return true
}

func (r *Registry) unregisterLocked(domain, dataID string) int {
	bucket, ok := r.domains[domain]
	if !ok {
		return 0
	}
	rec, ok := bucket[dataID]
	if !ok {
		return 0
	}

	rec.IsClosed = true
	rec.Channel = nil

	removed := 0
	for _, tool := range rec.Tools {
		name := PublicName(domain, rec.Handle, tool.Name)
		if err := r.unpublishLocked(name, domain, dataID); err != nil {
			r.logger.Warn("unpublishing tool", "tool_name", name, "error", err)
		}
		removed++
	}

	delete(bucket, dataID)
	if len(bucket) == 0 {
		delete(r.domains, domain)
	}

	r.logger.Info("tab unregistered",
		"domain", domain,
		"data_id", dataID,
		"tools_removed", removed,
		"total_tools", len(r.handles),
	)
	return removed
}

// ownerLocked reports whether name is published and whether the record at
// domain/dataID is the one publishing it.
func (r *Registry) ownerLocked(name, domain, dataID string) (published, owned bool) {
	h, ok := r.handles[name]
	if !ok {
		return false, false
	}
	return true, h.target.Domain == domain && h.target.DataID == dataID
}

// unpublishLocked removes name only when domain/dataID owns it.
func (r *Registry) unpublishLocked(name, domain, dataID string) error {
	if _, owned := r.ownerLocked(name, domain, dataID); !owned {
		return nil
	}
	delete(r.handles, name)
	if err := r.publisher.Unpublish(name); err != nil {
		return fmt.Errorf("unpublishing %s: %w", name, err)
	}
	return nil
}

// Channel returns the live channel of the record, or ErrUnavailable.
func (r *Registry) Channel(domain, dataID string) (channel.Channel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.domains[domain][dataID]
	if !ok || rec.IsClosed || rec.Channel == nil {
		return nil, fmt.Errorf("%w: %s/%s", ErrUnavailable, domain, dataID)
	}
	return rec.Channel, nil
}

// RefreshDescriptions republishes the descriptions of a record's tools
// against the current active-tab state. Unknown records are ignored.
func (r *Registry) RefreshDescriptions(domain, dataID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.domains[domain][dataID]
	if !ok {
		return fmt.Errorf("%w: %s/%s", ErrUnavailable, domain, dataID)
	}

	status := r.statusLocked(rec)
	var errs []error
	for _, tool := range rec.Tools {
		pt := r.publicTool(domain, dataID, rec, tool, status)
		if _, owned := r.ownerLocked(pt.Name, domain, dataID); !owned {
			continue
		}
		if err := r.publisher.Update(pt); err != nil {
			errs = append(errs, fmt.Errorf("updating %s: %w", pt.Name, err))
		}
	}
	return errors.Join(errs...)
}

// RecordsForHandle returns every record owned by tab h. A tab navigating
// between domains briefly owns one record per domain.
func (r *Registry) RecordsForHandle(h protocol.TabHandle) []TabSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []TabSnapshot
	for domain, bucket := range r.domains {
		for dataID, rec := range bucket {
			if rec.Handle == h {
				out = append(out, r.snapshotLocked(domain, dataID, rec))
			}
		}
	}
	sortSnapshots(out)
	return out
}

// Lookup resolves a public name to its owning tab tool.
func (r *Registry) Lookup(publicName string) (Target, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	h, ok := r.handles[publicName]
	if !ok {
		return Target{}, false
	}
	return h.target, true
}

// Close unpublishes every tool and rejects further registrations.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}
	r.closed = true
	for domain, bucket := range r.domains {
		for dataID := range bucket {
			r.unregisterLocked(domain, dataID)
		}
	}
}

func (r *Registry) statusLocked(rec *TabRecord) Status {
	switch {
	case rec.IsClosed:
		return StatusClosed
	case r.active.IsActive(rec.Handle):
		return StatusActive
	default:
		return StatusNone
	}
}

func (r *Registry) publicTool(domain, dataID string, rec *TabRecord, tool protocol.ToolDescriptor, status Status) PublicTool {
	name := PublicName(domain, rec.Handle, tool.Name)
	title := tool.Title
	if title == "" && tool.Annotations != nil {
		title = tool.Annotations.Title
	}
	return PublicTool{
		Name:        name,
		Title:       title,
		Description: Describe(domain, status, tool.Description),
		Properties:  tool.PropertyNames(),
		Annotations: tool.Annotations,
		Target: Target{
			PublicName: name,
			Domain:     domain,
			DataID:     dataID,
			Tab:        rec.Handle,
			RawName:    tool.Name,
		},
	}
}

func (r *Registry) callFunc(t Target) CallFunc {
	return func(ctx context.Context, args json.RawMessage) protocol.CallResult {
		if r.executor == nil {
			return protocol.ErrorResult("%s", ErrUnavailable.Error())
		}
		return r.executor.Execute(ctx, t.Domain, t.DataID, t.RawName, args)
	}
}

// uniqueByName keeps the last descriptor for each raw name, in order of
// that last occurrence.
func uniqueByName(tools []protocol.ToolDescriptor) []protocol.ToolDescriptor {
	last := make(map[string]int, len(tools))
	for i, t := range tools {
		last[t.Name] = i
	}
	if len(last) == len(tools) {
		return tools
	}
	out := make([]protocol.ToolDescriptor, 0, len(last))
	for i, t := range tools {
		if last[t.Name] == i {
			out = append(out, t)
		}
	}
	return out
}

func sortSnapshots(s []TabSnapshot) {
	sort.Slice(s, func(i, j int) bool {
		if s[i].Domain != s[j].Domain {
			return s[i].Domain < s[j].Domain
		}
		return s[i].DataID < s[j].DataID
	})
}
