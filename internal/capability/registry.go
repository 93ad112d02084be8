// Package capability tracks which nodes are on the bus and what they offer.
package capability

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/loqalabs/loqa-dialog/internal/bus"
	"github.com/loqalabs/loqa-dialog/internal/config"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const (
	subjectAnnounce  = "ctrl.node.announce"
	subjectDiscover  = "ctrl.node.discover"
	subjectHeartbeat = "ctrl.node.heartbeat"
)

type Capability struct {
	Name       string            `json:"name"`
	Tier       string            `json:"tier,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

type NodeInfo struct {
	ID           string       `json:"id"`
	Role         string       `json:"role"`
	Capabilities []Capability `json:"capabilities"`
	LastSeen     time.Time    `json:"last_seen"`
	Healthy      bool         `json:"healthy"`
}

// presenceMessage is used for both announcements and heartbeats so that a
// node which missed the announcement still learns what a peer offers.
type presenceMessage struct {
	NodeID       string       `json:"node_id"`
	Role         string       `json:"role"`
	Capabilities []Capability `json:"capabilities"`
	Timestamp    time.Time    `json:"timestamp"`
}

type Registry struct {
	cfg     config.NodeConfig
	log     *slog.Logger
	bus     *bus.Client
	mu      sync.RWMutex
	nodes   map[string]*NodeInfo
	changed chan struct{}
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	subs    []*nats.Subscription
	meter   metric.Meter
	reg     metric.Registration
}

func NewRegistry(ctx context.Context, cfg config.NodeConfig, busClient *bus.Client, log *slog.Logger) (*Registry, error) {
	if cfg.ID == "" {
		return nil, fmt.Errorf("node id must not be empty")
	}
	if cfg.HeartbeatInterval <= 0 || cfg.HeartbeatTimeout <= 0 {
		return nil, fmt.Errorf("heartbeat interval and timeout must be positive")
	}
	ctx, cancel := context.WithCancel(ctx)
	r := &Registry{
		cfg:     cfg,
		log:     log.With(slog.String("component", "capability-registry")),
		bus:     busClient,
		nodes:   make(map[string]*NodeInfo),
		changed: make(chan struct{}),
		meter:   otel.Meter("github.com/loqalabs/loqa-dialog/capability"),
		cancel:  cancel,
	}

	if err := r.initMetrics(); err != nil {
		r.log.Warn("failed to initialize metrics", slog.String("error", err.Error()))
	}

	if err := r.subscribe(); err != nil {
		r.Close()
		return nil, err
	}

	r.wg.Add(2)
	go r.runHeartbeat(ctx)
	go r.monitorHealth(ctx)

	if err := r.announce(); err != nil {
		r.log.Warn("failed to announce node", slog.String("error", err.Error()))
	}
	// ask peers that are already running to announce themselves
	if err := r.bus.Conn().Publish(subjectDiscover, nil); err != nil {
		r.log.Warn("failed to request discovery", slog.String("error", err.Error()))
	}

	return r, nil
}

func (r *Registry) Close() {
	if r.cancel != nil {
		r.cancel()
	}
	for _, sub := range r.subs {
		_ = sub.Drain()
	}
	r.subs = nil
	r.wg.Wait()
	if r.reg != nil {
		_ = r.reg.Unregister()
	}
}

func (r *Registry) subscribe() error {
	conn := r.bus.Conn()
	handlers := []struct {
		subject string
		handler nats.MsgHandler
	}{
		{subjectAnnounce, r.handlePresence},
		{subjectHeartbeat + ".*", r.handlePresence},
		{subjectDiscover, r.handleDiscover},
	}
	for _, h := range handlers {
		sub, err := conn.Subscribe(h.subject, h.handler)
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", h.subject, err)
		}
		r.subs = append(r.subs, sub)
	}
	return conn.Flush()
}

func (r *Registry) runHeartbeat(ctx context.Context) {
	defer r.wg.Done()
	ticker := time.NewTicker(time.Duration(r.cfg.HeartbeatInterval) * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.publish(fmt.Sprintf("%s.%s", subjectHeartbeat, r.cfg.ID)); err != nil {
				r.log.Warn("failed to publish heartbeat", slog.String("error", err.Error()))
			}
		}
	}
}

func (r *Registry) monitorHealth(ctx context.Context) {
	defer r.wg.Done()
	interval := time.Duration(r.cfg.HeartbeatInterval) * time.Millisecond
	if interval > time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.evaluateHealth()
		}
	}
}

func (r *Registry) announce() error {
	return r.publish(subjectAnnounce)
}

func (r *Registry) publish(subject string) error {
	msg := presenceMessage{
		NodeID:       r.cfg.ID,
		Role:         r.cfg.Role,
		Capabilities: convertCapabilities(r.cfg.Capabilities),
		Timestamp:    time.Now().UTC(),
	}
	if err := r.bus.PublishJSON(subject, msg); err != nil {
		return err
	}
	r.updateNode(msg)
	return nil
}

func (r *Registry) handlePresence(msg *nats.Msg) {
	var presence presenceMessage
	if err := json.Unmarshal(msg.Data, &presence); err != nil {
		r.log.Warn("invalid presence message", slog.String("subject", msg.Subject), slog.String("error", err.Error()))
		return
	}
	if presence.NodeID == "" {
		return
	}
	if presence.Timestamp.IsZero() {
		presence.Timestamp = time.Now().UTC()
	}
	r.updateNode(presence)
}

func (r *Registry) handleDiscover(*nats.Msg) {
	if err := r.announce(); err != nil {
		r.log.Warn("failed to answer discovery", slog.String("error", err.Error()))
	}
}

func (r *Registry) updateNode(msg presenceMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()

	node, ok := r.nodes[msg.NodeID]
	if !ok {
		node = &NodeInfo{ID: msg.NodeID}
		r.nodes[msg.NodeID] = node
		r.log.Info("node discovered", slog.String("node_id", msg.NodeID), slog.String("role", msg.Role))
	}
	if msg.Role != "" {
		node.Role = msg.Role
	}
	if len(msg.Capabilities) > 0 {
		node.Capabilities = msg.Capabilities
	}
	// local clocks may disagree; liveness is judged by arrival time
	node.LastSeen = time.Now()
	node.Healthy = true
	r.notifyLocked()
}

func (r *Registry) evaluateHealth() {
	r.mu.Lock()
	defer r.mu.Unlock()

	timeout := time.Duration(r.cfg.HeartbeatTimeout) * time.Millisecond
	now := time.Now()
	changed := false
	for _, node := range r.nodes {
		if node.Healthy && now.Sub(node.LastSeen) > timeout {
			node.Healthy = false
			changed = true
			r.log.Warn("node missed heartbeats", slog.String("node_id", node.ID))
		}
	}
	if changed {
		r.notifyLocked()
	}
}

func (r *Registry) notifyLocked() {
	close(r.changed)
	r.changed = make(chan struct{})
}

func (r *Registry) Healthy() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	node, ok := r.nodes[r.cfg.ID]
	if !ok {
		return false
	}
	return node.Healthy
}

// Query returns the known nodes accepted by filter, ordered by id.
func (r *Registry) Query(filter func(NodeInfo) bool) []NodeInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.queryLocked(filter)
}

func (r *Registry) queryLocked(filter func(NodeInfo) bool) []NodeInfo {
	var results []NodeInfo
	for _, node := range r.nodes {
		info := *node
		info.Capabilities = append([]Capability(nil), node.Capabilities...)
		if filter == nil || filter(info) {
			results = append(results, info)
		}
	}
	sort.Slice(results, func(i, j int) bool { return results[i].ID < results[j].ID })
	return results
}

// WaitFor blocks until a healthy node offers the named capability.
func (r *Registry) WaitFor(ctx context.Context, name string) (NodeInfo, error) {
	filter := func(node NodeInfo) bool {
		return node.Healthy && WithCapabilityFilter(name)(node)
	}
	for {
		r.mu.RLock()
		found := r.queryLocked(filter)
		changed := r.changed
		r.mu.RUnlock()
		if len(found) > 0 {
			return found[0], nil
		}
		select {
		case <-ctx.Done():
			return NodeInfo{}, fmt.Errorf("no healthy node offers %q: %w", name, ctx.Err())
		case <-changed:
		}
	}
}

func (r *Registry) initMetrics() error {
	if r.meter == nil {
		return nil
	}
	nodeGauge, err := r.meter.Int64ObservableGauge("loqa.capabilities.nodes", metric.WithDescription("Number of known nodes"))
	if err != nil {
		return err
	}
	healthyGauge, err := r.meter.Int64ObservableGauge("loqa.capabilities.healthy_nodes", metric.WithDescription("Number of nodes with recent heartbeats"))
	if err != nil {
		return err
	}
	capGauge, err := r.meter.Int64ObservableGauge("loqa.capabilities.total", metric.WithDescription("Total advertised capabilities"))
	if err != nil {
		return err
	}
	r.reg, err = r.meter.RegisterCallback(func(_ context.Context, obs metric.Observer) error {
		nodes, healthy, caps := r.snapshotCounts()
		obs.ObserveInt64(nodeGauge, nodes)
		obs.ObserveInt64(healthyGauge, healthy)
		obs.ObserveInt64(capGauge, caps)
		return nil
	}, nodeGauge, healthyGauge, capGauge)
	return err
}

func (r *Registry) snapshotCounts() (nodes, healthy, caps int64) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, node := range r.nodes {
		nodes++
		if node.Healthy {
			healthy++
		}
		caps += int64(len(node.Capabilities))
	}
	return nodes, healthy, caps
}

func convertCapabilities(source []config.NodeCapability) []Capability {
	if len(source) == 0 {
		return nil
	}
	result := make([]Capability, 0, len(source))
	for _, c := range source {
		result = append(result, Capability{
			Name:       c.Name,
			Tier:       c.Tier,
			Attributes: c.Attributes,
		})
	}
	return result
}

func WithCapabilityFilter(name string) func(NodeInfo) bool {
	return func(node NodeInfo) bool {
		for _, c := range node.Capabilities {
			if c.Name == name {
				return true
			}
		}
		return false
	}
}

func WithRoleFilter(role string) func(NodeInfo) bool {
	return func(node NodeInfo) bool { return node.Role == role }
}
