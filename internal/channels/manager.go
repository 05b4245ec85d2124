package channels

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/nextlevelbuilder/autoreply/internal/bus"
)

// Manager manages all registered channels, handling their lifecycle
// and routing outbound messages to the correct channel.
type Manager struct {
	channels map[string]Channel
	mu       sync.RWMutex
}

// NewManager creates a new channel manager.
// Channels are registered externally via RegisterChannel.
func NewManager() *Manager {
	return &Manager{
		channels: make(map[string]Channel),
	}
}

// StartAll starts all registered channels. A channel that fails to start is
// logged and skipped so the others keep working.
func (m *Manager) StartAll(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.channels) == 0 {
		slog.Warn("no channels enabled")
		return nil
	}

	slog.Info("starting all channels")
	started := 0
	for name, channel := range m.channels {
		slog.Info("starting channel", "channel", name)
		if err := channel.Start(ctx); err != nil {
			slog.Error("failed to start channel", "channel", name, "error", err)
			continue
		}
		started++
	}
	slog.Info("all channels started", "count", started)
	return nil
}

// StopAll gracefully stops all channels.
func (m *Manager) StopAll(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	slog.Info("stopping all channels")
	for name, channel := range m.channels {
		slog.Info("stopping channel", "channel", name)
		if err := channel.Stop(ctx); err != nil {
			slog.Error("error stopping channel", "channel", name, "error", err)
		}
	}
	slog.Info("all channels stopped")
	return nil
}

// Send routes msg to the channel named in msg.Channel. It is the outbound
// sink used by the reply dispatcher.
func (m *Manager) Send(ctx context.Context, msg bus.OutboundMessage) error {
	m.mu.RLock()
	channel, exists := m.channels[msg.Channel]
	m.mu.RUnlock()

	if !exists {
		return fmt.Errorf("channel %s not found", msg.Channel)
	}
	if !channel.IsRunning() {
		return fmt.Errorf("channel %s not running", msg.Channel)
	}
	return channel.Send(ctx, msg)
}

// ChannelStatus is reported by the health endpoint.
type ChannelStatus struct {
	Running bool `json:"running"`
}

// GetStatus returns the running status of all channels.
func (m *Manager) GetStatus() map[string]ChannelStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status := make(map[string]ChannelStatus, len(m.channels))
	for name, channel := range m.channels {
		status[name] = ChannelStatus{Running: channel.IsRunning()}
	}
	return status
}

// GetEnabledChannels returns the names of all registered channels, sorted.
func (m *Manager) GetEnabledChannels() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.channels))
	for name := range m.channels {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// RegisterChannel adds a channel to the manager.
func (m *Manager) RegisterChannel(name string, channel Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels[name] = channel
}
