package server

import (
	"fmt"
	"sync"
	"time"
	"unicode/utf8"
)

const maxPlayerNameLength = 32

// RateLimiter is a per-connection sliding window limiter. One noisy
// connection never consumes another's budget.
type RateLimiter struct {
	maxRequests int
	window      time.Duration
	requests    map[string][]time.Time // connectionID → timestamps inside the window
	mu          sync.Mutex
}

// NewRateLimiter allows maxRequests per window for each connection.
func NewRateLimiter(maxRequests int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		maxRequests: maxRequests,
		window:      window,
		requests:    make(map[string][]time.Time),
	}
}

// Allow records a request and reports whether it fits in the window.
func (r *RateLimiter) Allow(connectionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-r.window)

	timestamps := r.requests[connectionID]
	valid := timestamps[:0]
	for _, ts := range timestamps {
		if ts.After(cutoff) {
			valid = append(valid, ts)
		}
	}

	if len(valid) >= r.maxRequests {
		r.requests[connectionID] = valid
		return false
	}

	r.requests[connectionID] = append(valid, now)
	return true
}

// Cleanup drops connections with no request inside the window.
func (r *RateLimiter) Cleanup() {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := time.Now().Add(-r.window)
	for connID, timestamps := range r.requests {
		if len(timestamps) == 0 || !timestamps[len(timestamps)-1].After(cutoff) {
			delete(r.requests, connID)
		}
	}
}

func (r *RateLimiter) RemoveConnection(connectionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.requests, connectionID)
}

// ConnectionHealth tracks the last inbound frame per connection so idle
// sockets can be reaped.
type ConnectionHealth struct {
	lastActivity map[string]time.Time
	mu           sync.RWMutex
}

func NewConnectionHealth() *ConnectionHealth {
	return &ConnectionHealth{
		lastActivity: make(map[string]time.Time),
	}
}

func (h *ConnectionHealth) UpdateActivity(connectionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastActivity[connectionID] = time.Now()
}

// IsInactive reports whether the connection has been silent longer than
// timeout. Untracked connections are not inactive.
func (h *ConnectionHealth) IsInactive(connectionID string, timeout time.Duration) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	last, exists := h.lastActivity[connectionID]
	if !exists {
		return false
	}
	return time.Since(last) > timeout
}

func (h *ConnectionHealth) GetInactiveConnections(timeout time.Duration) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	inactive := make([]string, 0)
	now := time.Now()
	for connID, last := range h.lastActivity {
		if now.Sub(last) > timeout {
			inactive = append(inactive, connID)
		}
	}
	return inactive
}

func (h *ConnectionHealth) RemoveConnection(connectionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.lastActivity, connectionID)
}

// ValidateMessageType checks that an envelope type is one the server handles.
func ValidateMessageType(msgType string) error {
	validTypes := map[string]bool{
		"ping":                    true,
		"join_session":            true,
		"player_join":             true,
		"leave_session":           true,
		"add_map":                 true,
		"update_map":              true,
		"delete_map":              true,
		"add_entity":              true,
		"update_entity":           true,
		"delete_entity":           true,
		"token_update":            true,
		"drawing_update":          true,
		"clear_drawings":          true,
		"update_fog_state":        true,
		"clear_fog_state":         true,
		"update_grid_settings":    true,
		"update_permissions":      true,
		"get_players":             true,
		"send_ping":               true,
		"send_private_message":    true,
		"get_conversation":        true,
		"get_chat_contacts":       true,
		"mark_conversation_read":  true,
		"scene_create":            true,
		"scene_update":            true,
		"scene_delete":            true,
		"scene_switch":            true,
		"scene_toggle_visibility": true,
		"request_current_scene":   true,
		"roll_dice":               true,
		"save_session":            true,
	}

	if !validTypes[msgType] {
		return fmt.Errorf("%w '%s'", ErrUnknownMessageType, msgType)
	}
	return nil
}

// ValidatePlayerName checks display name requirements.
func ValidatePlayerName(name string) error {
	if blank(name) {
		return fmt.Errorf("player_name cannot be empty")
	}
	if utf8.RuneCountInString(name) > maxPlayerNameLength {
		return fmt.Errorf("player_name too long (max %d characters)", maxPlayerNameLength)
	}
	return nil
}
