package server

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// RATE LIMITER TESTS
// ============================================================================

// Test: A connection gets exactly max messages per window
func TestRateLimiter_Allow(t *testing.T) {
	limiter := NewRateLimiter(10, time.Second)

	for i := 0; i < 10; i++ {
		assert.True(t, limiter.Allow("c1"), "message %d", i+1)
	}
	assert.False(t, limiter.Allow("c1"))
}

// Test: The window slides
// Why: A burst must not lock a connection out for longer than the window
func TestRateLimiter_WindowReset(t *testing.T) {
	limiter := NewRateLimiter(2, 100*time.Millisecond)

	assert.True(t, limiter.Allow("c1"))
	assert.True(t, limiter.Allow("c1"))
	assert.False(t, limiter.Allow("c1"))

	time.Sleep(150 * time.Millisecond)
	assert.True(t, limiter.Allow("c1"))
}

// Test: Limits are tracked per connection
// Why: One noisy token drag must not throttle the rest of the table
func TestRateLimiter_PerConnection(t *testing.T) {
	limiter := NewRateLimiter(5, time.Second)

	for i := 0; i < 5; i++ {
		limiter.Allow("master")
	}
	assert.False(t, limiter.Allow("master"))

	for i := 0; i < 5; i++ {
		assert.True(t, limiter.Allow("player"), "player message %d", i+1)
	}
}

func TestRateLimiter_CleanupAndRemove(t *testing.T) {
	limiter := NewRateLimiter(10, 100*time.Millisecond)
	for i := 0; i < 5; i++ {
		limiter.Allow(fmt.Sprintf("c%d", i))
	}

	limiter.mu.Lock()
	assert.Len(t, limiter.requests, 5)
	limiter.mu.Unlock()

	limiter.RemoveConnection("c0")
	time.Sleep(200 * time.Millisecond)
	limiter.Allow("fresh")
	limiter.Cleanup()

	limiter.mu.Lock()
	defer limiter.mu.Unlock()
	assert.Len(t, limiter.requests, 1)
	assert.Contains(t, limiter.requests, "fresh")
}

// ============================================================================
// CONNECTION HEALTH TESTS
// ============================================================================

func TestConnectionHealth_IsInactive(t *testing.T) {
	health := NewConnectionHealth()

	assert.False(t, health.IsInactive("c1", time.Minute), "unknown connections are not reaped")

	health.UpdateActivity("c1")
	assert.False(t, health.IsInactive("c1", time.Minute))

	health.mu.Lock()
	health.lastActivity["c1"] = time.Now().Add(-2 * time.Minute)
	health.mu.Unlock()
	assert.True(t, health.IsInactive("c1", time.Minute))
}

// Test: The reaper sees only connections idle past the timeout
func TestConnectionHealth_GetInactiveConnections(t *testing.T) {
	health := NewConnectionHealth()
	health.UpdateActivity("active-1")
	health.UpdateActivity("active-2")

	health.mu.Lock()
	health.lastActivity["idle-1"] = time.Now().Add(-11 * time.Minute)
	health.lastActivity["idle-2"] = time.Now().Add(-30 * time.Minute)
	health.mu.Unlock()

	assert.ElementsMatch(t, []string{"idle-1", "idle-2"}, health.GetInactiveConnections(10*time.Minute))

	health.RemoveConnection("idle-1")
	assert.Equal(t, []string{"idle-2"}, health.GetInactiveConnections(10*time.Minute))
}

// ============================================================================
// VALIDATION TESTS
// ============================================================================

func TestValidateMessageType(t *testing.T) {
	for _, msgType := range []string{
		"ping", "join_session", "player_join", "leave_session",
		"add_map", "update_entity", "token_update", "drawing_update", "clear_drawings",
		"update_fog_state", "clear_fog_state", "update_grid_settings",
		"update_permissions", "get_players", "send_ping",
		"scene_create", "scene_switch", "scene_toggle_visibility", "request_current_scene",
		"send_private_message", "get_conversation", "get_chat_contacts", "mark_conversation_read",
		"roll_dice", "save_session",
	} {
		assert.NoError(t, ValidateMessageType(msgType), msgType)
	}

	for _, msgType := range []string{"", "invalid", "PING", "join", "create_game", "clear_fog"} {
		err := ValidateMessageType(msgType)
		require.Error(t, err, msgType)
		assert.ErrorIs(t, err, ErrUnknownMessageType)
	}
}

func TestValidatePlayerName(t *testing.T) {
	for _, name := range []string{"Alice", "Bob123", "Player 1", "用户", "Brünhilde the Unbowed"} {
		assert.NoError(t, ValidatePlayerName(name), name)
	}
	assert.Error(t, ValidatePlayerName(""))
	assert.Error(t, ValidatePlayerName("   "))
	assert.Error(t, ValidatePlayerName("ThisPlayerNameIsWayTooLongAndShouldFailValidation"))
}
