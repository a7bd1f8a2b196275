package server

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tabletop-server/internal/tabletop"
)

// routerServer is a Server with just enough wiring for fan-out tests.
func routerServer() *Server {
	return &Server{
		logger:      discardLogger(),
		sessions:    tabletop.NewStore(),
		connections: NewConnectionManager(),
	}
}

func bind(s *Server, id string, b Binding) *Client {
	c := testClient(id)
	s.connections.AddClient(c)
	s.connections.Register(id, b)
	return c
}

// queued pops every frame waiting in the client's send queue.
func queued(t *testing.T, c *Client) []inbound {
	t.Helper()
	var out []inbound
	for {
		select {
		case data := <-c.send:
			var msg inbound
			require.NoError(t, json.Unmarshal(data, &msg))
			out = append(out, msg)
		default:
			return out
		}
	}
}

// ============================================================================
// FAN-OUT TESTS
// ============================================================================

func TestBroadcast_ExcludesSenderAndOtherRooms(t *testing.T) {
	s := routerServer()
	master := bind(s, "c1", Binding{SessionID: "abc", Role: RoleMaster})
	alice := bind(s, "c2", Binding{SessionID: "abc", Role: RolePlayer, PlayerID: "A"})
	other := bind(s, "c3", Binding{SessionID: "xyz", Role: RoleMaster})

	s.broadcast("abc", "player_joined", PlayerNotification{PlayerID: "A", PlayerName: "Alice"}, alice)

	got := queued(t, master)
	require.Len(t, got, 1)
	assert.Equal(t, "player_joined", got[0].Type)
	assert.JSONEq(t, `{"player_id":"A","player_name":"Alice"}`, string(got[0].Payload))
	assert.Empty(t, queued(t, alice))
	assert.Empty(t, queued(t, other))
}

// Test: Live layer updates skip players the active scene hides
// Why: A blocked player must never receive content they cannot see
func TestBroadcastLayer_FollowsSceneVisibility(t *testing.T) {
	s := routerServer()
	master := bind(s, "c1", Binding{SessionID: "abc", Role: RoleMaster})
	alice := bind(s, "c2", Binding{SessionID: "abc", Role: RolePlayer, PlayerID: "A"})
	bob := bind(s, "c3", Binding{SessionID: "abc", Role: RolePlayer, PlayerID: "B"})

	sess := s.sessions.GetOrCreate("abc")
	s.broadcastLayer(sess, "maps_sync", MapsSync{Maps: sess.Live().Maps})
	assert.Len(t, queued(t, master), 1)
	assert.Len(t, queued(t, alice), 1)
	assert.Len(t, queued(t, bob), 1, "no active scene: everyone sees the global layers")

	sess.CreateScene("s1", "Cave")
	visible := []string{"A"}
	_, err := sess.UpdateScene("s1", tabletop.SceneUpdate{VisibleToPlayers: &visible})
	require.NoError(t, err)
	_, err = sess.SwitchScene("s1")
	require.NoError(t, err)

	s.broadcastLayer(sess, "maps_sync", MapsSync{Maps: sess.Live().Maps})
	assert.Len(t, queued(t, master), 1)
	assert.Len(t, queued(t, alice), 1)
	assert.Empty(t, queued(t, bob))
}

func TestPersonalize_RendersPerMember(t *testing.T) {
	s := routerServer()
	master := bind(s, "c1", Binding{SessionID: "abc", Role: RoleMaster})
	alice := bind(s, "c2", Binding{SessionID: "abc", Role: RolePlayer, PlayerID: "A"})
	bob := bind(s, "c3", Binding{SessionID: "abc", Role: RolePlayer, PlayerID: "B"})

	s.personalize("abc", func(m Member) (string, any, bool) {
		if m.Binding.PlayerID == "B" {
			return "", nil, false
		}
		return "hello", map[string]string{"viewer": viewerID(m.Binding)}, true
	})

	got := queued(t, master)
	require.Len(t, got, 1)
	assert.JSONEq(t, `{"viewer":"master"}`, string(got[0].Payload))
	got = queued(t, alice)
	require.Len(t, got, 1)
	assert.JSONEq(t, `{"viewer":"A"}`, string(got[0].Payload))
	assert.Empty(t, queued(t, bob))
}

func TestSendToConn_IgnoresUnknownConnections(t *testing.T) {
	s := routerServer()
	alice := bind(s, "c2", Binding{SessionID: "abc", Role: RolePlayer, PlayerID: "A"})

	s.sendToConn("", "pong", struct{}{})
	s.sendToConn("gone", "pong", struct{}{})
	s.sendToConn("c2", "pong", struct{}{})

	got := queued(t, alice)
	require.Len(t, got, 1)
	assert.Equal(t, "pong", got[0].Type)
}

func TestSendError_Format(t *testing.T) {
	s := routerServer()
	c := bind(s, "c1", Binding{SessionID: "abc", Role: RoleMaster})

	s.sendError(c, CodeRateLimited, "Too many messages, slow down")

	got := queued(t, c)
	require.Len(t, got, 1)
	assert.Equal(t, "error", got[0].Type)
	assert.JSONEq(t, `{"message":"RATE_LIMITED: Too many messages, slow down","code":"RATE_LIMITED"}`, string(got[0].Payload))
}

func TestParticipantConn(t *testing.T) {
	sess := tabletop.NewSession("abc", time.Now())
	sess.MasterConnID = "c1"
	sess.JoinPlayer("A", "Alice", "c2", time.Now())

	assert.Equal(t, "c1", participantConn(sess, tabletop.MasterID))
	assert.Equal(t, "c2", participantConn(sess, "A"))
	assert.Empty(t, participantConn(sess, "nobody"))
}

func TestViewerID(t *testing.T) {
	assert.Equal(t, tabletop.MasterID, viewerID(Binding{Role: RoleMaster}))
	assert.Equal(t, "A", viewerID(Binding{Role: RolePlayer, PlayerID: "A"}))
	assert.Equal(t, tabletop.MasterID, viewerID(Binding{}))
}
