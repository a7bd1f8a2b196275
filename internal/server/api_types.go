package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"tabletop-server/internal/tabletop"
)

func missing(field string) error {
	return fmt.Errorf("%w: %s is required", ErrInvalidPayload, field)
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidPayload, fmt.Sprintf(format, args...))
}

func blank(s string) bool { return strings.TrimSpace(s) == "" }

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

// validItem checks an opaque layer item is a JSON object carrying an id.
func validItem(field string, raw json.RawMessage) error {
	trimmed := bytes.TrimSpace(raw)
	if isNull(trimmed) {
		return missing(field)
	}
	if trimmed[0] != '{' {
		return invalid("%s must be an object", field)
	}
	if tabletop.ItemID(trimmed) == "" {
		return missing(field + ".id")
	}
	return nil
}

// sessionRef is embedded in every session-scoped request.
type sessionRef struct {
	SessionID string `json:"session_id"`
}

func (r *sessionRef) Session() string { return r.SessionID }

func (r *sessionRef) Validate() error {
	if blank(r.SessionID) {
		return missing("session_id")
	}
	if err := ValidateSessionID(r.SessionID); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}

// ============================================================================
// ERROR RESPONSES
// ============================================================================
// tygo:generate
type ErrorMessage struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// ============================================================================
// JOIN (join_session, player_join, leave_session)
// ============================================================================
// tygo:generate
type JoinSessionRequest struct {
	sessionRef
}

// tygo:generate
type PlayerJoinRequest struct {
	sessionRef
	PlayerID   string `json:"player_id"`
	PlayerName string `json:"player_name"`
}

func (r *PlayerJoinRequest) Validate() error {
	if err := r.sessionRef.Validate(); err != nil {
		return err
	}
	if blank(r.PlayerID) {
		return missing("player_id")
	}
	if r.PlayerID == tabletop.MasterID {
		return invalid("player_id %q is reserved", tabletop.MasterID)
	}
	if strings.Contains(r.PlayerID, "|") {
		return invalid("player_id must not contain '|'")
	}
	if err := ValidatePlayerName(r.PlayerName); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}

// tygo:generate
type LeaveSessionRequest struct {
	sessionRef
}

// tygo:generate
type SessionState struct {
	Maps          []json.RawMessage     `json:"maps"`
	Entities      []json.RawMessage     `json:"entities"`
	Tokens        []json.RawMessage     `json:"tokens"`
	Drawings      []json.RawMessage     `json:"drawings"`
	Scenes        any                   `json:"scenes"`
	FogImage      *string               `json:"fog_image"`
	GridSettings  tabletop.GridSettings `json:"grid_settings"`
	Players       []tabletop.PlayerInfo `json:"players"`
	ActiveSceneID *string               `json:"active_scene_id"`
}

// tygo:generate
type PlayersList struct {
	Players []tabletop.PlayerInfo `json:"players"`
}

// tygo:generate
type PlayerNotification struct {
	PlayerID   string `json:"player_id"`
	PlayerName string `json:"player_name"`
}

// tygo:generate
type DisconnectedElsewhere struct {
	Message string `json:"message"`
}

// tygo:generate
type ServerShutdown struct {
	Message string `json:"message"`
}

// ============================================================================
// MAPS / ENTITIES
// ============================================================================
// tygo:generate
type MapRequest struct {
	sessionRef
	Map json.RawMessage `json:"map"`
}

func (r *MapRequest) Validate() error {
	if err := r.sessionRef.Validate(); err != nil {
		return err
	}
	return validItem("map", r.Map)
}

// tygo:generate
type DeleteMapRequest struct {
	sessionRef
	MapID string `json:"map_id"`
}

func (r *DeleteMapRequest) Validate() error {
	if err := r.sessionRef.Validate(); err != nil {
		return err
	}
	if blank(r.MapID) {
		return missing("map_id")
	}
	return nil
}

// tygo:generate
type EntityRequest struct {
	sessionRef
	Entity json.RawMessage `json:"entity"`
}

func (r *EntityRequest) Validate() error {
	if err := r.sessionRef.Validate(); err != nil {
		return err
	}
	return validItem("entity", r.Entity)
}

// tygo:generate
type DeleteEntityRequest struct {
	sessionRef
	EntityID string `json:"entity_id"`
}

func (r *DeleteEntityRequest) Validate() error {
	if err := r.sessionRef.Validate(); err != nil {
		return err
	}
	if blank(r.EntityID) {
		return missing("entity_id")
	}
	return nil
}

// tygo:generate
type MapsSync struct {
	Maps []json.RawMessage `json:"maps"`
}

// tygo:generate
type EntitiesSync struct {
	Entities []json.RawMessage `json:"entities"`
}

// ============================================================================
// TOKENS / DRAWINGS / FOG / GRID
// ============================================================================
// tygo:generate
type TokenUpdateRequest struct {
	sessionRef
	Tokens []json.RawMessage `json:"tokens"`
}

func (r *TokenUpdateRequest) Validate() error {
	if err := r.sessionRef.Validate(); err != nil {
		return err
	}
	if r.Tokens == nil {
		return missing("tokens")
	}
	for i, tok := range r.Tokens {
		if err := validItem(fmt.Sprintf("tokens[%d]", i), tok); err != nil {
			return err
		}
	}
	return nil
}

// tygo:generate
type TokenSync struct {
	Tokens []json.RawMessage `json:"tokens"`
}

// tygo:generate
type DrawingUpdateRequest struct {
	sessionRef
	Drawing json.RawMessage `json:"drawing"`
}

func (r *DrawingUpdateRequest) Validate() error {
	if err := r.sessionRef.Validate(); err != nil {
		return err
	}
	if isNull(r.Drawing) {
		return missing("drawing")
	}
	return nil
}

// tygo:generate
type DrawingSync struct {
	Drawing json.RawMessage `json:"drawing"`
	Index   int             `json:"index"`
}

// tygo:generate
type ClearDrawingsRequest struct {
	sessionRef
}

// tygo:generate
type DrawingsCleared struct{}

// tygo:generate
type FogStateRequest struct {
	sessionRef
	FogImage *string `json:"fog_image"`
}

func (r *FogStateRequest) Validate() error {
	if err := r.sessionRef.Validate(); err != nil {
		return err
	}
	if r.FogImage == nil {
		return missing("fog_image")
	}
	return nil
}

// tygo:generate
type ClearFogRequest struct {
	sessionRef
}

// tygo:generate
type FogStateSync struct {
	FogImage *string `json:"fog_image"`
}

// tygo:generate
type GridSettingsRequest struct {
	sessionRef
	GridSettings *tabletop.GridSettings `json:"grid_settings"`
}

func (r *GridSettingsRequest) Validate() error {
	if err := r.sessionRef.Validate(); err != nil {
		return err
	}
	if r.GridSettings == nil {
		return missing("grid_settings")
	}
	if r.GridSettings.Size <= 0 {
		return invalid("grid_settings.size must be > 0")
	}
	if r.GridSettings.LineWidth <= 0 {
		return invalid("grid_settings.lineWidth must be > 0")
	}
	return nil
}

// tygo:generate
type GridSettingsSync struct {
	GridSettings tabletop.GridSettings `json:"grid_settings"`
}

// ============================================================================
// PERMISSIONS / PLAYERS / PING
// ============================================================================
// tygo:generate
type UpdatePermissionsRequest struct {
	sessionRef
	PlayerID    string                `json:"player_id"`
	Permissions *tabletop.Permissions `json:"permissions"`
}

func (r *UpdatePermissionsRequest) Validate() error {
	if err := r.sessionRef.Validate(); err != nil {
		return err
	}
	if blank(r.PlayerID) {
		return missing("player_id")
	}
	if r.Permissions == nil {
		return missing("permissions")
	}
	return nil
}

// tygo:generate
type PermissionsUpdated struct {
	PlayerID    string               `json:"player_id"`
	Permissions tabletop.Permissions `json:"permissions"`
}

// tygo:generate
type GetPlayersRequest struct {
	sessionRef
}

// tygo:generate
type SendPingRequest struct {
	sessionRef
	PlayerID string   `json:"player_id"`
	X        *float64 `json:"x"`
	Y        *float64 `json:"y"`
}

func (r *SendPingRequest) Validate() error {
	if err := r.sessionRef.Validate(); err != nil {
		return err
	}
	if blank(r.PlayerID) {
		return missing("player_id")
	}
	if r.X == nil || r.Y == nil {
		return missing("x and y")
	}
	return nil
}

// tygo:generate
type PingReceived struct {
	PlayerID   string  `json:"player_id"`
	PlayerName string  `json:"player_name"`
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
}

// ============================================================================
// CHAT
// ============================================================================
// tygo:generate
type SendPrivateMessageRequest struct {
	sessionRef
	SenderID    string `json:"sender_id"`
	RecipientID string `json:"recipient_id"`
	Message     string `json:"message"`
}

func (r *SendPrivateMessageRequest) Validate() error {
	if err := r.sessionRef.Validate(); err != nil {
		return err
	}
	switch {
	case blank(r.SenderID):
		return missing("sender_id")
	case blank(r.RecipientID):
		return missing("recipient_id")
	case blank(r.Message):
		return missing("message")
	}
	return nil
}

// tygo:generate
type ConversationRequest struct {
	sessionRef
	UserID      string `json:"user_id"`
	OtherUserID string `json:"other_user_id"`
}

func (r *ConversationRequest) Validate() error {
	if err := r.sessionRef.Validate(); err != nil {
		return err
	}
	if blank(r.UserID) {
		return missing("user_id")
	}
	if blank(r.OtherUserID) {
		return missing("other_user_id")
	}
	return nil
}

// tygo:generate
type GetChatContactsRequest struct {
	sessionRef
	UserID string `json:"user_id"`
}

func (r *GetChatContactsRequest) Validate() error {
	if err := r.sessionRef.Validate(); err != nil {
		return err
	}
	if blank(r.UserID) {
		return missing("user_id")
	}
	return nil
}

// tygo:generate
type ChatNotification struct {
	FromID   string `json:"from_id"`
	FromName string `json:"from_name"`
}

// tygo:generate
type ConversationLoaded struct {
	OtherUserID string              `json:"other_user_id"`
	Messages    []*tabletop.Message `json:"messages"`
}

// tygo:generate
type ChatContactsLoaded struct {
	Contacts []tabletop.Contact `json:"contacts"`
}

// ============================================================================
// SCENES
// ============================================================================
// tygo:generate
type SceneCreateRequest struct {
	sessionRef
	Name string `json:"name"`
}

func (r *SceneCreateRequest) Validate() error {
	if err := r.sessionRef.Validate(); err != nil {
		return err
	}
	if blank(r.Name) {
		return missing("name")
	}
	return nil
}

// SceneUpdateRequest carries optional fields; absent fields keep their value
// and an explicit null fog_image clears the scene's fog.
//
// tygo:generate
type SceneUpdateRequest struct {
	sessionRef
	SceneID          string             `json:"scene_id"`
	Name             *string            `json:"name"`
	Maps             *[]json.RawMessage `json:"maps"`
	Entities         *[]json.RawMessage `json:"entities"`
	Tokens           *[]json.RawMessage `json:"tokens"`
	Drawings         *[]json.RawMessage `json:"drawings"`
	FogImage         json.RawMessage    `json:"fog_image"`
	VisibleToPlayers *[]string          `json:"visible_to_players"`
}

func (r *SceneUpdateRequest) Validate() error {
	if err := r.sessionRef.Validate(); err != nil {
		return err
	}
	if blank(r.SceneID) {
		return missing("scene_id")
	}
	if r.Name != nil && blank(*r.Name) {
		return invalid("name must not be empty")
	}
	if r.FogImage != nil && !isNull(r.FogImage) {
		var s string
		if err := json.Unmarshal(r.FogImage, &s); err != nil {
			return invalid("fog_image must be a string or null")
		}
	}
	return nil
}

// Update converts the request into a domain update.
func (r *SceneUpdateRequest) Update() tabletop.SceneUpdate {
	u := tabletop.SceneUpdate{
		Name:             r.Name,
		Maps:             r.Maps,
		Entities:         r.Entities,
		Tokens:           r.Tokens,
		Drawings:         r.Drawings,
		VisibleToPlayers: r.VisibleToPlayers,
	}
	switch {
	case r.FogImage == nil:
	case isNull(r.FogImage):
		u.ClearFog = true
	default:
		var fog string
		_ = json.Unmarshal(r.FogImage, &fog)
		u.FogImage = &fog
	}
	return u
}

// tygo:generate
type SceneIDRequest struct {
	sessionRef
	SceneID string `json:"scene_id"`
}

func (r *SceneIDRequest) Validate() error {
	if err := r.sessionRef.Validate(); err != nil {
		return err
	}
	if blank(r.SceneID) {
		return missing("scene_id")
	}
	return nil
}

// tygo:generate
type SceneToggleVisibilityRequest struct {
	sessionRef
	SceneID  string `json:"scene_id"`
	PlayerID string `json:"player_id"`
}

func (r *SceneToggleVisibilityRequest) Validate() error {
	if err := r.sessionRef.Validate(); err != nil {
		return err
	}
	if blank(r.SceneID) {
		return missing("scene_id")
	}
	if blank(r.PlayerID) {
		return missing("player_id")
	}
	return nil
}

// tygo:generate
type RequestCurrentSceneRequest struct {
	sessionRef
	PlayerID string `json:"player_id"`
}

func (r *RequestCurrentSceneRequest) Validate() error {
	if err := r.sessionRef.Validate(); err != nil {
		return err
	}
	if blank(r.PlayerID) {
		return missing("player_id")
	}
	return nil
}

// tygo:generate
type ScenesSync struct {
	Scenes any `json:"scenes"`
}

// tygo:generate
type SceneSwitched struct {
	SceneID string          `json:"scene_id"`
	Scene   *tabletop.Scene `json:"scene"`
	Visible bool            `json:"visible"`
}

// tygo:generate
type SceneActivated struct {
	SceneID string          `json:"scene_id"`
	Scene   *tabletop.Scene `json:"scene"`
}

// tygo:generate
type SceneBlocked struct {
	SceneID   string `json:"scene_id"`
	SceneName string `json:"scene_name"`
}

// tygo:generate
type NoActiveScene struct {
	tabletop.Content
}

// ============================================================================
// DICE / SAVE
// ============================================================================
// tygo:generate
type RollDiceRequest struct {
	sessionRef
	PlayerID string `json:"player_id"`
	Notation string `json:"notation"`
}

func (r *RollDiceRequest) Validate() error {
	if err := r.sessionRef.Validate(); err != nil {
		return err
	}
	if blank(r.PlayerID) {
		return missing("player_id")
	}
	if _, err := tabletop.ParseDice(r.Notation); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}

// tygo:generate
type DiceRolled struct {
	PlayerID   string `json:"player_id"`
	PlayerName string `json:"player_name"`
	tabletop.Roll
}

// tygo:generate
type SaveSessionRequest struct {
	sessionRef
}

// tygo:generate
type SessionSaved struct {
	Success bool   `json:"success"`
	Version int64  `json:"version,omitempty"`
	Message string `json:"message,omitempty"`
}
