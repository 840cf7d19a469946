package chessdto

import "encoding/json"

// Envelope frames every websocket message in both directions.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Client -> server message types.
const (
	TypeBotStart     = "bot_start"
	TypeBotMove      = "bot_move"
	TypeBotUndo      = "bot_undo"
	TypeBotReset     = "bot_reset"
	TypeBotFlip      = "bot_flip"
	TypeQueueJoin    = "queue_join"
	TypeQueueLeave   = "queue_leave"
	TypeRoomCreate   = "room_create"
	TypeRoomJoin     = "room_join"
	TypeMove         = "move"
	TypeResign       = "resign"
	TypeClaimTimeout = "claim_timeout"
	TypeLeave        = "leave"
)

// Server -> client message types.
const (
	TypeLocalState  = "local_state"
	TypeOnlineState = "online_state"
	TypeRoomCreated = "room_created"
	TypeError       = "error"
)

type BotStartRequest struct {
	Color       string `json:"color"`
	Difficulty  string `json:"difficulty"`
	TimeControl string `json:"time_control,omitempty"`
}

type MoveRequest struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Promotion string `json:"promotion,omitempty"`
}

type TimeControlRequest struct {
	TimeControl string `json:"time_control"`
}

type RoomJoinRequest struct {
	Code string `json:"code"`
}

type RoomCreated struct {
	Code string `json:"code"`
}
