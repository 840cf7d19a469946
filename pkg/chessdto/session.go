package chessdto

import "time"

type MaterialScore struct {
	White int `json:"white"`
	Black int `json:"black"`
}

// CapturedPieces lists piece letters bucketed by the capturing side.
type CapturedPieces struct {
	White []string `json:"white"`
	Black []string `json:"black"`
}

type ClockView struct {
	WhiteMs int64  `json:"white_ms"`
	BlackMs int64  `json:"black_ms"`
	Turn    string `json:"turn"`
	Running bool   `json:"running"`
}

// BoardView is shared by local and online state messages.
type BoardView struct {
	FEN         string         `json:"fen"`
	Turn        string         `json:"turn"`
	MovesSAN    []string       `json:"moves_san"`
	IsCheck     bool           `json:"is_check"`
	IsCheckmate bool           `json:"is_checkmate"`
	IsStalemate bool           `json:"is_stalemate"`
	IsDraw      bool           `json:"is_draw"`
	IsGameOver  bool           `json:"is_game_over"`
	Captured    CapturedPieces `json:"captured"`
	Material    MaterialScore  `json:"material"`
	Clock       *ClockView     `json:"clock,omitempty"`
}

type LocalGame struct {
	BoardView
	Version     uint64   `json:"version"`
	PlayerColor string   `json:"player_color"`
	Difficulty  string   `json:"difficulty"`
	MovesUCI    []string `json:"moves_uci"`
	Result      string   `json:"result,omitempty"`
	Method      string   `json:"method,omitempty"`
	BotThinking bool     `json:"bot_thinking"`
	TimedOut    string   `json:"timed_out,omitempty"`
}

type OnlineGame struct {
	BoardView
	Version        uint64    `json:"version"`
	Phase          string    `json:"phase"`
	UserID         string    `json:"user_id"`
	Color          string    `json:"color,omitempty"`
	TimeControl    string    `json:"time_control,omitempty"`
	RoomCode       string    `json:"room_code,omitempty"`
	GameID         string    `json:"game_id,omitempty"`
	WhiteID        string    `json:"white_id,omitempty"`
	BlackID        string    `json:"black_id,omitempty"`
	Status         string    `json:"status,omitempty"`
	Result         string    `json:"result,omitempty"`
	WinnerID       string    `json:"winner_id,omitempty"`
	Termination    string    `json:"termination,omitempty"`
	LastMoveAt     time.Time `json:"last_move_at,omitzero"`
	TimeoutPending bool      `json:"timeout_pending,omitempty"`
}
