package gateway

import (
	"errors"

	nchess "github.com/corentings/chess/v2"

	"github.com/park285/cheese-arena/internal/clock"
	"github.com/park285/cheese-arena/internal/identity"
	"github.com/park285/cheese-arena/internal/localgame"
	"github.com/park285/cheese-arena/internal/online"
	"github.com/park285/cheese-arena/internal/rules"
	"github.com/park285/cheese-arena/internal/store"
	"github.com/park285/cheese-arena/pkg/chessdto"
)

// errorCodes is checked in order; the first match names the wire code.
var errorCodes = []struct {
	err  error
	code string
}{
	{errBadRequest, "bad_request"},
	{errUnknownMessage, "unknown_type"},
	{errNoLocalGame, "no_local_game"},
	{localgame.ErrClosed, "no_local_game"},
	{errInvalidColor, "invalid_color"},
	{rules.ErrIllegalMove, "illegal_move"},
	{localgame.ErrNotYourTurn, "not_your_turn"},
	{online.ErrNotYourTurn, "not_your_turn"},
	{localgame.ErrGameOver, "game_over"},
	{localgame.ErrUndoNotAvailable, "undo_unavailable"},
	{online.ErrRoomNotFound, "room_not_found"},
	{online.ErrRoomAlreadyStarted, "room_already_started"},
	{online.ErrSelfJoin, "self_join"},
	{online.ErrNotActive, "not_active"},
	{online.ErrBusy, "busy"},
	{online.ErrUnauthenticated, "unauthenticated"},
	{identity.ErrUnauthenticated, "unauthenticated"},
	{online.ErrInvalidTimeControl, "invalid_time_control"},
}

func (s *Server) domainError(err error, msgType string) chessdto.DomainError {
	code := "internal"
	retryable := false
	for _, ec := range errorCodes {
		if errors.Is(err, ec.err) {
			code = ec.code
			break
		}
	}
	if code == "internal" && store.IsStoreError(err) {
		code = "store_unavailable"
		retryable = true
	}
	msg := code
	if s.catalog != nil {
		msg = s.catalog.ErrorText(code, map[string]any{"Type": msgType})
	}
	return chessdto.DomainError{Code: code, Message: msg, Retryable: retryable}
}

var pieceLetters = map[nchess.PieceType]string{
	nchess.King:   "k",
	nchess.Queen:  "q",
	nchess.Rook:   "r",
	nchess.Bishop: "b",
	nchess.Knight: "n",
	nchess.Pawn:   "p",
}

func letters(pts []nchess.PieceType) []string {
	out := make([]string, 0, len(pts))
	for _, pt := range pts {
		out = append(out, pieceLetters[pt])
	}
	return out
}

func capturedView(c rules.Captured) (chessdto.CapturedPieces, chessdto.MaterialScore) {
	return chessdto.CapturedPieces{White: letters(c.ByWhite), Black: letters(c.ByBlack)},
		chessdto.MaterialScore{White: c.Value(nchess.White), Black: c.Value(nchess.Black)}
}

func clockView(s clock.Snapshot) *chessdto.ClockView {
	return &chessdto.ClockView{
		WhiteMs: s.White,
		BlackMs: s.Black,
		Turn:    rules.ColorName(s.Turn),
		Running: s.Running,
	}
}

func localView(st localgame.State) chessdto.LocalGame {
	captured, material := capturedView(st.Captured)
	v := chessdto.LocalGame{
		BoardView: chessdto.BoardView{
			FEN:         st.FEN,
			Turn:        rules.ColorName(st.Turn),
			MovesSAN:    st.MovesSAN,
			IsCheck:     st.IsCheck,
			IsCheckmate: st.IsCheckmate,
			IsStalemate: st.IsStalemate,
			IsDraw:      st.IsDraw,
			IsGameOver:  st.IsGameOver,
			Captured:    captured,
			Material:    material,
		},
		Version:     st.Version,
		PlayerColor: rules.ColorName(st.PlayerColor),
		Difficulty:  string(st.Difficulty),
		MovesUCI:    st.MovesUCI,
		Result:      st.Result,
		Method:      st.Method,
		BotThinking: st.BotThinking,
		TimedOut:    rules.ColorName(st.TimedOut),
	}
	if st.Clock != nil {
		v.Clock = clockView(*st.Clock)
	}
	return v
}

func onlineView(s online.Snapshot) chessdto.OnlineGame {
	v := chessdto.OnlineGame{
		Version:        s.Version,
		Phase:          string(s.Phase),
		UserID:         s.UserID,
		Color:          rules.ColorName(s.Color),
		TimeControl:    string(s.TimeControl),
		RoomCode:       s.RoomCode,
		TimeoutPending: s.TimeoutPending,
	}
	if s.Game == nil {
		return v
	}
	captured, material := capturedView(s.Captured)
	v.BoardView = chessdto.BoardView{
		FEN:         s.FEN,
		Turn:        rules.ColorName(s.Turn),
		MovesSAN:    s.MovesSAN,
		IsCheck:     s.IsCheck,
		IsCheckmate: s.IsCheckmate,
		IsStalemate: s.IsStalemate,
		IsDraw:      s.IsDraw,
		IsGameOver:  s.IsGameOver,
		Captured:    captured,
		Material:    material,
		Clock:       clockView(s.Clock),
	}
	g := s.Game
	v.GameID = g.ID
	v.WhiteID = g.WhitePlayerID
	v.BlackID = g.BlackPlayerID
	v.Status = string(g.Status)
	v.Result = string(g.Result)
	v.WinnerID = g.WinnerID
	v.Termination = g.Termination
	v.LastMoveAt = g.LastMoveAt
	return v
}
