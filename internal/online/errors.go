package online

var (
	ErrRoomNotFound       = errf("room not found")
	ErrRoomAlreadyStarted = errf("room already started")
	ErrSelfJoin           = errf("cannot join your own room")
	ErrNotYourTurn        = errf("not your turn")
	ErrNotActive          = errf("game is not active")
	ErrBusy               = errf("already searching or playing")
	ErrUnauthenticated    = errf("sign in to play online")
	ErrInvalidTimeControl = errf("unknown time control")
)

type staticErr string

func (e staticErr) Error() string { return string(e) }
func errf(s string) error         { return staticErr(s) }
