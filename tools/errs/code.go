package errs

// 业务错误码：1xxx 注册表，2xxx 队列，3xxx 房间，5xxx 服务端
const (
	ServerInternalError = 500

	DuplicateConnectionError = 1001
	NotFoundError            = 1002
	InvalidTransitionError   = 1003

	AlreadyQueuedError   = 2001
	NotIdleError         = 2002
	NoCandidateError     = 2003
	StaleConnectionError = 2004

	NotParticipantError       = 3001
	RoomNotActiveError        = 3002
	RoomEndedError            = 3003
	DeliveryBackpressureError = 3004
)

var (
	ErrInternal = NewCodeError(ServerInternalError, "server internal error")

	ErrDuplicateConnection = NewCodeError(DuplicateConnectionError, "connection id already registered")
	ErrNotFound            = NewCodeError(NotFoundError, "connection not found")
	ErrInvalidTransition   = NewCodeError(InvalidTransitionError, "invalid phase transition")

	ErrAlreadyQueued   = NewCodeError(AlreadyQueuedError, "connection already queued")
	ErrNotIdle         = NewCodeError(NotIdleError, "connection not idle")
	ErrNoCandidate     = NewCodeError(NoCandidateError, "no compatible candidate")
	ErrStaleConnection = NewCodeError(StaleConnectionError, "connection destroyed mid-attempt")

	ErrNotParticipant       = NewCodeError(NotParticipantError, "sender is not a room participant")
	ErrRoomNotActive        = NewCodeError(RoomNotActiveError, "room is not active")
	ErrRoomEnded            = NewCodeError(RoomEndedError, "room already ended")
	ErrDeliveryBackpressure = NewCodeError(DeliveryBackpressureError, "outbound queue full")
)
