package handlers

import (
	"APChat/service/chat"
)

// RegisterAll 把全部入站帧处理器挂到派发器
func RegisterAll(d *chat.Dispatcher) {
	d.Register(NewEnqueueHandler())
	d.Register(NewCancelHandler())
	d.Register(NewPingHandler())
	for _, t := range []string{
		chat.FrameReady,
		chat.FrameOffer,
		chat.FrameAnswer,
		chat.FrameICECandidate,
		chat.FrameText,
		chat.FrameLeave,
	} {
		d.Register(NewSignalHandler(t))
	}
}
