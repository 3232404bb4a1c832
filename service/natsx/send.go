package natsx

import (
	"context"
	"fmt"

	"APChat/logger"

	"github.com/nats-io/nats.go"
)

func (c *NatsxClient) sendCore(subject string, data []byte, hdr map[string]string) error {
	// 用 NewMsg 构造更安全
	msg := nats.NewMsg(subject)
	msg.Data = data

	for k, v := range hdr {
		msg.Header.Add(k, v)
	}

	if err := c.nc.PublishMsg(msg); err != nil {
		return fmt.Errorf("publish failed: %w", err)
	}

	return nil
}

func (c *NatsxClient) sendJS(ctx context.Context, subject string, data []byte, hdr map[string]string) error {
	msg := nats.NewMsg(subject)
	msg.Data = data

	for k, v := range hdr {
		msg.Header.Add(k, v)
	}

	ack, err := c.js.PublishMsg(msg, nats.Context(ctx))
	if err != nil {
		return fmt.Errorf("publish failed: %w", err)
	}

	logger.Debugf("published to stream=%s seq=%d", ack.Stream, ack.Sequence)
	return nil
}
