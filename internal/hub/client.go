// Package hub switches room lamps through the home hub's websocket line
// protocol. Each request dials its own connection.
package hub

import (
	"context"
	"errors"
	"fmt"
	log "log/slog"
	"time"

	ws "github.com/gorilla/websocket"
)

const (
	DefaultShard   = "ATHENA"
	DefaultTimeout = 5 * time.Second
)

var ErrRefused = errors.New("hub: request refused")

type Client struct {
	url     string
	shard   string
	timeout time.Duration
	dialer  *ws.Dialer
}

func NewClient(url, shard string, timeout time.Duration) *Client {
	if shard == "" {
		shard = DefaultShard
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		url:     url,
		shard:   shard,
		timeout: timeout,
		dialer:  &ws.Dialer{HandshakeTimeout: timeout},
	}
}

// Switch turns the lamp in location on or off.
func (c *Client) Switch(ctx context.Context, location string, on bool) error {
	to := Token(location)
	if !isToken(to) {
		return fmt.Errorf("hub: invalid location %q", location)
	}

	verb := "OFF"
	if on {
		verb = "ON"
	}

	reply, err := c.TransmitReceive(ctx, Message{To: to, Verb: verb, Noun: "LAMP"})
	if err != nil {
		return err
	}
	if reply.IsError() {
		return fmt.Errorf("%w: %s", ErrRefused, reply.String())
	}
	return nil
}

// TransmitReceive sends msg and waits for the first well-formed reply addressed
// to this shard.
func (c *Client) TransmitReceive(ctx context.Context, msg Message) (*Message, error) {
	if c.url == "" {
		return nil, errors.New("hub: url not configured")
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("hub: dial %s: %w", c.url, err)
	}
	defer conn.Close()

	deadline, _ := ctx.Deadline()
	_ = conn.SetWriteDeadline(deadline)
	_ = conn.SetReadDeadline(deadline)

	// unblock reads when the caller gives up
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	msg.From = c.shard
	line := msg.String()
	log.Debug("Write ws", "msg", line)
	if err := conn.WriteMessage(ws.TextMessage, []byte(line)); err != nil {
		return nil, fmt.Errorf("hub: write: %w", err)
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("hub: no reply: %w", ctx.Err())
			}
			return nil, fmt.Errorf("hub: read: %w", err)
		}
		log.Debug("Read ws", "msg", string(data))

		reply, err := Parse(string(data))
		if err != nil {
			log.Warn("Failed to parse", "msg", string(data), "err", err)
			continue
		}
		if reply.To != c.shard {
			continue
		}
		return reply, nil
	}
}
