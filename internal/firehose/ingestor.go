// Package firehose consumes the network's repository event stream and emits
// the DID of every account observed. Event payloads are discarded; the
// pipeline only needs to know an account was active.
package firehose

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
)

const (
	reconnectDelay    = 5 * time.Second
	heartbeatInterval = 5 * time.Second
	heartbeatTimeout  = 20 * time.Second
	statsInterval     = 30 * time.Second
)

// DIDSink receives the DIDs extracted from the stream.
type DIDSink interface {
	Push(did string)
}

// Ingestor is a durable websocket consumer of the firehose.
type Ingestor struct {
	url    string
	sink   DIDSink
	logger *slog.Logger
}

// NewIngestor creates a firehose ingestor emitting into sink.
func NewIngestor(firehoseURL string, sink DIDSink, logger *slog.Logger) *Ingestor {
	return &Ingestor{
		url:    firehoseURL,
		sink:   sink,
		logger: logger,
	}
}

// Start consumes the firehose until the context is cancelled, reconnecting
// on any error. A missed heartbeat forces a reconnect.
func (i *Ingestor) Start(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			if err := i.subscribe(ctx); err != nil && ctx.Err() == nil {
				var netErr net.Error
				if errors.As(err, &netErr) && netErr.Timeout() {
					i.logger.Warn("firehose timeout", "error", err)
				} else {
					i.logger.Error("firehose error", "error", err)
				}
				i.logger.Info("firehose reconnecting", "delay", reconnectDelay)
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(reconnectDelay):
				}
			}
		}
	}
}

func (i *Ingestor) subscribe(ctx context.Context) error {
	wsURL, err := url.Parse(i.url)
	if err != nil {
		return fmt.Errorf("parse firehose url: %w", err)
	}

	i.logger.Info("firehose connecting", "url", wsURL.String())
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL.String(), nil)
	if err != nil {
		return fmt.Errorf("dial firehose: %w", err)
	}
	defer func() {
		conn.Close()
		i.logger.Info("firehose disconnected")
	}()
	i.logger.Info("firehose connected")

	// Heartbeat: ping every 5 s, treat 20 s of silence as a dead peer.
	if err := conn.SetReadDeadline(time.Now().Add(heartbeatTimeout)); err != nil {
		return fmt.Errorf("set read deadline: %w", err)
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(heartbeatTimeout))
	})

	pingCtx, stopPings := context.WithCancel(ctx)
	defer stopPings()
	go func() {
		ticker := time.NewTicker(heartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-pingCtx.Done():
				return
			case <-ticker.C:
				deadline := time.Now().Add(heartbeatInterval)
				if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
					return
				}
			}
		}
	}()

	var eventsReceived, didsEmitted int64
	lastStatsLog := time.Now()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read message: %w", err)
		}
		if err := conn.SetReadDeadline(time.Now().Add(heartbeatTimeout)); err != nil {
			return fmt.Errorf("set read deadline: %w", err)
		}

		eventsReceived++

		did, err := extractDID(message)
		if err != nil {
			i.logger.Error("failed to parse event", "error", err)
			continue
		}
		if did != "" {
			i.sink.Push(did)
			didsEmitted++
		}

		if time.Since(lastStatsLog) >= statsInterval {
			i.logger.Info("firehose stats",
				"events_received", eventsReceived,
				"dids_emitted", didsEmitted,
			)
			lastStatsLog = time.Now()
		}
	}
}

// extractDID pulls the account identifier out of a raw event, preferring the
// event-level did and falling back to the repo field.
func extractDID(data []byte) (string, error) {
	var raw struct {
		DID  string `json:"did"`
		Repo string `json:"repo"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return "", fmt.Errorf("unmarshal event: %w", err)
	}
	if raw.DID != "" {
		return raw.DID, nil
	}
	return raw.Repo, nil
}
