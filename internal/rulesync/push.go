// Copyright 2026 The Icon Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package rulesync

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ouattaraab/Icon/internal/apiclient"
	"github.com/ouattaraab/Icon/internal/rules"
)

const (
	reconnectDelay = 5 * time.Second
	pongWait       = 120 * time.Second
	writeWait      = 10 * time.Second

	eventSubscribe             = "pusher:subscribe"
	eventSubscriptionSucceeded = "pusher_internal:subscription_succeeded"
	eventPing                  = "pusher:ping"
	eventPong                  = "pusher:pong"
	eventConnectionEstablished = "pusher:connection_established"
	eventRuleChanged           = "rule.changed"
	eventRuleDeleted           = "rule.deleted"
)

// pusherFrame is the envelope every Pusher protocol v7 message uses; data
// is itself a JSON-encoded string, per the Pusher wire convention.
type pusherFrame struct {
	Event   string `json:"event"`
	Channel string `json:"channel,omitempty"`
	Data    string `json:"data,omitempty"`
}

type subscribeData struct {
	Channel string `json:"channel"`
}

type ruleChangedData struct {
	Action string                  `json:"action"` // created, updated, toggled, deleted
	Rule   *apiclient.RuleDocument `json:"rule,omitempty"`
	RuleID string                  `json:"rule_id,omitempty"`
}

type ruleDeletedData struct {
	RuleID string `json:"rule_id"`
}

// PushConfig configures the persistent Pusher-protocol WebSocket channel.
type PushConfig struct {
	URL     string // e.g. wss://api.icon.example.com/app/<key>?protocol=7
	AppKey  string
	Channel string // default icon.rules
}

// RunPush maintains the WebSocket connection described by cfg, applying
// every rule.changed/rule.deleted event to the engine, until ctx is
// cancelled. A dropped socket reconnects after a fixed 5-second delay,
// indefinitely; it never causes rule loss because the next poll
// re-converges (spec §4.9).
func (s *Syncer) RunPush(ctx context.Context, cfg PushConfig) {
	channel := cfg.Channel
	if channel == "" {
		channel = "icon.rules"
	}

	for {
		if ctx.Err() != nil {
			return
		}
		if err := s.pushOnce(ctx, cfg, channel); err != nil {
			s.log.Warn("rule push channel disconnected, reconnecting", zap.Error(err), zap.Duration("delay", reconnectDelay))
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectDelay):
		}
	}
}

func (s *Syncer) pushOnce(ctx context.Context, cfg PushConfig, channel string) error {
	dialURL, err := buildDialURL(cfg)
	if err != nil {
		return err
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, dialURL, nil)
	if err != nil {
		return fmt.Errorf("rulesync: dial: %w", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		conn.Close()
		close(done)
	}()

	for {
		var frame pusherFrame
		if err := conn.ReadJSON(&frame); err != nil {
			select {
			case <-done:
				return nil
			default:
				return fmt.Errorf("rulesync: read: %w", err)
			}
		}

		switch frame.Event {
		case eventConnectionEstablished:
			if err := subscribe(conn, channel); err != nil {
				return fmt.Errorf("rulesync: subscribe: %w", err)
			}
		case eventSubscriptionSucceeded:
			s.log.Info("rule push channel subscribed", zap.String("channel", channel))
		case eventPing:
			if err := sendFrame(conn, pusherFrame{Event: eventPong}); err != nil {
				return fmt.Errorf("rulesync: pong: %w", err)
			}
		case eventRuleChanged:
			s.handleRuleChanged(ctx, frame.Data)
		case eventRuleDeleted:
			s.handleRuleDeleted(ctx, frame.Data)
		}
	}
}

func buildDialURL(cfg PushConfig) (string, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return "", fmt.Errorf("rulesync: parse websocket url: %w", err)
	}
	q := u.Query()
	q.Set("protocol", "7")
	q.Set("client", "icon-agent")
	q.Set("version", "1.0")
	if cfg.AppKey != "" {
		q.Set("app_key", cfg.AppKey)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func subscribe(conn *websocket.Conn, channel string) error {
	data, err := json.Marshal(subscribeData{Channel: channel})
	if err != nil {
		return err
	}
	return sendFrame(conn, pusherFrame{Event: eventSubscribe, Data: string(data)})
}

func sendFrame(conn *websocket.Conn, frame pusherFrame) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(frame)
}

func (s *Syncer) handleRuleChanged(ctx context.Context, rawData string) {
	var data ruleChangedData
	if err := json.Unmarshal([]byte(rawData), &data); err != nil {
		s.log.Warn("rule.changed: malformed payload", zap.Error(err))
		return
	}

	switch data.Action {
	case "deleted":
		id := data.RuleID
		if id == "" && data.Rule != nil {
			id = data.Rule.ID
		}
		if id == "" {
			s.log.Warn("rule.changed action=deleted missing rule id")
			return
		}
		if err := s.engine.Delete(ctx, id); err != nil {
			s.log.Warn("failed to apply pushed rule delete", zap.String("rule_id", id), zap.Error(err))
		}
	case "created", "updated", "toggled":
		if data.Rule == nil {
			s.log.Warn("rule.changed missing embedded rule", zap.String("action", data.Action))
			return
		}
		r, err := fromDocument(*data.Rule)
		if err != nil {
			s.log.Warn("rule.changed: invalid rule payload", zap.Error(err))
			return
		}
		if err := s.engine.Update(ctx, []rules.Rule{r}); err != nil {
			s.log.Warn("failed to apply pushed rule upsert", zap.String("rule_id", r.ID), zap.Error(err))
		}
	default:
		s.log.Warn("rule.changed: unknown action", zap.String("action", data.Action))
	}
}

func (s *Syncer) handleRuleDeleted(ctx context.Context, rawData string) {
	var data ruleDeletedData
	if err := json.Unmarshal([]byte(rawData), &data); err != nil {
		s.log.Warn("rule.deleted: malformed payload", zap.Error(err))
		return
	}
	if data.RuleID == "" {
		return
	}
	if err := s.engine.Delete(ctx, data.RuleID); err != nil {
		s.log.Warn("failed to apply pushed rule delete", zap.String("rule_id", data.RuleID), zap.Error(err))
	}
}
