// Podsync - Multi-Device Podcast Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/podsync

// Package bus carries append notifications between the command path and its
// in-process consumers (projection runners and the WebSocket hub). Delivery
// is best effort: projectors poll as a fallback, and a device that misses a
// nudge reconciles on its next sync.
package bus

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/tomtom215/podsync/internal/logging"
)

// TopicAppended carries one AppendNotice per committed append batch.
const TopicAppended = "sync.appended"

// AppendNotice tells consumers that a user's stream advanced.
type AppendNotice struct {
	UserID         string `json:"user_id"`
	StreamVersion  int64  `json:"stream_version"`
	GlobalPosition int64  `json:"global_position"`
	EventCount     int    `json:"event_count"`
}

// Bus is the in-process pub/sub fabric.
type Bus struct {
	channel *gochannel.GoChannel
}

// New creates the bus.
func New() *Bus {
	return &Bus{
		channel: gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer: 256,
		}, newLoggerAdapter()),
	}
}

// PublishAppend publishes one append notice.
func (b *Bus) PublishAppend(n AppendNotice) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("bus: encode notice: %w", err)
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	return b.channel.Publish(TopicAppended, msg)
}

// SubscribeAppends returns a channel of append notices. Each subscriber gets
// every notice; undecodable messages are acked and dropped.
func (b *Bus) SubscribeAppends(ctx context.Context) (<-chan AppendNotice, error) {
	messages, err := b.channel.Subscribe(ctx, TopicAppended)
	if err != nil {
		return nil, fmt.Errorf("bus: subscribe: %w", err)
	}

	out := make(chan AppendNotice)
	go func() {
		defer close(out)
		for msg := range messages {
			var n AppendNotice
			if err := json.Unmarshal(msg.Payload, &n); err != nil {
				logging.Logger().Warn().Err(err).Msg("Dropping undecodable append notice")
				msg.Ack()
				continue
			}
			select {
			case out <- n:
				msg.Ack()
			case <-ctx.Done():
				msg.Nack()
				return
			}
		}
	}()
	return out, nil
}

// Close shuts the bus down, closing all subscriber channels.
func (b *Bus) Close() error {
	return b.channel.Close()
}

// loggerAdapter bridges watermill's logging interface onto the global
// zerolog logger.
type loggerAdapter struct {
	fields watermill.LogFields
}

func newLoggerAdapter() watermill.LoggerAdapter { return &loggerAdapter{} }

func (l *loggerAdapter) Error(msg string, err error, fields watermill.LogFields) {
	ev := logging.Logger().Error().Err(err)
	l.apply(ev, fields)
	ev.Msg(msg)
}

func (l *loggerAdapter) Info(msg string, fields watermill.LogFields) {
	ev := logging.Logger().Debug() // watermill's info is operational noise
	l.apply(ev, fields)
	ev.Msg(msg)
}

func (l *loggerAdapter) Debug(msg string, fields watermill.LogFields) {
	ev := logging.Logger().Trace()
	l.apply(ev, fields)
	ev.Msg(msg)
}

func (l *loggerAdapter) Trace(msg string, fields watermill.LogFields) {
	ev := logging.Logger().Trace()
	l.apply(ev, fields)
	ev.Msg(msg)
}

func (l *loggerAdapter) With(fields watermill.LogFields) watermill.LoggerAdapter {
	merged := make(watermill.LogFields, len(l.fields)+len(fields))
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &loggerAdapter{fields: merged}
}

func (l *loggerAdapter) apply(ev *zerolog.Event, fields watermill.LogFields) {
	for k, v := range l.fields {
		ev.Interface(k, v)
	}
	for k, v := range fields {
		ev.Interface(k, v)
	}
}
