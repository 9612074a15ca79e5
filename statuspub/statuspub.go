// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package statuspub publishes orchestrator status snapshots to an MQTT
// broker as retained JSON messages.
package statuspub

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"
	"github.com/rs/zerolog/log"

	"github.com/GermanBionicSystems/epaper/orchestrator"
)

// DefaultTopic receives the status when none is configured.
const DefaultTopic = "epaper/status"

const publishTimeout = 10 * time.Second

type publisher interface {
	Publish(ctx context.Context, p *paho.Publish) (*paho.PublishResponse, error)
}

// Publisher sends the latest status in the background. Only the most
// recent pending status is kept; OnStatus never blocks.
type Publisher struct {
	pub   publisher
	cm    *autopaho.ConnectionManager
	topic string

	mu      sync.Mutex
	pending *orchestrator.Status
	closed  bool
	wake    chan struct{}
	done    chan struct{}
}

// New connects to broker (for example tcp://localhost:1883) and returns a
// Publisher for topic. The connection is kept up in the background.
func New(ctx context.Context, broker, topic, clientID string) (*Publisher, error) {
	u, err := url.Parse(broker)
	if err != nil {
		return nil, fmt.Errorf("statuspub: parsing MQTT broker addr %q: %w", broker, err)
	}
	if topic == "" {
		topic = DefaultTopic
	}
	log.Info().Stringer("broker", u).Str("topic", topic).Msg("statuspub: connecting")
	cm, err := autopaho.NewConnection(ctx, autopaho.ClientConfig{
		BrokerUrls: []*url.URL{u},
		KeepAlive:  30,
		OnConnectionUp: func(*autopaho.ConnectionManager, *paho.Connack) {
			log.Info().Stringer("broker", u).Msg("statuspub: connection up")
		},
		OnConnectError: func(err error) {
			log.Debug().Err(err).Msg("statuspub: connection error")
		},
		ClientConfig: paho.ClientConfig{
			ClientID: clientID,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("statuspub: preparing MQTT client connection: %w", err)
	}
	p := newPublisher(cm, topic)
	p.cm = cm
	return p, nil
}

func newPublisher(pub publisher, topic string) *Publisher {
	p := &Publisher{
		pub:   pub,
		topic: topic,
		wake:  make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
	go p.run()
	return p
}

// OnStatus queues s for publishing. It matches orchestrator.Options.OnStatus.
func (p *Publisher) OnStatus(s orchestrator.Status) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.pending = &s
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *Publisher) run() {
	defer close(p.done)
	for range p.wake {
		p.mu.Lock()
		s := p.pending
		p.pending = nil
		p.mu.Unlock()
		if s == nil {
			continue
		}
		if err := p.publish(s); err != nil {
			log.Warn().Err(err).Str("topic", p.topic).Msg("statuspub: publishing status")
		}
	}
}

func (p *Publisher) publish(s *orchestrator.Status) error {
	payload, err := json.Marshal(s)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	_, err = p.pub.Publish(ctx, &paho.Publish{
		QoS:     0,
		Retain:  true,
		Topic:   p.topic,
		Payload: payload,
	})
	return err
}

// Close publishes a pending status, then disconnects.
func (p *Publisher) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.wake)
	p.mu.Unlock()

	select {
	case <-p.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	if p.cm == nil {
		return nil
	}
	return p.cm.Disconnect(ctx)
}
