// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
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

package persistence

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"

	"shortly"
	"shortly/internal/shortener/telemetry"
)

// FallbackSink catches click events the broker could not take. Implemented by
// the Aggregator's capped Redis stream.
type FallbackSink interface {
	PublishFallback(ctx context.Context, ev shortly.ClickEvent) error
}

// Publisher implements core.ClickPublisher over franz-go. Events are queued on
// a bounded channel and produced by a background goroutine; a full queue or a
// broker failure diverts the event to the fallback sink, so the redirect path
// never blocks on Kafka.
type Publisher struct {
	client   *kgo.Client
	topic    string
	fallback FallbackSink
	logger   *zap.Logger

	queue chan shortly.ClickEvent
	wg    sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// NewPublisher connects to the brokers and starts the background sender.
// queueSize bounds in-flight events; 0 takes the default of 4096.
func NewPublisher(brokers []string, topic string, fallback FallbackSink, queueSize int, logger *zap.Logger) (*Publisher, error) {
	if queueSize <= 0 {
		queueSize = 4096
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.AllowAutoTopicCreation(),
		kgo.ProduceRequestTimeout(5*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect kafka: %w", err)
	}
	p := &Publisher{
		client:   client,
		topic:    topic,
		fallback: fallback,
		logger:   logger,
		queue:    make(chan shortly.ClickEvent, queueSize),
	}
	p.wg.Add(1)
	go p.sendLoop()
	return p, nil
}

// PublishClick enqueues one click. It returns an error only when both the
// queue and the fallback stream reject the event; the caller treats that as a
// lost click and logs it, never as a failed redirect.
func (p *Publisher) PublishClick(ctx context.Context, code string, delta int64) error {
	ev := shortly.ClickEvent{ShortCode: code, Delta: delta}
	if err := ev.Validate(); err != nil {
		return err
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return p.divert(ctx, ev)
	}
	select {
	case p.queue <- ev:
		p.mu.Unlock()
		return nil
	default:
		p.mu.Unlock()
		// Queue saturated; the stream absorbs the burst.
		return p.divert(ctx, ev)
	}
}

func (p *Publisher) divert(ctx context.Context, ev shortly.ClickEvent) error {
	telemetry.StreamFallback.Inc()
	if err := p.fallback.PublishFallback(ctx, ev); err != nil {
		telemetry.ClickPublishFailures.Inc()
		return fmt.Errorf("click for %q lost: %w", ev.ShortCode, err)
	}
	return nil
}

func (p *Publisher) sendLoop() {
	defer p.wg.Done()
	for ev := range p.queue {
		payload, err := shortly.EncodeClickEvent(ev)
		if err != nil {
			continue
		}
		rec := &kgo.Record{
			Topic: p.topic,
			// Keyed by code: all clicks for one code land on one partition, so
			// one consumer owns each code's aggregation.
			Key:   []byte(ev.ShortCode),
			Value: payload,
		}
		ev := ev
		p.client.Produce(context.Background(), rec, func(_ *kgo.Record, err error) {
			if err != nil {
				p.logger.Warn("broker rejected click, diverting to fallback stream",
					zap.String("short_code", ev.ShortCode), zap.Error(err))
				ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				if derr := p.divert(ctx, ev); derr != nil {
					p.logger.Error("click lost", zap.Error(derr))
				}
				return
			}
			telemetry.ClicksPublished.Inc()
		})
	}
}

// Close drains the queue, flushes the producer, and releases the client.
func (p *Publisher) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	p.wg.Wait()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = p.client.Flush(ctx)
	p.client.Close()
}

// KafkaSource feeds the ingestion worker from the click topic. Offsets are
// committed only after the worker has applied a batch to the aggregation
// hash, so a crash replays rather than drops (at-least-once).
type KafkaSource struct {
	client *kgo.Client
	block  time.Duration
}

// NewKafkaSource joins the consumer group on the click topic.
func NewKafkaSource(brokers []string, topic, group string, block time.Duration) (*KafkaSource, error) {
	if block <= 0 {
		block = 500 * time.Millisecond
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ConsumerGroup(group),
		kgo.ConsumeTopics(topic),
		kgo.DisableAutoCommit(),
	)
	if err != nil {
		return nil, fmt.Errorf("connect kafka consumer: %w", err)
	}
	return &KafkaSource{client: client, block: block}, nil
}

// Poll fetches up to max events, waiting at most the configured block
// interval. Undecodable records count as invalid and are skipped; their
// offsets still advance with the next commit.
func (s *KafkaSource) Poll(ctx context.Context, max int) ([]shortly.ClickEvent, error) {
	ctx, cancel := context.WithTimeout(ctx, s.block)
	defer cancel()

	fetches := s.client.PollRecords(ctx, max)
	if errs := fetches.Errors(); len(errs) > 0 && ctx.Err() == nil {
		return nil, fmt.Errorf("poll click topic: %w", errs[0].Err)
	}
	var out []shortly.ClickEvent
	fetches.EachRecord(func(rec *kgo.Record) {
		ev, err := shortly.DecodeClickEvent(rec.Value)
		if err != nil {
			telemetry.IngestInvalid.Inc()
			return
		}
		out = append(out, ev)
	})
	return out, nil
}

// Commit marks everything polled so far as consumed.
func (s *KafkaSource) Commit(ctx context.Context) error {
	return s.client.CommitUncommittedOffsets(ctx)
}

// Close leaves the group cleanly.
func (s *KafkaSource) Close() { s.client.Close() }
