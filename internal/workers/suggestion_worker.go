package workers

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/yoockh/callpilot/internal/models"
	"github.com/yoockh/callpilot/internal/services"
)

const (
	DefaultStream = "suggestion:jobs"
	DefaultGroup  = "suggestion-workers"

	jobField = "job"
)

// SuggestionWorkerPool consumes suggestion jobs from a Redis stream consumer
// group. Every message is acked after handling, failed or not; there is no
// retry queue.
type SuggestionWorkerPool struct {
	Redis      *redis.Client
	Handler    services.JobHandler
	NumWorkers int
	JobTimeout time.Duration

	Logger *logrus.Logger

	Stream         string
	Group          string
	ConsumerPrefix string
}

func (p *SuggestionWorkerPool) Start(ctx context.Context) error {
	if p.Redis == nil || p.Handler == nil {
		return errors.New("SuggestionWorkerPool missing dependency: Redis/Handler must be set")
	}
	p.defaults()

	_ = p.Redis.XGroupCreateMkStream(ctx, p.Stream, p.Group, "0").Err() // ignore BUSYGROUP

	for i := 0; i < p.NumWorkers; i++ {
		consumer := p.ConsumerPrefix + "-" + strconv.Itoa(i+1)
		go p.runConsumer(ctx, consumer)
	}
	p.Logger.WithFields(logrus.Fields{
		"stream":  p.Stream,
		"group":   p.Group,
		"workers": p.NumWorkers,
	}).Info("suggestion workers started")
	return nil
}

func (p *SuggestionWorkerPool) defaults() {
	if p.Stream == "" {
		p.Stream = DefaultStream
	}
	if p.Group == "" {
		p.Group = DefaultGroup
	}
	if p.ConsumerPrefix == "" {
		p.ConsumerPrefix = "c"
	}
	if p.NumWorkers <= 0 {
		p.NumWorkers = 4
	}
	if p.JobTimeout <= 0 {
		p.JobTimeout = 60 * time.Second
	}
	if p.Logger == nil {
		p.Logger = logrus.New()
	}
}

func (p *SuggestionWorkerPool) runConsumer(ctx context.Context, consumer string) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		res, err := p.Redis.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    p.Group,
			Consumer: consumer,
			Streams:  []string{p.Stream, ">"},
			Count:    10,
			Block:    5 * time.Second,
		}).Result()

		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			p.Logger.WithError(err).WithField("consumer", consumer).Warn("xreadgroup failed")
			time.Sleep(500 * time.Millisecond)
			continue
		}

		for _, stream := range res {
			for _, msg := range stream.Messages {
				p.handleMsg(ctx, msg)
				_ = p.Redis.XAck(ctx, p.Stream, p.Group, msg.ID).Err()
			}
		}
	}
}

func (p *SuggestionWorkerPool) handleMsg(ctx context.Context, msg redis.XMessage) {
	log := p.Logger.WithField("redis_id", msg.ID)

	job, err := decodeJob(msg)
	if err != nil {
		log.WithError(err).Warn("dropping undecodable suggestion job")
		return
	}

	log = log.WithFields(logrus.Fields{
		"channel":   job.Channel,
		"call_id":   job.CallID,
		"chat_id":   job.ChatID,
		"stream_id": job.StreamID,
	})

	jctx, cancel := context.WithTimeout(ctx, p.JobTimeout)
	defer cancel()

	start := time.Now()
	if _, err := p.Handler.GenerateAndDeliver(jctx, job); err != nil {
		log.WithError(err).Error("suggestion job failed")
		return
	}
	log.WithField("processing_ms", time.Since(start).Milliseconds()).Debug("suggestion job done")
}

var errMissingJob = errors.New("message has no job field")

func decodeJob(msg redis.XMessage) (models.SuggestionJob, error) {
	var job models.SuggestionJob
	raw, ok := msg.Values[jobField].(string)
	if !ok || raw == "" {
		return job, errMissingJob
	}
	err := json.Unmarshal([]byte(raw), &job)
	return job, err
}
