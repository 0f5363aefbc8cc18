package services

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/yoockh/callpilot/internal/models"
)

// Dispatcher hands a suggestion job to whatever runs it. Dispatch must not
// block on generation.
type Dispatcher interface {
	Dispatch(ctx context.Context, job models.SuggestionJob) error
}

// JobHandler runs one suggestion job to completion.
type JobHandler interface {
	GenerateAndDeliver(ctx context.Context, job models.SuggestionJob) (*models.Suggestion, error)
}

// InlineDispatcher runs each job on its own goroutine in this process. Jobs
// are detached from the caller's context so a finished stream does not
// cancel them.
type InlineDispatcher struct {
	handler JobHandler
	timeout time.Duration
	log     *logrus.Logger
	wg      sync.WaitGroup
}

func NewInlineDispatcher(handler JobHandler, timeout time.Duration, log *logrus.Logger) *InlineDispatcher {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	if log == nil {
		log = logrus.New()
	}
	return &InlineDispatcher{handler: handler, timeout: timeout, log: log}
}

func (d *InlineDispatcher) Dispatch(_ context.Context, job models.SuggestionJob) error {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()

		if _, err := d.handler.GenerateAndDeliver(ctx, job); err != nil {
			d.log.WithError(err).WithFields(logrus.Fields{
				"channel":   job.Channel,
				"call_id":   job.CallID,
				"chat_id":   job.ChatID,
				"stream_id": job.StreamID,
			}).Error("suggestion job failed")
		}
	}()
	return nil
}

// Wait blocks until every dispatched job has finished.
func (d *InlineDispatcher) Wait() { d.wg.Wait() }
