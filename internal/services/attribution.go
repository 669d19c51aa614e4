package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"streamvault/internal/models"
)

// Stage is a lifecycle milestone reported to attribution channels.
type Stage string

const (
	StageCart     Stage = "cart"
	StagePurchase Stage = "purchase"
)

// Dispatcher fans a lifecycle event out to the attribution channels. Dispatch
// returns immediately; sends may still be in flight after the caller responded.
type Dispatcher interface {
	Dispatch(stage Stage, session *models.PaymentSession)
}

// AttributionChannel is one outbound notification target.
type AttributionChannel interface {
	Name() string
	Enabled() bool
	Send(ctx context.Context, stage Stage, session *models.PaymentSession) error
}

type AttributionDispatcher struct {
	channels []AttributionChannel
	timeout  time.Duration
	log      *zap.Logger
	metrics  *Metrics
	wg       sync.WaitGroup
}

func NewAttributionDispatcher(timeout time.Duration, log *zap.Logger, metrics *Metrics, channels ...AttributionChannel) *AttributionDispatcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &AttributionDispatcher{
		channels: channels,
		timeout:  timeout,
		log:      log,
		metrics:  metrics,
	}
}

// Dispatch starts one goroutine per enabled channel. Each send gets its own
// context detached from the request and is never retried.
func (d *AttributionDispatcher) Dispatch(stage Stage, session *models.PaymentSession) {
	snapshot := session.Clone()

	for _, ch := range d.channels {
		if !ch.Enabled() {
			d.count(ch.Name(), stage, "skipped")
			continue
		}

		d.wg.Add(1)
		go func(ch AttributionChannel) {
			defer d.wg.Done()
			defer func() {
				if r := recover(); r != nil {
					d.log.Error("attribution channel panicked",
						zap.String("channel", ch.Name()),
						zap.String("stage", string(stage)),
						zap.Any("panic", r))
					d.count(ch.Name(), stage, "error")
				}
			}()

			ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
			defer cancel()

			if err := ch.Send(ctx, stage, snapshot); err != nil {
				d.log.Warn("attribution send failed",
					zap.String("channel", ch.Name()),
					zap.String("stage", string(stage)),
					zap.String("session_id", snapshot.ID),
					zap.Error(err))
				d.count(ch.Name(), stage, "error")
				return
			}

			d.log.Info("attribution sent",
				zap.String("channel", ch.Name()),
				zap.String("stage", string(stage)),
				zap.String("session_id", snapshot.ID))
			d.count(ch.Name(), stage, "sent")
		}(ch)
	}
}

// Wait blocks until every in-flight send returned.
func (d *AttributionDispatcher) Wait() {
	d.wg.Wait()
}

func (d *AttributionDispatcher) count(channel string, stage Stage, result string) {
	if d.metrics != nil {
		d.metrics.Attributions.WithLabelValues(channel, string(stage), result).Inc()
	}
}

func unknownStage(stage Stage) error {
	return fmt.Errorf("unknown attribution stage %q", stage)
}
