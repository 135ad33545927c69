package scheduler

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"edge_certd/internal/renewal"

	"github.com/sirupsen/logrus"
)

// Renewer triggers renewal runs. Satisfied by the renewal coordinator.
type Renewer interface {
	RunRenewal(ctx context.Context, forced bool) (bool, error)
	InProgress() bool
}

// Notifier publishes fire-and-forget status events
type Notifier interface {
	PublishStatusEvent(ctx context.Context, text string) error
}

// Worker triggers a scheduled renewal once a day at a random time of day,
// so a fleet of edges does not hit the certificate authority at the same
// moment. The time is chosen once at startup.
type Worker struct {
	renewer  Renewer
	notifier Notifier
	logger   *logrus.Entry
	enabled  bool

	fireHour   int
	fireMinute int
	fireSecond int

	now         func() time.Time
	stopChan    chan struct{}
	stoppedChan chan struct{}
}

// NewWorker creates a scheduler worker with a random daily fire time
func NewWorker(renewer Renewer, notifier Notifier, enabled bool, logger *logrus.Entry) *Worker {
	return &Worker{
		renewer:     renewer,
		notifier:    notifier,
		logger:      logger.WithField("component", "scheduler"),
		enabled:     enabled,
		fireHour:    rand.Intn(24),
		fireMinute:  rand.Intn(60),
		fireSecond:  rand.Intn(60),
		now:         time.Now,
		stopChan:    make(chan struct{}),
		stoppedChan: make(chan struct{}),
	}
}

// Start starts the worker
func (w *Worker) Start() {
	if !w.enabled {
		w.logger.Info("Scheduler disabled, skipping")
		close(w.stoppedChan)
		return
	}

	w.logger.Infof("Scheduling daily renewal at %02d:%02d:%02d", w.fireHour, w.fireMinute, w.fireSecond)
	go w.run()
}

// Stop stops the worker
func (w *Worker) Stop() {
	if !w.enabled {
		return
	}

	w.logger.Info("Stopping...")
	close(w.stopChan)
	<-w.stoppedChan
	w.logger.Info("Stopped")
}

// run is the main worker loop
func (w *Worker) run() {
	defer close(w.stoppedChan)

	for {
		next := w.nextFire(w.now())
		timer := time.NewTimer(next.Sub(w.now()))

		select {
		case <-timer.C:
			w.trigger()
		case <-w.stopChan:
			timer.Stop()
			return
		}
	}
}

// nextFire returns the next occurrence of the daily fire time strictly
// after now
func (w *Worker) nextFire(now time.Time) time.Time {
	candidate := time.Date(now.Year(), now.Month(), now.Day(), w.fireHour, w.fireMinute, w.fireSecond, 0, now.Location())
	if !candidate.After(now) {
		candidate = candidate.AddDate(0, 0, 1)
	}
	return candidate
}

// trigger runs one scheduled renewal. A run already in progress is
// dropped, not deferred.
func (w *Worker) trigger() {
	if w.renewer.InProgress() {
		w.logger.Info("Ongoing cert renewal, skipping scheduled run")
		return
	}

	ctx := context.Background()

	// Fire-and-forget trigger notification
	_ = w.notifier.PublishStatusEvent(ctx, "Scheduled cert renewal triggered")

	if _, err := w.renewer.RunRenewal(ctx, false); err != nil {
		if errors.Is(err, renewal.ErrRenewalInProgress) {
			w.logger.Info("Ongoing cert renewal, scheduled run rejected")
			return
		}
		w.logger.WithError(err).Error("Scheduled renewal failed")
	}
}
