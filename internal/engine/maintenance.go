package engine

import (
	"fmt"
	"time"

	"github.com/adhocore/gronx"
	"go.uber.org/zap"
)

// StartMaintenance decays memories once now and then, on every tick of the
// configured cron schedule, decays and consolidates them. Stop ends it.
func (e *Engine) StartMaintenance() error {
	schedule := e.cfg.Memory.Schedule
	if schedule == "" {
		return nil
	}
	if !gronx.New().IsValid(schedule) {
		return fmt.Errorf("invalid maintenance schedule %q", schedule)
	}

	if n := e.Decay(e.now()); n > 0 {
		e.log.Info("decay", zap.Int("updated", n))
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		for {
			next, err := gronx.NextTickAfter(schedule, e.now(), false)
			if err != nil {
				e.log.Error("maintenance schedule", zap.Error(err))
				return
			}
			timer := time.NewTimer(time.Until(next))
			select {
			case <-timer.C:
				e.maintain()
			case <-e.stopCh:
				timer.Stop()
				return
			}
		}
	}()
	e.log.Info("maintenance scheduled", zap.String("schedule", schedule))
	return nil
}

func (e *Engine) maintain() {
	decayed := e.Decay(e.now())
	rep, err := e.Consolidate(0)
	if err != nil {
		e.log.Error("consolidate", zap.Error(err))
		return
	}
	e.log.Info("maintenance",
		zap.Int("decayed", decayed),
		zap.Int("merged", rep.Merged),
		zap.Int("memories", rep.After))
}

// Stop ends background maintenance. It is safe to call more than once.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.stopCh) })
	e.wg.Wait()
}
