package processing

import (
	"context"
	"fmt"
	"time"

	"github.com/nguyenduyducds/WebSiteWpr-sub001/internal/failure"
	"github.com/nguyenduyducds/WebSiteWpr-sub001/internal/provider"
	"github.com/nguyenduyducds/WebSiteWpr-sub001/pkg/clock"
	"github.com/nguyenduyducds/WebSiteWpr-sub001/pkg/logger"
)

var log = logger.Get("Processing")

type (
	StatusSource interface {
		Status(ctx context.Context, videoID string) (*provider.Status, error)
	}

	Config struct {
		PollIntervalSeconds int `yaml:"poll_interval_seconds" env:"PROCESSING_POLL_INTERVAL" env-default:"10" validate:"gte=1"`
		MaxWaitSeconds      int `yaml:"max_wait_seconds" env:"PROCESSING_MAX_WAIT" env-default:"900" validate:"gtefield=PollIntervalSeconds"`
		ProgressLogSeconds  int `yaml:"progress_log_seconds" env:"PROCESSING_PROGRESS_LOG" env-default:"30" validate:"gte=0"`
	}

	Progress struct {
		VideoID string
		State   State
		Polls   int
		Elapsed time.Duration
		Message string
	}

	Result struct {
		State      State
		Polls      int
		Elapsed    time.Duration
		LastStatus *provider.Status
		LastErr    error
	}

	// Machine polls a StatusSource at a fixed interval until the video
	// reaches a terminal state or the wait ceiling is reached.
	Machine struct {
		config Config
		clock  clock.Clock
	}
)

func (config Config) PollInterval() time.Duration {
	return time.Duration(config.PollIntervalSeconds) * time.Second
}

func (config Config) MaxWait() time.Duration {
	return time.Duration(config.MaxWaitSeconds) * time.Second
}

func (config Config) ProgressEvery() time.Duration {
	return time.Duration(config.ProgressLogSeconds) * time.Second
}

func NewMachine(config Config, clk clock.Clock) *Machine {
	if clk == nil {
		clk = clock.Real()
	}
	if config.PollIntervalSeconds <= 0 {
		config.PollIntervalSeconds = 10
	}
	if config.MaxWaitSeconds <= 0 {
		config.MaxWaitSeconds = 900
	}

	return &Machine{config: config, clock: clk}
}

// Wait polls the processing status of the video until a terminal state is
// reached. The only error returned is a Cancelled failure, raised when the
// context is cancelled between polls; once cancellation is observed no
// further transitions occur. Progress is reported to the callback (which
// may be nil) at most once per configured progress interval.
func (machine *Machine) Wait(ctx context.Context, source StatusSource, videoID string, report func(Progress)) (*Result, error) {
	begin := machine.clock.Now()
	result := &Result{State: Uploading}
	var lastReport time.Time

	for {
		if err := ctx.Err(); err != nil {
			return result, failure.Wrap(failure.Cancelled, "processing-wait", err)
		}

		status, err := source.Status(ctx, videoID)
		result.Polls++
		if ctxErr := ctx.Err(); ctxErr != nil {
			return result, failure.Wrap(failure.Cancelled, "processing-wait", ctxErr)
		}

		now := machine.clock.Now()
		result.Elapsed = now.Sub(begin)
		result.LastErr = err
		if status != nil {
			result.LastStatus = status
		}
		if err != nil {
			log.Emit(logger.DEBUG, "Status poll %d for video %s failed: %v\n", result.Polls, videoID, err)
		}

		next := Next(result.State, Observation{Status: status, Err: err, Elapsed: result.Elapsed, MaxWait: machine.config.MaxWait()})
		if next != result.State {
			log.Emit(logger.INFO, "Video %s processing state %s -> %s after %s\n", videoID, result.State, next, result.Elapsed.Round(time.Second))
			result.State = next
		}

		if next.Terminal() || lastReport.IsZero() || now.Sub(lastReport) >= machine.config.ProgressEvery() {
			lastReport = now
			progress := Progress{
				VideoID: videoID,
				State:   result.State,
				Polls:   result.Polls,
				Elapsed: result.Elapsed,
				Message: describe(result),
			}
			log.Emit(logger.INFO, "%s\n", progress.Message)
			if report != nil {
				report(progress)
			}
		}

		if next.Terminal() {
			return result, nil
		}

		if err := machine.clock.Sleep(ctx, machine.config.PollInterval()); err != nil {
			return result, failure.Wrap(failure.Cancelled, "processing-wait", err)
		}
	}
}

func describe(result *Result) string {
	elapsed := result.Elapsed.Round(time.Second)
	switch result.State {
	case Ready:
		return fmt.Sprintf("Processing complete after %s (%d polls)", elapsed, result.Polls)
	case TimedOut:
		return fmt.Sprintf("Processing did not complete within %s (%d polls)", elapsed, result.Polls)
	case QuotaExceeded:
		return fmt.Sprintf("Provider reported quota exhaustion after %s", elapsed)
	case Failed:
		return fmt.Sprintf("Provider reported processing failure after %s", elapsed)
	}

	if result.LastErr != nil {
		return fmt.Sprintf("Still %s after %s (last poll failed: %v)", result.State.Label(), elapsed, result.LastErr)
	}

	return fmt.Sprintf("Still %s after %s", result.State.Label(), elapsed)
}
