package shutdown

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultTimeout bounds each step when Run is given no deadline of its own.
const DefaultTimeout = 10 * time.Second

// Step is one component released at exit.
type Step struct {
	Name  string
	Close func(ctx context.Context) error
}

// Wait blocks until SIGINT or SIGTERM and returns the signal received.
func Wait() os.Signal {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)
	return <-quit
}

// Run releases steps in order. Every step runs even if an earlier one fails.
func Run(timeout time.Duration, steps ...Step) error {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	var errs []error
	for _, s := range steps {
		if s.Close == nil {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		err := s.Close(ctx)
		cancel()
		if err != nil {
			log.Error().Err(err).Str("component", s.Name).Msg("Shutdown step failed")
			errs = append(errs, fmt.Errorf("%s: %w", s.Name, err))
			continue
		}
		log.Info().Str("component", s.Name).Msg("Stopped")
	}
	return errors.Join(errs...)
}

// Shutdown releases steps and exits the process.
func Shutdown(steps ...Step) {
	if err := Run(DefaultTimeout, steps...); err != nil {
		os.Exit(1)
	}
	log.Info().Msg("Airzone controller stopped")
	os.Exit(0)
}

func ShutdownWithError(err error, msg string, steps ...Step) {
	log.Error().Err(err).Msg(msg)
	Run(DefaultTimeout, steps...)
	os.Exit(1)
}
