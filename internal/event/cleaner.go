package event

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/life-stream-dev/life-stream-go-chat-relay/internal/logger"
)

type Callable interface {
	Invoke(ctx context.Context) error
}

// CallableFunc adapts a plain function to Callable.
type CallableFunc func(ctx context.Context) error

func (f CallableFunc) Invoke(ctx context.Context) error {
	return f(ctx)
}

type Cleaner struct {
	cleaners       []Callable
	mu             sync.Mutex
	initOnce       sync.Once
	cleanOnce      sync.Once
	cleaning       bool
	timeout        time.Duration
	loggerShutdown Callable
}

var cleanerInstance = NewStandaloneCleaner()

// NewCleaner returns the process-wide cleaner.
func NewCleaner() *Cleaner {
	return cleanerInstance
}

// NewStandaloneCleaner returns a cleaner that is not bound to process signals until Init is called.
func NewStandaloneCleaner() *Cleaner {
	return &Cleaner{timeout: 10 * time.Second}
}

func (c *Cleaner) Add(callable Callable) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cleaning {
		logger.Debug("Cleaner is already shutting down, ignoring new cleaner")
		return
	}
	c.cleaners = append(c.cleaners, callable)
}

func (c *Cleaner) Init(loggerShutdown Callable) {
	c.initOnce.Do(func() {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		c.loggerShutdown = loggerShutdown

		go func() {
			<-ctx.Done()
			stop()
			logger.Info("Received interrupt signal, shutting down")
			c.Clean()
			syscall.Exit(0)
		}()
	})
}

// Clean invokes registered callables in reverse registration order, then shuts the logger down.
// Only the first call has any effect.
func (c *Cleaner) Clean() []error {
	var errs []error
	c.cleanOnce.Do(func() {
		c.mu.Lock()
		c.cleaning = true
		cleanersCopy := make([]Callable, len(c.cleaners))
		copy(cleanersCopy, c.cleaners)
		c.mu.Unlock()

		logger.DebugF("Starting cleanup of %d registered functions", len(cleanersCopy))

		for i := len(cleanersCopy) - 1; i >= 0; i-- {
			func(idx int, callable Callable) {
				logger.DebugF("Invoking cleaner #%d (%T)", idx+1, callable)
				timeoutCtx, cancelFunc := context.WithTimeout(context.Background(), c.timeout)
				defer cancelFunc()
				if err := callable.Invoke(timeoutCtx); err != nil {
					logger.ErrorF("Cleaner #%d (%T) failed: %v", idx+1, callable, err)
					errs = append(errs, err)
				}
			}(i, cleanersCopy[i])
		}

		if len(errs) > 0 {
			logger.ErrorF("%d errors occurred during cleanup", len(errs))
		} else {
			logger.Debug("All cleaners executed successfully")
		}
		logger.Info("Cleanup finished, server offline")

		if c.loggerShutdown == nil {
			return
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := c.loggerShutdown.Invoke(shutdownCtx); err != nil {
			fmt.Fprintf(os.Stderr, "LOGGER SHUTDOWN ERROR: %v\n", err)
		}
	})
	return errs
}
