package shutdown

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
)

func CreateGracefulShutdownChannel() chan os.Signal {
	gracefulShutdown := make(chan os.Signal, 1)
	signal.Notify(gracefulShutdown, syscall.SIGTERM, syscall.SIGINT)
	return gracefulShutdown
}

// ListenForShutdown blocks until a signal arrives or done is closed, runs cleanup, and waits at most
// timeToWait for it to finish.
func ListenForShutdown(
	gracefulShutdown chan os.Signal,
	done chan bool,
	cleanup func(),
	timeToWait time.Duration,
	logger *zap.Logger,
) {
	select {
	case sig := <-gracefulShutdown:
		logger.Sugar().Infow("Received shutdown signal", zap.String("signal", sig.String()))
	case <-done:
		logger.Sugar().Debugw("Work finished, shutting down")
	}

	finished := make(chan struct{})
	go func() {
		cleanup()
		close(finished)
	}()

	select {
	case <-finished:
		logger.Sugar().Infow("Graceful shutdown complete")
	case <-time.After(timeToWait):
		logger.Sugar().Warnw("Graceful shutdown timed out", zap.Duration("timeout", timeToWait))
	}
}
