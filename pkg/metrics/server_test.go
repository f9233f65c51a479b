package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func Test_Server(t *testing.T) {
	t.Run("Should be a no-op without a port", func(t *testing.T) {
		s := NewServer(0, prometheus.NewRegistry(), zap.NewNop())
		assert.Nil(t, s)
		assert.NoError(t, s.Start())
		assert.NoError(t, s.Stop(context.Background()))
	})
	t.Run("Should return once stopped", func(t *testing.T) {
		s := NewServer(39127, prometheus.NewRegistry(), zap.NewNop())
		errs := make(chan error, 1)
		go func() { errs <- s.Start() }()

		assert.Eventually(t, func() bool {
			return s.Stop(context.Background()) == nil
		}, time.Second, 10*time.Millisecond)
		assert.NoError(t, <-errs)
	})
}
