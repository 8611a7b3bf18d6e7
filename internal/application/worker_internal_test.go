package application

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetryDelay_DoublesUpToCap(t *testing.T) {
	w := NewWorkerPool(nil, nil, nil, WorkerConfig{
		RetryBackoff:  time.Second,
		MaxRetryDelay: 5 * time.Second,
	})

	assert.Equal(t, time.Second, w.retryDelay(1))
	assert.Equal(t, 2*time.Second, w.retryDelay(2))
	assert.Equal(t, 4*time.Second, w.retryDelay(3))
	assert.Equal(t, 5*time.Second, w.retryDelay(4))
	assert.Equal(t, time.Second, w.retryDelay(0), "attempt counts below one use the initial delay")
}
