package main

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// failingPublisher rejects every body containing fail.
type failingPublisher struct {
	fail string

	mu  sync.Mutex
	ids map[string]bool
}

func (p *failingPublisher) Publish(ctx context.Context, queue string, messageID string, body []byte, headers map[string]string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail != "" && strings.Contains(string(body), p.fail) {
		return errors.New("broker unavailable")
	}
	if p.ids == nil {
		p.ids = make(map[string]bool)
	}
	p.ids[messageID] = true
	return nil
}

func TestBuildJobs(t *testing.T) {
	jobs := buildJobs(42, -2, 3, 2)
	require.Len(t, jobs, 5)
	assert.Equal(t, "42 -2", string(jobs[0].body))
	assert.False(t, jobs[0].malformed)
	assert.Equal(t, "42 -2 extra-1", string(jobs[4].body))
	assert.True(t, jobs[4].malformed)
}

func TestPublishAll_UniqueMessageIDs(t *testing.T) {
	pub := &failingPublisher{}
	res := publishAll(context.Background(), pub, "stock", buildJobs(1, 1, 20, 0), 4, zap.NewNop())

	assert.Equal(t, publishResult{Valid: 20}, res)
	assert.Len(t, pub.ids, 20)
}

func TestPublishAll_ExpectedChangeCountsOnlyPublishedValid(t *testing.T) {
	pub := &failingPublisher{fail: "extra"}
	res := publishAll(context.Background(), pub, "stock", buildJobs(1, -3, 10, 4), 3, zap.NewNop())

	assert.Equal(t, 10, res.Valid)
	assert.Equal(t, 0, res.Malformed)
	assert.Equal(t, 4, res.Failed)
	assert.Equal(t, -30, res.ExpectedChange(-3))
}
