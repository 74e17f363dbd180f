package main

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Publisher is the part of the queue adapter the tool needs.
type Publisher interface {
	Publish(ctx context.Context, queue string, messageID string, body []byte, headers map[string]string) error
}

type job struct {
	body      []byte
	malformed bool
}

type publishResult struct {
	Valid     int
	Malformed int
	Failed    int
}

// ExpectedChange is the stock delta once every valid message was applied.
// Malformed messages are dead-lettered and never change stock.
func (r publishResult) ExpectedChange(quantity int) int {
	return r.Valid * quantity
}

func buildJobs(itemID int64, quantity, valid, malformed int) []job {
	jobs := make([]job, 0, valid+malformed)
	body := []byte(fmt.Sprintf("%d %d", itemID, quantity))
	for i := 0; i < valid; i++ {
		jobs = append(jobs, job{body: body})
	}
	for i := 0; i < malformed; i++ {
		jobs = append(jobs, job{body: []byte(fmt.Sprintf("%d %d extra-%d", itemID, quantity, i)), malformed: true})
	}
	return jobs
}

// publishAll sends every job with a fresh message ID from concurrency workers.
func publishAll(ctx context.Context, pub Publisher, queue string, jobs []job, concurrency int, logger *zap.Logger) publishResult {
	ch := make(chan job)
	go func() {
		defer close(ch)
		for _, j := range jobs {
			ch <- j
		}
	}()

	// Counters
	var validCount atomic.Int32
	var malformedCount atomic.Int32
	var failCount atomic.Int32

	var wg sync.WaitGroup
	for w := 0; w < max(concurrency, 1); w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range ch {
				if err := pub.Publish(ctx, queue, uuid.NewString(), j.body, nil); err != nil {
					logger.Error("publish_failed", zap.ByteString("body", j.body), zap.Error(err))
					failCount.Add(1)
					continue
				}
				if j.malformed {
					malformedCount.Add(1)
				} else {
					validCount.Add(1)
				}
			}
		}()
	}
	wg.Wait()

	return publishResult{
		Valid:     int(validCount.Load()),
		Malformed: int(malformedCount.Load()),
		Failed:    int(failCount.Load()),
	}
}
