package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/rl1809/inventory-sync/internal/adapter/queue"
	"github.com/rl1809/inventory-sync/internal/config"
	"github.com/rl1809/inventory-sync/internal/logging"
)

func main() {
	itemID := flag.Int64("item", 1, "item id to adjust")
	quantity := flag.Int("quantity", -1, "signed stock change per message")
	total := flag.Int("messages", 50, "number of messages to publish")
	concurrency := flag.Int("concurrency", 10, "concurrent publishers")
	malformed := flag.Int("malformed", 0, "extra malformed messages to publish")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger := logging.MustNewLogger("stock-publisher", cfg.Env, cfg.LogLevel, "")
	defer func() { _ = logger.Sync() }()

	mq := queue.NewRabbitMQAdapter(
		queue.URL(cfg.Rabbit, cfg.RabbitUser, cfg.RabbitPassword),
		queue.QueueOptions{Durable: cfg.Queue.Durable, Quorum: cfg.Queue.Quorum},
	)
	defer mq.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	start := time.Now()
	res := publishAll(ctx, mq, cfg.Queue.Name, buildJobs(*itemID, *quantity, *total, *malformed), *concurrency, logger)
	elapsed := time.Since(start)

	fmt.Println("========== PUBLISH RESULTS ==========")
	fmt.Printf("Queue:            %s\n", cfg.Queue.Name)
	fmt.Printf("Item:             %d\n", *itemID)
	fmt.Printf("Quantity:         %d\n", *quantity)
	fmt.Printf("Published valid:  %d\n", res.Valid)
	fmt.Printf("Published bad:    %d\n", res.Malformed)
	fmt.Printf("Failed:           %d\n", res.Failed)
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Printf("Expected change:  %d\n", res.ExpectedChange(*quantity))
	fmt.Println("=====================================")
}
