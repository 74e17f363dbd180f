package port

import "time"

type StockMetrics interface {
	ObserveMessage(outcome string, elapsed time.Duration)
}

type NopStockMetrics struct{}

func (NopStockMetrics) ObserveMessage(string, time.Duration) {}
