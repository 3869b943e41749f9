package main

import (
	"github.com/sells-group/tariff-cli/internal/ingest"
)

// newFetcher builds the downloader for URL inputs from the ingest
// settings, sharing the store's retry policy.
func newFetcher() *ingest.Fetcher {
	return ingest.NewFetcher(ingest.HTTPOptions{
		UserAgent: cfg.Ingest.UserAgent,
		Timeout:   cfg.Ingest.Timeout,
		MaxBytes:  cfg.Ingest.MaxBytes,
		RateLimit: cfg.Ingest.RateLimit,
		Retry:     cfg.Retry,
	})
}
