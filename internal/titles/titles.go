// Package titles implements the HTTP title-resolution stage: for each
// seed EID it fetches the document record over plain HTTP with the
// shared session cookies and records the title. Unlike the browser
// stages its ledger is a single CSV, rewritten after every chunk;
// resumability comes from skipping keys that already carry a usable
// title.
package titles

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/miscite/citecrawl/internal/config"
	"github.com/miscite/citecrawl/internal/crawl"
)

// The value stored in the Title column when all attempts fail; rows
// carrying it are retried on the next run.
const titleError = "Error"

// The terminal value for keys the remote side reports as nonexistent.
const titleNotFound = "404 Not Found"

// Fallback when the record exists but carries no title.
const titleMissing = "Title not found"

// CookieSource supplies the current session cookies for HTTP use.
type CookieSource interface {
	HTTPCookies() ([]*http.Cookie, error)
}

// Fetcher resolves one title per EID against the document endpoint.
type Fetcher struct {
	cfg       config.TitlesConfig
	docURL    string
	userAgent string
	cookies   CookieSource
	refresher crawl.Refresher
	base      *colly.Collector
	logger    *zap.Logger
}

// NewFetcher builds a Fetcher. docURL is the record endpoint prefix;
// the EID is appended per request.
func NewFetcher(cfg config.TitlesConfig, docURL, userAgent string, cookies CookieSource, refresher crawl.Refresher, logger *zap.Logger) (*Fetcher, error) {
	if docURL == "" {
		return nil, fmt.Errorf("scopus.doc_url is required for the titles stage")
	}
	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	c.SetRequestTimeout(cfg.Timeout())
	return &Fetcher{
		cfg:       cfg,
		docURL:    strings.TrimRight(docURL, "/") + "/",
		userAgent: userAgent,
		cookies:   cookies,
		refresher: refresher,
		base:      c,
		logger:    logger,
	}, nil
}

type docRecord struct {
	Titles []string `json:"titles"`
}

// FetchTitle resolves the title for one EID with bounded retries. A
// 403 refreshes the session before the next attempt; a 404 is a
// terminal answer recorded as such.
func (f *Fetcher) FetchTitle(ctx context.Context, eid string) (string, error) {
	url := f.docURL + eid
	logger := f.logger.With(zap.String("eid", eid))

	var lastStatus int
	for attempt := 1; attempt <= f.cfg.MaxAttempts; attempt++ {
		status, body, err := f.get(ctx, url)
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			logger.Warn("fetch attempt failed", zap.Int("attempt", attempt), zap.Error(err))
			if serr := sleep(ctx, f.cfg.RetryDelay()); serr != nil {
				return "", serr
			}
			continue
		}
		lastStatus = status

		switch status {
		case http.StatusOK:
			var record docRecord
			if err := json.Unmarshal(body, &record); err != nil {
				logger.Warn("record decode failed, refreshing session",
					zap.Int("attempt", attempt), zap.Error(err))
				f.refresh(ctx, logger)
				if serr := sleep(ctx, f.cfg.RetryDelay()); serr != nil {
					return "", serr
				}
				continue
			}
			if len(record.Titles) == 0 {
				return titleMissing, nil
			}
			return record.Titles[0], nil
		case http.StatusForbidden:
			logger.Warn("forbidden, refreshing session", zap.Int("attempt", attempt))
			f.refresh(ctx, logger)
			if serr := sleep(ctx, f.cfg.RetryDelay()); serr != nil {
				return "", serr
			}
		case http.StatusNotFound:
			return "", fmt.Errorf("record %s: %w", eid, crawl.ErrNotFound)
		default:
			logger.Warn("unexpected status", zap.Int("attempt", attempt), zap.Int("status", status))
			if serr := sleep(ctx, f.cfg.RetryDelay()); serr != nil {
				return "", serr
			}
		}
	}

	return "", fmt.Errorf("title fetch exhausted %d attempts (last status %d)", f.cfg.MaxAttempts, lastStatus)
}

func (f *Fetcher) refresh(ctx context.Context, logger *zap.Logger) {
	if f.refresher == nil {
		return
	}
	if err := f.refresher.Refresh(ctx); err != nil {
		logger.Warn("session refresh failed", zap.Error(err))
	}
}

// get runs one HTTP attempt through a cloned collector, seeded with
// the current session cookies.
func (f *Fetcher) get(ctx context.Context, url string) (int, []byte, error) {
	collector := f.base.Clone()
	if f.userAgent != "" {
		collector.UserAgent = f.userAgent
	}
	collector.SetRequestTimeout(f.cfg.Timeout())

	if f.cookies != nil {
		cookies, err := f.cookies.HTTPCookies()
		if err != nil {
			return 0, nil, err
		}
		if err := collector.SetCookies(url, cookies); err != nil {
			return 0, nil, fmt.Errorf("seed cookies: %w", err)
		}
	}

	var (
		status int
		body   []byte
	)
	collector.OnResponse(func(r *colly.Response) {
		status = r.StatusCode
		body = append([]byte(nil), r.Body...)
	})
	collector.OnError(func(r *colly.Response, _ error) {
		if r != nil {
			status = r.StatusCode
		}
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()
	select {
	case <-ctx.Done():
		return 0, nil, fmt.Errorf("title fetch canceled: %w", ctx.Err())
	case err := <-done:
		// A non-2xx visit returns an error but the status still tells
		// the retry loop what happened.
		if err != nil && status == 0 {
			return 0, nil, fmt.Errorf("visit: %w", err)
		}
		return status, body, nil
	}
}

// Stage runs title resolution over the seed CSV in chunks.
type Stage struct {
	fetcher     *Fetcher
	outputPath  string
	chunkSize   int
	concurrency int
	logger      *zap.Logger
}

// NewStage constructs the stage runner.
func NewStage(fetcher *Fetcher, outputPath string, cfg config.TitlesConfig, logger *zap.Logger) *Stage {
	chunk := cfg.ChunkSize
	if chunk <= 0 {
		chunk = 100
	}
	return &Stage{
		fetcher:     fetcher,
		outputPath:  outputPath,
		chunkSize:   chunk,
		concurrency: cfg.Concurrency,
		logger:      logger,
	}
}

// Run resolves titles for every seed row that does not already have a
// usable one, rewriting the output CSV after each chunk so progress
// survives interruption.
func (s *Stage) Run(ctx context.Context, seeds []Record) error {
	existing, err := LoadOutput(s.outputPath)
	if err != nil {
		return err
	}
	s.logger.Info("loaded existing titles", zap.Int("records", len(existing)))

	out := newOutputSet(seeds, existing)
	pending := out.pending()
	s.logger.Info("titles to resolve",
		zap.Int("seeds", len(seeds)), zap.Int("pending", len(pending)))
	if len(pending) == 0 {
		return nil
	}

	var mu sync.Mutex
	processed := 0
	for start := 0; start < len(pending); start += s.chunkSize {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("titles run canceled: %w", err)
		}
		end := min(start+s.chunkSize, len(pending))
		chunk := pending[start:end]

		g := new(errgroup.Group)
		g.SetLimit(s.concurrency)
		for _, rec := range chunk {
			g.Go(func() error {
				title, err := s.fetcher.FetchTitle(ctx, rec.EID)
				switch {
				case err == nil:
				case errors.Is(err, crawl.ErrNotFound):
					title = titleNotFound
				case errors.Is(err, context.Canceled):
					return err
				default:
					s.logger.Error("title unresolved", zap.String("eid", rec.EID), zap.Error(err))
					title = titleError
				}
				mu.Lock()
				out.setTitle(rec.EID, title)
				mu.Unlock()
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}

		processed += len(chunk)
		if err := out.write(s.outputPath); err != nil {
			return err
		}
		s.logger.Info("chunk complete", zap.Int("processed", processed), zap.Int("pending", len(pending)))
	}

	if err := out.write(s.outputPath); err != nil {
		return err
	}
	s.logger.Info("titles stage finished")
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
