// Package news provides the industry headline ticker: a Fetcher that reads
// an rss2json feed and a Board that caches the latest headlines and
// refreshes them on a fixed interval.
package news

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// MaxItems caps the number of headlines kept from one fetch.
const MaxItems = 10

// Item is a single headline.
type Item struct {
	Title  string `json:"title"`
	Source string `json:"source"`
	URL    string `json:"url,omitempty"`
}

// Fallback is served whenever a fetch fails or returns nothing.
var Fallback = []Item{
	{Title: "Kenya Copyright Board (KECOBO) updates digital royalty frameworks for 2025.", Source: "KECOBO"},
	{Title: "KFCB signals revision of licensing for independent Nairobi creators.", Source: "KFCB"},
	{Title: "Kalasha Awards nominations window closing soon.", Source: "Kalasha"},
	{Title: "MCSK announces quarterly distribution schedule.", Source: "MCSK"},
	{Title: "Netflix expanding local investment in East African original titles.", Source: "Netflix"},
	{Title: "High Court sets precedent on AI-generated copyright in Kenya.", Source: "Legal Trend"},
}

func fallback() []Item {
	out := make([]Item, len(Fallback))
	copy(out, Fallback)
	return out
}

// Fetcher reads headlines from an rss2json endpoint.
type Fetcher struct {
	URL    string
	Source string
	Client *http.Client
	Logger zerolog.Logger
}

type feed struct {
	Status string `json:"status"`
	Items  []struct {
		Title string `json:"title"`
		Link  string `json:"link"`
	} `json:"items"`
}

// Fetch never fails: any error or an empty feed yields the fallback list.
func (f *Fetcher) Fetch(ctx context.Context) []Item {
	items, err := f.fetch(ctx)
	if err != nil {
		f.Logger.Warn().Err(err).Msg("news fetch failed, serving fallback headlines")
		return fallback()
	}
	if len(items) == 0 {
		return fallback()
	}
	return items
}

func (f *Fetcher) fetch(ctx context.Context) ([]Item, error) {
	if f.URL == "" {
		return nil, nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.URL, nil)
	if err != nil {
		return nil, err
	}
	client := f.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("news feed: status %d", resp.StatusCode)
	}

	var doc feed
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("news feed: %w", err)
	}
	source := f.Source
	if source == "" {
		source = "MBW"
	}
	out := make([]Item, 0, MaxItems)
	for _, it := range doc.Items {
		if it.Title == "" {
			continue
		}
		out = append(out, Item{Title: it.Title, Source: source, URL: it.Link})
		if len(out) == MaxItems {
			break
		}
	}
	return out, nil
}

// Source produces headlines.
type Source interface {
	Fetch(ctx context.Context) []Item
}

// Board holds the current headlines. Before the first refresh it serves the
// fallback list.
type Board struct {
	src      Source
	interval time.Duration
	log      zerolog.Logger

	mu      sync.RWMutex
	items   []Item
	updated time.Time
}

// NewBoard returns a board that refreshes from src every interval.
func NewBoard(src Source, interval time.Duration, log zerolog.Logger) *Board {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	return &Board{src: src, interval: interval, log: log, items: fallback()}
}

// Items returns a copy of the current headlines and when they were fetched.
func (b *Board) Items() ([]Item, time.Time) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Item, len(b.items))
	copy(out, b.items)
	return out, b.updated
}

// Refresh fetches once and replaces the current headlines.
func (b *Board) Refresh(ctx context.Context) {
	items := b.src.Fetch(ctx)
	if len(items) == 0 {
		items = fallback()
	}
	b.mu.Lock()
	b.items = items
	b.updated = time.Now().UTC()
	b.mu.Unlock()
	b.log.Debug().Int("headlines", len(items)).Msg("news board refreshed")
}

// Run refreshes immediately and then on every tick until ctx is done.
func (b *Board) Run(ctx context.Context) error {
	b.Refresh(ctx)
	t := time.NewTicker(b.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			b.Refresh(ctx)
		}
	}
}
