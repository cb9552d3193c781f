// Package seed loads, generates and replays recorded conversations. A
// scenario is a list of raw stanzas and archive pages delivered to one
// account, used to populate development databases and to reproduce reports.
package seed

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"parley/internal/middleware"
	"parley/internal/models"
	"parley/internal/service"

	"gopkg.in/yaml.v3"
)

// Scenario is a recorded conversation of one account.
type Scenario struct {
	Account   string     `yaml:"account"`
	Bookmarks []Bookmark `yaml:"bookmarks,omitempty"`
	Steps     []Step     `yaml:"steps"`
}

// Bookmark is a group chat bookmark synced before the steps run.
type Bookmark struct {
	Address  string `yaml:"address"`
	Name     string `yaml:"name,omitempty"`
	Nick     string `yaml:"nick,omitempty"`
	Autojoin bool   `yaml:"autojoin,omitempty"`
}

// Step delivers either one live stanza or one archive page.
type Step struct {
	Stanza string   `yaml:"stanza,omitempty"`
	Page   []string `yaml:"page,omitempty"`
}

// Report counts what a replay delivered.
type Report struct {
	Stanzas  int `json:"stanzas"`
	Pages    int `json:"pages"`
	Results  int `json:"results"`
	Receipts int `json:"receipts"`
}

// Ingester accepts stanzas for an account.
type Ingester interface {
	Ingest(ctx context.Context, address string, r io.Reader) (*service.IngestResult, error)
	IngestPage(ctx context.Context, address string, raws []string) error
}

// BookmarkSyncer replaces the bookmarks of an account.
type BookmarkSyncer interface {
	SyncBookmarks(ctx context.Context, address string, bookmarks []models.Bookmark) error
}

// Load decodes and validates a YAML scenario. Unknown keys are rejected.
func Load(r io.Reader) (*Scenario, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var sc Scenario
	if err := dec.Decode(&sc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("scenario is empty")
		}
		return nil, fmt.Errorf("failed to decode scenario: %w", err)
	}
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	return &sc, nil
}

// LoadFile reads a scenario from path.
func LoadFile(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario: %w", err)
	}
	return Load(bytes.NewReader(data))
}

// Validate checks that every step carries exactly one payload.
func (sc *Scenario) Validate() error {
	if strings.TrimSpace(sc.Account) == "" {
		return errors.New("scenario account is required")
	}
	for i, b := range sc.Bookmarks {
		if strings.TrimSpace(b.Address) == "" {
			return fmt.Errorf("bookmark %d: address is required", i)
		}
	}
	for i, step := range sc.Steps {
		hasStanza := strings.TrimSpace(step.Stanza) != ""
		hasPage := len(step.Page) > 0
		if hasStanza == hasPage {
			return fmt.Errorf("step %d: exactly one of stanza or page is required", i)
		}
	}
	return nil
}

// Encode writes sc as YAML.
func (sc *Scenario) Encode(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(sc); err != nil {
		return fmt.Errorf("failed to encode scenario: %w", err)
	}
	return enc.Close()
}

// Run replays sc in order. Bookmarks are synced first when chats is not nil.
// The first failing step aborts the replay.
func Run(ctx context.Context, ing Ingester, chats BookmarkSyncer, sc *Scenario) (Report, error) {
	var report Report
	if err := sc.Validate(); err != nil {
		return report, err
	}

	if chats != nil && len(sc.Bookmarks) > 0 {
		bookmarks := make([]models.Bookmark, 0, len(sc.Bookmarks))
		for _, b := range sc.Bookmarks {
			bookmarks = append(bookmarks, models.Bookmark{
				Address:  b.Address,
				Name:     b.Name,
				Nick:     b.Nick,
				Autojoin: b.Autojoin,
			})
		}
		if err := chats.SyncBookmarks(ctx, sc.Account, bookmarks); err != nil {
			return report, fmt.Errorf("failed to sync bookmarks: %w", err)
		}
	}

	for i, step := range sc.Steps {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if len(step.Page) > 0 {
			if err := ing.IngestPage(ctx, sc.Account, step.Page); err != nil {
				return report, fmt.Errorf("step %d: %w", i, err)
			}
			report.Pages++
			report.Results += len(step.Page)
			continue
		}
		result, err := ing.Ingest(ctx, sc.Account, strings.NewReader(step.Stanza))
		if err != nil {
			return report, fmt.Errorf("step %d: %w", i, err)
		}
		report.Stanzas++
		if result.Receipt {
			report.Receipts++
		}
	}

	middleware.Logger.InfoContext(ctx, "scenario replayed",
		slog.String("account", sc.Account),
		slog.Int("stanzas", report.Stanzas),
		slog.Int("pages", report.Pages),
		slog.Int("receipts", report.Receipts))
	return report, nil
}
