// Package notionsync publishes monthly DRE totals to a Notion database, one
// page per project and period.
package notionsync

import (
	"context"
	"fmt"

	"github.com/dvloznov/dre-reports/internal/aggregate"
	"github.com/dvloznov/dre-reports/internal/logger"
	"github.com/dvloznov/dre-reports/internal/store"
	"github.com/jomei/notionapi"
)

// PageSize is the number of pages requested per database query.
const PageSize = 100

// Summary counts what a publish did.
type Summary struct {
	Rows    int
	Created int
	Updated int
	Failed  int
}

// Publish upserts one Notion page per (project, period) of the items matching
// filter. Pages are matched by title, so publishing twice updates in place.
// A page that fails to write is logged and counted; the run carries on.
func Publish(ctx context.Context, src ItemSource, notionClient NotionService, notionDBID string, filter store.Filter, dryRun bool) (Summary, error) {
	log := logger.FromContext(ctx)

	log.Info().
		Str("project", filter.Project).
		Int("year", filter.Year).
		Int("month", filter.Month).
		Bool("dry_run", dryRun).
		Msg("Starting DRE publish to Notion")

	items, err := src.QueryLineItems(ctx, filter)
	if err != nil {
		return Summary{}, fmt.Errorf("Publish: query line items: %w", err)
	}
	rows := aggregate.ByProjectPeriod(items)
	summary := Summary{Rows: len(rows)}

	pages, err := queryAllNotionPages(ctx, notionClient, notionDBID)
	if err != nil {
		return summary, fmt.Errorf("Publish: %w", err)
	}
	existing := make(map[string]string, len(pages))
	for _, page := range pages {
		if title := extractTitle(page); title != "" {
			existing[title] = string(page.ID)
		}
	}
	log.Info().
		Int("rows", len(rows)).
		Int("notion_page_count", len(pages)).
		Msg("Retrieved rows and existing Notion pages")

	for _, row := range rows {
		title := PageTitle(row.Project, row.Period)
		pageID, found := existing[title]

		if dryRun {
			action := "create"
			if found {
				action = "update"
				summary.Updated++
			} else {
				summary.Created++
			}
			log.Info().Str("title", title).Str("action", action).Msg("[DRY RUN] Would publish Notion page")
			continue
		}

		props := RowToNotionProperties(row)
		if found {
			if _, err := notionClient.UpdatePage(ctx, pageID, props); err != nil {
				log.Warn().Err(err).Str("title", title).Str("page_id", pageID).Msg("Failed to update Notion page")
				summary.Failed++
				continue
			}
			summary.Updated++
			continue
		}

		page, err := notionClient.CreatePage(ctx, notionDBID, props)
		if err != nil {
			log.Warn().Err(err).Str("title", title).Msg("Failed to create Notion page")
			summary.Failed++
			continue
		}
		existing[title] = string(page.ID)
		summary.Created++
	}

	log.Info().
		Int("created", summary.Created).
		Int("updated", summary.Updated).
		Int("failed", summary.Failed).
		Msg("DRE publish completed")

	return summary, nil
}

// queryAllNotionPages pages through the whole database.
func queryAllNotionPages(ctx context.Context, notionClient NotionService, databaseID string) ([]notionapi.Page, error) {
	var allPages []notionapi.Page
	var cursor notionapi.Cursor

	for {
		req := &notionapi.DatabaseQueryRequest{PageSize: PageSize}
		if cursor != "" {
			req.StartCursor = cursor
		}

		resp, err := notionClient.QueryDatabase(ctx, databaseID, req)
		if err != nil {
			return nil, fmt.Errorf("queryAllNotionPages: %w", err)
		}
		allPages = append(allPages, resp.Results...)

		if !resp.HasMore {
			break
		}
		cursor = resp.NextCursor
	}

	return allPages, nil
}
