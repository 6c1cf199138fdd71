package notionsync

import (
	"context"
	"errors"
	"testing"

	"github.com/dvloznov/dre-reports/internal/aggregate"
	"github.com/dvloznov/dre-reports/internal/domain"
	"github.com/dvloznov/dre-reports/internal/store"
	"github.com/jomei/notionapi"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockNotion implements NotionService for testing.
type mockNotion struct {
	pages     [][]notionapi.Page
	created   []notionapi.Properties
	updated   map[string]notionapi.Properties
	createErr error
	queries   []*notionapi.DatabaseQueryRequest
}

func (m *mockNotion) CreatePage(ctx context.Context, databaseID string, properties notionapi.Properties) (*notionapi.Page, error) {
	if m.createErr != nil {
		return nil, m.createErr
	}
	m.created = append(m.created, properties)
	return &notionapi.Page{ID: notionapi.ObjectID("new-page")}, nil
}

func (m *mockNotion) UpdatePage(ctx context.Context, pageID string, properties notionapi.Properties) (*notionapi.Page, error) {
	if m.updated == nil {
		m.updated = map[string]notionapi.Properties{}
	}
	m.updated[pageID] = properties
	return &notionapi.Page{ID: notionapi.ObjectID(pageID)}, nil
}

func (m *mockNotion) QueryDatabase(ctx context.Context, databaseID string, filter *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error) {
	m.queries = append(m.queries, filter)
	i := len(m.queries) - 1
	if i >= len(m.pages) {
		return &notionapi.DatabaseQueryResponse{}, nil
	}
	resp := &notionapi.DatabaseQueryResponse{Results: m.pages[i]}
	if i < len(m.pages)-1 {
		resp.HasMore = true
		resp.NextCursor = notionapi.Cursor("cursor-" + string(rune('a'+i)))
	}
	return resp, nil
}

// mockSource implements ItemSource for testing.
type mockSource struct {
	items  []domain.LineItem
	err    error
	filter store.Filter
}

func (m *mockSource) QueryLineItems(ctx context.Context, f store.Filter) ([]domain.LineItem, error) {
	m.filter = f
	return m.items, m.err
}

func lineItem(project string, month int, nature domain.Nature, category, amount string) domain.LineItem {
	return domain.LineItem{
		Project:  project,
		Period:   domain.Period{Month: month, Year: 2024},
		Nature:   nature,
		Category: category,
		Amount:   decimal.RequireFromString(amount),
	}
}

func titlePage(id, title string) notionapi.Page {
	return notionapi.Page{
		ID: notionapi.ObjectID(id),
		Properties: notionapi.Properties{
			PropName: &notionapi.TitleProperty{Title: []notionapi.RichText{{PlainText: title}}},
		},
	}
}

func sampleItems() []domain.LineItem {
	return []domain.LineItem{
		lineItem("P1 - Alfa", 1, domain.NatureRevenue, "RECEITA", "1000"),
		lineItem("P1 - Alfa", 1, domain.NatureCost, "CLT", "-500"),
		lineItem("P1 - Alfa", 2, domain.NatureRevenue, "RECEITA", "300"),
		lineItem("P2 - Beta", 1, domain.NatureCost, "Subcontratados", "-80"),
	}
}

func TestPublish_UpsertsByTitle(t *testing.T) {
	src := &mockSource{items: sampleItems()}
	notion := &mockNotion{pages: [][]notionapi.Page{
		{titlePage("page-1", "2024-01 | P1 - Alfa")},
		{titlePage("page-x", "2023-12 | P9 - Old"), {ID: "untitled"}},
	}}

	summary, err := Publish(context.Background(), src, notion, "db", store.Filter{Year: 2024}, false)
	require.NoError(t, err)

	assert.Equal(t, Summary{Rows: 3, Created: 2, Updated: 1}, summary)
	assert.Equal(t, 2024, src.filter.Year)

	require.Len(t, notion.queries, 2, "follows the cursor")
	assert.Equal(t, notionapi.Cursor("cursor-a"), notion.queries[1].StartCursor)

	props, ok := notion.updated["page-1"]
	require.True(t, ok)
	assert.Equal(t, float64(500), props[PropMargin].(notionapi.NumberProperty).Number)
	assert.Equal(t, float64(50), props[PropMarginPct].(notionapi.NumberProperty).Number)

	require.Len(t, notion.created, 2)
	title := notion.created[0][PropName].(notionapi.TitleProperty)
	assert.Equal(t, "2024-02 | P1 - Alfa", title.Title[0].Text.Content)
}

func TestPublish_DryRunWritesNothing(t *testing.T) {
	notion := &mockNotion{pages: [][]notionapi.Page{{titlePage("page-1", "2024-01 | P1 - Alfa")}}}

	summary, err := Publish(context.Background(), &mockSource{items: sampleItems()}, notion, "db", store.Filter{}, true)
	require.NoError(t, err)
	assert.Equal(t, Summary{Rows: 3, Created: 2, Updated: 1}, summary)
	assert.Empty(t, notion.created)
	assert.Empty(t, notion.updated)
}

func TestPublish_PageFailuresAreCounted(t *testing.T) {
	notion := &mockNotion{createErr: errors.New("rate limited")}

	summary, err := Publish(context.Background(), &mockSource{items: sampleItems()}, notion, "db", store.Filter{}, false)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Failed)
	assert.Zero(t, summary.Created)
}

func TestPublish_SourceError(t *testing.T) {
	_, err := Publish(context.Background(), &mockSource{err: errors.New("boom")}, &mockNotion{}, "db", store.Filter{}, false)
	assert.ErrorContains(t, err, "boom")
}

func TestSummaryText(t *testing.T) {
	s := SummaryText(aggregate.Summarize(sampleItems()[:2]))
	assert.Contains(t, s, "1.000,00")
	assert.Contains(t, s, "(50.00%)")
}
