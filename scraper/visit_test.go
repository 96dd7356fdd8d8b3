package scraper

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoComputesOncePerKey(t *testing.T) {
	v, page := newVisit(t, propertyHTML)
	ctx := context.Background()

	_, err := v.Source(ctx)
	require.NoError(t, err)

	calls := 0
	compute := func(ctx context.Context) (any, error) {
		calls++
		return 8.5, page.SetHTML(`<html><body><div data-testid="review-card">Scored 9</div></body></html>`)
	}
	got, err := v.Memo(ctx, "reviews", compute)
	require.NoError(t, err)
	assert.Equal(t, 8.5, got)

	got, err = v.Memo(ctx, "reviews", compute)
	require.NoError(t, err)
	assert.Equal(t, 8.5, got)
	assert.Equal(t, 1, calls)

	src, err := v.Source(ctx)
	require.NoError(t, err)
	assert.Contains(t, src, "review-card", "source re-read after the page changed")
}

func TestMemoReplaysErrors(t *testing.T) {
	v, _ := newVisit(t, propertyHTML)
	boom := errors.New("boom")
	calls := 0
	compute := func(ctx context.Context) (any, error) {
		calls++
		return nil, boom
	}

	_, err := v.Memo(context.Background(), "reviews", compute)
	assert.ErrorIs(t, err, boom)
	_, err = v.Memo(context.Background(), "reviews", compute)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

func TestStaticPageSelectOption(t *testing.T) {
	html := `<html><body><select name="customerType">
<option value="FAMILIES" selected>Families</option><option value="ALL">All reviewers</option>
</select></body></html>`
	_, page := newVisit(t, html)
	ctx := context.Background()

	var got string
	page.OnSelect = func(ctx context.Context, p *StaticPage, locator, value string) error {
		got = value
		return nil
	}
	require.NoError(t, page.SelectOption(ctx, `select[name="customerType"]`, "ALL"))
	assert.Equal(t, "ALL", got)

	src, err := page.RawSource(ctx)
	require.NoError(t, err)
	assert.Contains(t, src, `<option value="ALL" selected="selected">`)
	assert.NotContains(t, src, `<option value="FAMILIES" selected`)

	assert.Error(t, page.SelectOption(ctx, `select[name="customerType"]`, "PETS"))
	assert.Error(t, page.SelectOption(ctx, `select[name="sort"]`, "ALL"))
}
