package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamspace/pluginrt/internal/db"
	"github.com/streamspace/pluginrt/internal/hooks"
	"github.com/streamspace/pluginrt/internal/pulse"
)

type memRows struct {
	objects []*db.Object
}

func (m *memRows) Query(className string) ([]*db.Object, error) {
	return m.objects, nil
}

func TestDefaultNormalizeFlattensSlateTree(t *testing.T) {
	tree := map[string]interface{}{
		"children": []interface{}{
			map[string]interface{}{"text": "hello"},
			map[string]interface{}{"children": []interface{}{
				map[string]interface{}{"text": "world"},
			}},
		},
	}
	text := defaultNormalize(tree)
	assert.Contains(t, text, "hello")
	assert.Contains(t, text, "world")
}

func TestMatchScoreExactAndPartialAndNone(t *testing.T) {
	assert.Equal(t, 1.0, matchScore("cat", "cat"))
	assert.Equal(t, 0.0, matchScore("dog", "cat"))
	assert.Greater(t, matchScore("cat", "a cat sat"), 0.0)
	assert.Less(t, matchScore("cat", "a cat sat"), 1.0)
}

func TestSearchFiltersByThresholdAndPaginates(t *testing.T) {
	c := &Coordinator{h: hooks.New(), indexes: map[string][]Item{
		"articles": {
			{ID: "1", Text: "cat"},
			{ID: "2", Text: "a cat sat on the mat"},
			{ID: "3", Text: "no match here"},
		},
	}}

	results := c.Search(Query{Index: "articles", Search: "cat", Threshold: 0.01, Page: 1, Limit: 1})
	require.Len(t, results, 1)
	assert.Equal(t, "1", results[0].ID) // exact match scores highest
}

func TestSearchEmptyNeedleReturnsEverythingAboveThreshold(t *testing.T) {
	c := &Coordinator{h: hooks.New(), indexes: map[string][]Item{
		"articles": {{ID: "1", Text: "anything"}},
	}}
	results := c.Search(Query{Index: "articles", Search: "", Threshold: 0})
	require.Len(t, results, 1)
}

func TestIndexRunsNormalizeAndIndexHooksAndStoresResult(t *testing.T) {
	h := hooks.New()
	var sawIndex bool
	h.Register("search-index-item-normalize", func(params []interface{}, ctx *hooks.Context) error {
		ctx.Custom["text"] = "custom text"
		return nil
	}, 0, "", "")
	h.Register("search-index", func(_ []interface{}, _ *hooks.Context) error {
		sawIndex = true
		return nil
	}, 0, "", "")

	rows := &memRows{objects: []*db.Object{
		{ClassName: "Article", ObjectID: "1", Data: map[string]interface{}{"title": "hi"}},
	}}
	c := New(rows, h)

	require.NoError(t, c.Index("articles"))
	assert.True(t, sawIndex)

	results := c.Search(Query{Index: "articles", Search: "custom", Threshold: 0.01})
	require.Len(t, results, 1)
	assert.Equal(t, "1", results[0].ID)
	assert.Equal(t, "custom text", results[0].Text)
}

func TestIndexFallsBackToDefaultNormalizeWithoutAHook(t *testing.T) {
	h := hooks.New()
	rows := &memRows{objects: []*db.Object{
		{ClassName: "Article", ObjectID: "1", Data: map[string]interface{}{"text": "hello world"}},
	}}
	c := New(rows, h)

	require.NoError(t, c.Index("articles"))
	results := c.Search(Query{Index: "articles", Search: "hello", Threshold: 0.01})
	require.Len(t, results, 1)
}

func TestSearchPrefersPluginPopulatedResultsOverDefaultScoring(t *testing.T) {
	h := hooks.New()
	h.Register("search", func(_ []interface{}, ctx *hooks.Context) error {
		ctx.Custom["results"] = []Item{{ID: "plugin-1", Text: "whatever", Score: 0.9}}
		return nil
	}, 0, "", "")

	c := New(&memRows{}, h)
	results := c.Search(Query{Index: "articles", Threshold: 0.5})
	require.Len(t, results, 1)
	assert.Equal(t, "plugin-1", results[0].ID)
}

func TestSearchFiltersPluginResultsByThresholdToo(t *testing.T) {
	h := hooks.New()
	h.Register("search", func(_ []interface{}, ctx *hooks.Context) error {
		ctx.Custom["results"] = []Item{
			{ID: "strong", Score: 0.9},
			{ID: "weak", Score: 0.1},
		}
		return nil
	}, 0, "", "")

	c := New(&memRows{}, h)
	results := c.Search(Query{Index: "articles", Threshold: 0.5})
	require.Len(t, results, 1)
	assert.Equal(t, "strong", results[0].ID)
}

func TestScheduleReindexRegistersContentSearchIndexingTask(t *testing.T) {
	h := hooks.New()
	rows := &memRows{objects: []*db.Object{
		{ClassName: "Article", ObjectID: "1", Data: map[string]interface{}{"text": "hello"}},
	}}
	c := New(rows, h)
	sched := pulse.New()

	require.NoError(t, c.ScheduleReindex(sched, []string{"articles"}, ""))
	task, ok := sched.Get(reindexTaskID)
	require.True(t, ok)
	assert.Equal(t, reindexTaskID, task.ID)

	require.NoError(t, sched.Now(reindexTaskID))
	results := c.Search(Query{Index: "articles", Search: "hello", Threshold: 0.01})
	require.Len(t, results, 1)
}
