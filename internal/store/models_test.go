package store

import (
	"testing"

	"github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/assert"
)

func TestRecordNormalize(t *testing.T) {
	rec := Record{
		Name:      "  Razza ",
		Location:  "N/A",
		Summary:   "",
		Quote:     "null",
		SourceURL: " https://tiktok.com/v/1 ",
		Tags:      []string{"Pizza", "pizza", " date night ", "N/A"},
		Hashtags:  []string{"#JCFood", "jcfood", "#"},
	}
	rec.Normalize("Jersey City, NJ")

	assert.Equal(t, "Razza", rec.Name)
	assert.Equal(t, "Jersey City, NJ", rec.Location)
	assert.Equal(t, UnknownMarker, rec.Neighborhood)
	assert.Equal(t, UnknownMarker, rec.Summary)
	assert.Equal(t, UnknownMarker, rec.Quote)
	assert.Equal(t, "https://tiktok.com/v/1", rec.SourceURL)
	assert.Equal(t, []string{"date night", "pizza"}, rec.Tags)
	assert.Equal(t, []string{"jcfood"}, rec.Hashtags)
}

func TestRecordNormalizeWithoutLocale(t *testing.T) {
	rec := Record{Name: "x", Location: ""}
	rec.Normalize("")
	assert.Equal(t, UnknownMarker, rec.Location)

	rec = Record{Name: "x", Location: "Hoboken, NJ"}
	rec.Normalize("Jersey City, NJ")
	assert.Equal(t, "Hoboken, NJ", rec.Location)
}

func TestMergeLabelsOnlyGrows(t *testing.T) {
	got := mergeLabels([]string{"pizza", "bar"}, []string{"bar", "brunch"})
	assert.Equal(t, []string{"bar", "brunch", "pizza"}, got)
	assert.Equal(t, []string{"a"}, mergeLabels([]string{"a"}, nil))
}

func TestRecordIDStable(t *testing.T) {
	assert.Equal(t, recordID("u/razza"), recordID("u/razza"))
	assert.NotEqual(t, recordID("u/razza"), recordID("u/porta"))
}

func TestQdrantPayloadRoundTrip(t *testing.T) {
	rec := Record{Name: "Razza", Location: "Jersey City, NJ", SourceURL: "u/razza",
		Tags: []string{"pizza"}, Hashtags: []string{"jcfood", "nj"}}
	got := recordFromPayload("id-1", qdrant.NewValueMap(recordPayload(rec)))

	assert.Equal(t, "id-1", got.ID)
	assert.Equal(t, rec.Name, got.Name)
	assert.Equal(t, rec.Tags, got.Tags)
	assert.Equal(t, rec.Hashtags, got.Hashtags)
	assert.Equal(t, "5", pointID(qdrant.NewIDNum(5)))
	assert.Equal(t, "abc", pointID(qdrant.NewIDUUID("abc")))
}
