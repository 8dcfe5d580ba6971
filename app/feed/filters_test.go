package feed

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/lysyi3m/cast-comb/app/model"
)

func TestFilters_EmptyAcceptsEverything(t *testing.T) {
	f := Filters{}

	assert.True(t, f.Match(&model.Episode{Title: "Anything", Duration: 1}))
}

func TestFilters_TitleRegex(t *testing.T) {
	f := Filters{Title: "(?i)interview"}

	assert.True(t, f.Match(&model.Episode{Title: "An Interview with Somebody"}))
	assert.False(t, f.Match(&model.Episode{Title: "Weekly recap"}))
}

func TestFilters_NotTitleRegex(t *testing.T) {
	f := Filters{NotTitle: "(?i)#shorts"}

	assert.True(t, f.Match(&model.Episode{Title: "Full episode"}))
	assert.False(t, f.Match(&model.Episode{Title: "Clip #shorts"}))
}

func TestFilters_DescriptionRegex(t *testing.T) {
	f := Filters{Description: "podcast", NotDescription: "sponsored"}

	assert.True(t, f.Match(&model.Episode{Description: "weekly podcast episode"}))
	assert.False(t, f.Match(&model.Episode{Description: "just a clip"}))
	assert.False(t, f.Match(&model.Episode{Description: "sponsored podcast content"}))
}

func TestFilters_Duration(t *testing.T) {
	f := Filters{MinDuration: 60, MaxDuration: 3600}

	assert.False(t, f.Match(&model.Episode{Duration: 30}))
	assert.True(t, f.Match(&model.Episode{Duration: 60}))
	assert.True(t, f.Match(&model.Episode{Duration: 1800}))
	assert.False(t, f.Match(&model.Episode{Duration: 7200}))
}

func TestFilters_MaxLessThanMinRejectsAll(t *testing.T) {
	f := Filters{MinDuration: 300, MaxDuration: 60}

	// No duration can satisfy both bounds: deterministic empty set
	for _, d := range []int64{1, 59, 60, 120, 300, 301, 100000} {
		assert.False(t, f.Match(&model.Episode{Duration: d}), "duration %d", d)
	}
}

func TestFilters_Age(t *testing.T) {
	f := Filters{MaxAge: 7}

	assert.True(t, f.Match(&model.Episode{PubDate: time.Now().AddDate(0, 0, -2)}))
	assert.False(t, f.Match(&model.Episode{PubDate: time.Now().AddDate(0, 0, -30)}))

	f = Filters{MinAge: 3}
	assert.False(t, f.Match(&model.Episode{PubDate: time.Now()}))
	assert.True(t, f.Match(&model.Episode{PubDate: time.Now().AddDate(0, 0, -10)}))
}

func TestFilters_Validate(t *testing.T) {
	valid := Filters{Title: "^Episode", NotDescription: "(?i)ad"}
	assert.NoError(t, valid.Validate())

	invalid := Filters{Title: "(unclosed"}
	assert.Error(t, invalid.Validate())

	invalid = Filters{NotTitle: "[z-a]"}
	assert.Error(t, invalid.Validate())
}
