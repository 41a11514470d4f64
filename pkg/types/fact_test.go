package types

import (
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validFact() *Fact {
	return &Fact{
		ID:         "fact-1",
		DealID:     "deal-1",
		SubjectID:  "entity-1",
		Predicate:  "q3_revenue",
		Object:     NumberObject(5.2e6, "USD"),
		Claim:      "Acme Corp q3 revenue 5.2M USD",
		RecordedAt: time.Now(),
		DocumentID: "doc-a",
		Locator:    Locator{Sheet: "P&L", Cell: "B7"},
		Confidence: 0.9,
	}
}

func TestFactValidate(t *testing.T) {
	t.Run("valid fact passes", func(t *testing.T) {
		require.NoError(t, validFact().Validate())
	})

	t.Run("missing locator is a validation error", func(t *testing.T) {
		f := validFact()
		f.Locator = Locator{}
		err := f.Validate()
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrValidation))
	})

	t.Run("missing subject is a validation error", func(t *testing.T) {
		f := validFact()
		f.SubjectID = ""
		assert.True(t, errors.Is(f.Validate(), ErrValidation))
	})

	t.Run("confidence outside range is rejected", func(t *testing.T) {
		f := validFact()
		f.Confidence = 1.2
		assert.True(t, errors.Is(f.Validate(), ErrValidation))
	})

	t.Run("invalid_at before valid_at is rejected", func(t *testing.T) {
		f := validFact()
		validAt := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
		invalidAt := validAt.Add(-24 * time.Hour)
		f.ValidAt = &validAt
		f.InvalidAt = &invalidAt
		assert.True(t, errors.Is(f.Validate(), ErrValidation))
	})

	t.Run("invalid_at equal to valid_at is allowed", func(t *testing.T) {
		f := validFact()
		at := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
		f.ValidAt = &at
		f.InvalidAt = &at
		require.NoError(t, f.Validate())
	})
}

func TestFactValidDuring(t *testing.T) {
	from := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2025, 6, 30, 0, 0, 0, 0, time.UTC)

	f := validFact()
	f.ValidAt = &from
	f.InvalidAt = &to

	assert.True(t, f.ValidDuring(from))
	assert.True(t, f.ValidDuring(from.AddDate(0, 3, 0)))
	assert.False(t, f.ValidDuring(to), "interval end is exclusive")
	assert.False(t, f.ValidDuring(from.Add(-time.Hour)))

	openEnded := validFact()
	openEnded.ValidAt = &from
	assert.True(t, openEnded.ValidDuring(to.AddDate(10, 0, 0)))

	unknownStart := validFact()
	assert.True(t, unknownStart.ValidDuring(from.AddDate(-5, 0, 0)))
}

func TestFactOverlapsValidity(t *testing.T) {
	jan := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	mar := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	jun := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	interval := func(from, to *time.Time) *Fact {
		f := validFact()
		f.ValidAt = from
		f.InvalidAt = to
		return f
	}

	t.Run("overlapping intervals", func(t *testing.T) {
		assert.True(t, interval(&jan, &jun).OverlapsValidity(interval(&mar, nil)))
	})

	t.Run("disjoint intervals", func(t *testing.T) {
		assert.False(t, interval(&jan, &mar).OverlapsValidity(interval(&jun, nil)))
	})

	t.Run("open intervals always overlap", func(t *testing.T) {
		assert.True(t, interval(nil, nil).OverlapsValidity(interval(nil, nil)))
	})
}

func TestObjectValue(t *testing.T) {
	t.Run("text equality ignores case and padding", func(t *testing.T) {
		assert.True(t, TextObject("Delaware ").Equal(TextObject("delaware")))
	})

	t.Run("numbers with different units are not equal", func(t *testing.T) {
		assert.False(t, NumberObject(5, "USD").Equal(NumberObject(5, "EUR")))
	})

	t.Run("kind mismatch is never equal", func(t *testing.T) {
		assert.False(t, TextObject("5").Equal(NumberObject(5, "")))
	})

	t.Run("number renders with unit", func(t *testing.T) {
		assert.Equal(t, "5.2e+06 USD", NumberObject(5.2e6, "USD").String())
	})

	t.Run("empty entity reference is invalid", func(t *testing.T) {
		assert.True(t, errors.Is(ObjectValue{Kind: ObjectEntity}.Validate(), ErrValidation))
	})
}

func TestNormalizePredicate(t *testing.T) {
	assert.Equal(t, "q3_revenue", NormalizePredicate("Q3 Revenue"))
	assert.Equal(t, "q3_revenue", NormalizePredicate("q3_revenue"))
	assert.Equal(t, "employee_head_count", NormalizePredicate(" Employee-Head Count "))
}

func TestLocatorString(t *testing.T) {
	assert.Equal(t, "sheet P&L cell B7", Locator{Sheet: "P&L", Cell: "B7"}.String())
	assert.Equal(t, "page 12 section 4.1", Locator{Page: 12, Section: "4.1"}.String())
	assert.Equal(t, "unlocated", Locator{}.String())
	assert.True(t, Locator{Quote: "only a quote"}.IsZero(), "a quote alone is not provenance")
}
