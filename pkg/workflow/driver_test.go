package workflow

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qualgen/pkg/config"
	"qualgen/pkg/gamp"
	"qualgen/pkg/oqgen"
	"qualgen/pkg/proto"
)

func newBareDriver(t *testing.T) *Driver {
	t.Helper()
	return NewDriver(config.DefaultConfig(), "wf-test", DriverDeps{Store: newMemStore()})
}

func TestSearchTerms(t *testing.T) {
	d := newBareDriver(t)

	t.Run("indicator phrases become terms", func(t *testing.T) {
		d.categorization = &gamp.Categorization{
			Indicators: []gamp.Indicator{
				{Category: gamp.CategoryCustom, Phrase: "custom algorithm", Weight: 1.0},
				{Category: gamp.CategoryCustom, Phrase: "source code", Weight: 0.6},
			},
		}
		assert.Equal(t, []string{"custom algorithm", "source code"}, d.searchTerms())
	})

	t.Run("capped at four terms", func(t *testing.T) {
		indicators := make([]gamp.Indicator, 7)
		for i := range indicators {
			indicators[i] = gamp.Indicator{Category: gamp.CategoryConfigured, Phrase: "phrase", Weight: 0.5}
		}
		d.categorization = &gamp.Categorization{Indicators: indicators}
		assert.Len(t, d.searchTerms(), 4)
	})

	t.Run("generic fallback without indicators", func(t *testing.T) {
		d.categorization = &gamp.Categorization{}
		assert.Equal(t, []string{"software", "computer system"}, d.searchTerms())
	})
}

func TestErrString(t *testing.T) {
	assert.Empty(t, errString(nil))
	assert.Equal(t, "boom", errString(errors.New("boom")))
}

func TestProcessStateWaiting(t *testing.T) {
	d := newBareDriver(t)

	next, err := d.processState(context.Background(), proto.StateWaiting)
	assert.NoError(t, err)
	assert.Equal(t, proto.StateCategorizing, next)
}

func TestValidatingRegenerationBudget(t *testing.T) {
	d := newBareDriver(t)
	ctx := context.Background()

	for _, s := range []proto.State{proto.StateCategorizing, proto.StateGathering, proto.StateGenerating, proto.StateValidating} {
		require.NoError(t, d.sm.TransitionTo(ctx, s, nil))
	}

	// Far below the category 5 window; validation fails every time.
	d.suite = &oqgen.TestSuite{
		SuiteID:      "suite-bad",
		GAMPCategory: gamp.CategoryCustom,
		TestCases:    make([]oqgen.TestCase, 3),
	}

	// The first failure earns one regeneration.
	next, err := d.processState(ctx, proto.StateValidating)
	require.NoError(t, err)
	assert.Equal(t, proto.StateGenerating, next)

	require.NoError(t, d.sm.TransitionTo(ctx, proto.StateGenerating, nil))
	require.NoError(t, d.sm.TransitionTo(ctx, proto.StateValidating, nil))

	// A persistently invalid suite fails the run instead of looping.
	next, err = d.processState(ctx, proto.StateValidating)
	require.Error(t, err)
	assert.Equal(t, proto.StateError, next)
	assert.Contains(t, err.Error(), "after regeneration")
}

func TestProcessStateUnknown(t *testing.T) {
	d := newBareDriver(t)

	next, err := d.processState(context.Background(), proto.State("LIMBO"))
	assert.Error(t, err)
	assert.Equal(t, proto.StateError, next)
}
