package policy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dargo-project/dargo/internal/catalogue"
)

func fileAt(mtime time.Time) *catalogue.File {
	return &catalogue.File{
		NameField:   "a",
		StatusField: catalogue.StatusSaved,
		AttrsField:  catalogue.Attrs{Mtime: mtime},
	}
}

// TestOverwritingPolicyChain reproduces spec.md §8 scenario 6: a
// testing() node picks overwrite/preserve for data based on which side is
// more recent, while EA is always preserved.
func TestOverwritingPolicyChain(t *testing.T) {
	chainPolicy := Policy{Root: Testing{
		Criterion: DataMoreRecent(0),
		IfTrue:    Constant{Data: DataOverwrite, EA: EAPreserve},
		IfFalse:   Constant{Data: DataPreserve, EA: EAPreserve},
	}}

	t0 := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	inPlace := fileAt(t0)
	toBeAdded := fileAt(t0.Add(10 * time.Second))

	data, ea, err := Evaluate(chainPolicy, inPlace, toBeAdded, nil)
	require.NoError(t, err)
	assert.Equal(t, DataOverwrite, data)
	assert.Equal(t, EAPreserve, ea)

	// Swap the mtimes: now in-place is newer, so the criterion is false.
	data, ea, err = Evaluate(chainPolicy, toBeAdded, inPlace, nil)
	require.NoError(t, err)
	assert.Equal(t, DataPreserve, data)
	assert.Equal(t, EAPreserve, ea)
}

func TestDefaultPolicyIsConstantPreserve(t *testing.T) {
	inPlace := fileAt(time.Now())
	toBeAdded := fileAt(time.Now())

	data, ea, err := Evaluate(Default, inPlace, toBeAdded, nil)
	require.NoError(t, err)
	assert.Equal(t, DataPreserve, data)
	assert.Equal(t, EAPreserve, ea)
}

func TestChainStopsOnceBothResolved(t *testing.T) {
	chain := Policy{Root: Chain{Actions: []Action{
		Constant{Data: DataOverwrite, EA: EAUndefined},
		Constant{Data: DataPreserve, EA: EAOverwrite},
	}}}

	inPlace := fileAt(time.Now())
	toBeAdded := fileAt(time.Now())

	data, ea, err := Evaluate(chain, inPlace, toBeAdded, nil)
	require.NoError(t, err)
	// The first action resolved Data; the second one must not override it.
	assert.Equal(t, DataOverwrite, data)
	assert.Equal(t, EAOverwrite, ea)
}

func TestIncompletePolicyReportsRangeError(t *testing.T) {
	incomplete := Policy{Root: Constant{Data: DataUndefined, EA: EAUndefined}}

	inPlace := fileAt(time.Now())
	toBeAdded := fileAt(time.Now())

	_, _, err := Evaluate(incomplete, inPlace, toBeAdded, nil)
	assert.Error(t, err)
}

func TestAskResolvesViaCallback(t *testing.T) {
	askPolicy := Policy{Root: Constant{Data: DataAsk, EA: EAAsk}}
	ask := func(p Pair) Decision {
		return Decision{Data: DataOverwrite, EA: EAClear}
	}

	inPlace := fileAt(time.Now())
	toBeAdded := fileAt(time.Now())

	data, ea, err := Evaluate(askPolicy, inPlace, toBeAdded, ask)
	require.NoError(t, err)
	assert.Equal(t, DataOverwrite, data)
	assert.Equal(t, EAClear, ea)
}
