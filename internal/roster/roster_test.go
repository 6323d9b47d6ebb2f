package roster

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExclusionSet(t *testing.T) {
	set := NewExclusionSet([]string{"014", " 024 ", "", "030_2"})

	assert.Equal(t, 3, set.Len())
	assert.True(t, set.Contains("014"))
	assert.True(t, set.Contains("024"), "identifiers are trimmed")
	assert.False(t, set.Contains(""))
	assert.False(t, set.Contains("001"))
	assert.Equal(t, []string{"014", "024", "030_2"}, set.IDs())
}

func TestEligible(t *testing.T) {
	set := NewExclusionSet([]string{"002"})

	eligible, skipped := set.Eligible([]string{"001", "002", "003", "001"})
	assert.Equal(t, []string{"001", "003"}, eligible, "order is kept and duplicates dropped")
	assert.Equal(t, []string{"002"}, skipped)
}

func TestCheckEligible(t *testing.T) {
	set := NewExclusionSet([]string{"059"})

	require.NoError(t, set.CheckEligible("001"))
	err := set.CheckEligible("059")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSubjectExcluded)
	assert.Contains(t, err.Error(), "059")
}

func TestNilExclusionSet(t *testing.T) {
	var set *ExclusionSet
	assert.False(t, set.Contains("001"))
	assert.Zero(t, set.Len())
	assert.Nil(t, set.IDs())
	eligible, skipped := set.Eligible([]string{"001"})
	assert.Equal(t, []string{"001"}, eligible)
	assert.Empty(t, skipped)
}
