package ids_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netreassemble/netreassemble/ids"
)

func TestGeneratedIDsRoundTripThroughString(t *testing.T) {
	cases := []struct {
		name string
		id   ids.ID
	}{
		{"shard", ids.GenerateShardID()},
		{"worker", ids.GenerateWorkerID()},
		{"fragmentGroup", ids.GenerateFragmentGroupID()},
		{"stream", ids.GenerateStreamID()},
	}

	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			s := c.id.String()
			parsed, err := ids.Parse(s)
			require.NoError(t, err)
			assert.Equal(t, c.id.GetUUID(), parsed.GetUUID())
			assert.Equal(t, c.id.GetType(), parsed.GetType())
			assert.Equal(t, s, parsed.String())
		})
	}
}

func TestTwoGeneratedIDsOfSameKindDiffer(t *testing.T) {
	a := ids.GenerateStreamID()
	b := ids.GenerateStreamID()
	assert.NotEqual(t, a.String(), b.String())
}

func TestParseRejectsMalformedID(t *testing.T) {
	_, err := ids.Parse("not-a-valid-id")
	assert.Error(t, err)

	_, err = ids.Parse("shd_" + string(rune(0)))
	assert.Error(t, err)
}

func TestParseRejectsUnknownTag(t *testing.T) {
	s := ids.GenerateShardID().String()
	// Swap the tag prefix for one Parse doesn't recognize.
	_, err := ids.Parse("zzz_" + s[len("shd_"):])
	assert.Error(t, err)
}
