package manager

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDimTechListHeaderRow_MatchesColumnCountAndOrder(t *testing.T) {
	header := dimTechListHeaderRow()

	require.Len(t, header, len(dimTechListColumns))

	for i, col := range dimTechListColumns {
		assert.Equal(t, col, header[i])
	}
}

func TestDimTechListSelectList_CommaSeparatesEveryColumn(t *testing.T) {
	list := dimTechListSelectList()

	assert.Contains(t, list, "store_id")
	assert.Contains(t, list, "price_main")
	assert.Equal(t, len(dimTechListColumns)-1, countRune(list, ','))
}

func countRune(s string, r rune) int {
	n := 0
	for _, c := range s {
		if c == r {
			n++
		}
	}

	return n
}
