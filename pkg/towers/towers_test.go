package towers

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gilchrisn/cell-mobility/pkg/models"
)

func TestParseID(t *testing.T) {
	tests := []struct {
		in      string
		want    ID
		wantErr bool
	}{
		{"42", 42, false},
		{" 7 ", 7, false},
		{"1234.0", 1234, false},
		{"12.5", NoTower, true},
		{"abc", NoTower, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseID(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, models.ErrInvalidParameter))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewIndex(t *testing.T) {
	idx := NewIndex([]ID{30, 10, 20, 10})

	assert.Equal(t, 3, idx.Len())
	assert.Equal(t, []ID{10, 20, 30}, idx.IDs())

	pos, ok := idx.Pos(20)
	require.True(t, ok)
	assert.Equal(t, 1, pos)
	assert.Equal(t, ID(30), idx.At(2))

	_, ok = idx.Pos(99)
	assert.False(t, ok)
	assert.False(t, idx.Contains(99))
}

func TestCanonicalize(t *testing.T) {
	sites := []Site{
		{ID: 5, Lat: 42.5063, Lng: 1.5218},
		{ID: 3, Lat: 42.5063, Lng: 1.5218},
		{ID: 9, Lat: 42.4600, Lng: 1.4900},
	}

	mapping := Canonicalize(sites, LeafLevel)

	assert.Equal(t, ID(5), mapping[5])
	assert.Equal(t, ID(5), mapping[3], "shared coordinates collapse onto the first site")
	assert.Equal(t, ID(9), mapping[9])
	assert.Equal(t, []ID{5, 9}, Characteristic(mapping))
}

func TestCanonicalizeCoarseLevel(t *testing.T) {
	sites := []Site{
		{ID: 1, Lat: 42.50630, Lng: 1.52180},
		{ID: 2, Lat: 42.50631, Lng: 1.52181},
	}

	assert.NotEqual(t, Canonicalize(sites, LeafLevel)[2], ID(1))
	assert.Equal(t, ID(1), Canonicalize(sites, 12)[2])
}

func TestReadSites(t *testing.T) {
	input := "tower,lat,long\n11,42.1,1.5\n12,42.2,1.6\n"

	sites, err := ReadSites(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, sites, 2)
	assert.Equal(t, Site{ID: 12, Lat: 42.2, Lng: 1.6}, sites[1])

	_, err = ReadSites(strings.NewReader("tower,lat,long\nx,1,2\n"))
	assert.Error(t, err)
}

func TestReadList(t *testing.T) {
	idx, err := ReadList(strings.NewReader("30,10,20\n"))
	require.NoError(t, err)
	assert.Equal(t, []ID{10, 20, 30}, idx.IDs())

	_, err = ReadList(strings.NewReader(""))
	assert.Error(t, err)
}
