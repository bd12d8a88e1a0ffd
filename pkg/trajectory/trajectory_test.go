package trajectory

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gilchrisn/cell-mobility/pkg/models"
	"github.com/gilchrisn/cell-mobility/pkg/towers"
)

var june = time.Date(2014, time.June, 1, 0, 0, 0, 0, time.UTC)

func at(day, hour, min, sec int) time.Time {
	return time.Date(2014, time.June, day, hour, min, sec, 0, time.UTC)
}

func TestBuildCollapsesRepeats(t *testing.T) {
	stops := []Stop{
		{Tower: 2, At: at(3, 10, 0, 30)},
		{Tower: 1, At: at(3, 10, 0, 0)},
		{Tower: 1, At: at(3, 10, 0, 10)},
		{Tower: 2, At: at(3, 10, 0, 40)},
		{Tower: 3, At: at(3, 10, 0, 50)},
	}
	tr := Build("u1", 7, stops, DefaultRepeatGap)

	assert.Equal(t, []towers.ID{1, 2, 3}, tr.Path())
	assert.Equal(t, 3, tr.Day())
	assert.Equal(t, 7, tr.Nationality)
	// input untouched
	assert.Equal(t, towers.ID(2), stops[0].Tower)
}

func TestCollapseKeepsRepeatAfterGap(t *testing.T) {
	stops := []Stop{
		{Tower: 1, At: at(4, 8, 0, 0)},
		{Tower: 1, At: at(4, 8, 5, 0)},
		{Tower: 1, At: at(4, 8, 5, 30)},
	}
	got := Collapse(stops, time.Minute)
	require.Len(t, got, 2)
	assert.Equal(t, at(4, 8, 5, 0), got[1].At)

	assert.Nil(t, Collapse(nil, time.Minute))
}

func TestDayOfEmptyTrajectory(t *testing.T) {
	assert.Equal(t, 0, Trajectory{}.Day())
}

func TestUnique(t *testing.T) {
	assert.Equal(t, []towers.ID{3, 1, 2}, Unique([]towers.ID{3, 1, 3, 2, 1}))
	assert.Empty(t, Unique(nil))
}

func TestPartitionByDay(t *testing.T) {
	ts := []Trajectory{
		Build("a", 1, []Stop{{Tower: 1, At: at(5, 1, 0, 0)}}, time.Minute),
		Build("b", 1, []Stop{{Tower: 2, At: at(2, 1, 0, 0)}, {Tower: 3, At: at(6, 1, 0, 0)}}, time.Minute),
		Build("c", 1, nil, time.Minute),
	}
	byDay := PartitionByDay(ts)

	assert.Equal(t, []int{2, 5}, byDay.Days())
	assert.Equal(t, [][]towers.ID{{2, 3}}, byDay.Paths(2))
	assert.Equal(t, 2, byDay.Count())
	assert.Empty(t, byDay.Paths(9))
}

func TestReadPaths(t *testing.T) {
	input := strings.Join([]string{
		"u1,10;2;08;00;00,10;2;08;00;20,20;2;08;10;00",
		"u2,30.0;3;09;00;00",
		"u1,40;2;07;00;00",
	}, "\n")
	nats := map[string]Subscriber{"u1": {Nationality: 44}}

	ts, err := ReadPaths(strings.NewReader(input), june, DefaultRepeatGap, nats)
	require.NoError(t, err)
	require.Len(t, ts, 2)

	assert.Equal(t, "u1", ts[0].User)
	assert.Equal(t, 44, ts[0].Nationality)
	assert.Equal(t, []towers.ID{40, 10, 20}, ts[0].Path())
	assert.Equal(t, 2, ts[0].Day())

	assert.Equal(t, 0, ts[1].Nationality)
	assert.Equal(t, []towers.ID{30}, ts[1].Path())

	_, err = ReadPaths(strings.NewReader("u1,10;2;08"), june, DefaultRepeatGap, nil)
	assert.ErrorIs(t, err, models.ErrInvalidParameter)
}

func TestReadPathsKeepsMonthEndDay(t *testing.T) {
	input := "u1,5;31;10;0;0,6;31;11;0;0\nu2,7;30;09;0;0,8;30;10;0;0\n"
	ts, err := ReadPaths(strings.NewReader(input), june, DefaultRepeatGap, nil)
	require.NoError(t, err)
	require.Len(t, ts, 2)

	// June has 30 days; day 31 must not fold into day 1
	assert.Equal(t, 31, ts[0].Day())
	assert.Equal(t, 30, ts[1].Day())

	byDay := PartitionByDay(ts)
	assert.Empty(t, byDay[1])
	require.Len(t, byDay[31], 1)
	assert.Equal(t, []towers.ID{5, 6}, byDay[31][0].Path())

	for _, bad := range []string{"u1,5;32;10;0;0", "u1,5;0;10;0;0"} {
		_, err := ReadPaths(strings.NewReader(bad), june, DefaultRepeatGap, nil)
		assert.ErrorIs(t, err, models.ErrInvalidParameter, bad)
	}
}

func TestReadNationalities(t *testing.T) {
	input := "u1,44,12.5\nu2,7\n"
	got, err := ReadNationalities(strings.NewReader(input))
	require.NoError(t, err)
	assert.Equal(t, Subscriber{Nationality: 44, PhoneCost: 12.5}, got["u1"])
	assert.Equal(t, Subscriber{Nationality: 7}, got["u2"])

	_, err = ReadNationalities(strings.NewReader("u1,abc\n"))
	assert.ErrorIs(t, err, models.ErrInvalidParameter)
}

func TestTowers(t *testing.T) {
	ts := []Trajectory{
		{Stops: []Stop{{Tower: 5}, {Tower: 1}}},
		{Stops: []Stop{{Tower: 1}, {Tower: 3}}},
	}
	assert.Equal(t, []towers.ID{1, 3, 5}, Towers(ts))
}
