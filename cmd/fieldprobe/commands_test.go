package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldcache/fieldcache/internal/grid"
)

func TestParsePoint(t *testing.T) {
	p, err := parsePoint("1.5, 2,-3")
	require.NoError(t, err)
	assert.Equal(t, grid.Coord{1.5, 2, -3}, p)

	p, err = parsePoint("7")
	require.NoError(t, err)
	assert.Equal(t, grid.Coord{7, 0, 0}, p)

	_, err = parsePoint("1,2,3,4")
	assert.Error(t, err)
	_, err = parsePoint("1,x")
	assert.Error(t, err)
}

func TestParseBox(t *testing.T) {
	b, err := parseBox("0,0:1000,2000,50")
	require.NoError(t, err)
	assert.Equal(t, grid.Box{Max: grid.Coord{1000, 2000, 50}}, b)

	_, err = parseBox("0,0")
	assert.Error(t, err)
	_, err = parseBox("0,0:a")
	assert.Error(t, err)
}
