// Package gridfactory chooses a grid variant for a variable and assembles
// it from decoded blocks.
package gridfactory

import (
	"sort"

	"github.com/fieldcache/fieldcache/internal/grid"
	"github.com/fieldcache/fieldcache/pkg/errors"
	"github.com/fieldcache/fieldcache/pkg/types"
)

// SpatialCoords returns the spatial coordinate descriptors among coords,
// ordered by axis. Time coordinates are dropped.
func SpatialCoords(coords []types.VarInfo) []types.VarInfo {
	out := make([]types.VarInfo, 0, len(coords))
	for _, c := range coords {
		if c.Axis >= 0 && c.Axis < 3 {
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Axis < out[j].Axis })
	return out
}

// ClassifyTopology derives the grid variant of data from the structure of
// its coordinate variables. mesh is consulted only for variables that
// name one. The result depends on nothing but the descriptors.
func ClassifyTopology(data types.VarInfo, coords []types.VarInfo, mesh *types.Mesh) (grid.Kind, error) {
	unsupported := func(reason string) (grid.Kind, error) {
		return 0, errors.Newf(errors.ErrCodeUnsupportedGrid, "%s: %s", data.Name, reason).
			WithComponent("gridfactory").
			WithOperation("classify")
	}

	if data.Mesh != "" {
		if mesh == nil {
			return unsupported("mesh " + data.Mesh + " not described")
		}
		switch mesh.Type {
		case types.MeshUnstructured2D:
			return grid.KindUnstructured2D, nil
		case types.MeshUnstructuredLayered:
			return grid.KindUnstructuredLayered, nil
		}
	}

	cs := SpatialCoords(coords)
	if len(cs) == 0 {
		return unsupported("no spatial coordinate variables")
	}
	if len(cs) != data.Rank() {
		return unsupported("coordinate count does not match rank")
	}
	for i, c := range cs {
		if c.Axis != i {
			return unsupported("coordinate axes not contiguous")
		}
	}

	allLines, allUniform := true, true
	for _, c := range cs {
		if c.Rank() != 1 {
			allLines = false
		}
		if !c.Uniform {
			allUniform = false
		}
	}
	if allLines {
		if allUniform {
			return grid.KindRegular, nil
		}
		return grid.KindStretched, nil
	}

	if len(cs) < 2 {
		return unsupported("unrecognised coordinate structure")
	}
	x, y := cs[0], cs[1]
	switch {
	case len(cs) == 3 && x.Rank() == 1 && y.Rank() == 1 && x.Uniform && y.Uniform && cs[2].Rank() == 3:
		return grid.KindLayered, nil
	case x.Rank() == 2 && y.Rank() == 2:
		if len(cs) == 2 || cs[2].Rank() == 1 || cs[2].Rank() == 3 {
			return grid.KindCurvilinear, nil
		}
	}
	return unsupported("unrecognised coordinate structure")
}
