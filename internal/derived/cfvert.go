package derived

import (
	"context"
	"slices"
	"strings"

	"github.com/fieldcache/fieldcache/internal/region"
	"github.com/fieldcache/fieldcache/pkg/errors"
	"github.com/fieldcache/fieldcache/pkg/types"
)

// Attribute names of a CF parametric vertical coordinate.
const (
	AttrStandardName = "standard_name"
	AttrFormulaTerms = "formula_terms"
)

// Parametric vertical coordinates CFVertical can evaluate.
const (
	OceanSCoordinateG1  = "ocean_s_coordinate_g1"
	OceanSCoordinateG2  = "ocean_s_coordinate_g2"
	HybridSigmaPressure = "atmosphere_hybrid_sigma_pressure_coordinate"
)

type termRole int

const (
	roleColumn termRole = iota + 1
	roleSurface
	roleScalar
)

var termRoles = map[string]termRole{
	"s": roleColumn, "C": roleColumn, "a": roleColumn, "ap": roleColumn, "b": roleColumn,
	"eta": roleSurface, "depth": roleSurface, "ps": roleSurface,
	"depth_c": roleScalar, "p0": roleScalar,
}

// IsVerticalTransform reports whether standardName is a parametric
// vertical coordinate CFVertical can evaluate.
func IsVerticalTransform(standardName string) bool {
	switch standardName {
	case OceanSCoordinateG1, OceanSCoordinateG2, HybridSigmaPressure:
		return true
	}
	return false
}

// ParseFormulaTerms splits a formula_terms attribute such as
// "s: s_rho C: Cs_r eta: zeta depth: h depth_c: hc" into a map from term
// to variable name.
func ParseFormulaTerms(formula string) (map[string]string, error) {
	fields := strings.Fields(strings.ReplaceAll(formula, ":", " "))
	if len(fields) == 0 || len(fields)%2 != 0 {
		return nil, errors.Newf(errors.ErrCodeInvalidArgument, "malformed formula_terms %q", formula).
			WithComponent("derived")
	}
	terms := make(map[string]string, len(fields)/2)
	for i := 0; i < len(fields); i += 2 {
		terms[fields[i]] = fields[i+1]
	}
	return terms, nil
}

// requiredTerms lists the terms standardName needs, column term first.
func requiredTerms(standardName string, terms map[string]string) ([]string, error) {
	switch standardName {
	case OceanSCoordinateG1, OceanSCoordinateG2:
		return []string{"s", "C", "eta", "depth", "depth_c"}, nil
	case HybridSigmaPressure:
		if _, ok := terms["ap"]; ok {
			return []string{"b", "ap", "ps"}, nil
		}
		return []string{"b", "a", "p0", "ps"}, nil
	}
	return nil, errors.Newf(errors.ErrCodeUnsupportedGrid, "no vertical transform for %q", standardName).
		WithComponent("derived")
}

// CFVertical evaluates a CF parametric vertical coordinate into a
// dimensional 3D coordinate. Column terms are 1D along the vertical,
// surface terms are 2D horizontal fields and scalar terms hold a single
// value. The result is named "Z_" followed by the variable of the column
// term (s for ocean s-coordinates, b for hybrid sigma pressure).
type CFVertical struct {
	src      types.DataConnector
	standard string
	terms    map[string]string
	required []string
	missing  map[string]float64
	surface  string
	info     types.VarInfo
}

// NewCFVertical builds the coordinate defined by standardName and the
// formula_terms attribute formula over the variables of src.
func NewCFVertical(src types.DataConnector, standardName, formula string) (*CFVertical, error) {
	terms, err := ParseFormulaTerms(formula)
	if err != nil {
		return nil, err
	}
	required, err := requiredTerms(standardName, terms)
	if err != nil {
		return nil, err
	}
	fail := func(format string, args ...interface{}) (*CFVertical, error) {
		return nil, errors.Newf(errors.ErrCodeConstructionFailed, format, args...).
			WithComponent("derived").
			WithContext("standard_name", standardName)
	}

	v := &CFVertical{
		src:      src,
		standard: standardName,
		terms:    terms,
		required: required,
		missing:  make(map[string]float64),
	}
	infos := make(map[string]types.VarInfo, len(required))
	var column, surface types.VarInfo
	for _, t := range required {
		name, ok := terms[t]
		if !ok {
			return fail("formula_terms %q lacks term %q", formula, t)
		}
		info, err := src.GetBaseVarInfo(name)
		if err != nil {
			return nil, err
		}
		infos[t] = info
		if info.HasMissing {
			v.missing[t] = info.MissingValue
		}
		switch termRoles[t] {
		case roleColumn:
			if info.Rank() != 1 {
				return fail("term %s (%s) must be 1D, has rank %d", t, name, info.Rank())
			}
			if column.Name == "" {
				column = info
			} else if !slices.Equal(info.DimNames, column.DimNames) {
				return fail("term %s (%s) is not on dimension %v", t, name, column.DimNames)
			}
		case roleSurface:
			if info.Rank() != 2 {
				return fail("term %s (%s) must be 2D, has rank %d", t, name, info.Rank())
			}
			if surface.Name == "" {
				surface = info
				v.surface = name
			} else if !slices.Equal(info.DimNames, surface.DimNames) {
				return fail("term %s (%s) is not on dimensions %v", t, name, surface.DimNames)
			}
		case roleScalar:
			if info.Rank() != 0 {
				return fail("term %s (%s) must be a scalar, has rank %d", t, name, info.Rank())
			}
		}
	}

	units := "m"
	if standardName == HybridSigmaPressure {
		units = surface.Units
		if units == "" {
			units = "Pa"
		}
	}
	timeDim := surface.TimeDimName
	for _, t := range required {
		if timeDim == "" {
			timeDim = infos[t].TimeDimName
		}
	}
	v.info = types.VarInfo{
		Name:        "Z_" + column.Name,
		Units:       units,
		DimNames:    []string{surface.DimNames[0], surface.DimNames[1], column.DimNames[0]},
		TimeDimName: timeDim,
		CRatios:     slices.Clone(surface.CRatios),
		Axis:        2,
		Derived:     true,
		Attributes: map[string]string{
			AttrStandardName: standardName,
			AttrFormulaTerms: formula,
		},
	}
	return v, nil
}

func (v *CFVertical) Name() string        { return v.info.Name }
func (v *CFVertical) Info() types.VarInfo { return v.info.Clone() }

// StandardName is the parametric coordinate being evaluated.
func (v *CFVertical) StandardName() string { return v.standard }

func (v *CFVertical) Inputs() []string {
	out := make([]string, len(v.required))
	for i, t := range v.required {
		out[i] = v.terms[t]
	}
	return out
}

func (v *CFVertical) NumTimeSteps() int {
	n := 1
	for _, name := range v.Inputs() {
		n = max(n, v.src.GetNumTimeSteps(name))
	}
	return n
}

func (v *CFVertical) NumRefLevels() int {
	n := -1
	for _, name := range v.Inputs() {
		if l := v.src.GetNumRefLevels(name); n < 0 || l < n {
			n = l
		}
	}
	return n
}

func (v *CFVertical) DimLensAtLevel(level int) ([]int, []int, error) {
	dh, bh, err := v.src.GetDimLensAtLevel(v.surface, level)
	if err != nil {
		return nil, nil, err
	}
	dz, bz, err := v.src.GetDimLensAtLevel(v.terms[v.required[0]], level)
	if err != nil {
		return nil, nil, err
	}
	return []int{dh[0], dh[1], dz[0]}, []int{bh[0], bh[1], bz[0]}, nil
}

func (v *CFVertical) Exists(ts, level, lod int) bool {
	for _, name := range v.Inputs() {
		if !v.src.VariableExists(ts, name, level, v.inputLOD(name, lod)) {
			return false
		}
	}
	return true
}

func (v *CFVertical) inputLOD(name string, lod int) int {
	return min(lod, len(v.src.GetCRatios(name))-1)
}

// ReadRegion evaluates the coordinate over voxels [lo, hi]. Samples whose
// inputs are missing, or whose formula would divide by zero, are 0.
func (v *CFVertical) ReadRegion(ctx context.Context, ts, level, lod int, lo, hi []int) ([]float64, error) {
	col := make(map[string][]float64)
	surf := make(map[string][]float64)
	scalar := make(map[string]float64)
	for _, t := range v.required {
		name := v.terms[t]
		l := v.inputLOD(name, lod)
		switch termRoles[t] {
		case roleColumn:
			data, err := region.ReadDense(ctx, v.src, ts, name, level, l, lo[2:3], hi[2:3])
			if err != nil {
				return nil, err
			}
			col[t] = data
		case roleSurface:
			data, err := region.ReadDense(ctx, v.src, ts, name, level, l, lo[:2], hi[:2])
			if err != nil {
				return nil, err
			}
			surf[t] = data
		case roleScalar:
			data, _, err := region.ReadAll(ctx, v.src, ts, name, level, l)
			if err != nil {
				return nil, err
			}
			scalar[t] = data[0]
		}
	}

	missing := func(t string, x float64) bool {
		mv, ok := v.missing[t]
		return ok && x == mv
	}
	nx, ny, nz := hi[0]-lo[0]+1, hi[1]-lo[1]+1, hi[2]-lo[2]+1
	out := make([]float64, nx*ny*nz)
	for k := 0; k < nz; k++ {
		for h := 0; h < nx*ny; h++ {
			var z float64
			switch v.standard {
			case OceanSCoordinateG1, OceanSCoordinateG2:
				s, c := col["s"][k], col["C"][k]
				eta, depth, dc := surf["eta"][h], surf["depth"][h], scalar["depth_c"]
				if missing("C", c) || missing("eta", eta) || missing("depth", depth) {
					break
				}
				if v.standard == OceanSCoordinateG1 {
					if depth == 0 {
						break
					}
					S := dc*s + (depth-dc)*c
					z = S + eta*(1+S/depth)
				} else {
					if dc+depth == 0 {
						break
					}
					S := (dc*s + depth*c) / (dc + depth)
					z = eta + (eta+depth)*S
				}
			case HybridSigmaPressure:
				ps := surf["ps"][h]
				if missing("ps", ps) {
					break
				}
				z = col["b"][k] * ps
				if ap, ok := col["ap"]; ok {
					z += ap[k]
				} else {
					z += col["a"][k] * scalar["p0"]
				}
			}
			out[k*nx*ny+h] = z
		}
	}
	return out, nil
}

var _ Var = (*CFVertical)(nil)
