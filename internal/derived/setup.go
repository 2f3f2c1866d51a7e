package derived

import (
	"slices"

	"go.uber.org/zap"
)

// SynthesizeIndexCoords registers an index ramp for every dimension of a
// native data variable that none of its coordinates spans, and
// points the variable at it. Ramps are named "<dim>_index". Unstructured
// variables are skipped.
func (r *Registry) SynthesizeIndexCoords() error {
	for _, name := range r.native.GetDataVarNames() {
		info, err := r.GetBaseVarInfo(name)
		if err != nil {
			return err
		}
		if info.Mesh != "" {
			continue
		}
		covered := make(map[string]bool)
		for _, c := range info.CoordVars {
			if ci, err := r.GetBaseVarInfo(c); err == nil {
				for _, d := range ci.DimNames {
					covered[d] = true
				}
			}
		}
		coords := slices.Clone(info.CoordVars)
		changed := false
		for axis, dim := range info.DimNames {
			if covered[dim] {
				continue
			}
			cname := dim + "_index"
			if !r.IsDerived(cname) {
				ic, err := NewIndexCoord(r, cname, dim, axis, name)
				if err != nil {
					return err
				}
				if err := r.Add(ic); err != nil {
					return err
				}
			}
			coords = append(coords, cname)
			changed = true
		}
		if changed {
			r.SetCoordVars(name, coords)
			r.logger.Info("index coordinates synthesized", zap.String("variable", name), zap.Strings("coords", coords))
		}
	}
	return nil
}

// ProjectLonLat registers projected x/y coordinates for every pair of
// geographic coordinates used by a native data variable, and substitutes
// them in the variable's coordinate list. A longitude coordinate is one
// with units "degrees_east"; latitude uses "degrees_north". The projected
// pair is named "<lon>_X" and "<lat>_Y".
func (r *Registry) ProjectLonLat(proj Projection) error {
	for _, name := range r.native.GetDataVarNames() {
		info, err := r.GetBaseVarInfo(name)
		if err != nil {
			return err
		}
		lonAt, latAt := -1, -1
		for i, c := range info.CoordVars {
			ci, err := r.GetBaseVarInfo(c)
			if err != nil {
				continue
			}
			switch ci.Units {
			case "degrees_east":
				lonAt = i
			case "degrees_north":
				latAt = i
			}
		}
		if lonAt < 0 || latAt < 0 {
			continue
		}
		lon, lat := info.CoordVars[lonAt], info.CoordVars[latAt]
		xName, yName := lon+"_X", lat+"_Y"
		for comp, pname := range []string{xName, yName} {
			if r.IsDerived(pname) {
				continue
			}
			p, err := NewProjected(r, pname, proj, lon, lat, comp, false)
			if err != nil {
				return err
			}
			if err := r.Add(p); err != nil {
				return err
			}
		}
		coords := slices.Clone(info.CoordVars)
		coords[lonAt], coords[latAt] = xName, yName
		r.SetCoordVars(name, coords)
		r.logger.Info("coordinates projected",
			zap.String("variable", name),
			zap.String("projection", proj.String()),
			zap.Strings("coords", coords))
	}
	return nil
}

// TransformVertical replaces the vertical coordinate of every native 3D
// structured data variable whose z coordinate is a CF parametric
// coordinate (standard_name and formula_terms attributes) with the
// dimensional coordinate evaluated by CFVertical. Definitions that name
// unknown transforms or unusable variables are skipped.
func (r *Registry) TransformVertical() error {
	for _, name := range r.native.GetDataVarNames() {
		info, err := r.GetBaseVarInfo(name)
		if err != nil {
			return err
		}
		if info.Mesh != "" || info.Rank() != 3 {
			continue
		}
		for i, c := range info.CoordVars {
			ci, err := r.GetBaseVarInfo(c)
			if err != nil || ci.Axis != 2 {
				continue
			}
			std, formula := ci.Attributes[AttrStandardName], ci.Attributes[AttrFormulaTerms]
			if formula == "" || !IsVerticalTransform(std) {
				break
			}
			v, err := NewCFVertical(r, std, formula)
			if err != nil {
				r.logger.Warn("vertical transform skipped",
					zap.String("variable", name),
					zap.String("coord", c),
					zap.Error(err))
				break
			}
			if !r.IsDerived(v.Name()) {
				if err := r.Add(v); err != nil {
					return err
				}
			}
			coords := slices.Clone(info.CoordVars)
			coords[i] = v.Name()
			r.SetCoordVars(name, coords)
			r.logger.Info("vertical coordinate transformed",
				zap.String("variable", name),
				zap.String("standard_name", std),
				zap.String("coord", v.Name()))
			break
		}
	}
	return nil
}
