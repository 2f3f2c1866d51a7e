package types

import (
	"maps"
	"strings"
)

// MeshType identifies how a variable's nodes are connected.
type MeshType int

const (
	// MeshStructured is a logically rectangular node lattice.
	MeshStructured MeshType = iota
	// MeshUnstructured2D is a planar face/node mesh.
	MeshUnstructured2D
	// MeshUnstructuredLayered is a planar mesh extruded along a layer dimension.
	MeshUnstructuredLayered
)

func (m MeshType) String() string {
	switch m {
	case MeshStructured:
		return "structured"
	case MeshUnstructured2D:
		return "unstructured_2d"
	case MeshUnstructuredLayered:
		return "unstructured_layered"
	default:
		return "unknown"
	}
}

// Dimension is a named axis length shared between variables.
type Dimension struct {
	Name   string `json:"name"`
	Length int    `json:"length"`
}

// VarInfo describes a data or coordinate variable. Dimension names are
// ordered fastest-varying first (x, y, z). Descriptors are immutable once
// published by a connector or registry.
type VarInfo struct {
	Name        string   `json:"name"`
	Units       string   `json:"units,omitempty"`
	DimNames    []string `json:"dim_names"`
	TimeDimName string   `json:"time_dim_name,omitempty"`
	CoordVars   []string `json:"coord_vars,omitempty"`
	CRatios     []int    `json:"cratios"`
	Periodic    []bool   `json:"periodic,omitempty"`

	MissingValue float64 `json:"missing_value"`
	HasMissing   bool    `json:"has_missing"`

	// Mesh names the unstructured mesh the variable lives on. Empty for
	// structured variables.
	Mesh string `json:"mesh,omitempty"`

	// Axis is the user-space axis a coordinate variable describes
	// (0=x, 1=y, 2=z, 3=t). Data variables carry -1.
	Axis int `json:"axis"`
	// Uniform marks a coordinate variable with constant spacing.
	Uniform bool `json:"uniform,omitempty"`

	Derived bool `json:"derived,omitempty"`

	// Attributes carries string metadata such as CF standard_name and
	// formula_terms.
	Attributes map[string]string `json:"attributes,omitempty"`
}

// Rank is the number of spatial dimensions.
func (v VarInfo) Rank() int {
	return len(v.DimNames)
}

// IsTimeVarying reports whether the variable has a time dimension.
func (v VarInfo) IsTimeVarying() bool {
	return v.TimeDimName != ""
}

// IsCoord reports whether the descriptor is a coordinate variable.
func (v VarInfo) IsCoord() bool {
	return v.Axis >= 0
}

// IsPeriodic reports periodicity along axis, false when unspecified.
func (v VarInfo) IsPeriodic(axis int) bool {
	return axis >= 0 && axis < len(v.Periodic) && v.Periodic[axis]
}

// Clone returns a deep copy.
func (v VarInfo) Clone() VarInfo {
	c := v
	c.DimNames = append([]string(nil), v.DimNames...)
	c.CoordVars = append([]string(nil), v.CoordVars...)
	c.CRatios = append([]int(nil), v.CRatios...)
	c.Periodic = append([]bool(nil), v.Periodic...)
	c.Attributes = maps.Clone(v.Attributes)
	return c
}

func (v VarInfo) String() string {
	return v.Name + "(" + strings.Join(v.DimNames, ",") + ")"
}

// Mesh describes the connectivity of an unstructured variable. Structured
// meshes only need Name, Type and DimNames.
type Mesh struct {
	Name      string   `json:"name"`
	Type      MeshType `json:"type"`
	DimNames  []string `json:"dim_names"`
	CoordVars []string `json:"coord_vars"`

	NodeDimName   string `json:"node_dim_name,omitempty"`
	FaceDimName   string `json:"face_dim_name,omitempty"`
	LayersDimName string `json:"layers_dim_name,omitempty"`

	// Connectivity variables, read whole with ReadAuxVariable.
	FaceNodeVar string `json:"face_node_var,omitempty"`
	NodeFaceVar string `json:"node_face_var,omitempty"`
	FaceFaceVar string `json:"face_face_var,omitempty"`

	MaxNodesPerFace int `json:"max_nodes_per_face,omitempty"`
	MaxFacesPerNode int `json:"max_faces_per_node,omitempty"`
}

// CacheStats represents cache performance statistics
type CacheStats struct {
	Hits        uint64  `json:"hits"`
	Misses      uint64  `json:"misses"`
	Evictions   uint64  `json:"evictions"`
	Size        int64   `json:"size"`
	Capacity    int64   `json:"capacity"`
	Locked      int     `json:"locked"`
	HitRate     float64 `json:"hit_rate"`
	Utilization float64 `json:"utilization"`
}
