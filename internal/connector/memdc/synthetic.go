package memdc

import (
	"fmt"
	"math"
	"time"

	"github.com/fieldcache/fieldcache/pkg/types"
)

// SyntheticConfig sizes the data set built by NewSynthetic.
type SyntheticConfig struct {
	NX, NY, NZ int
	Steps      int
	Levels     int
	BlockSize  []int
	// MeshX and MeshY are the node counts of the quad mesh.
	MeshX, MeshY int
	Layers       int
}

// DefaultSyntheticConfig is small enough for tests and demos.
func DefaultSyntheticConfig() SyntheticConfig {
	return SyntheticConfig{
		NX: 17, NY: 13, NZ: 9,
		Steps:     3,
		Levels:    3,
		BlockSize: []int{8, 8, 4},
		MeshX:     5, MeshY: 4,
		Layers: 3,
	}
}

// Spacing of the synthetic horizontal grids, in metres.
const (
	Spacing     = 1000.0
	VertSpacing = 100.0
	// Missing is the missing value of the "pres" variable.
	Missing = -9999.0
	// RotateDeg is the rotation of the curvilinear "swirl" grid.
	RotateDeg = 30.0
)

// SyntheticValue is the field sampled by every synthetic data variable.
func SyntheticValue(x, y, z float64, ts int) float64 {
	return x/Spacing + 2*y/Spacing + 3*z/VertSpacing + 100*float64(ts)
}

// StretchedZ is the k-th node of the stretched vertical coordinate.
func StretchedZ(k int) float64 {
	return VertSpacing * float64(k*(k+1)) / 2
}

// OceanDepthC is the critical depth hc of the s-coordinate.
const OceanDepthC = 50.0

// OceanS is the k-th s level of nz, from -1 at the bottom to 0 at the top.
func OceanS(k, nz int) float64 {
	return -1 + float64(k)/float64(nz-1)
}

// OceanC is the stretching function Cs_r at level k.
func OceanC(k, nz int) float64 {
	s := OceanS(k, nz)
	return s * s * s
}

// OceanEta is the free surface zeta at column (i, j).
func OceanEta(i, j int) float64 {
	return 0.1*float64(i) - 0.05*float64(j)
}

// OceanDepth is the bathymetry h at column (i, j).
func OceanDepth(i, j int) float64 {
	return 400 + 25*float64(i) + 10*float64(j)
}

// OceanZ is the height of node (i, j, k) of "rho" under the
// ocean_s_coordinate_g2 formula.
func OceanZ(i, j, k, nz int) float64 {
	eta, h := OceanEta(i, j), OceanDepth(i, j)
	S := (OceanDepthC*OceanS(k, nz) + h*OceanC(k, nz)) / (OceanDepthC + h)
	return eta + (eta+h)*S
}

// SyntheticTimestamps returns the formatted timestamps of the data set,
// one hour apart starting at 2024-01-01.
func SyntheticTimestamps(n int) []string {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]string, n)
	for i := range out {
		out[i] = t0.Add(time.Duration(i) * time.Hour).Format("2006-01-02_15:04:05")
	}
	return out
}

// NewSynthetic builds a connector holding one variable of every grid kind:
//
//	temp    regular (xc, yc, zu), time varying
//	pres    stretched (xc, yc, zs), missing value at the origin
//	theta   layered (xc, yc, elev), time varying
//	swirl   curvilinear 2D (xcurv, ycurv)
//	sst     regular 2D on (lon, lat), periodic in x
//	rho     on (xc, yc, s_rho); s_rho is an ocean_s_coordinate_g2
//	        evaluated from Cs_r, zeta, h and the scalar hc
//	eta     unstructured 2D on mesh "ocean"
//	salt    layered unstructured on mesh "ocean3d"
//
// Timestamps are published under "Times".
func NewSynthetic(cfg SyntheticConfig, opts ...Option) (*Connector, error) {
	c, err := New(opts...)
	if err != nil {
		return nil, err
	}
	if err := populate(c, cfg); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

func populate(c *Connector, cfg SyntheticConfig) error {
	nx, ny, nz := cfg.NX, cfg.NY, cfg.NZ
	bs3 := cfg.BlockSize
	bs2, bs1 := bs3[:2], bs3[:1]
	bsz := bs3[2:3]
	lv := cfg.Levels
	ts := cfg.Steps
	lossy := []int{16, 4, 1}

	coord1D := func(name, dim string, axis, n int, uniform bool, units string, f func(int) float64, bs []int) Variable {
		vals := make([]float64, n)
		for i := range vals {
			vals[i] = f(i)
		}
		return Variable{
			Info: types.VarInfo{
				Name: name, Units: units, DimNames: []string{dim},
				Axis: axis, Uniform: uniform, CRatios: []int{1},
			},
			Dims: []int{n}, BlockSize: bs, Levels: lv,
			Steps: [][]float64{vals},
		}
	}
	grid3 := func(f func(i, j, k int) float64) []float64 {
		out := make([]float64, nx*ny*nz)
		for k := 0; k < nz; k++ {
			for j := 0; j < ny; j++ {
				for i := 0; i < nx; i++ {
					out[(k*ny+j)*nx+i] = f(i, j, k)
				}
			}
		}
		return out
	}
	grid2 := func(f func(i, j int) float64) []float64 {
		out := make([]float64, nx*ny)
		for j := 0; j < ny; j++ {
			for i := 0; i < nx; i++ {
				out[j*nx+i] = f(i, j)
			}
		}
		return out
	}
	elev := func(i, k int) float64 { return StretchedZ(k) + 10*float64(i) }
	sin, cos := math.Sincos(RotateDeg * math.Pi / 180)

	vars := []Variable{
		coord1D("xc", "x", 0, nx, true, "m", func(i int) float64 { return float64(i) * Spacing }, bs1),
		coord1D("yc", "y", 1, ny, true, "m", func(j int) float64 { return float64(j) * Spacing }, bs3[1:2]),
		coord1D("zu", "z", 2, nz, true, "m", func(k int) float64 { return float64(k) * VertSpacing }, bsz),
		coord1D("zs", "z", 2, nz, false, "m", StretchedZ, bsz),
		coord1D("lon", "x", 0, nx, true, "degrees_east", func(i int) float64 { return -120 + 0.5*float64(i) }, bs1),
		coord1D("lat", "y", 1, ny, true, "degrees_north", func(j int) float64 { return 30 + 0.5*float64(j) }, bs3[1:2]),
		{
			Info: types.VarInfo{Name: "elev", Units: "m", DimNames: []string{"x", "y", "z"}, Axis: 2, CRatios: []int{1}},
			Dims: []int{nx, ny, nz}, BlockSize: bs3, Levels: lv,
			Steps: [][]float64{grid3(func(i, j, k int) float64 { return elev(i, k) })},
		},
		{
			Info: types.VarInfo{Name: "xcurv", Units: "m", DimNames: []string{"x", "y"}, Axis: 0, CRatios: []int{1}},
			Dims: []int{nx, ny}, BlockSize: bs2, Levels: lv,
			Steps: [][]float64{grid2(func(i, j int) float64 { return (float64(i)*cos - float64(j)*sin) * Spacing })},
		},
		{
			Info: types.VarInfo{Name: "ycurv", Units: "m", DimNames: []string{"x", "y"}, Axis: 1, CRatios: []int{1}},
			Dims: []int{nx, ny}, BlockSize: bs2, Levels: lv,
			Steps: [][]float64{grid2(func(i, j int) float64 { return (float64(i)*sin + float64(j)*cos) * Spacing })},
		},
	}

	steps3 := func(f func(i, j, k, t int) float64, n int) [][]float64 {
		out := make([][]float64, n)
		for t := range out {
			out[t] = grid3(func(i, j, k int) float64 { return f(i, j, k, t) })
		}
		return out
	}
	xyz := func(z func(i, k int) float64) func(i, j, k, t int) float64 {
		return func(i, j, k, t int) float64 {
			return SyntheticValue(float64(i)*Spacing, float64(j)*Spacing, z(i, k), t)
		}
	}

	pres := steps3(xyz(func(_, k int) float64 { return StretchedZ(k) }), 1)
	pres[0][0] = Missing

	vars = append(vars,
		Variable{
			Info: types.VarInfo{
				Name: "temp", Units: "K", DimNames: []string{"x", "y", "z"}, TimeDimName: "time",
				CoordVars: []string{"xc", "yc", "zu"}, CRatios: lossy, Axis: -1,
			},
			Dims: []int{nx, ny, nz}, BlockSize: bs3, Levels: lv,
			Steps: steps3(xyz(func(_, k int) float64 { return float64(k) * VertSpacing }), ts),
		},
		Variable{
			Info: types.VarInfo{
				Name: "pres", Units: "Pa", DimNames: []string{"x", "y", "z"},
				CoordVars: []string{"xc", "yc", "zs"}, CRatios: []int{1}, Axis: -1,
				MissingValue: Missing, HasMissing: true,
			},
			Dims: []int{nx, ny, nz}, BlockSize: bs3, Levels: lv,
			Steps: pres,
		},
		Variable{
			Info: types.VarInfo{
				Name: "theta", Units: "K", DimNames: []string{"x", "y", "z"}, TimeDimName: "time",
				CoordVars: []string{"xc", "yc", "elev"}, CRatios: []int{1}, Axis: -1,
			},
			Dims: []int{nx, ny, nz}, BlockSize: bs3, Levels: lv,
			Steps: steps3(xyz(elev), ts),
		},
		Variable{
			Info: types.VarInfo{
				Name: "swirl", DimNames: []string{"x", "y"},
				CoordVars: []string{"xcurv", "ycurv"}, CRatios: []int{1}, Axis: -1,
			},
			Dims: []int{nx, ny}, BlockSize: bs2, Levels: lv,
			Steps: [][]float64{grid2(func(i, j int) float64 {
				x := (float64(i)*cos - float64(j)*sin) * Spacing
				y := (float64(i)*sin + float64(j)*cos) * Spacing
				return SyntheticValue(x, y, 0, 0)
			})},
		},
		Variable{
			Info: types.VarInfo{
				Name: "sst", Units: "K", DimNames: []string{"x", "y"},
				CoordVars: []string{"lon", "lat"}, CRatios: []int{1}, Axis: -1,
				Periodic: []bool{true, false},
			},
			Dims: []int{nx, ny}, BlockSize: bs2, Levels: lv,
			Steps: [][]float64{grid2(func(i, j int) float64 { return 280 + float64(j) - 0.1*float64(i) })},
		},
	)

	vars = append(vars, oceanVars(cfg, grid2, grid3)...)

	for _, v := range vars {
		if err := c.AddVariable(v); err != nil {
			return fmt.Errorf("synthetic %s: %w", v.Info.Name, err)
		}
	}
	if err := addMesh(c, cfg); err != nil {
		return err
	}
	c.AddTimestamps("Times", SyntheticTimestamps(ts))
	return nil
}

// oceanVars builds a terrain-following ocean variable whose vertical
// coordinate is defined parametrically.
func oceanVars(cfg SyntheticConfig, grid2 func(func(i, j int) float64) []float64, grid3 func(func(i, j, k int) float64) []float64) []Variable {
	nz, lv := cfg.NZ, cfg.Levels
	bs3 := cfg.BlockSize
	column := func(f func(k, nz int) float64) []float64 {
		out := make([]float64, nz)
		for k := range out {
			out[k] = f(k, nz)
		}
		return out
	}
	return []Variable{
		{
			Info: types.VarInfo{
				Name: "s_rho", DimNames: []string{"z"}, Axis: 2, CRatios: []int{1},
				Attributes: map[string]string{
					"standard_name": "ocean_s_coordinate_g2",
					"formula_terms": "s: s_rho C: Cs_r eta: zeta depth: h depth_c: hc",
				},
			},
			Dims: []int{nz}, BlockSize: bs3[2:3], Levels: lv,
			Steps: [][]float64{column(OceanS)},
		},
		{
			Info: types.VarInfo{
				Name: "Cs_r", DimNames: []string{"z"}, CoordVars: []string{"s_rho"}, CRatios: []int{1}, Axis: -1,
			},
			Dims: []int{nz}, BlockSize: bs3[2:3], Levels: lv,
			Steps: [][]float64{column(OceanC)},
		},
		{
			Info: types.VarInfo{
				Name: "zeta", Units: "m", DimNames: []string{"x", "y"}, CoordVars: []string{"xc", "yc"}, CRatios: []int{1}, Axis: -1,
			},
			Dims: []int{cfg.NX, cfg.NY}, BlockSize: bs3[:2], Levels: lv,
			Steps: [][]float64{grid2(OceanEta)},
		},
		{
			Info: types.VarInfo{
				Name: "h", Units: "m", DimNames: []string{"x", "y"}, CoordVars: []string{"xc", "yc"}, CRatios: []int{1}, Axis: -1,
			},
			Dims: []int{cfg.NX, cfg.NY}, BlockSize: bs3[:2], Levels: lv,
			Steps: [][]float64{grid2(OceanDepth)},
		},
		{
			Info:  types.VarInfo{Name: "hc", Units: "m", CRatios: []int{1}, Axis: -1},
			Dims:  []int{}, BlockSize: []int{}, Levels: lv,
			Steps: [][]float64{{OceanDepthC}},
		},
		{
			Info: types.VarInfo{
				Name: "rho", Units: "kg m-3", DimNames: []string{"x", "y", "z"},
				CoordVars: []string{"xc", "yc", "s_rho"}, CRatios: []int{1}, Axis: -1,
			},
			Dims: []int{cfg.NX, cfg.NY, nz}, BlockSize: bs3, Levels: lv,
			Steps: [][]float64{grid3(func(i, j, k int) float64 {
				return SyntheticValue(float64(i)*Spacing, float64(j)*Spacing, OceanZ(i, j, k, nz), 0)
			})},
		},
	}
}

// MeshNode returns the position of node n of the synthetic quad mesh.
func MeshNode(cfg SyntheticConfig, n int) (x, y float64) {
	return float64(n%cfg.MeshX) * Spacing, float64(n/cfg.MeshX) * Spacing
}

// MeshDepth is the vertical coordinate of node n in layer l.
func MeshDepth(n, l int) float64 {
	return -VertSpacing*float64(l) - float64(n)
}

func addMesh(c *Connector, cfg SyntheticConfig) error {
	mx, my, nl := cfg.MeshX, cfg.MeshY, cfg.Layers
	nnodes := mx * my
	nfaces := (mx - 1) * (my - 1)
	node := func(i, j int) int { return j*mx + i }

	faceNodes := make([]int, 0, nfaces*4)
	nodeFaces := make([]int, nnodes*4)
	for i := range nodeFaces {
		nodeFaces[i] = -1
	}
	fill := make([]int, nnodes)
	for j := 0; j < my-1; j++ {
		for i := 0; i < mx-1; i++ {
			f := j*(mx-1) + i
			quad := []int{node(i, j), node(i+1, j), node(i+1, j+1), node(i, j+1)}
			faceNodes = append(faceNodes, quad...)
			for _, n := range quad {
				nodeFaces[n*4+fill[n]] = f
				fill[n]++
			}
		}
	}
	c.AddAux("ocean_face_nodes", faceNodes)
	c.AddAux("ocean_node_faces", nodeFaces)

	c.AddDimension("nodes", nnodes)
	c.AddDimension("faces", nfaces)
	c.AddDimension("layers", nl)
	base := types.Mesh{
		Type:            types.MeshUnstructured2D,
		DimNames:        []string{"nodes"},
		CoordVars:       []string{"mesh_x", "mesh_y"},
		NodeDimName:     "nodes",
		FaceDimName:     "faces",
		FaceNodeVar:     "ocean_face_nodes",
		NodeFaceVar:     "ocean_node_faces",
		MaxNodesPerFace: 4,
		MaxFacesPerNode: 4,
	}
	flat := base
	flat.Name = "ocean"
	c.AddMesh(flat)
	layered := base
	layered.Name = "ocean3d"
	layered.Type = types.MeshUnstructuredLayered
	layered.DimNames = []string{"nodes", "layers"}
	layered.CoordVars = []string{"mesh_x", "mesh_y", "depth"}
	layered.LayersDimName = "layers"
	c.AddMesh(layered)

	xs, ys := make([]float64, nnodes), make([]float64, nnodes)
	for n := range xs {
		xs[n], ys[n] = MeshNode(cfg, n)
	}
	depth := make([]float64, nnodes*nl)
	eta := make([]float64, nnodes)
	salt := make([]float64, nnodes*nl)
	for n := 0; n < nnodes; n++ {
		eta[n] = SyntheticValue(xs[n], ys[n], 0, 0)
		for l := 0; l < nl; l++ {
			depth[l*nnodes+n] = MeshDepth(n, l)
			salt[l*nnodes+n] = SyntheticValue(xs[n], ys[n], depth[l*nnodes+n], 0)
		}
	}

	vars := []Variable{
		{
			Info: types.VarInfo{Name: "mesh_x", Units: "m", DimNames: []string{"nodes"}, Axis: 0, Mesh: "ocean", CRatios: []int{1}},
			Dims: []int{nnodes}, BlockSize: []int{nnodes}, Steps: [][]float64{xs},
		},
		{
			Info: types.VarInfo{Name: "mesh_y", Units: "m", DimNames: []string{"nodes"}, Axis: 1, Mesh: "ocean", CRatios: []int{1}},
			Dims: []int{nnodes}, BlockSize: []int{nnodes}, Steps: [][]float64{ys},
		},
		{
			Info: types.VarInfo{Name: "depth", Units: "m", DimNames: []string{"nodes", "layers"}, Axis: 2, Mesh: "ocean3d", CRatios: []int{1}},
			Dims: []int{nnodes, nl}, BlockSize: []int{nnodes, nl}, Steps: [][]float64{depth},
		},
		{
			Info: types.VarInfo{
				Name: "eta", Units: "m", DimNames: []string{"nodes"}, Mesh: "ocean",
				CoordVars: []string{"mesh_x", "mesh_y"}, CRatios: []int{1}, Axis: -1,
			},
			Dims: []int{nnodes}, BlockSize: []int{nnodes}, Steps: [][]float64{eta},
		},
		{
			Info: types.VarInfo{
				Name: "salt", Units: "psu", DimNames: []string{"nodes", "layers"}, Mesh: "ocean3d",
				CoordVars: []string{"mesh_x", "mesh_y", "depth"}, CRatios: []int{1}, Axis: -1,
			},
			Dims: []int{nnodes, nl}, BlockSize: []int{nnodes, nl}, Steps: [][]float64{salt},
		},
	}
	for _, v := range vars {
		if err := c.AddVariable(v); err != nil {
			return fmt.Errorf("synthetic %s: %w", v.Info.Name, err)
		}
	}
	return nil
}
