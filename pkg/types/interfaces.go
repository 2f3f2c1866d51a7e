package types

import (
	"context"
	"time"
)

// VarHandle is an open read handle returned by a DataConnector.
type VarHandle interface {
	Name() string
}

// DataConnector is the block-aligned read interface to a multiresolution
// store. Level 0 is the coarsest refinement level. Dimension lengths and
// block sizes are ordered fastest-varying first.
type DataConnector interface {
	// Metadata
	GetDataVarNames() []string
	GetCoordVarNames() []string
	GetDimension(name string) (Dimension, error)
	GetBaseVarInfo(name string) (VarInfo, error)
	GetMesh(name string) (Mesh, error)
	GetNumTimeSteps(name string) int

	// Fidelity
	GetNumRefLevels(name string) int
	GetCRatios(name string) []int
	GetDimLensAtLevel(name string, level int) (dims, blockSize []int, err error)
	VariableExists(ts int, name string, level, lod int) bool

	// Reads
	OpenVariableRead(ctx context.Context, ts int, name string, level, lod int) (VarHandle, error)
	ReadRegionBlock(ctx context.Context, h VarHandle, bmin, bmax []int, out []float64) error
	CloseVariable(h VarHandle) error

	// ReadAuxVariable reads a whole integer connectivity array.
	ReadAuxVariable(ctx context.Context, name string) ([]int, error)
}

// TimestampSource supplies formatted timestamps for a time coordinate.
type TimestampSource interface {
	ReadTimestamps(ctx context.Context, name string) ([]string, error)
}

// MetricsCollector defines the metrics collection interface
type MetricsCollector interface {
	RecordOperation(operation string, duration time.Duration, success bool)
	RecordRegionHit(variable string)
	RecordRegionMiss(variable string, bytes int64)
	RecordEvictions(count int)
	RecordError(operation string, err error)
	UpdatePoolUsage(inUse, capacity int64)
}
