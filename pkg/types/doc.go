/*
Package types provides the descriptors and interfaces shared by the fieldcache packages.

# Architecture Overview

	┌─────────────────────────────────────────────┐
	│        Callers (session, rendering)         │
	└─────────────────────────────────────────────┘
	                      │ grid.Grid
	┌─────────────────────────────────────────────┐
	│      internal/engine (variable access)      │
	└─────────────────────────────────────────────┘
	     │           │            │           │
	┌────┴───┐ ┌─────┴────┐ ┌─────┴─────┐ ┌───┴─────┐
	│ cache  │ │  buffer  │ │gridfactory│ │ derived │
	└────────┘ └──────────┘ └───────────┘ └─────────┘
	                      │ DataConnector
	┌─────────────────────────────────────────────┐
	│        storage connector (external)         │
	└─────────────────────────────────────────────┘

# Core Interfaces

DataConnector:
Block-aligned read access to a multiresolution store. All reads address an
inclusive block range at a given timestep, refinement level and level of detail.

MetricsCollector:
Receives region hit/miss, eviction and pool usage events from the engine.

# Data Structures

VarInfo describes both data and coordinate variables. Coordinate variables carry
the user-space Axis they describe and whether their spacing is Uniform; these two
fields, together with DimNames, decide the grid topology of every data variable
that references them.

Mesh describes connectivity for unstructured variables.
*/
package types
