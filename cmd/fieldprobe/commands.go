package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/urfave/cli/v2"

	"github.com/fieldcache/fieldcache/internal/adapter"
	"github.com/fieldcache/fieldcache/internal/grid"
	"github.com/fieldcache/fieldcache/internal/gridfactory"
)

var fidelityFlags = []cli.Flag{
	&cli.IntFlag{Name: "ts", Usage: "time step"},
	&cli.IntFlag{Name: "level", Value: -1, Usage: "refinement level, negative counts from the finest"},
	&cli.IntFlag{Name: "lod", Value: -1, Usage: "level of detail, negative counts from the finest"},
}

var varsCmd = &cli.Command{
	Name:  "vars",
	Usage: "list data and coordinate variables",
	Flags: []cli.Flag{
		&cli.BoolFlag{Name: "json", Usage: "print descriptors as JSON"},
	},
	Action: func(c *cli.Context) error {
		return withAdapter(c, func(ctx context.Context, a *adapter.Adapter) error {
			e := a.Engine()
			names := append(e.GetDataVarNames(), e.GetCoordVarNames()...)

			if c.Bool("json") {
				infos := make([]any, 0, len(names))
				for _, n := range names {
					info, err := e.GetVarInfo(n)
					if err != nil {
						return err
					}
					infos = append(infos, info)
				}
				return printJSON(infos)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tROLE\tDIMS\tLEVELS\tLODS\tSTEPS\tCOORDS")
			for _, n := range names {
				info, err := e.GetVarInfo(n)
				if err != nil {
					return err
				}
				role := "data"
				if info.IsCoord() {
					role = "coord/" + "xyzt"[info.Axis:info.Axis+1]
				}
				dims, _, err := e.GetDimLensAtLevel(n, -1)
				if err != nil {
					return err
				}
				fmt.Fprintf(w, "%s\t%s\t%v\t%d\t%d\t%d\t%s\n",
					n, role, dims, e.GetNumRefLevels(n), len(e.GetCRatios(n)),
					e.GetNumTimeSteps(n), strings.Join(info.CoordVars, ","))
			}
			return w.Flush()
		})
	},
}

var extentsCmd = &cli.Command{
	Name:      "extents",
	Usage:     "print the user-space bounding box of a variable",
	ArgsUsage: "[variable]",
	Flags:     fidelityFlags[:2],
	Action: func(c *cli.Context) error {
		if c.NArg() != 1 {
			return cli.Exit("Invalid number of arguments", 1)
		}
		return withAdapter(c, func(ctx context.Context, a *adapter.Adapter) error {
			lo, hi, err := a.Engine().GetVariableExtents(ctx, c.Int("ts"), c.Args().First(), c.Int("level"))
			if err != nil {
				return err
			}
			fmt.Printf("min %v\nmax %v\n", lo, hi)
			return nil
		})
	},
}

var rangeCmd = &cli.Command{
	Name:      "range",
	Usage:     "print the smallest and largest non-missing sample of a variable",
	ArgsUsage: "[variable]",
	Flags:     fidelityFlags,
	Action: func(c *cli.Context) error {
		if c.NArg() != 1 {
			return cli.Exit("Invalid number of arguments", 1)
		}
		return withAdapter(c, func(ctx context.Context, a *adapter.Adapter) error {
			lo, hi, err := a.Engine().GetDataRange(ctx, c.Int("ts"), c.Args().First(), c.Int("level"), c.Int("lod"))
			if err != nil {
				return err
			}
			fmt.Printf("%g %g\n", lo, hi)
			return nil
		})
	},
}

var sampleCmd = &cli.Command{
	Name:      "sample",
	Usage:     "sample a variable at user coordinates or node indices",
	ArgsUsage: "[variable] [x,y[,z] ...]",
	Flags: append([]cli.Flag{
		&cli.BoolFlag{Name: "index", Usage: "treat points as node indices"},
		&cli.StringFlag{Name: "box", Usage: "restrict the grid to minx,miny[,minz]:maxx,maxy[,maxz]"},
		&cli.Float64Flag{Name: "lift", Usage: "present 2D grids at this height"},
	}, fidelityFlags...),
	Action: func(c *cli.Context) error {
		if c.NArg() < 2 {
			return cli.Exit("Invalid number of arguments", 1)
		}
		return withAdapter(c, func(ctx context.Context, a *adapter.Adapter) error {
			key := adapter.GridKey{
				TS:    c.Int("ts"),
				Name:  c.Args().First(),
				Level: c.Int("level"),
				LOD:   c.Int("lod"),
			}
			if s := c.String("box"); s != "" {
				box, err := parseBox(s)
				if err != nil {
					return err
				}
				key.Box, key.HasBox = box, true
			}
			g, err := a.Grid(ctx, key)
			if err != nil {
				return err
			}
			if c.IsSet("lift") {
				g = gridfactory.Lift(g, c.Float64("lift"))
			}
			fmt.Fprintf(os.Stderr, "%s grid %v at level %d lod %d\n", g.Kind(), g.Dims(), g.Level(), g.LOD())

			for _, arg := range c.Args().Slice()[1:] {
				p, err := parsePoint(arg)
				if err != nil {
					return err
				}
				if c.Bool("index") {
					idx := grid.Index{int(p[0]), int(p[1]), int(p[2])}
					fmt.Printf("%s\t%g\n", arg, g.AccessIndex(idx))
					continue
				}
				v := g.GetValue(p)
				if g.HasMissing() && v == g.MissingValue() {
					fmt.Printf("%s\tmissing\n", arg)
					continue
				}
				fmt.Printf("%s\t%g\n", arg, v)
			}
			return nil
		})
	},
}

func parsePoint(s string) (grid.Coord, error) {
	var p grid.Coord
	parts := strings.Split(s, ",")
	if len(parts) < 1 || len(parts) > 3 {
		return p, fmt.Errorf("point %q needs 1 to 3 components", s)
	}
	for i, part := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return p, fmt.Errorf("point %q: %w", s, err)
		}
		p[i] = f
	}
	return p, nil
}

func parseBox(s string) (grid.Box, error) {
	a, b, ok := strings.Cut(s, ":")
	if !ok {
		return grid.Box{}, fmt.Errorf("box %q must be min:max", s)
	}
	lo, err := parsePoint(a)
	if err != nil {
		return grid.Box{}, err
	}
	hi, err := parsePoint(b)
	if err != nil {
		return grid.Box{}, err
	}
	return grid.Box{Min: lo, Max: hi}, nil
}
