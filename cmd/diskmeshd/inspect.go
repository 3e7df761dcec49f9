package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"diskmesh/internal/codec"
	"diskmesh/internal/domain"
	"diskmesh/internal/handler"
	"diskmesh/internal/loader"
	"diskmesh/internal/repository/sqlite"
	"diskmesh/internal/spatial"
	"diskmesh/internal/topology"
)

var (
	inspectFormat string
	inspectLayout string

	inspectCmd = &cobra.Command{
		Use:   "inspect",
		Short: "Read persisted state or dry-run a layout",
	}
	inspectNetworksCmd = &cobra.Command{
		Use:   "networks",
		Short: "List registered networks",
		Args:  cobra.NoArgs,
		RunE: withStore(func(ctx context.Context, s *sqlite.Store, _ []string) (interface{}, error) {
			return s.ListNetworks(ctx)
		}),
	}
	inspectNetworkCmd = &cobra.Command{
		Use:   "network [id]",
		Short: "Show one network with its members",
		Args:  cobra.ExactArgs(1),
		RunE: withStore(func(ctx context.Context, s *sqlite.Store, args []string) (interface{}, error) {
			return s.GetNetwork(ctx, args[0])
		}),
	}
	inspectOrphansCmd = &cobra.Command{
		Use:   "orphans",
		Short: "List drive slots preserved from torn-down networks",
		Args:  cobra.NoArgs,
		RunE: withStore(func(ctx context.Context, s *sqlite.Store, _ []string) (interface{}, error) {
			return s.OrphanedSlots(ctx)
		}),
	}
	inspectDiskCmd = &cobra.Command{
		Use:   "disk [id]",
		Short: "Show one disk",
		Args:  cobra.ExactArgs(1),
		RunE: withStore(func(ctx context.Context, s *sqlite.Store, args []string) (interface{}, error) {
			return s.GetDisk(ctx, args[0])
		}),
	}
	inspectDetectCmd = &cobra.Command{
		Use:   "detect [space:x:y:z]",
		Short: "Run detection from a coordinate of a layout file",
		Args:  cobra.ExactArgs(1),
		RunE:  runInspectDetect,
	}
	inspectLayoutCmd = &cobra.Command{
		Use:   "layout",
		Short: "Print a layout file with runs expanded",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			layout, err := loader.LoadFile(inspectLayout)
			if err != nil {
				return err
			}
			return render(cmd, layout)
		},
	}
)

func init() {
	inspectCmd.PersistentFlags().StringVarP(&inspectFormat, "format", "o", "yaml", "output format (json or yaml)")
	inspectDetectCmd.Flags().StringVar(&inspectLayout, "layout", "", "layout file")
	inspectLayoutCmd.Flags().StringVar(&inspectLayout, "layout", "", "layout file")
	_ = inspectDetectCmd.MarkFlagRequired("layout")
	_ = inspectLayoutCmd.MarkFlagRequired("layout")

	inspectCmd.AddCommand(inspectNetworksCmd, inspectNetworkCmd, inspectOrphansCmd,
		inspectDiskCmd, inspectDetectCmd, inspectLayoutCmd)
}

func withStore(fn func(ctx context.Context, s *sqlite.Store, args []string) (interface{}, error)) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		store, err := sqlite.New(cfg.Database.Path, sqlite.WithLogger(newLogger(cfg)))
		if err != nil {
			return err
		}
		defer store.Close()

		v, err := fn(cmd.Context(), store, args)
		if err != nil {
			return err
		}
		return render(cmd, v)
	}
}

func runInspectDetect(cmd *cobra.Command, args []string) error {
	at, err := domain.ParseCoordinate(args[0])
	if err != nil {
		return err
	}
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	layout, err := loader.LoadFile(inspectLayout)
	if err != nil {
		return err
	}
	world := spatial.NewGrid()
	if err := loader.Apply(world, layout); err != nil {
		return err
	}

	detector := topology.NewDetector(world, topology.WithLimits(
		topology.NewLimits(cfg.Topology.MaxCables, cfg.Topology.MaxScanNodes)))
	det := detector.Inspect(cmd.Context(), at)
	return render(cmd, handler.DetectionResponse{
		Outcome:  det.Outcome.String(),
		Snapshot: det.Snapshot,
		Servers:  det.Servers,
		Visited:  det.Visited,
	})
}

func render(cmd *cobra.Command, v interface{}) error {
	c, err := codec.ForFormat(inspectFormat)
	if err != nil {
		return err
	}
	if err := c.Encode(v, cmd.OutOrStdout()); err != nil {
		return fmt.Errorf("render: %w", err)
	}
	return nil
}
