package main

import (
	"fmt"
	"os"

	zaplogfmt "github.com/jsternberg/zap-logfmt"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Newportj1/sheriff/attribution"
	"github.com/Newportj1/sheriff/xpersist"
)

type reportOptions struct {
	regionPath string
	sizeBytes  int
	threshold  uint64
}

func newReportCommand() *cobra.Command {
	opts := &reportOptions{}

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Print ranked false-sharing hotspots for an existing region",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReport(opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.regionPath, "region", "", "backing file path written by a prior run; required")
	flags.IntVar(&opts.sizeBytes, "size", 16*xpersist.PageSize, "region size in bytes; must match the run that created it")
	flags.Uint64Var(&opts.threshold, "threshold", 1, "minimum invalidation count for a cache line to be reported")
	_ = cmd.MarkFlagRequired("region")

	return cmd
}

// newLogfmtLogger builds a zap.Logger over zaplogfmt's encoder instead
// of zap's own console or JSON encoders, matching the logfmt/zap
// pairing the rest of the retrieval pack reaches for.
func newLogfmtLogger() *zap.Logger {
	config := zap.NewProductionEncoderConfig()
	config.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zaplogfmt.NewEncoder(config), zapcore.AddSync(os.Stdout), zap.DebugLevel)
	return zap.New(core)
}

// runReport reopens an existing region's backing file read-write (the
// region format has no read-only mapping mode) and reports its
// counters as they stand: the region has already finished running, so
// there is no live event stream left to watch, only the final
// Snapshot to rank through attribution.HotspotReporter.
func runReport(opts *reportOptions) error {
	region, err := xpersist.AttachRegion(opts.regionPath, opts.sizeBytes)
	if err != nil {
		return fmt.Errorf("sheriffdemo: report: attach region: %w", err)
	}
	defer region.Close()

	logger := newLogfmtLogger()
	defer logger.Sync() //nolint:errcheck

	reporter := attribution.NewHotspotReporter(logger, opts.threshold)
	reporter.Finalize(region.Snapshot())

	hotspots := reporter.Hotspots()
	if len(hotspots) == 0 {
		fmt.Println("sheriffdemo: no cache lines at or above threshold")
		return nil
	}
	for _, hs := range hotspots {
		fmt.Printf("line %d: %d invalidations, %d contended words\n",
			hs.LineIndex, hs.Invalidates, len(hs.SharedWords))
	}
	return nil
}
