package main

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"unsafe"

	"github.com/spf13/cobra"

	"github.com/Newportj1/sheriff/xpersist"
)

// sheriffWorkerEnv carries a worker's 1-based id when sheriffdemo
// re-execs itself to simulate a separate process sharing the region.
// Real host processes would arrive here via fork/exec from the
// interposition layer instead of a recursive self-invocation.
const sheriffWorkerEnv = "SHERIFF_WORKER"

type runOptions struct {
	regionPath string
	lockPath   string
	sizeBytes  int
	workers    int
	iterations int
	stride     int
}

func newRunCommand() *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Drive a multi-process workload over a shared xpersist region",
		RunE: func(cmd *cobra.Command, args []string) error {
			if tid := os.Getenv(sheriffWorkerEnv); tid != "" {
				return runAsWorker(opts, tid)
			}
			return runAsParent(opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.regionPath, "region", "", "backing file path shared by every worker; required")
	flags.StringVar(&opts.lockPath, "lock", "", "exclusive lock file guarding setup/teardown; defaults to <region>.lock")
	flags.IntVar(&opts.sizeBytes, "size", 16*xpersist.PageSize, "region size in bytes")
	flags.IntVar(&opts.workers, "workers", 4, "number of worker processes")
	flags.IntVar(&opts.iterations, "iterations", 200, "transactions per worker")
	flags.IntVar(&opts.stride, "stride", 8, "byte distance between consecutive workers' write offsets; smaller values provoke more false sharing")
	_ = cmd.MarkFlagRequired("region")

	return cmd
}

// runAsParent creates (or reuses) the shared region, spawns opts.workers
// copies of this same binary with SHERIFF_WORKER set, waits for all of
// them, and prints a summary. This is the entry point reached when a
// user types `sheriffdemo run`.
func runAsParent(opts *runOptions) error {
	lockPath := opts.lockPath
	if lockPath == "" {
		lockPath = opts.regionPath + ".lock"
	}
	lock, err := acquireRegionLock(lockPath)
	if err != nil {
		return err
	}
	defer lock.Release()

	region, err := xpersist.AttachRegion(opts.regionPath, opts.sizeBytes)
	if err != nil {
		return fmt.Errorf("sheriffdemo: attach region: %w", err)
	}
	defer region.Close()

	self, err := os.Executable()
	if err != nil {
		return fmt.Errorf("sheriffdemo: resolve executable: %w", err)
	}

	procs := make([]*os.Process, 0, opts.workers)
	for w := 1; w <= opts.workers; w++ {
		cmd := exec.Command(self, os.Args[1:]...)
		cmd.Env = append(os.Environ(), fmt.Sprintf("%s=%d", sheriffWorkerEnv, w))
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		if err := cmd.Start(); err != nil {
			return fmt.Errorf("sheriffdemo: start worker %d: %w", w, err)
		}
		procs = append(procs, cmd.Process)
	}

	for i, p := range procs {
		if _, err := p.Wait(); err != nil {
			fmt.Fprintf(os.Stderr, "sheriffdemo: worker %d: %v\n", i+1, err)
		}
	}

	region.Finalize()
	snap := region.Snapshot()
	fmt.Printf("sheriffdemo: %d workers, %d pages, %d word-change entries recorded\n",
		opts.workers, snap.NumPages, len(snap.WordOwners))
	return nil
}

// runAsWorker attaches to the already-created region at opts.regionPath
// and drives one simulated worker's transaction loop, standing in for
// the out-of-scope SIGSEGV-triggered HandleWrite call: this worker
// calls HandleWrite directly at the address it has chosen to touch.
func runAsWorker(opts *runOptions, tidStr string) error {
	tid64, err := strconv.ParseUint(tidStr, 10, 32)
	if err != nil {
		return fmt.Errorf("sheriffdemo: invalid %s=%q: %w", sheriffWorkerEnv, tidStr, err)
	}
	tid := uint32(tid64)

	region, err := xpersist.AttachRegion(opts.regionPath, opts.sizeBytes)
	if err != nil {
		return fmt.Errorf("sheriffdemo: worker %d: attach region: %w", tid, err)
	}
	defer region.Close()

	base := region.Base()
	offset := uintptr(int(tid-1) * opts.stride % opts.sizeBytes)

	for i := 0; i < opts.iterations; i++ {
		addr := base + offset

		if err := region.HandleWrite(addr, tid); err != nil {
			return fmt.Errorf("sheriffdemo: worker %d: HandleWrite: %w", tid, err)
		}
		*(*uint64)(unsafe.Pointer(addr)) = uint64(tid)<<32 | uint64(i+1)
		if err := region.PeriodicCheck(tid); err != nil {
			return fmt.Errorf("sheriffdemo: worker %d: PeriodicCheck: %w", tid, err)
		}
		region.Commit(true, tid)
		if err := region.Begin(); err != nil {
			return fmt.Errorf("sheriffdemo: worker %d: Begin: %w", tid, err)
		}
	}
	return nil
}
