// Command profiledump renders a src/stats Counter_t/Cycles_t snapshot as a
// pprof profile.proto file, for loading into `go tool pprof` (§5 "Resource
// accounting" calls out stats as the per-subsystem counters; this is the
// offline viewer for them).
//
// Grounded on src/stats.ToProfile, which builds the github.com/google/pprof
// profile.Profile in memory; this command is the thin CLI wrapper around it,
// the same shape as the teacher's other single-purpose cmd/ tools.
package main

import (
	"flag"
	"fmt"
	"os"

	"tablekernel/src/stats"
	"tablekernel/src/syscall"
)

func main() {
	out := flag.String("o", "profile.pb.gz", "output file")
	flag.Parse()

	prof := stats.ToProfile(&syscall.Global)

	f, err := os.Create(*out)
	if err != nil {
		fmt.Fprintf(os.Stderr, "create: %v\n", err)
		os.Exit(1)
	}
	defer f.Close()

	if err := prof.Write(f); err != nil {
		fmt.Fprintf(os.Stderr, "write: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("wrote %s\n", *out)
}
