// Command suspendcheck enforces the invariant §5 calls out: no
// lock.IRQSpin critical section may reach a function that can suspend the
// calling goroutine (ticket.Ticket.Wait/WaitUntil, sched.Sched.Sleep/Park,
// table.Table.TakeJob). Since IRQSpin.With/WithErr take the critical
// section as a closure, a lexical check cannot see a blocking call buried
// two helpers deep; this checker builds the whole-program call graph over
// the SSA form instead and walks everything reachable from each
// critical-section closure.
//
// The call graph comes from golang.org/x/tools/go/pointer's whole-program
// alias analysis, which is what correctly resolves calls made through the
// lock.With closure parameter and the ticket.Waker interface; when the
// loaded patterns contain no main package for pointer.Analyze to anchor
// on, class-hierarchy analysis stands in (sound, merely less precise).
package main

import (
	"fmt"
	"go/token"
	"os"
	"strings"

	"golang.org/x/tools/go/callgraph"
	"golang.org/x/tools/go/callgraph/cha"
	"golang.org/x/tools/go/packages"
	"golang.org/x/tools/go/pointer"
	"golang.org/x/tools/go/ssa"
	"golang.org/x/tools/go/ssa/ssautil"
)

// suspendPoints names the functions allowed to block the calling
// goroutine. Held in one place so adding a new blocking primitive (e.g. a
// future condition variable) only requires extending this list.
var suspendPoints = []struct{ pkg, name string }{
	{"tablekernel/src/ticket", "Wait"},
	{"tablekernel/src/ticket", "WaitUntil"},
	{"tablekernel/src/sched", "Sleep"},
	{"tablekernel/src/sched", "Park"},
	{"tablekernel/src/table", "TakeJob"},
}

func main() {
	patterns := os.Args[1:]
	if len(patterns) == 0 {
		patterns = []string{"./..."}
	}

	cfg := &packages.Config{Mode: packages.LoadAllSyntax}
	initial, err := packages.Load(cfg, patterns...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load: %v\n", err)
		os.Exit(1)
	}
	if packages.PrintErrors(initial) > 0 {
		os.Exit(1)
	}

	// InstantiateGenerics monomorphizes IRQSpin[T] et al. so both the
	// pointer analysis and the name matching below see concrete functions.
	prog, pkgs := ssautil.AllPackages(initial, ssa.InstantiateGenerics)
	prog.Build()

	cg := buildCallGraph(prog, ssautil.MainPackages(pkgs))

	bad := 0
	for _, site := range criticalSections(prog) {
		if sp := findSuspension(cg, site.enter); sp != nil {
			pos := prog.Fset.Position(site.pos)
			fmt.Printf("%s: suspension point %s reachable inside an IRQSpin critical section\n", pos, sp)
			bad++
		}
	}
	if bad > 0 {
		os.Exit(1)
	}
}

// buildCallGraph prefers whole-program pointer analysis and falls back to
// class-hierarchy analysis when no main package is loaded (pointer.Analyze
// needs at least one to anchor reachability on).
func buildCallGraph(prog *ssa.Program, mains []*ssa.Package) *callgraph.Graph {
	if len(mains) > 0 {
		cfg := &pointer.Config{Mains: mains, BuildCallGraph: true}
		if result, err := pointer.Analyze(cfg); err == nil {
			return result.CallGraph
		}
	}
	return cha.CallGraph(prog)
}

// criticalSite is one With/WithErr call and the closure it runs with the
// spinlock held.
type criticalSite struct {
	enter *ssa.Function
	pos   token.Pos
}

// criticalSections finds every IRQSpin.With / lock.WithErr call site in the
// program and extracts the critical-section function passed to it. A named
// function passed directly (not just a func literal) is handled the same
// way.
func criticalSections(prog *ssa.Program) []criticalSite {
	var out []criticalSite
	for fn := range ssautil.AllFunctions(prog) {
		for _, b := range fn.Blocks {
			for _, instr := range b.Instrs {
				call, ok := instr.(ssa.CallInstruction)
				if !ok {
					continue
				}
				common := call.Common()
				if !isCriticalEntry(common.StaticCallee()) || len(common.Args) == 0 {
					continue
				}
				switch v := common.Args[len(common.Args)-1].(type) {
				case *ssa.MakeClosure:
					if f, ok := v.Fn.(*ssa.Function); ok {
						out = append(out, criticalSite{enter: f, pos: call.Pos()})
					}
				case *ssa.Function:
					out = append(out, criticalSite{enter: v, pos: call.Pos()})
				}
			}
		}
	}
	return out
}

func isCriticalEntry(fn *ssa.Function) bool {
	if fn == nil {
		return false
	}
	switch fn.Name() {
	case "With":
		return strings.Contains(fn.String(), "lock.IRQSpin")
	case "WithErr":
		return strings.Contains(fn.String(), "tablekernel/src/lock.WithErr")
	}
	return false
}

func isSuspendPoint(fn *ssa.Function) bool {
	if fn == nil {
		return false
	}
	s := fn.String()
	for _, sp := range suspendPoints {
		if fn.Name() == sp.name && strings.Contains(s, sp.pkg) {
			return true
		}
	}
	return false
}

// findSuspension walks everything reachable from root in the call graph
// and returns the first suspension point hit, or nil.
func findSuspension(cg *callgraph.Graph, root *ssa.Function) *ssa.Function {
	start := cg.Nodes[root]
	if start == nil {
		return nil
	}
	seen := map[*callgraph.Node]bool{start: true}
	work := []*callgraph.Node{start}
	for len(work) > 0 {
		n := work[len(work)-1]
		work = work[:len(work)-1]
		if n.Func != root && isSuspendPoint(n.Func) {
			return n.Func
		}
		for _, e := range n.Out {
			if !seen[e.Callee] {
				seen[e.Callee] = true
				work = append(work, e.Callee)
			}
		}
	}
	return nil
}
