// Package stats provides the kernel's lightweight instrumentation:
// atomic counters and cycle accumulators that can be toggled at runtime
// and exported as a pprof profile for offline analysis.
package stats

import (
	"reflect"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/pprof/profile"
)

// Enabled gates all counter/cycle bookkeeping. Counting is not free — every
// call site pays an atomic add — so production builds may flip this off;
// tests and diagnostics flip it on.
var Enabled = true

// Timing gates cycle-accumulation bookkeeping independently of Enabled,
// since wall-clock timing is noisier and more expensive to sample.
var Timing = false

// Counter_t is a monotonic event counter.
type Counter_t int64

// Cycles_t accumulates elapsed nanoseconds between Mark and Add.
type Cycles_t int64

// Inc increments the counter by one.
func (c *Counter_t) Inc() {
	if Enabled {
		atomic.AddInt64((*int64)(c), 1)
	}
}

// Add increments the counter by n.
func (c *Counter_t) Add(n int64) {
	if Enabled {
		atomic.AddInt64((*int64)(c), n)
	}
}

// Get returns the current value.
func (c *Counter_t) Get() int64 {
	return atomic.LoadInt64((*int64)(c))
}

// Mark returns a timestamp suitable for a later Cycles_t.Add call.
func Mark() time.Time {
	return time.Now()
}

// Add accumulates the elapsed time since since into the cycle counter.
func (c *Cycles_t) Add(since time.Time) {
	if Timing {
		atomic.AddInt64((*int64)(c), int64(time.Since(since)))
	}
}

// Get returns the accumulated nanoseconds.
func (c *Cycles_t) Get() int64 {
	return atomic.LoadInt64((*int64)(c))
}

// ToString renders every Counter_t/Cycles_t field of st (which must be a
// struct or pointer to one) as a human-readable report.
func ToString(st interface{}) string {
	v := reflect.ValueOf(st)
	if v.Kind() == reflect.Ptr {
		v = v.Elem()
	}
	var b strings.Builder
	for i := 0; i < v.NumField(); i++ {
		name := v.Type().Field(i).Name
		switch c := v.Field(i).Interface().(type) {
		case Counter_t:
			b.WriteString("\n\t#" + name + ": " + strconv.FormatInt(int64(c), 10))
		case Cycles_t:
			b.WriteString("\n\t#" + name + "ns: " + strconv.FormatInt(int64(c), 10))
		}
	}
	b.WriteString("\n")
	return b.String()
}

// ToProfile renders every Counter_t/Cycles_t field of st as a pprof
// profile.Profile sample, one Sample per field, so a field's history over
// repeated snapshots can be diffed with standard pprof tooling (cmd/profiledump
// collects these over time and writes them out with profile.Write).
func ToProfile(st interface{}) *profile.Profile {
	v := reflect.ValueOf(st)
	if v.Kind() == reflect.Ptr {
		v = v.Elem()
	}

	p := &profile.Profile{
		SampleType: []*profile.ValueType{
			{Type: "count", Unit: "count"},
		},
		TimeNanos: time.Now().UnixNano(),
	}

	fn := &profile.Function{ID: 1, Name: "tablekernel/stats"}
	loc := &profile.Location{ID: 1, Line: []profile.Line{{Function: fn}}}
	p.Function = []*profile.Function{fn}
	p.Location = []*profile.Location{loc}

	for i := 0; i < v.NumField(); i++ {
		name := v.Type().Field(i).Name
		var val int64
		switch c := v.Field(i).Interface().(type) {
		case Counter_t:
			val = int64(c)
		case Cycles_t:
			val = int64(c)
		default:
			continue
		}
		p.Sample = append(p.Sample, &profile.Sample{
			Location: []*profile.Location{loc},
			Value:    []int64{val},
			Label:    map[string][]string{"field": {name}},
		})
	}
	return p
}
