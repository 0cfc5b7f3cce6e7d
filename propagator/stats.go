package propagator

import (
	"fmt"
	"io"

	"github.com/difflog/difflog/utils"
)

// ThreadStats accumulate per worker thread; each thread touches only its
// own pair, so no cross-thread synchronization is needed beyond the
// stopwatches' own.
type ThreadStats struct {
	Propagate utils.Stopwatch
	Undo      utils.Stopwatch
}

type Stats struct {
	Total   utils.Stopwatch
	Init    utils.Stopwatch
	Threads []ThreadStats
}

// Report writes the timing block in the fixed output format.
func (s *Stats) Report(w io.Writer) {
	fmt.Fprintf(w, "total: %vs\n", s.Total.Elapsed().Seconds())
	fmt.Fprintf(w, "  init: %vs\n", s.Init.Elapsed().Seconds())
	for t := range s.Threads {
		st := &s.Threads[t]
		fmt.Fprintf(w, "  total[%d]: %vs\n", t, (st.Propagate.Elapsed() + st.Undo.Elapsed()).Seconds())
		fmt.Fprintf(w, "    propagate: %vs\n", st.Propagate.Elapsed().Seconds())
		fmt.Fprintf(w, "    undo     : %vs\n", st.Undo.Elapsed().Seconds())
	}
}
