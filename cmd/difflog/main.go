package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/difflog/difflog/propagator"
	"github.com/difflog/difflog/solve"
	"github.com/difflog/difflog/theory"
	"github.com/difflog/difflog/utils"
)

// Arguments are program files; anything after "--" is host options.
func splitArgs(args []string) (files, rest []string) {
	for i, a := range args {
		if a == "--" {
			return args[:i], args[i+1:]
		}
	}
	return args, nil
}

func main() {
	files, rest := splitArgs(os.Args[1:])
	fs := flag.NewFlagSet("difflog", flag.ExitOnError)
	tptr := fs.Int("t", 1, "Worker thread count")
	nptr := fs.Int("n", 0, "Model limit; 0 enumerates all")
	vptr := fs.Int("v", 0, "Log verbosity")
	fs.Parse(rest)
	utils.SetLevel(*vptr)

	stats := &propagator.Stats{}
	stats.Total.Start()

	prog, err := theory.LoadProgram(files)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load program")
	}

	host, err := solve.New(prog, stats, solve.Options{Threads: *tptr, MaxModels: *nptr})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize propagator")
	}

	n := host.Run(func(m solve.Model) bool {
		fmt.Printf("Answer %d\n", m.Number)
		shown := make([]string, len(m.Atoms))
		for i, a := range m.Atoms {
			shown[i] = a.String()
		}
		fmt.Println(strings.Join(shown, " "))
		host.Propagator().PrintAssignment(m.Thread, os.Stdout)
		return true
	})
	if n == 0 {
		fmt.Println("UNSATISFIABLE")
	} else {
		fmt.Println("SATISFIABLE")
	}

	stats.Total.Stop()
	stats.Report(os.Stdout)
}
