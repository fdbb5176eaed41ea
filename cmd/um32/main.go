package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"rgehrsitz/um32/internal/image"
	"rgehrsitz/um32/internal/vm"
)

func main() {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	os.Exit(run())
}

func run() int {
	// Exactly one argument: the program image to execute.
	if len(os.Args) != 2 {
		fmt.Printf("Usage: %s file\n", os.Args[0])
		return 2
	}

	program, err := image.Load(os.Args[1])
	if err != nil {
		fmt.Printf("%s: %v\n", os.Args[0], err)
		return 1
	}

	// Fault reporting goes to stderr so program output on stdout stays
	// byte-clean; the machine flushes partial output before stopping.
	machine := vm.NewVM(program, os.Stdin, os.Stdout)
	if err := machine.Run(); err != nil {
		log.Error().Err(err).Msg("execution aborted")
		return 1
	}
	return 0
}
