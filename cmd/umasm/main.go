package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog/log"

	"rgehrsitz/um32/internal/asm"
	"rgehrsitz/um32/internal/image"
)

func main() {
	os.Exit(run())
}

func run() int {
	if len(os.Args) != 3 {
		fmt.Printf("Usage: %s listing image\n", os.Args[0])
		return 2
	}

	src, err := os.Open(os.Args[1])
	if err != nil {
		log.Error().Err(err).Msg("open listing")
		return 1
	}
	defer src.Close()

	words, err := asm.Assemble(src)
	if err != nil {
		log.Error().Err(err).Msg("assembly failed")
		return 1
	}

	out, err := os.Create(os.Args[2])
	if err != nil {
		log.Error().Err(err).Msg("create image")
		return 1
	}
	if err := image.Write(out, words); err != nil {
		out.Close()
		log.Error().Err(err).Msg("write image")
		return 1
	}
	if err := out.Close(); err != nil {
		log.Error().Err(err).Msg("close image")
		return 1
	}

	log.Info().Int("words", len(words)).Str("image", os.Args[2]).Msg("assembly completed")
	return 0
}
