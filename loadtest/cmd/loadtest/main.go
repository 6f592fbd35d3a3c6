// Package main is the radar load test binary.
//
//   - saturate: opens N idle radar sessions and holds them
//   - radar:    pairs discover each other, chat and end
//
// Usage:
//
//	loadtest <command> [options]
package main

import (
	"fmt"
	"math/rand/v2"
	"os"

	"github.com/nearby/radar/loadtest/client"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "saturate":
		runSaturate(os.Args[2:])
	case "radar":
		runRadar(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: loadtest <command> [options]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  saturate    Connection saturation test, opens N idle radar sessions")
	fmt.Println("  radar       Discovery and chat test, pairs find each other on the radar and chat")
	fmt.Println()
	fmt.Println("Run 'loadtest <command> -h' for command-specific options.")
}

var (
	vibes = []string{"chill", "social", "curious", "thinking", "adventurous"}
	tags  = []string{"jazz", "coffee", "climbing", "books", "film", "techno", "chess", "running"}
)

// randomProfile places a visible user within roughly 50m of lat/lng.
func randomProfile(lat, lng float64) client.Profile {
	la := lat + (rand.Float64()-0.5)*0.0009
	ln := lng + (rand.Float64()-0.5)*0.0009
	pick := rand.Perm(len(tags))
	return client.Profile{
		Vibe:    vibes[rand.IntN(len(vibes))],
		Tags:    []string{tags[pick[0]], tags[pick[1]]},
		Visible: true,
		Lat:     &la,
		Lng:     &ln,
	}
}
