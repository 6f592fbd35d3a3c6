package session

import (
	"fmt"
	"math/rand/v2"
)

var (
	handleAdjectives = []string{
		"Quiet", "Bright", "Calm", "Swift", "Gentle", "Bold", "Lucky", "Misty",
		"Sunny", "Witty", "Cosmic", "Velvet", "Amber", "Silver", "Mellow", "Breezy",
	}
	handleNouns = []string{
		"Otter", "Falcon", "Maple", "Comet", "Heron", "Lynx", "Willow", "Pebble",
		"Fox", "Orca", "Sparrow", "Cedar", "Koala", "Raven", "Tiger", "Lotus",
	}
)

// newHandle returns a display name like "QuietOtter42".
func newHandle() string {
	return fmt.Sprintf("%s%s%02d",
		handleAdjectives[rand.IntN(len(handleAdjectives))],
		handleNouns[rand.IntN(len(handleNouns))],
		rand.IntN(100),
	)
}
