package cache

import "fmt"

// KeyRunIndex is a sorted set of run IDs scored by creation time.
const KeyRunIndex = "runs"

func KeyRunSummary(id string) string {
	return fmt.Sprintf("run:%s", id)
}

func KeyRunTrips(id string) string {
	return fmt.Sprintf("run:%s:trips", id)
}
