// internal/shard/router.go
package shard

import (
	"fmt"
	"hash/fnv"
)

// WorkerIndex deterministically maps a game ID onto one of numWorkers
// workers. Every component that addresses a game (create, join, poll, start)
// derives the owner with this same function, so no directory lookup is ever
// needed.
func WorkerIndex(gameID string, numWorkers int) int {
	if numWorkers <= 0 {
		return 0
	}
	h := fnv.New32a()
	h.Write([]byte(gameID))
	return int(h.Sum32() % uint32(numWorkers))
}

// WorkerPath returns the path prefix under which the owning worker's HTTP
// surface for a game is reachable, e.g. "/w2".
func WorkerPath(gameID string, numWorkers int) string {
	return fmt.Sprintf("/w%d", WorkerIndex(gameID, numWorkers))
}
