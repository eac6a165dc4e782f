package giveaway

import "math/rand"

// drawWinners picks min(n, len(entries)) winners by uniform sampling
// without replacement. The input slice is not modified.
func drawWinners(entries []int64, n int) []int64 {
	if n <= 0 || len(entries) == 0 {
		return nil
	}
	pool := make([]int64, len(entries))
	copy(pool, entries)
	rand.Shuffle(len(pool), func(i, j int) {
		pool[i], pool[j] = pool[j], pool[i]
	})
	if n > len(pool) {
		n = len(pool)
	}
	return pool[:n]
}
