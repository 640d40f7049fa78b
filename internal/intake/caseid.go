package intake

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"sync"
)

// caseSpace is the number of distinct KCA-#### codes (1000-9999).
const caseSpace = 9000

// CaseIDs issues KCA-#### case codes from crypto/rand, refusing to repeat
// any of the most recent codes it handed out.
type CaseIDs struct {
	mu     sync.Mutex
	recent map[int]struct{}
	order  []int
	window int
}

// NewCaseIDs remembers the last window codes. window is clamped to half the
// code space so a fresh code can always be found quickly.
func NewCaseIDs(window int) *CaseIDs {
	if window <= 0 {
		window = 1000
	}
	if window > caseSpace/2 {
		window = caseSpace / 2
	}
	return &CaseIDs{recent: make(map[int]struct{}, window), window: window}
}

// Next returns a fresh case code.
func (g *CaseIDs) Next() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	for {
		n := 1000 + randIntn(caseSpace)
		if _, seen := g.recent[n]; seen {
			continue
		}
		g.recent[n] = struct{}{}
		g.order = append(g.order, n)
		if len(g.order) > g.window {
			delete(g.recent, g.order[0])
			g.order = g.order[1:]
		}
		return fmt.Sprintf("KCA-%04d", n)
	}
}

func randIntn(n int) int {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		// crypto/rand.Reader does not fail on supported platforms.
		panic(err)
	}
	return int(v.Int64())
}
