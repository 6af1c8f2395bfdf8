package issuer

import (
	"encoding/binary"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const suffixLen = 5

// suffixSpace is 36^5, the number of distinct random components.
const suffixSpace = 36 * 36 * 36 * 36 * 36

// Generator builds ids of the form PREFIX-<base36 ms>-<5 base36 chars>. The
// time component is strictly increasing for one Generator.
type Generator struct {
	prefix string
	now    func() time.Time
	random func() uint64

	mu   sync.Mutex
	last int64
}

// NewGenerator returns a generator using the wall clock and uuid v4 randomness.
func NewGenerator(prefix string) *Generator {
	prefix = strings.ToUpper(strings.TrimSpace(prefix))
	if prefix == "" {
		prefix = "CERT"
	}
	return &Generator{prefix: prefix, now: time.Now, random: uuidRandom}
}

// Next returns a fresh id.
func (g *Generator) Next() string {
	ms := g.now().UnixMilli()
	g.mu.Lock()
	if ms <= g.last {
		ms = g.last + 1
	}
	g.last = ms
	g.mu.Unlock()

	stamp := strings.ToUpper(strconv.FormatInt(ms, 36))
	return g.prefix + "-" + stamp + "-" + suffix(g.random())
}

func suffix(r uint64) string {
	s := strings.ToUpper(strconv.FormatUint(r%suffixSpace, 36))
	if len(s) < suffixLen {
		s = strings.Repeat("0", suffixLen-len(s)) + s
	}
	return s
}

func uuidRandom() uint64 {
	u := uuid.New()
	return binary.BigEndian.Uint64(u[8:])
}
