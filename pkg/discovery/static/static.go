package static

import (
	"strings"

	"github.com/amirimatin/coremember/pkg/codec"
	"github.com/amirimatin/coremember/pkg/discovery"
)

type staticSeeds struct {
	seeds []string
}

func (s *staticSeeds) Seeds() []string { return append([]string(nil), s.seeds...) }

// New returns a Discovery that always returns the given seeds. Blank entries
// are dropped.
func New(seeds ...string) discovery.Discovery {
	cleaned := make([]string, 0, len(seeds))
	for _, v := range seeds {
		v = strings.TrimSpace(v)
		if v != "" {
			cleaned = append(cleaned, v)
		}
	}
	return &staticSeeds{seeds: cleaned}
}

// Parse converts a comma-separated list into seeds.
func Parse(csv string) []string {
	if csv == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ParseStrict is Parse followed by host:port validation of every seed.
func ParseStrict(csv string) ([]string, error) {
	seeds := Parse(csv)
	for _, s := range seeds {
		if _, err := codec.ParseAddress(s); err != nil {
			return nil, err
		}
	}
	return seeds, nil
}
