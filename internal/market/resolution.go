package market

import (
	"sort"
	"strings"
	"time"
)

// Resolution pairs an exchange bin label with its duration in milliseconds.
type Resolution struct {
	Bin    string
	Millis int64
}

const DefaultBin = "5m"

var resolutions = map[string]int64{
	"1m": 60 * 1000,
	"5m": 5 * 60 * 1000,
	"1h": 60 * 60 * 1000,
	"1d": 24 * 60 * 60 * 1000,
}

// LookupResolution resolves a bin label such as "5m". Labels are case-insensitive.
func LookupResolution(bin string) (Resolution, bool) {
	bin = strings.ToLower(strings.TrimSpace(bin))
	ms, ok := resolutions[bin]
	if !ok {
		return Resolution{}, false
	}
	return Resolution{Bin: bin, Millis: ms}, true
}

// MustResolution is LookupResolution for labels already validated by config.
func MustResolution(bin string) Resolution {
	res, ok := LookupResolution(bin)
	if !ok {
		panic("market: unsupported resolution " + bin)
	}
	return res
}

// SupportedBins lists the bin labels from shortest to longest.
func SupportedBins() []string {
	out := make([]string, 0, len(resolutions))
	for bin := range resolutions {
		out = append(out, bin)
	}
	sort.Slice(out, func(i, j int) bool { return resolutions[out[i]] < resolutions[out[j]] })
	return out
}

func (r Resolution) Duration() time.Duration { return time.Duration(r.Millis) * time.Millisecond }
