package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

var binUnits = map[byte]time.Duration{
	's': time.Second,
	'm': time.Minute,
	'h': time.Hour,
	'd': 24 * time.Hour,
	'w': 7 * 24 * time.Hour,
}

// BinDuration converts an exchange bin label ("1m", "5m", "1h", "1d", "1w")
// into its length.
func BinDuration(bin string) (time.Duration, error) {
	label := strings.ToLower(strings.TrimSpace(bin))
	if len(label) < 2 {
		return 0, fmt.Errorf("invalid bin %q", bin)
	}
	unit, ok := binUnits[label[len(label)-1]]
	if !ok {
		return 0, fmt.Errorf("invalid bin %q: unknown unit", bin)
	}
	n, err := strconv.Atoi(label[:len(label)-1])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid bin %q: bad count", bin)
	}
	return time.Duration(n) * unit, nil
}
