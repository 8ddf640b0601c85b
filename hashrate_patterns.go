package main

import (
	"regexp"
	"strconv"

	"github.com/charmbracelet/x/ansi"
)

// hashratePatterns recognise the hashrate report lines of known miners. The
// first capture group is the hashrate; earlier patterns win.
var hashratePatterns = []*regexp.Regexp{
	regexp.MustCompile(`\[[^\]]+\] speed 2\.5s/60s/15m [\d.]+ ([\d.]+)`), // xmrig before 2.6
	regexp.MustCompile(`\[[^\]]+\] speed 10s/60s/15m [\d.]+ ([\d.]+)`),   // xmrig
	regexp.MustCompile(`Totals \(ALL\):\s+[\d.]+\s+([\d.]+)`),            // xmr-stak
}

// matchHashrate extracts a positive hashrate from one line of miner output.
func matchHashrate(line string) (float64, bool) {
	clean := ansi.Strip(line)
	for _, re := range hashratePatterns {
		m := re.FindStringSubmatch(clean)
		if m == nil {
			continue
		}
		rate, err := strconv.ParseFloat(m[1], 64)
		if err != nil || rate <= 0 {
			continue
		}
		return rate, true
	}
	return 0, false
}
