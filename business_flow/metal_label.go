package businessflow

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/amirphl/metal-price-sync/models"
)

type labelPattern struct {
	re *regexp.Regexp
	// karatGroup is the submatch holding the karat number, 0 for silver patterns.
	karatGroup int
}

// Ordered; the first match wins.
var metalLabelPatterns = []labelPattern{
	{re: regexp.MustCompile(`^(\d+)\s*K(?:T|ARAT)?\s+(?:(?:YELLOW|WHITE|ROSE)\s+)?GOLD$`), karatGroup: 1},
	{re: regexp.MustCompile(`^GOLD\s+(\d+)\s*K(?:T|ARAT)?$`), karatGroup: 1},
	{re: regexp.MustCompile(`^(?:STERLING\s+)?SILVER\s*925$`)},
	{re: regexp.MustCompile(`^925\s+(?:STERLING\s+)?SILVER$`)},
	{re: regexp.MustCompile(`^STERLING\s+SILVER$`)},
}

var whitespaceRun = regexp.MustCompile(`\s+`)

func normalizeMetalLabel(label string) string {
	return whitespaceRun.ReplaceAllString(strings.ToUpper(strings.TrimSpace(label)), " ")
}

// ParseMetalLabel maps a variant option value such as "14K Yellow Gold" or
// "Silver 925" to a MetalType. It never falls back to a default.
func ParseMetalLabel(label string) (models.MetalType, error) {
	norm := normalizeMetalLabel(label)
	if norm == "" {
		return "", fmt.Errorf("%w: empty label", ErrMetalLabelParse)
	}

	for _, p := range metalLabelPatterns {
		m := p.re.FindStringSubmatch(norm)
		if m == nil {
			continue
		}
		if p.karatGroup == 0 {
			return models.MetalSilver925, nil
		}
		karat, err := strconv.Atoi(m[p.karatGroup])
		if err != nil {
			return "", fmt.Errorf("%w: %q", ErrMetalLabelParse, label)
		}
		mt, ok := models.GoldByKarat(karat)
		if !ok {
			return "", fmt.Errorf("%w: unsupported karat %dK in %q", ErrMetalLabelParse, karat, label)
		}
		return mt, nil
	}

	return "", fmt.Errorf("%w: %q", ErrMetalLabelParse, label)
}
