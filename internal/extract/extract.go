// Package extract pulls product attributes out of raw message text with
// plain regular expressions. It is the cheap local cross-check for the LLM
// classifier and the sole extractor when no classifier is reachable.
package extract

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	quantityRe = regexp.MustCompile(`(\d+)\s?kg`)
	priceRe    = regexp.MustCompile(`(\d+)/kg`)
	productRe  = regexp.MustCompile(`(?i)(?:product|buy|sell|availability of|order)\s+([\w\s]+)`)
)

// Entities holds whatever the regexes matched. A nil field means the text
// carried no signal for it; callers must treat nil as unknown, never as zero.
type Entities struct {
	Quantity *int    `json:"quantity"`
	Price    *int    `json:"price"`
	Product  *string `json:"product"`
}

// Extract parses quantity ("300kg"), price rate ("70/kg") and a product name
// following a trigger keyword. Pure function; returns all-nil on no match.
func Extract(text string) Entities {
	var out Entities

	if m := quantityRe.FindStringSubmatch(text); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			out.Quantity = &n
		}
	}

	if m := priceRe.FindStringSubmatch(text); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			out.Price = &n
		}
	}

	if m := productRe.FindStringSubmatch(text); m != nil {
		name := strings.ToLower(strings.TrimSpace(m[1]))
		// The free-form capture swallows surrounding attribute phrases
		// ("sell 300kg tomato at 70/kg" captures "300kg tomato at 70");
		// cut at attribute markers and drop quantity/price tokens.
		for _, marker := range []string{" at ", " for ", " per "} {
			if idx := strings.Index(name, marker); idx > 0 {
				name = name[:idx]
			}
		}
		name = quantityRe.ReplaceAllString(name, "")
		name = priceRe.ReplaceAllString(name, "")
		name = strings.Join(strings.Fields(name), " ")
		if name != "" {
			out.Product = &name
		}
	}

	return out
}
