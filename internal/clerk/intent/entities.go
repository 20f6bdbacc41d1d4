package intent

import (
	"regexp"
	"strconv"
	"strings"
)

// Entity extraction is deliberately regex-based and independent of trigger
// scoring: a pattern either matches or it doesn't, so the same message always
// yields the same entities. When nothing concrete matches for a search
// intent, the whole message (minus the trigger verb) becomes the free-text
// query.

var (
	// "$10", "$10.99", "for 10.99", "to 10", "price of 10.50"
	pricePattern     = regexp.MustCompile(`\$\s*(\d+(?:[.,]\d{1,2})?)`)
	priceWordPattern = regexp.MustCompile(`(?i)(?:price\s+(?:to|at|of)|costs?)\s+(\d+(?:[.,]\d{1,2})?)(?:\s|$)`)

	// "10%", "10 percent", "by 12.5%"
	percentPattern = regexp.MustCompile(`(-?\d+(?:[.,]\d+)?)\s*(?:%|percent)`)

	// "stock to 25", "inventory to 100", "quantity to 3", "25 units"
	quantityPattern      = regexp.MustCompile(`(?i)(?:stock|inventory|quantity)\s+(?:to|at)\s+(\d+)`)
	quantityUnitsPattern = regexp.MustCompile(`(?i)(\d+)\s+(?:units?|items?|pieces?|pcs)\b`)

	// "sku ABC-123", "SKU: TSHIRT-XL"
	skuPattern = regexp.MustCompile(`(?i)\bsku\s*[:#]?\s*([A-Za-z0-9][A-Za-z0-9_-]{2,})`)

	// "product 8421", "item #8421", "id 8421" — numeric catalog ids only
	productIDPattern = regexp.MustCompile(`(?i)\b(?:product|item|id)\s*#?\s*(\d{2,})\b`)

	// quoted names: "Blue Mug" or 'Blue Mug'
	quotedNamePattern = regexp.MustCompile(`"([^"]{2,})"|'([^']{2,})'`)

	// name preceding a price/stock trigger: "<name> price to", "<name> stock to"
	namedPricePattern = regexp.MustCompile(`(?i)^(?:please\s+)?(?:update|set|change|make)?\s*(.+?)\s+price\s+to\b`)
	namedStockPattern = regexp.MustCompile(`(?i)^(?:please\s+)?(?:update|set|change)?\s*(.+?)\s+(?:stock|inventory|quantity)\s+(?:to|at)\b`)

	// name following a delete verb: "delete the Blue Mug", "remove product Blue Mug"
	deleteNamePattern = regexp.MustCompile(`(?i)(?:delete|remove)\s+(?:the\s+)?(?:product\s+)?(.+?)(?:\s+listing)?$`)

	// bulk scope: "all Apple products", "all items tagged summer"
	categoryPattern     = regexp.MustCompile(`(?i)\ball\s+(.+?)\s+(?:products|items|listings)\b`)
	categoryWordPattern = regexp.MustCompile(`(?i)\b(?:category|vendor|tag(?:ged)?)\s+([A-Za-z0-9][A-Za-z0-9 _-]*)`)

	// search query following a search verb
	searchQueryPattern = regexp.MustCompile(`(?i)(?:search\s+for|look\s+for|find|show\s+me|search)\s+(.+)$`)
)

// ExtractEntities pulls typed parameters out of message for the given action
// type. Extraction is independent per field; fields that do not apply to the
// type are left empty.
func ExtractEntities(message string, typ Type) Entities {
	var e Entities

	if m := percentPattern.FindStringSubmatch(message); m != nil {
		if v, ok := ParseDecimal(m[1]); ok {
			e.Percentage = &v
		}
	}

	// Price: a bare "$..." wins; otherwise a price keyword followed by a
	// number. Skipped when the number was already claimed as a percentage
	// ("by 10%" must not double as a price).
	if m := pricePattern.FindStringSubmatch(message); m != nil {
		if v, ok := ParseDecimal(m[1]); ok {
			e.Price = &v
		}
	} else if m := priceWordPattern.FindStringSubmatch(message); m != nil && e.Percentage == nil {
		if v, ok := ParseDecimal(m[1]); ok {
			e.Price = &v
		}
	}

	if m := quantityPattern.FindStringSubmatch(message); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			e.Quantity = &n
		}
	} else if m := quantityUnitsPattern.FindStringSubmatch(message); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			e.Quantity = &n
		}
	}

	if m := skuPattern.FindStringSubmatch(message); m != nil {
		e.SKU = m[1]
	}
	if m := productIDPattern.FindStringSubmatch(message); m != nil {
		e.ProductID = m[1]
	}

	e.ProductName = extractName(message, typ)

	if typ == TypeBulkUpdate {
		if m := categoryPattern.FindStringSubmatch(message); m != nil {
			e.Category = strings.TrimSpace(m[1])
		} else if m := categoryWordPattern.FindStringSubmatch(message); m != nil {
			e.Category = strings.TrimSpace(m[1])
		}
	}

	if typ == TypeSearchProducts {
		if m := searchQueryPattern.FindStringSubmatch(message); m != nil {
			e.SearchQuery = strings.TrimSpace(strings.Trim(m[1], `"'`))
		} else if e.Empty() {
			// Nothing concrete matched: the entire message is the query.
			e.SearchQuery = strings.TrimSpace(message)
		}
	}

	return e
}

// extractName finds the product reference embedded in the sentence. Quoted
// names always win; otherwise the pattern depends on the action type.
func extractName(message string, typ Type) string {
	if m := quotedNamePattern.FindStringSubmatch(message); m != nil {
		if m[1] != "" {
			return strings.TrimSpace(m[1])
		}
		return strings.TrimSpace(m[2])
	}

	var m []string
	switch typ {
	case TypeUpdatePrice:
		m = namedPricePattern.FindStringSubmatch(message)
	case TypeUpdateStock:
		m = namedStockPattern.FindStringSubmatch(message)
	case TypeDeleteProduct:
		m = deleteNamePattern.FindStringSubmatch(message)
	default:
		return ""
	}
	if m == nil {
		return ""
	}
	return cleanName(m[1])
}

// cleanName strips noise words and id/sku fragments that the broad capture
// groups tend to pick up.
func cleanName(s string) string {
	s = strings.TrimSpace(s)
	for _, prefix := range []string{"the ", "product ", "item ", "listing "} {
		if strings.HasPrefix(strings.ToLower(s), prefix) {
			s = strings.TrimSpace(s[len(prefix):])
		}
	}
	// A pure number is an id, not a name.
	if _, err := strconv.Atoi(s); err == nil {
		return ""
	}
	// Drop SKU-style captures; the sku pattern already claimed them.
	if strings.HasPrefix(strings.ToLower(s), "sku") {
		return ""
	}
	return s
}

// ParseDecimal parses a number that may use either "." or "," as the decimal
// separator ("10.99", "10,99"). Thousands separators are stripped when both
// appear ("1.234,56" → 1234.56). The escalation layer uses it to coerce
// locale-formatted numbers out of LLM replies.
func ParseDecimal(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if strings.Contains(s, ",") && strings.Contains(s, ".") {
		if strings.LastIndex(s, ",") > strings.LastIndex(s, ".") {
			// European style: "." groups thousands, "," is decimal.
			s = strings.ReplaceAll(s, ".", "")
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	} else if strings.Contains(s, ",") {
		s = strings.Replace(s, ",", ".", 1)
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
