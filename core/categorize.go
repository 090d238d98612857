package core

import "strings"

const CategoryOther = "Other"

// CategoryRule matches a movement description against a keyword set. Rules
// are evaluated in declared order and the first match wins, which makes the
// tie-break between overlapping keyword sets deterministic.
type CategoryRule struct {
	Category string
	Keywords []string
}

type Categorizer struct {
	rules []CategoryRule
}

func NewCategorizer(rules []CategoryRule) *Categorizer {
	cleaned := make([]CategoryRule, 0, len(rules))
	for _, rule := range rules {
		category := strings.TrimSpace(rule.Category)
		if category == "" {
			continue
		}
		keywords := make([]string, 0, len(rule.Keywords))
		for _, keyword := range rule.Keywords {
			keyword = strings.TrimSpace(strings.ToLower(keyword))
			if keyword != "" {
				keywords = append(keywords, keyword)
			}
		}
		if len(keywords) == 0 {
			continue
		}
		cleaned = append(cleaned, CategoryRule{Category: category, Keywords: keywords})
	}
	return &Categorizer{rules: cleaned}
}

func DefaultCategorizer() *Categorizer {
	return NewCategorizer([]CategoryRule{
		{Category: "Rent", Keywords: []string{"rent", "alquiler", "lease"}},
		{Category: "Utilities", Keywords: []string{"electric", "water", "gas", "internet", "luz", "agua"}},
		{Category: "Maintenance", Keywords: []string{"repair", "maintenance", "plumber", "reparacion"}},
		{Category: "Groceries", Keywords: []string{"market", "supermarket", "grocery", "mercado"}},
		{Category: "Transport", Keywords: []string{"uber", "taxi", "fuel", "nafta", "subway"}},
		{Category: "Fees", Keywords: []string{"fee", "commission", "comision", "charge"}},
		{Category: "Salary", Keywords: []string{"salary", "payroll", "sueldo", "wages"}},
	})
}

// Categorize returns the first rule whose keyword appears in the
// description, or CategoryOther.
func (c *Categorizer) Categorize(description string) string {
	if c == nil {
		return CategoryOther
	}
	normalized := strings.ToLower(strings.TrimSpace(description))
	if normalized == "" {
		return CategoryOther
	}
	for _, rule := range c.rules {
		for _, keyword := range rule.Keywords {
			if strings.Contains(normalized, keyword) {
				return rule.Category
			}
		}
	}
	return CategoryOther
}
