package domain

import "strings"

// Category is one of the fixed spending categories a transaction can carry.
type Category string

const (
	CategoryFoodDining     Category = "food_dining"
	CategoryShopping       Category = "shopping"
	CategoryTransportation Category = "transportation"
	CategoryBillsUtilities Category = "bills_utilities"
	CategoryEntertainment  Category = "entertainment"
	CategoryHealthcare     Category = "healthcare"
	CategoryEducation      Category = "education"
	CategoryTravel         Category = "travel"
	CategoryIncome         Category = "income"
	CategoryTransfers      Category = "transfers"
	CategoryOther          Category = "other"
)

// Categories lists the allowed set in prompt order.
var Categories = []Category{
	CategoryFoodDining,
	CategoryShopping,
	CategoryTransportation,
	CategoryBillsUtilities,
	CategoryEntertainment,
	CategoryHealthcare,
	CategoryEducation,
	CategoryTravel,
	CategoryIncome,
	CategoryTransfers,
	CategoryOther,
}

// Valid reports whether c belongs to the allowed set.
func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// CategoryNames returns the allowed set as plain strings.
func CategoryNames() []string {
	out := make([]string, len(Categories))
	for i, c := range Categories {
		out[i] = string(c)
	}
	return out
}

// NormalizeCategory maps free-form model output onto the allowed set.
// Matching ignores case, surrounding spaces and "&"/space/"-" separators;
// anything unknown falls back to CategoryOther.
func NormalizeCategory(s string) Category {
	key := strings.ToLower(strings.TrimSpace(s))
	key = strings.NewReplacer(" & ", "_", "&", "_", " ", "_", "-", "_").Replace(key)
	for strings.Contains(key, "__") {
		key = strings.ReplaceAll(key, "__", "_")
	}
	c := Category(key)
	if c.Valid() {
		return c
	}
	return CategoryOther
}
