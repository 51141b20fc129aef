package types

// Category is the coarse task class used to restrict which backends are
// eligible for a request.
type Category string

const (
	CategoryFast     Category = "fast"
	CategoryPowerful Category = "powerful"
)

// Other returns the opposite category, used for cross-category fallback when
// a category has no eligible backends left.
func (c Category) Other() Category {
	if c == CategoryFast {
		return CategoryPowerful
	}
	return CategoryFast
}

func (c Category) Valid() bool {
	return c == CategoryFast || c == CategoryPowerful
}

func ParseCategory(s string) (Category, bool) {
	switch Category(s) {
	case CategoryFast, CategoryPowerful:
		return Category(s), true
	default:
		return "", false
	}
}
