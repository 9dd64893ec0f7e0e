package model

// Numbered wraps a listed item with a 1-indexed number so that commands
// listing the queue can refer back to entries by position
// (`formsync queue retry 2`).
type Numbered[T any] struct {
	// Num is the 1-indexed position in the listing.
	Num int `json:"num"`

	Item T `json:"item"`
}

// NumberedList numbers items in order.
func NumberedList[T any](items []T) []Numbered[T] {
	result := make([]Numbered[T], len(items))
	for i, item := range items {
		result[i] = Numbered[T]{Num: i + 1, Item: item}
	}
	return result
}

// PickNumbered returns the item numbered num, reporting false when num is
// out of range.
func PickNumbered[T any](items []Numbered[T], num int) (T, bool) {
	var zero T
	if num < 1 || num > len(items) {
		return zero, false
	}
	return items[num-1].Item, true
}
