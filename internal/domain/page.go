package domain

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Page is a 1-indexed page request
type Page struct {
	Number int
	Size   int
}

// NewPage validates a page request
func NewPage(number, size int) (Page, error) {
	if number < 1 {
		return Page{}, NewValidationError("page", "must be greater than or equal to 1")
	}
	if size < 1 {
		return Page{}, NewValidationError("page_size", "must be greater than or equal to 1")
	}
	if size > MaxPageSize {
		size = MaxPageSize
	}
	return Page{Number: number, Size: size}, nil
}

// Offset returns the number of rows to skip
func (p Page) Offset() int {
	return (p.Number - 1) * p.Size
}
