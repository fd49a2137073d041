package core

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	// ViewFlat is the single implicit view of legacy month records.
	ViewFlat     View = ""
	ViewExpected View = "expected"
	ViewActual   View = "actual"

	FieldIncome   Field = "income"
	FieldExpenses Field = "expenses"

	AttrName   Attr = "name"
	AttrAmount Attr = "amount"
)

type (
	// View selects which budget of a month is read or written.
	View string

	// Field selects one of the two entry lists of a bucket.
	Field string

	// Attr names an editable attribute of an entry.
	Attr string

	Entry struct {
		ID     string
		Name   string
		Amount decimal.Decimal
	}

	Bucket struct {
		Income   []Entry `json:"income"`
		Expenses []Entry `json:"expenses"`
	}

	// Session is the signed-in identity as seen by the rest of the system.
	Session struct {
		UserID    string
		Email     string
		Token     string
		ExpiresAt time.Time
	}
)

var (
	ErrInvalidMonth = errors.New("invalid month")
	ErrInvalidView  = errors.New("invalid view")
	ErrInvalidField = errors.New("invalid field")
	ErrInvalidAttr  = errors.New("invalid attribute")
)

// ParseView accepts "", "flat", "expected" and "actual".
func ParseView(s string) (View, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "flat":
		return ViewFlat, nil
	case "expected":
		return ViewExpected, nil
	case "actual":
		return ViewActual, nil
	}
	return ViewFlat, fmt.Errorf("%w: %q", ErrInvalidView, s)
}

func (v View) String() string {
	if v == ViewFlat {
		return "flat"
	}
	return string(v)
}

func ParseField(s string) (Field, error) {
	switch Field(strings.ToLower(strings.TrimSpace(s))) {
	case FieldIncome:
		return FieldIncome, nil
	case FieldExpenses:
		return FieldExpenses, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidField, s)
}

func ParseAttr(s string) (Attr, error) {
	switch Attr(strings.ToLower(strings.TrimSpace(s))) {
	case AttrName:
		return AttrName, nil
	case AttrAmount:
		return AttrAmount, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidAttr, s)
}

// ParseMonth resolves an English month name ("March"), its three letter
// abbreviation ("Mar") or a number 1-12.
func ParseMonth(s string) (time.Month, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, ErrInvalidMonth
	}
	if n, err := strconv.Atoi(s); err == nil {
		if n < 1 || n > 12 {
			return 0, fmt.Errorf("%w: %d", ErrInvalidMonth, n)
		}
		return time.Month(n), nil
	}
	for m := time.January; m <= time.December; m++ {
		name := m.String()
		if strings.EqualFold(name, s) || strings.EqualFold(name[:3], s) {
			return m, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidMonth, s)
}

// MonthAbbr returns the three letter label used on trend axes.
func MonthAbbr(m time.Month) string {
	return m.String()[:3]
}

// NewEntry returns an entry with the given id, an empty name and zero amount.
func NewEntry(id string) Entry {
	return Entry{ID: id, Amount: decimal.Zero}
}

// Entries returns the list named by f.
func (b Bucket) Entries(f Field) []Entry {
	if f == FieldIncome {
		return b.Income
	}
	return b.Expenses
}

// With returns a copy of b whose f list is entries.
func (b Bucket) With(f Field, entries []Entry) Bucket {
	out := b.clone()
	if f == FieldIncome {
		out.Income = cloneEntries(entries)
	} else {
		out.Expenses = cloneEntries(entries)
	}
	return out
}

// IsEmpty reports whether the bucket holds no entries at all.
func (b Bucket) IsEmpty() bool {
	return len(b.Income) == 0 && len(b.Expenses) == 0
}

func (b Bucket) clone() Bucket {
	return Bucket{Income: cloneEntries(b.Income), Expenses: cloneEntries(b.Expenses)}
}

func cloneEntries(in []Entry) []Entry {
	out := make([]Entry, len(in))
	copy(out, in)
	return out
}

// Active reports whether the session carries an identity.
func (s *Session) Active() bool {
	return s != nil && s.UserID != ""
}
