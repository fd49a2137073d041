package core

import (
	"time"
)

// RecordKind tags the shape of a MonthRecord.
type RecordKind int

const (
	// KindFlat is the legacy single-bucket shape.
	KindFlat RecordKind = iota
	// KindSplit holds separate expected and actual buckets.
	KindSplit
)

// MonthRecord is Flat(bucket) or Split{expected, actual}. Only the buckets
// matching Kind are meaningful.
type MonthRecord struct {
	Kind     RecordKind
	Flat     Bucket
	Expected Bucket
	Actual   Bucket
}

// FlatRecord builds a legacy single-view record.
func FlatRecord(b Bucket) MonthRecord {
	return MonthRecord{Kind: KindFlat, Flat: b.clone()}
}

// SplitRecord builds a dual-view record.
func SplitRecord(expected, actual Bucket) MonthRecord {
	return MonthRecord{Kind: KindSplit, Expected: expected.clone(), Actual: actual.clone()}
}

// ToSplit migrates a record to the dual-view shape. The legacy bucket
// becomes the actual view and expected starts empty. Split records are
// returned unchanged.
func (r MonthRecord) ToSplit() MonthRecord {
	if r.Kind == KindSplit {
		return r
	}
	return SplitRecord(Bucket{}, r.Flat)
}

// Read returns the bucket seen through v without changing r.
func (r MonthRecord) Read(v View) Bucket {
	switch r.Kind {
	case KindSplit:
		if v == ViewExpected {
			return r.Expected
		}
		return r.Actual
	default:
		if v == ViewExpected {
			return Bucket{}
		}
		return r.Flat
	}
}

// write returns a copy of r with the bucket for v replaced. A dual-view
// write on a flat record migrates it first.
func (r MonthRecord) write(v View, b Bucket) MonthRecord {
	if v == ViewFlat && r.Kind == KindFlat {
		return FlatRecord(b)
	}
	s := r.ToSplit()
	if v == ViewExpected {
		return SplitRecord(b, s.Actual)
	}
	return SplitRecord(s.Expected, b)
}

// IsEmpty reports whether no view of the record has entries.
func (r MonthRecord) IsEmpty() bool {
	if r.Kind == KindSplit {
		return r.Expected.IsEmpty() && r.Actual.IsEmpty()
	}
	return r.Flat.IsEmpty()
}

func (r MonthRecord) clone() MonthRecord {
	return MonthRecord{Kind: r.Kind, Flat: r.Flat.clone(), Expected: r.Expected.clone(), Actual: r.Actual.clone()}
}

// Ledger maps calendar months to their records. A Ledger value is treated
// as immutable: every mutation returns a new Ledger sharing nothing
// writable with the receiver.
type Ledger map[time.Month]MonthRecord

// IDGenerator yields identifiers for new entries.
type IDGenerator func() string

// Bucket returns the bucket for month and view, empty if absent.
func (l Ledger) Bucket(month time.Month, v View) Bucket {
	r, ok := l[month]
	if !ok {
		return Bucket{}
	}
	return r.Read(v)
}

// Record returns the record for month and whether the month is present.
func (l Ledger) Record(month time.Month) (MonthRecord, bool) {
	r, ok := l[month]
	return r, ok
}

// HasData reports whether the month has entries in view v.
func (l Ledger) HasData(month time.Month, v View) bool {
	return !l.Bucket(month, v).IsEmpty()
}

// Months lists the present months in calendar order.
func (l Ledger) Months() []time.Month {
	out := make([]time.Month, 0, len(l))
	for m := time.January; m <= time.December; m++ {
		if _, ok := l[m]; ok {
			out = append(out, m)
		}
	}
	return out
}

// IsEmpty reports whether the ledger has no month keys.
func (l Ledger) IsEmpty() bool {
	return len(l) == 0
}

// Clone deep-copies the ledger.
func (l Ledger) Clone() Ledger {
	out := make(Ledger, len(l))
	for m, r := range l {
		out[m] = r.clone()
	}
	return out
}

// SetField replaces one entry list of month/view. The other list and the
// other view are carried over untouched.
func (l Ledger) SetField(month time.Month, v View, f Field, entries []Entry) Ledger {
	out := l.shallowCopy()
	r := l[month]
	out[month] = r.write(v, r.Read(v).With(f, entries))
	return out
}

// AddEntry appends a zero entry with a fresh id and returns it.
func (l Ledger) AddEntry(month time.Month, v View, f Field, newID IDGenerator) (Ledger, Entry) {
	e := NewEntry(newID())
	list := l.Bucket(month, v).Entries(f)
	next := make([]Entry, 0, len(list)+1)
	next = append(next, list...)
	next = append(next, e)
	return l.SetField(month, v, f, next), e
}

// UpdateEntry sets attr of the entry with id to raw. Amounts go through
// ParseAmount. An unknown id returns the ledger unchanged.
func (l Ledger) UpdateEntry(month time.Month, v View, f Field, id string, attr Attr, raw string) Ledger {
	list := l.Bucket(month, v).Entries(f)
	idx := indexOf(list, id)
	if idx < 0 {
		return l
	}
	next := cloneEntries(list)
	switch attr {
	case AttrName:
		next[idx].Name = raw
	case AttrAmount:
		next[idx].Amount = ParseAmount(raw)
	default:
		return l
	}
	return l.SetField(month, v, f, next)
}

// RemoveEntry drops the entry with id. An unknown id returns the ledger unchanged.
func (l Ledger) RemoveEntry(month time.Month, v View, f Field, id string) Ledger {
	list := l.Bucket(month, v).Entries(f)
	if indexOf(list, id) < 0 {
		return l
	}
	next := make([]Entry, 0, len(list)-1)
	for _, e := range list {
		if e.ID != id {
			next = append(next, e)
		}
	}
	return l.SetField(month, v, f, next)
}

// CopyPreviousMonth overwrites month/view with the previous calendar
// month's bucket for the same view, assigning fresh ids. January and months
// whose predecessor has no data are left alone.
func (l Ledger) CopyPreviousMonth(month time.Month, v View, newID IDGenerator) Ledger {
	if month <= time.January || month > time.December {
		return l
	}
	prev := l.Bucket(month-1, v)
	if prev.IsEmpty() {
		return l
	}
	renew := func(in []Entry) []Entry {
		out := make([]Entry, len(in))
		for i, e := range in {
			out[i] = Entry{ID: newID(), Name: e.Name, Amount: e.Amount}
		}
		return out
	}
	out := l.SetField(month, v, FieldIncome, renew(prev.Income))
	return out.SetField(month, v, FieldExpenses, renew(prev.Expenses))
}

// shallowCopy copies the month map. Records are values and every writer
// replaces whole entry slices, so sharing them is safe.
func (l Ledger) shallowCopy() Ledger {
	out := make(Ledger, len(l)+1)
	for m, r := range l {
		out[m] = r
	}
	return out
}

func indexOf(list []Entry, id string) int {
	for i, e := range list {
		if e.ID == id {
			return i
		}
	}
	return -1
}

// LedgersEqual compares two ledgers by value. Nil and empty entry lists are
// considered equal.
func LedgersEqual(a, b Ledger) bool {
	if len(a) != len(b) {
		return false
	}
	for m, ra := range a {
		rb, ok := b[m]
		if !ok || ra.Kind != rb.Kind {
			return false
		}
		if !bucketsEqual(ra.Flat, rb.Flat) || !bucketsEqual(ra.Expected, rb.Expected) || !bucketsEqual(ra.Actual, rb.Actual) {
			return false
		}
	}
	return true
}

func bucketsEqual(a, b Bucket) bool {
	return entriesEqual(a.Income, b.Income) && entriesEqual(a.Expenses, b.Expenses)
}

func entriesEqual(a, b []Entry) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].ID != b[i].ID || a[i].Name != b[i].Name || !a[i].Amount.Equal(b[i].Amount) {
			return false
		}
	}
	return true
}
