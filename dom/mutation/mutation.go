// Package mutation defines the records a dom.Document emits when its tree
// or attributes change, and the batches the reconciler flushes once the
// page goes quiet.
package mutation

// Op is the type of DOM mutation observed.
type Op string

const (
	OpInsert   Op = "insert"    // node inserted under a parent
	OpRemove   Op = "remove"    // node detached from its parent
	OpAttr     Op = "attr"      // attribute set or changed
	OpAttrDel  Op = "attr_del"  // attribute removed
	OpDocReset Op = "doc_reset" // whole tree replaced
)

// Record is a single DOM mutation.
type Record struct {
	Op       Op     `json:"op"`
	XPath    string `json:"xpath"`
	Tag      string `json:"tag,omitempty"`
	Name     string `json:"name,omitempty"`      // attribute name for attr/attr_del
	Value    string `json:"value,omitempty"`     // new value
	OldValue string `json:"old_value,omitempty"` // previous value
}

// Structural reports whether the record changes the child lists of the
// tree. Only structural records can bring new matches for a selector.
func (r Record) Structural() bool {
	switch r.Op {
	case OpInsert, OpRemove, OpDocReset:
		return true
	}
	return false
}

// Batch groups the records collected during one debounce window.
type Batch struct {
	ID        string   `json:"id"` // UUIDv7
	PageURL   string   `json:"page_url"`
	Seq       uint64   `json:"seq"` // monotonically increasing per page
	Records   []Record `json:"records"`
	Dropped   int      `json:"dropped,omitempty"` // records beyond the buffer cap
	Timestamp int64    `json:"timestamp"`         // epoch milliseconds at flush
}

// Compress folds consecutive attribute writes on the same (xpath, name)
// into one record carrying the first old value and the last new value.
// Structural records are never folded.
func Compress(records []Record) []Record {
	if len(records) <= 1 {
		return records
	}
	out := make([]Record, 0, len(records))
	for i := 0; i < len(records); i++ {
		rec := records[i]
		if rec.Op != OpAttr {
			out = append(out, rec)
			continue
		}
		firstOld := rec.OldValue
		j := i + 1
		for j < len(records) &&
			records[j].Op == OpAttr &&
			records[j].XPath == rec.XPath &&
			records[j].Name == rec.Name {
			rec = records[j]
			j++
		}
		rec.OldValue = firstOld
		out = append(out, rec)
		i = j - 1
	}
	return out
}
