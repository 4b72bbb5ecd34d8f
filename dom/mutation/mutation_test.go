package mutation

import "testing"

func TestStructural(t *testing.T) {
	cases := map[Op]bool{
		OpInsert:   true,
		OpRemove:   true,
		OpDocReset: true,
		OpAttr:     false,
		OpAttrDel:  false,
	}
	for op, want := range cases {
		if got := (Record{Op: op}).Structural(); got != want {
			t.Errorf("%s.Structural() = %v, want %v", op, got, want)
		}
	}
}

func TestCompressFoldsAttrRuns(t *testing.T) {
	in := []Record{
		{Op: OpAttr, XPath: "/html/body/div", Name: "class", OldValue: "a", Value: "b"},
		{Op: OpAttr, XPath: "/html/body/div", Name: "class", OldValue: "b", Value: "c"},
		{Op: OpInsert, XPath: "/html/body/p"},
		{Op: OpAttr, XPath: "/html/body/div", Name: "style", Value: "x"},
		{Op: OpAttr, XPath: "/html/body/div", Name: "class", OldValue: "c", Value: "d"},
	}
	got := Compress(in)
	if len(got) != 4 {
		t.Fatalf("len = %d, want 4: %+v", len(got), got)
	}
	if got[0].OldValue != "a" || got[0].Value != "c" {
		t.Errorf("folded record = %+v, want old=a value=c", got[0])
	}
	if got[1].Op != OpInsert {
		t.Errorf("got[1].Op = %s, want insert", got[1].Op)
	}
}
