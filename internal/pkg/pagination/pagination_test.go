package pagination

import "testing"

func TestParse(t *testing.T) {
	cases := []struct {
		page, limit string
		want        Params
		offset      int
	}{
		{"", "", Params{1, 50}, 0},
		{"3", "20", Params{3, 20}, 40},
		{"-1", "abc", Params{1, 50}, 0},
		{"2", "10000", Params{2, 500}, 500},
	}
	for _, tc := range cases {
		got := Parse(tc.page, tc.limit)
		if got != tc.want {
			t.Errorf("Parse(%q,%q) = %+v, want %+v", tc.page, tc.limit, got, tc.want)
		}
		if got.Offset() != tc.offset {
			t.Errorf("Offset() = %d, want %d", got.Offset(), tc.offset)
		}
	}
}

func TestNewResultNeverNilRows(t *testing.T) {
	r := NewResult[int](nil, 0, Params{})
	if r.Rows == nil || r.Page != 1 || r.Limit != DefaultLimit {
		t.Fatalf("unexpected result: %+v", r)
	}
}
