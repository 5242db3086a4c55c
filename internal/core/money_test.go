package core

import "testing"

func TestParseDecimalToCents(t *testing.T) {
	cases := []struct {
		in      string
		cents   int64
		wantErr bool
	}{
		{"12.34", 1234, false},
		{"12,34", 1234, false},
		{"25", 2500, false},
		{"0.5", 50, false},
		{"12.345", 1235, false},
		{"12.346", 1235, false},
		{".99", 99, false},
		{"", 0, true},
		{"-3", 0, true},
		{"+3", 0, true},
		{"0", 0, true},
		{"1.2.3", 0, true},
		{"abc", 0, true},
	}
	for _, tc := range cases {
		got, err := ParseDecimalToCents(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("%q: expected error, got %d", tc.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("%q: unexpected error %v", tc.in, err)
			continue
		}
		if got != tc.cents {
			t.Errorf("%q: got %d, want %d", tc.in, got, tc.cents)
		}
	}
}
