package conv

import "testing"

func TestToInt(t *testing.T) {
	tests := []struct {
		in     any
		want   int
		wantOK bool
	}{
		{nil, 0, false},
		{7, 7, true},
		{int64(8), 8, true},
		{int32(9), 9, true},
		{2.9, 2, true},
		{float32(3), 3, true},
		{"42", 42, true},
		{"x", 0, false},
		{true, 0, false},
	}
	for _, tt := range tests {
		got, ok := ToInt(tt.in)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("ToInt(%v) = %d, %v, want %d, %v", tt.in, got, ok, tt.want, tt.wantOK)
		}
	}
}
