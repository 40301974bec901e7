package rerank

import (
	"context"
	"testing"

	"github.com/rushteam/feedrec/core"
)

func TestTopNNode(t *testing.T) {
	items := core.ItemsFromIDs([]string{"a", "b", "c"})
	tests := []struct {
		n    int
		want int
	}{
		{0, 3},
		{-1, 3},
		{2, 2},
		{5, 3},
	}
	for _, tt := range tests {
		got, err := (&TopNNode{N: tt.n}).Process(context.Background(), nil, items)
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != tt.want {
			t.Errorf("N=%d: len = %d, want %d", tt.n, len(got), tt.want)
		}
	}
}
