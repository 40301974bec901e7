package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rushteam/feedrec/core"
)

func keepFirst(n int) NodeFunc {
	return NodeFunc{
		NodeName: "keep",
		NodeKind: KindReRank,
		Fn: func(_ context.Context, _ *core.RecommendContext, items []*core.Item) ([]*core.Item, error) {
			if len(items) > n {
				return items[:n], nil
			}
			return items, nil
		},
	}
}

func TestPipeline_Run(t *testing.T) {
	rctx := core.NewRecommendContext("u1", "rank", time.Now())
	items := core.ItemsFromIDs([]string{"a", "b", "c"})

	p := &Pipeline{Nodes: []Node{keepFirst(2), keepFirst(1)}}
	got, err := p.Run(context.Background(), rctx, items)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != "a" {
		t.Errorf("got %v", got)
	}

	boom := errors.New("boom")
	failing := NodeFunc{
		NodeName: "broken",
		NodeKind: KindRank,
		Fn: func(context.Context, *core.RecommendContext, []*core.Item) ([]*core.Item, error) {
			return nil, boom
		},
	}
	p = &Pipeline{Nodes: []Node{keepFirst(2), failing}}
	_, err = p.Run(context.Background(), rctx, items)
	if !errors.Is(err, boom) || !strings.HasPrefix(err.Error(), "broken: ") {
		t.Errorf("err = %v", err)
	}
}

func TestPipeline_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	node := NodeFunc{
		NodeName: "never",
		NodeKind: KindRank,
		Fn: func(_ context.Context, _ *core.RecommendContext, items []*core.Item) ([]*core.Item, error) {
			called = true
			return items, nil
		},
	}
	_, err := (&Pipeline{Nodes: []Node{node}}).Run(ctx, nil, nil)
	if !errors.Is(err, context.Canceled) || called {
		t.Errorf("err = %v, called = %v", err, called)
	}
}
