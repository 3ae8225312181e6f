package paginate

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"testing"

	"github.com/unkn0wn-root/poscache/balance"
)

type sliceSource struct {
	items []balance.Item
	calls int
}

func (s *sliceSource) ItemsAfter(_ context.Context, after string, limit int) ([]balance.Item, error) {
	s.calls++
	start := 0
	if after != "" {
		for i, it := range s.items {
			if it.ID == after {
				start = i + 1
				break
			}
		}
	}
	end := start + limit
	if end > len(s.items) {
		end = len(s.items)
	}
	return append([]balance.Item(nil), s.items[start:end]...), nil
}

func genItems(n int, types ...string) []balance.Item {
	out := make([]balance.Item, n)
	for i := range out {
		out[i] = balance.Item{ID: fmt.Sprintf("id-%03d", i), Type: types[i%len(types)]}
	}
	return out
}

func drain(t *testing.T, s *Streamer, window int) [][]string {
	t.Helper()
	var pages [][]string
	cursor := ""
	for i := 0; i < 1000; i++ {
		w, err := s.Next(context.Background(), cursor, window)
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if len(w.IDs) > 0 {
			pages = append(pages, w.IDs)
		}
		if w.NextCursor == "" {
			return pages
		}
		cursor = w.NextCursor
	}
	t.Fatal("stream did not terminate")
	return nil
}

func TestStreamerVisitsEveryItemOnce(t *testing.T) {
	src := &sliceSource{items: genItems(37, "video", "image", "image", "article")}
	s := &Streamer{Source: src, Multiplier: 2}

	seen := map[string]int{}
	for _, p := range drain(t, s, 5) {
		if len(p) > 5 {
			t.Fatalf("page of %d exceeds window", len(p))
		}
		for _, id := range p {
			seen[id]++
		}
	}
	if len(seen) != 37 {
		t.Fatalf("visited %d distinct items, want 37", len(seen))
	}
	for id, n := range seen {
		if n != 1 {
			t.Fatalf("%s visited %d times", id, n)
		}
	}
}

func TestStreamerFirstWindowIsBalanced(t *testing.T) {
	items := []balance.Item{
		{ID: "1", Type: "video"}, {ID: "2", Type: "video"}, {ID: "3", Type: "video"},
		{ID: "4", Type: "image"}, {ID: "5", Type: "image"}, {ID: "6", Type: "image"},
	}
	s := &Streamer{Source: &sliceSource{items: items}, Multiplier: 2}
	w, err := s.Next(context.Background(), "", 3)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"1", "4", "2"}
	for i := range want {
		if w.IDs[i] != want[i] {
			t.Fatalf("got %v want %v", w.IDs, want)
		}
	}
	if w.NextCursor == "" {
		t.Fatal("expected a continuation cursor")
	}
}

func TestStreamerClampsWindow(t *testing.T) {
	s := &Streamer{Source: &sliceSource{items: genItems(20, "a", "b")}, MaxWindow: 4}
	w, err := s.Next(context.Background(), "", 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(w.IDs) != 4 {
		t.Fatalf("got %d ids, want 4", len(w.IDs))
	}
}

func TestStreamerEmptySource(t *testing.T) {
	s := &Streamer{Source: &sliceSource{}}
	w, err := s.Next(context.Background(), "", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(w.IDs) != 0 || w.NextCursor != "" {
		t.Fatalf("unexpected window %+v", w)
	}
}

func TestStreamerStopsFetchingWhenExhausted(t *testing.T) {
	src := &sliceSource{items: genItems(6, "a", "b")}
	s := &Streamer{Source: src, Multiplier: 4}
	pages := drain(t, s, 2)
	if len(pages) != 3 {
		t.Fatalf("got %d pages, want 3", len(pages))
	}
	if src.calls != 1 {
		t.Fatalf("source called %d times, want 1", src.calls)
	}
}

func TestStreamerRejectsBadInput(t *testing.T) {
	s := &Streamer{Source: &sliceSource{}}
	var ip *InvalidParamsError
	if _, err := s.Next(context.Background(), "", 0); !errors.As(err, &ip) {
		t.Fatalf("want InvalidParamsError, got %v", err)
	}
	if _, err := s.Next(context.Background(), "!!not-base64!!", 3); !errors.Is(err, ErrBadCursor) {
		t.Fatalf("want ErrBadCursor, got %v", err)
	}
}

func TestStreamerPropagatesFetchError(t *testing.T) {
	boom := errors.New("boom")
	s := &Streamer{Source: FetcherFunc(func(context.Context, string, int) ([]balance.Item, error) {
		return nil, boom
	})}
	if _, err := s.Next(context.Background(), "", 3); !errors.Is(err, boom) {
		t.Fatalf("want wrapped boom, got %v", err)
	}
}

func TestStreamerMissingTypeSurfaces(t *testing.T) {
	s := &Streamer{Source: &sliceSource{items: []balance.Item{{ID: "x"}}}}
	var mt *balance.MissingTypeFieldError
	if _, err := s.Next(context.Background(), "", 3); !errors.As(err, &mt) {
		t.Fatalf("want MissingTypeFieldError, got %v", err)
	}
}

func TestStreamerSameCursorSamePage(t *testing.T) {
	s := &Streamer{Source: &sliceSource{items: genItems(30, "a", "b", "c")}}
	first, _ := s.Next(context.Background(), "", 4)
	a, _ := s.Next(context.Background(), first.NextCursor, 4)
	b, _ := s.Next(context.Background(), first.NextCursor, 4)
	sort.Strings(a.IDs)
	sort.Strings(b.IDs)
	if fmt.Sprint(a.IDs) != fmt.Sprint(b.IDs) || a.NextCursor != b.NextCursor {
		t.Fatal("replaying a cursor produced a different page")
	}
}
