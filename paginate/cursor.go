package paginate

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"math"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/unkn0wn-root/poscache/balance"
)

// DefaultBufferMultiplier is used when Streamer.Multiplier is not above 1.
const DefaultBufferMultiplier = 2.0

// ErrBadCursor is returned for cursor tokens this package did not produce.
var ErrBadCursor = errors.New("paginate: malformed cursor")

// Fetcher reads raw items in source order. after is the id of the last raw
// item already fetched ("" for the beginning). Returning fewer than limit
// items means the source is exhausted.
type Fetcher interface {
	ItemsAfter(ctx context.Context, after string, limit int) ([]balance.Item, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, after string, limit int) ([]balance.Item, error)

func (f FetcherFunc) ItemsAfter(ctx context.Context, after string, limit int) ([]balance.Item, error) {
	return f(ctx, after, limit)
}

// Window is one cursor-mode page.
type Window struct {
	IDs        []string `json:"ids"`
	NextCursor string   `json:"next_cursor,omitempty"` // empty once the stream is exhausted
}

// Streamer pages through a Fetcher without materializing it.
type Streamer struct {
	Source     Fetcher
	Policy     balance.Policy
	Multiplier float64 // lookahead factor, > 1
	MaxWindow  int     // 0 = unbounded
}

type cursorState struct {
	After string         `msgpack:"a"`
	Carry []balance.Item `msgpack:"c,omitempty"`
	Done  bool           `msgpack:"d,omitempty"`
}

// Next returns the page that follows cursor ("" starts from the beginning).
func (s *Streamer) Next(ctx context.Context, cursor string, window int) (Window, error) {
	if window < 1 {
		return Window{}, &InvalidParamsError{Param: "window", Value: window}
	}
	if s.MaxWindow > 0 && window > s.MaxWindow {
		window = s.MaxWindow
	}
	st, err := decodeCursor(cursor)
	if err != nil {
		return Window{}, err
	}

	buf := st.Carry
	want := s.bufferSize(window)
	exhausted := st.Done
	after := st.After
	if !exhausted && len(buf) < want {
		limit := want - len(buf)
		fetched, err := s.Source.ItemsAfter(ctx, st.After, limit)
		if err != nil {
			return Window{}, fmt.Errorf("paginate: fetch after %q: %w", st.After, err)
		}
		if len(fetched) > 0 {
			after = fetched[len(fetched)-1].ID
		}
		exhausted = len(fetched) < limit
		buf = append(append(make([]balance.Item, 0, len(buf)+len(fetched)), buf...), fetched...)
	}

	ordered, err := balance.Balance(buf, s.Policy)
	if err != nil {
		return Window{}, err
	}

	n := window
	if n > len(ordered) {
		n = len(ordered)
	}
	w := Window{IDs: ordered[:n:n]}

	rest := ordered[n:]
	if len(rest) == 0 && exhausted {
		return w, nil
	}

	byID := make(map[string]balance.Item, len(buf))
	for _, it := range buf {
		byID[it.ID] = it
	}
	next := cursorState{After: after, Done: exhausted}
	if len(rest) > 0 {
		next.Carry = make([]balance.Item, len(rest))
		for i, id := range rest {
			next.Carry[i] = byID[id]
		}
	}
	w.NextCursor, err = encodeCursor(next)
	if err != nil {
		return Window{}, err
	}
	return w, nil
}

func (s *Streamer) bufferSize(window int) int {
	m := s.Multiplier
	if m <= 1 {
		m = DefaultBufferMultiplier
	}
	n := math.Ceil(float64(window) * m)
	if n > math.MaxInt32 {
		return math.MaxInt32
	}
	return int(n)
}

func encodeCursor(st cursorState) (string, error) {
	b, err := msgpack.Marshal(&st)
	if err != nil {
		return "", fmt.Errorf("paginate: encode cursor: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func decodeCursor(tok string) (cursorState, error) {
	var st cursorState
	if tok == "" {
		return st, nil
	}
	b, err := base64.RawURLEncoding.DecodeString(tok)
	if err != nil {
		return st, ErrBadCursor
	}
	if err := msgpack.Unmarshal(b, &st); err != nil {
		return st, ErrBadCursor
	}
	return st, nil
}
