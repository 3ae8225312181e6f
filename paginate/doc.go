// Package paginate slices balanced sequences into pages.
//
// Offset mode (Offset) pages through a sequence that is already materialized,
// usually one read from the position cache. Concatenating every page in
// order reproduces the sequence exactly.
//
// Cursor mode (Streamer) pages through collections too large to materialize.
// Each call fetches a lookahead buffer of window*multiplier raw items after
// the cursor, balances only that buffer and returns the first window ids.
// Balance is therefore only guaranteed within a buffer: round-robin fairness
// does not carry across page boundaries. Buffered items that did not fit in
// the page travel inside the opaque cursor and lead the next buffer, so no
// item is skipped or repeated.
package paginate
