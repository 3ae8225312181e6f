package paginate

// Page is one offset window over a sequence.
type Page struct {
	IDs     []string `json:"ids"`
	Page    int      `json:"page"`
	PerPage int      `json:"per_page"`
	Total   int      `json:"total"`
	HasNext bool     `json:"has_next"`
	HasPrev bool     `json:"has_prev"`
}

// Offset returns page number page (1-based) of seq. perPage is clamped to
// maxPerPage when maxPerPage > 0. Pages past the end are empty with
// HasNext=false. The returned ids are a copy.
func Offset(seq []string, page, perPage, maxPerPage int) (Page, error) {
	if err := Validate(page, perPage); err != nil {
		return Page{}, err
	}
	if maxPerPage > 0 && perPage > maxPerPage {
		perPage = maxPerPage
	}

	p := Page{Page: page, PerPage: perPage, Total: len(seq), HasPrev: page > 1}

	// guard (page-1)*perPage against overflow on absurd page numbers
	if page-1 > len(seq)/perPage {
		p.IDs = []string{}
		return p, nil
	}
	offset := (page - 1) * perPage
	if offset >= len(seq) {
		p.IDs = []string{}
		return p, nil
	}

	end := offset + perPage
	if end > len(seq) {
		end = len(seq)
	}
	p.IDs = append([]string(nil), seq[offset:end]...)
	p.HasNext = end < len(seq)
	return p, nil
}

// Validate rejects non-positive page numbers and page sizes.
func Validate(page, perPage int) error {
	if page < 1 {
		return &InvalidParamsError{Param: "page", Value: page}
	}
	if perPage < 1 {
		return &InvalidParamsError{Param: "per_page", Value: perPage}
	}
	return nil
}
