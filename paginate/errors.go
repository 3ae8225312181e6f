package paginate

import "fmt"

// InvalidParamsError reports unusable pagination parameters.
type InvalidParamsError struct {
	Param string
	Value int
}

func (e *InvalidParamsError) Error() string {
	return fmt.Sprintf("paginate: invalid %s: %d (must be >= 1)", e.Param, e.Value)
}
