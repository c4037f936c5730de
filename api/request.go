package api

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// shelfQuery is the query string accepted by the shelf routes. Any
// non-empty nocache value forces a refresh.
type shelfQuery struct {
	Limit   *int `validate:"omitempty,gt=0"`
	NoCache bool
}

func parseShelfQuery(values url.Values) (shelfQuery, error) {
	q := shelfQuery{NoCache: values.Get("nocache") != ""}

	if raw := strings.TrimSpace(values.Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return q, fmt.Errorf("limit must be a positive integer, got %q", raw)
		}
		q.Limit = &n
	}

	if err := validate.Struct(q); err != nil {
		return q, validationMessage(err)
	}
	return q, nil
}

// limit returns the requested cap, or 0 for none.
func (q shelfQuery) limit() int {
	if q.Limit == nil {
		return 0
	}
	return *q.Limit
}

func validationMessage(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return err
	}

	e := fieldErrs[0]
	field := strings.ToLower(e.Field())
	switch e.Tag() {
	case "gt":
		return fmt.Errorf("%s must be greater than %s", field, e.Param())
	default:
		return fmt.Errorf("%s is invalid", field)
	}
}
