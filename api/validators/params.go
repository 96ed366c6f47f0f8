package validators

import (
	"net/http"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	pkgerrors "github.com/heatflow/oilshop-backend/pkg/errors"
	"github.com/heatflow/oilshop-backend/pkg/pagination"
)

// PageParams reads limit and cursor from the query string.
func PageParams(r *http.Request) (pagination.Params, error) {
	q := r.URL.Query()
	params := pagination.Params{Cursor: strings.TrimSpace(q.Get("cursor"))}
	raw := strings.TrimSpace(q.Get("limit"))
	if raw == "" {
		return params, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 1 || limit > pagination.MaxLimit {
		return params, pkgerrors.New(pkgerrors.CodeValidation, "invalid limit").
			WithDetails(map[string]any{"limit": "must be between 1 and " + strconv.Itoa(pagination.MaxLimit)})
	}
	params.Limit = limit
	return params, nil
}

// CleanText trims input, drops control characters other than newlines and
// tabs, and cuts it to at most maxRunes characters. Notes end up on invoices
// and in emails, so multi-byte characters are never split.
func CleanText(input string, maxRunes int) string {
	cleaned := strings.Map(func(r rune) rune {
		if r == utf8.RuneError || (unicode.IsControl(r) && r != '\n' && r != '\t') {
			return -1
		}
		return r
	}, strings.TrimSpace(input))
	if maxRunes > 0 && utf8.RuneCountInString(cleaned) > maxRunes {
		cleaned = string([]rune(cleaned)[:maxRunes])
	}
	return strings.TrimSpace(cleaned)
}
