package postgres

import (
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/CZERTAINLY/CZERTAINLY-Core-sub003/internal/domain/security"
)

// conditions accumulates WHERE clauses with numbered placeholders. A "?" in
// an expression is replaced by the placeholder of its argument.
type conditions struct {
	parts []string
	args  []interface{}
}

func (c *conditions) add(expr string, arg interface{}) {
	c.args = append(c.args, arg)
	c.parts = append(c.parts, strings.ReplaceAll(expr, "?", "$"+itoa(len(c.args))))
}

// visible applies a security filter to the uuid column col.
func (c *conditions) visible(col string, sec security.Filter) {
	if sec.AreOnlySpecificObjectsAllowed {
		c.add(col+" = ANY(?)", uuidsOrEmpty(sec.AllowedObjects))
		return
	}
	if len(sec.ForbiddenObjects) > 0 {
		c.add("NOT ("+col+" = ANY(?))", sec.ForbiddenObjects)
	}
}

func (c *conditions) where() string {
	if len(c.parts) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(c.parts, " AND ")
}

// page appends LIMIT/OFFSET placeholders and returns the clause with its
// args. A non-positive limit binds NULL, which postgres reads as no limit.
func (c *conditions) page(limit, offset int) (string, []interface{}) {
	var lim interface{}
	if limit > 0 {
		lim = limit
	}
	if offset < 0 {
		offset = 0
	}
	args := append(append([]interface{}{}, c.args...), lim, offset)
	n := len(c.args)
	return " LIMIT $" + itoa(n+1) + " OFFSET $" + itoa(n+2), args
}

func uuidsOrEmpty(ids []uuid.UUID) []uuid.UUID {
	if ids == nil {
		return []uuid.UUID{}
	}
	return ids
}

func itoa(i int) string {
	return strconv.Itoa(i)
}
