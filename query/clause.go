package query

import (
	"strings"
)

type ClauseType int

const (
	SELECT ClauseType = iota
	FROM
	JOIN
	WHERE
	GROUPBY
	HAVING
	ORDERBY
	INSERT
	VALUES
	UPDATE
	SET
	DELETE
)

// Clause is one rendered section of a statement.
type Clause struct {
	Type  ClauseType
	Value []string
}

// Build renders the clause; an empty clause renders "".
func (c *Clause) Build() string {
	if len(c.Value) == 0 {
		return ""
	}
	switch c.Type {
	case SELECT:
		return "SELECT " + strings.Join(c.Value, ",")
	case FROM:
		return "FROM " + strings.Join(c.Value, " ")
	case JOIN:
		return strings.Join(c.Value, " ")
	case WHERE:
		return "WHERE " + strings.Join(c.Value, " AND ")
	case GROUPBY:
		return "GROUP BY " + strings.Join(c.Value, ",")
	case HAVING:
		return "HAVING " + strings.Join(c.Value, " AND ")
	case ORDERBY:
		return "ORDER BY " + strings.Join(c.Value, ",")
	case INSERT:
		return "INSERT INTO " + c.Value[0] + " (" + strings.Join(c.Value[1:], ",") + ")"
	case VALUES:
		return "VALUES (" + strings.Join(c.Value, ",") + ")"
	case UPDATE:
		return "UPDATE " + c.Value[0]
	case SET:
		return "SET " + strings.Join(c.Value, ",")
	case DELETE:
		return "DELETE FROM " + c.Value[0]
	}
	return ""
}

// assemble renders clauses in order, skipping empty ones.
func assemble(clauses ...Clause) string {
	parts := make([]string, 0, len(clauses))
	for i := range clauses {
		if s := clauses[i].Build(); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, " ")
}
