package store

import "fmt"

// evaluate tests a Condition tree against a row's current attributes. It is
// used by the in-memory Gateway; the DynamoDB
// Gateway instead translates the same tree into an
// aws-sdk-go-v2/feature/dynamodb/expression.ConditionBuilder and lets the
// real table evaluate it, but the semantics are defined here once so both
// paths agree.
func evaluate(c *Condition, row Item) bool {
	if c == nil {
		return true
	}

	switch {
	case len(c.Or) > 0:
		for _, child := range c.Or {
			if evaluate(&child, row) {
				return true
			}
		}
		return false
	case len(c.And) > 0:
		for _, child := range c.And {
			if !evaluate(&child, row) {
				return false
			}
		}
		return true
	case c.Exists != "":
		_, ok := row[c.Exists]
		return ok
	case c.NotExists != "":
		_, ok := row[c.NotExists]
		return !ok
	case c.GreaterThan != "":
		v, ok := asFloat(row[c.GreaterThan])
		return ok && v > c.GreaterThanValue
	case c.LessThan != "":
		v, ok := asFloat(row[c.LessThan])
		if !ok {
			// attribute_not_exists fails a plain "<" comparison in
			// DynamoDB (ConditionExpression errors rather than
			// evaluating false), but every caller in this module
			// composes LessThan with an explicit NotExists/Exists
			// disjunct for that case, so treating a missing
			// attribute as "condition not met" here is safe and
			// keeps the in-memory fake total.
			return false
		}
		return v < c.LessThanValue
	default:
		return true
	}
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func copyItem(in Item) Item {
	out := make(Item, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func keyString(key Item, names ...string) string {
	s := ""
	for i, n := range names {
		if i > 0 {
			s += "\x00"
		}
		s += fmt.Sprintf("%v", key[n])
	}
	return s
}
