package queryir

import (
	"fmt"
	"strings"
)

// Op is a comparison operator.
type Op int

const (
	OpEQ Op = iota + 1
	OpLT
	OpGT
	OpLike
)

func (o Op) String() string {
	switch o {
	case OpEQ:
		return "eq"
	case OpLT:
		return "lt"
	case OpGT:
		return "gt"
	case OpLike:
		return "like"
	default:
		return fmt.Sprintf("Op(%d)", int(o))
	}
}

// ParseOp accepts the lowercase names returned by Op.String and the symbols
// "=", "==", "<", ">".
func ParseOp(s string) (Op, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "eq", "=", "==":
		return OpEQ, nil
	case "lt", "<":
		return OpLT, nil
	case "gt", ">":
		return OpGT, nil
	case "like":
		return OpLike, nil
	default:
		return 0, fmt.Errorf("unknown operator %q", s)
	}
}

// AggregateKind is the aggregate function of an Aggregation.
type AggregateKind int

const (
	AggMax AggregateKind = iota + 1
	AggMin
	AggSum
	AggAvg
	AggCount
)

// String returns the lowercase function name ("max", "sum", ...).
func (k AggregateKind) String() string {
	switch k {
	case AggMax:
		return "max"
	case AggMin:
		return "min"
	case AggSum:
		return "sum"
	case AggAvg:
		return "avg"
	case AggCount:
		return "count"
	default:
		return fmt.Sprintf("AggregateKind(%d)", int(k))
	}
}

// ParseAggregateKind accepts the names returned by AggregateKind.String.
func ParseAggregateKind(s string) (AggregateKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "max":
		return AggMax, nil
	case "min":
		return AggMin, nil
	case "sum":
		return AggSum, nil
	case "avg":
		return AggAvg, nil
	case "count":
		return AggCount, nil
	default:
		return 0, fmt.Errorf("unknown aggregate %q", s)
	}
}

// Direction is a sort direction.
type Direction int

const (
	Asc Direction = iota
	Desc
)

func (d Direction) String() string {
	if d == Desc {
		return "desc"
	}
	return "asc"
}

// ParseDirection accepts "asc" and "desc". The empty string is Asc.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "asc":
		return Asc, nil
	case "desc":
		return Desc, nil
	default:
		return Asc, fmt.Errorf("unknown sort direction %q", s)
	}
}
