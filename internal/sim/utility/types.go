package utility

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUnknownNode = errors.New("unknown utility node")
	ErrNodeExists  = errors.New("utility node already exists")
	ErrSelfLoop    = errors.New("utility edge joins a node to itself")
	ErrUnknownType = errors.New("unknown utility type")
)

type Type uint8

const (
	Water Type = iota
	Electricity
	Garbage

	numTypes
)

// AllTypes lists every utility type in canonical order.
var AllTypes = []Type{Water, Electricity, Garbage}

func (t Type) String() string {
	switch t {
	case Water:
		return "WATER"
	case Electricity:
		return "ELECTRICITY"
	case Garbage:
		return "GARBAGE"
	default:
		return fmt.Sprintf("TYPE_%d", uint8(t))
	}
}

func ParseType(s string) (Type, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "WATER":
		return Water, nil
	case "ELECTRICITY":
		return Electricity, nil
	case "GARBAGE":
		return Garbage, nil
	}
	return 0, fmt.Errorf("%q: %w", s, ErrUnknownType)
}

// Set is a bitmask of utility types.
type Set uint16

func SetOf(types ...Type) Set {
	var s Set
	for _, t := range types {
		s |= 1 << t
	}
	return s
}

func ParseSet(names []string) (Set, error) {
	var s Set
	for _, n := range names {
		t, err := ParseType(n)
		if err != nil {
			return 0, err
		}
		s = s.Add(t)
	}
	return s, nil
}

func (s Set) Has(t Type) bool     { return s&(1<<t) != 0 }
func (s Set) Add(t Type) Set      { return s | 1<<t }
func (s Set) Remove(t Type) Set   { return s &^ (1 << t) }
func (s Set) Union(o Set) Set     { return s | o }
func (s Set) Intersect(o Set) Set { return s & o }
func (s Set) Minus(o Set) Set     { return s &^ o }
func (s Set) Empty() bool         { return s == 0 }

func (s Set) Types() []Type {
	var out []Type
	for _, t := range AllTypes {
		if s.Has(t) {
			out = append(out, t)
		}
	}
	return out
}

func (s Set) Names() []string {
	var out []string
	for _, t := range s.Types() {
		out = append(out, t.String())
	}
	return out
}

func (s Set) String() string { return strings.Join(s.Names(), "|") }

type NodeID string

// Change reports that a node's connectivity for one type flipped.
type Change struct {
	Node      NodeID `json:"node"`
	Type      Type   `json:"type"`
	Connected bool   `json:"connected"`
}
