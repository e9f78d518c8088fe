package snapshot

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"metricwatch/internal/models"
)

// Kind identifies what a Node holds
type Kind uint8

const (
	KindNull Kind = iota
	KindNumber
	KindString
	KindBool
	KindObject
	KindArray
)

func (k Kind) String() string {
	switch k {
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindBool:
		return "bool"
	case KindObject:
		return "object"
	case KindArray:
		return "array"
	default:
		return "null"
	}
}

// Lookup errors
var (
	ErrPathNotFound = errors.New("path not found")
	ErrNotNumeric   = errors.New("value is not numeric")
)

// Node is one value of a snapshot document: a scalar, an object or an array.
type Node struct {
	kind   Kind
	num    models.Number
	str    string
	b      bool
	fields map[string]*Node
	items  []*Node
}

// UnmarshalJSON builds the tree, keeping integers and floats apart
func (n *Node) UnmarshalJSON(b []byte) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return err
	}

	built, err := fromAny(v)
	if err != nil {
		return err
	}
	*n = *built
	return nil
}

func fromAny(v any) (*Node, error) {
	switch t := v.(type) {
	case nil:
		return &Node{kind: KindNull}, nil
	case json.Number:
		num, err := models.ParseNumber(t.String())
		if err != nil {
			return nil, err
		}
		return &Node{kind: KindNumber, num: num}, nil
	case string:
		return &Node{kind: KindString, str: t}, nil
	case bool:
		return &Node{kind: KindBool, b: t}, nil
	case map[string]any:
		fields := make(map[string]*Node, len(t))
		for k, child := range t {
			c, err := fromAny(child)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
			fields[k] = c
		}
		return &Node{kind: KindObject, fields: fields}, nil
	case []any:
		items := make([]*Node, 0, len(t))
		for i, child := range t {
			c, err := fromAny(child)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			items = append(items, c)
		}
		return &Node{kind: KindArray, items: items}, nil
	default:
		return nil, fmt.Errorf("unsupported json value %T", v)
	}
}

// Kind returns the node kind; a nil node is KindNull
func (n *Node) Kind() Kind {
	if n == nil {
		return KindNull
	}
	return n.kind
}

// Field returns the named child of an object node
func (n *Node) Field(name string) (*Node, bool) {
	if n.Kind() != KindObject {
		return nil, false
	}
	child, ok := n.fields[name]
	return child, ok
}

// Number returns the scalar of a number node
func (n *Node) Number() (models.Number, bool) {
	if n.Kind() != KindNumber {
		return models.Number{}, false
	}
	return n.num, true
}

// Text returns the scalar of a string node
func (n *Node) Text() (string, bool) {
	if n.Kind() != KindString {
		return "", false
	}
	return n.str, true
}

// Index returns the i-th element of an array node
func (n *Node) Index(i int) (*Node, bool) {
	if n.Kind() != KindArray || i < 0 || i >= len(n.items) {
		return nil, false
	}
	return n.items[i], true
}

// Lookup walks path from n through nested objects. A segment made of digits
// indexes an array, e.g. cpu.usage.per_cpu_usage.0. A missing field or
// element, or a scalar met before the end of the path, yields
// ErrPathNotFound naming the failing segment.
func (n *Node) Lookup(path ...string) (*Node, error) {
	cur := n
	for i, seg := range path {
		var next *Node
		var ok bool
		if cur.Kind() == KindArray {
			if idx, err := strconv.Atoi(seg); err == nil {
				next, ok = cur.Index(idx)
			}
		} else {
			next, ok = cur.Field(seg)
		}
		if !ok {
			return nil, fmt.Errorf("%w: segment %q (index %d) in %s", ErrPathNotFound, seg, i, cur.Kind())
		}
		cur = next
	}
	return cur, nil
}
