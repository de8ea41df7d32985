package forum

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
)

// Count is an arbitrary-precision signed integer used for vote totals and
// reputation. The zero value is 0. A Count is never mutated after creation;
// arithmetic returns a new value.
type Count struct {
	v *big.Int
}

// NewCount returns a Count holding n.
func NewCount(n int64) Count {
	return Count{v: big.NewInt(n)}
}

// ParseCount parses a base-10 integer such as "42" or "-1000000000000000000000".
func ParseCount(s string) (Count, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return Count{}, fmt.Errorf("invalid count %q", s)
	}
	return Count{v: v}, nil
}

// MustParseCount is ParseCount for constants and tests.
func MustParseCount(s string) Count {
	c, err := ParseCount(s)
	if err != nil {
		panic(err)
	}
	return c
}

func (c Count) int() *big.Int {
	if c.v == nil {
		return new(big.Int)
	}
	return c.v
}

// Add returns c + delta.
func (c Count) Add(delta int64) Count {
	return Count{v: new(big.Int).Add(c.int(), big.NewInt(delta))}
}

// Cmp compares c and o and returns -1, 0 or +1.
func (c Count) Cmp(o Count) int {
	return c.int().Cmp(o.int())
}

// Equal reports whether c and o hold the same value.
func (c Count) Equal(o Count) bool {
	return c.Cmp(o) == 0
}

func (c Count) String() string {
	return c.int().String()
}

func (c Count) MarshalJSON() ([]byte, error) {
	return []byte(c.int().String()), nil
}

// UnmarshalJSON accepts a JSON number literal or a decimal string.
func (c *Count) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*c = Count{}
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		data = []byte(s)
	}
	parsed, err := ParseCount(string(data))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}
