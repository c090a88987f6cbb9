package records

import (
	"database/sql/driver"
	"fmt"
)

// Kind tells an editable resource apart from the printable resource derived
// from it. The zero value is invalid.
type Kind int

const (
	KindEditable Kind = iota + 1
	KindPrintable
)

func ParseKind(s string) (Kind, error) {
	switch s {
	case "editable":
		return KindEditable, nil
	case "printable":
		return KindPrintable, nil
	}
	return 0, fmt.Errorf("unknown resource kind %q", s)
}

func (k Kind) String() string {
	switch k {
	case KindEditable:
		return "editable"
	case KindPrintable:
		return "printable"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

func (k Kind) Valid() bool {
	return k == KindEditable || k == KindPrintable
}

func (k Kind) Value() (driver.Value, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("invalid resource kind %d", int(k))
	}
	return k.String(), nil
}

func (k *Kind) Scan(src any) error {
	var s string
	switch v := src.(type) {
	case string:
		s = v
	case []byte:
		s = string(v)
	default:
		return fmt.Errorf("scan kind: unsupported type %T", src)
	}
	parsed, err := ParseKind(s)
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

func (k Kind) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("invalid resource kind %d", int(k))
	}
	return []byte(k.String()), nil
}
