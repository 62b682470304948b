package property

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// Type names a property kind.
type Type string

const (
	TypeBase     Type = "base"
	TypeString   Type = "string"
	TypeInt      Type = "int"
	TypeFloat    Type = "float"
	TypeCurrency Type = "currency"
	TypePercent  Type = "percent"
	TypeBool     Type = "bool"
	TypeDate     Type = "date"
	TypeDateTime Type = "datetime"
	TypeTime     Type = "time"
	TypeJSON     Type = "json"
	TypeUUID     Type = "uuid"
	TypeULID     Type = "ulid"
)

// Date layouts used for submit and display values.
const (
	DateSubmitLayout      = "2006-01-02"
	DateTimeSubmitLayout  = "2006-01-02 15:04:05"
	TimeSubmitLayout      = "15:04:05"
	DateDisplayLayout     = "01/02/2006"
	DateTimeDisplayLayout = "01/02/2006 15:04:05"
)

// Kind implements the parse and format rules of one property type.
type Kind interface {
	Parse(p *Property, raw any) (any, error)
	Display(p *Property, parsed any) any
	Submit(p *Property, parsed any) any
	Empty() any
	NewID() (any, error)
}

type precisionKind interface {
	defaultPrecision() int
}

var (
	kindsMu sync.RWMutex
	kinds   = map[Type]Kind{
		TypeBase:     baseKind{},
		TypeString:   stringKind{},
		TypeInt:      intKind{},
		TypeFloat:    floatKind{precision: 2},
		TypeCurrency: currencyKind{floatKind{precision: 2}},
		TypePercent:  percentKind{floatKind{precision: 0}},
		TypeBool:     boolKind{},
		TypeDate:     dateKind{submit: DateSubmitLayout, display: DateDisplayLayout},
		TypeDateTime: dateKind{submit: DateTimeSubmitLayout, display: DateTimeDisplayLayout},
		TypeTime:     dateKind{submit: TimeSubmitLayout, display: TimeSubmitLayout},
		TypeJSON:     jsonKind{},
		TypeUUID:     uuidKind{},
		TypeULID:     ulidKind{},
	}
)

// RegisterKind adds or replaces the kind used for t.
func RegisterKind(t Type, k Kind) {
	kindsMu.Lock()
	defer kindsMu.Unlock()
	kinds[t] = k
}

// LookupKind returns the kind registered for t.
func LookupKind(t Type) (Kind, bool) {
	kindsMu.RLock()
	defer kindsMu.RUnlock()
	k, ok := kinds[t]
	return k, ok
}

func stringify(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case time.Time:
		return val.Format(time.RFC3339)
	case map[string]any, []any:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(b)
	default:
		return fmt.Sprint(val)
	}
}

// isBlank reports nil or the empty string.
func isBlank(raw any) bool {
	if raw == nil {
		return true
	}
	s, ok := raw.(string)
	return ok && strings.TrimSpace(s) == ""
}

type baseKind struct{}

func (baseKind) Parse(_ *Property, raw any) (any, error) { return raw, nil }
func (baseKind) Display(_ *Property, v any) any          { return stringify(v) }
func (baseKind) Submit(_ *Property, v any) any           { return v }
func (baseKind) Empty() any                              { return nil }
func (baseKind) NewID() (any, error)                     { return nextTempString(), nil }

type stringKind struct{}

func (stringKind) Parse(_ *Property, raw any) (any, error) {
	if raw == nil {
		return nil, nil
	}
	return stringify(raw), nil
}
func (stringKind) Display(_ *Property, v any) any { return v }
func (stringKind) Submit(_ *Property, v any) any  { return v }
func (stringKind) Empty() any                     { return "" }
func (stringKind) NewID() (any, error)            { return nextTempString(), nil }

// toFloat coerces numbers and numeric strings. Non-numeric input yields 0.
func toFloat(raw any) float64 {
	switch v := raw.(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int8:
		return float64(v)
	case int16:
		return float64(v)
	case int32:
		return float64(v)
	case int64:
		return float64(v)
	case uint:
		return float64(v)
	case uint8:
		return float64(v)
	case uint16:
		return float64(v)
	case uint32:
		return float64(v)
	case uint64:
		return float64(v)
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0
		}
		return f
	case bool:
		if v {
			return 1
		}
		return 0
	case string:
		s := strings.TrimSpace(strings.ReplaceAll(v, ",", ""))
		s = strings.TrimPrefix(s, "$")
		s = strings.TrimSuffix(s, "%")
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}

func toInt64(raw any) int64 {
	switch v := raw.(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case int32:
		return int64(v)
	default:
		return int64(toFloat(raw))
	}
}

type intKind struct{}

func (intKind) Parse(p *Property, raw any) (any, error) {
	if isBlank(raw) {
		if p.AllowNull() {
			return nil, nil
		}
		return int64(0), nil
	}
	switch raw.(type) {
	case int, int32, int64:
		return toInt64(raw), nil
	}
	f := toFloat(raw)
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return int64(0), nil
	}
	return int64(f), nil
}
func (intKind) Display(_ *Property, v any) any { return strconv.FormatInt(toInt64(v), 10) }
func (intKind) Submit(_ *Property, v any) any  { return v }
func (intKind) Empty() any                     { return int64(0) }
func (intKind) NewID() (any, error)            { return nextTempInt(), nil }

type floatKind struct {
	precision int
}

func (k floatKind) defaultPrecision() int { return k.precision }

func (floatKind) Parse(p *Property, raw any) (any, error) {
	if isBlank(raw) {
		if p.AllowNull() {
			return nil, nil
		}
		return float64(0), nil
	}
	f := toFloat(raw)
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return float64(0), nil
	}
	return f, nil
}
func (floatKind) Display(p *Property, v any) any {
	return strconv.FormatFloat(toFloat(v), 'f', p.Precision(), 64)
}
func (floatKind) Submit(p *Property, v any) any {
	pow := math.Pow(10, float64(p.Precision()))
	return math.Round(toFloat(v)*pow) / pow
}
func (floatKind) Empty() any          { return float64(0) }
func (floatKind) NewID() (any, error) { return nil, ErrNoIDGenerator }

type currencyKind struct {
	floatKind
}

func (currencyKind) Display(p *Property, v any) any {
	f := toFloat(v)
	format := "#,###." + strings.Repeat("#", max(p.Precision(), 0))
	if f < 0 {
		return "-$" + humanize.FormatFloat(format, -f)
	}
	return "$" + humanize.FormatFloat(format, f)
}

type percentKind struct {
	floatKind
}

func (percentKind) Display(p *Property, v any) any {
	return strconv.FormatFloat(toFloat(v), 'f', p.Precision(), 64) + "%"
}

type boolKind struct{}

func (boolKind) Parse(p *Property, raw any) (any, error) {
	if isBlank(raw) {
		if p.AllowNull() {
			return nil, nil
		}
		return false, nil
	}
	switch v := raw.(type) {
	case bool:
		return v, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "t", "1", "yes", "y", "on":
			return true, nil
		default:
			return false, nil
		}
	default:
		return toFloat(raw) != 0, nil
	}
}
func (boolKind) Display(_ *Property, v any) any {
	if b, _ := v.(bool); b {
		return "Yes"
	}
	return "No"
}
func (boolKind) Submit(_ *Property, v any) any { return v }
func (boolKind) Empty() any                    { return false }
func (boolKind) NewID() (any, error)           { return nil, ErrNoIDGenerator }

// dateLayouts are tried in order when parsing date-like strings.
var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	DateTimeSubmitLayout,
	DateSubmitLayout,
	DateTimeDisplayLayout,
	DateDisplayLayout,
	TimeSubmitLayout,
	"15:04",
}

type dateKind struct {
	submit  string
	display string
}

func (dateKind) Parse(_ *Property, raw any) (any, error) {
	if isBlank(raw) {
		return nil, nil
	}
	switch v := raw.(type) {
	case time.Time:
		return v, nil
	case string:
		s := strings.TrimSpace(v)
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t, nil
			}
		}
		return nil, fmt.Errorf("%w: %q is not a date", ErrUnparsable, s)
	case int, int64, float64, json.Number:
		return time.UnixMilli(int64(toFloat(v))).UTC(), nil
	default:
		return nil, fmt.Errorf("%w: %T is not a date", ErrUnparsable, raw)
	}
}
func (k dateKind) Display(_ *Property, v any) any { return formatTime(v, k.display) }
func (k dateKind) Submit(_ *Property, v any) any  { return formatTime(v, k.submit) }

func formatTime(v any, layout string) any {
	t, ok := v.(time.Time)
	if !ok {
		return stringify(v)
	}
	return t.Format(layout)
}
func (dateKind) Empty() any          { return nil }
func (dateKind) NewID() (any, error) { return nil, ErrNoIDGenerator }

type jsonKind struct{}

func (jsonKind) Parse(_ *Property, raw any) (any, error) {
	s, ok := raw.(string)
	if !ok {
		return raw, nil
	}
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnparsable, err)
	}
	return v, nil
}
func (jsonKind) Display(_ *Property, v any) any {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}
func (jsonKind) Submit(_ *Property, v any) any { return v }
func (jsonKind) Empty() any                    { return nil }
func (jsonKind) NewID() (any, error)           { return nil, ErrNoIDGenerator }

type uuidKind struct{}

func (uuidKind) Parse(_ *Property, raw any) (any, error) {
	if isBlank(raw) {
		return nil, nil
	}
	s := stringify(raw)
	if _, err := uuid.Parse(s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnparsable, err)
	}
	return s, nil
}
func (uuidKind) Display(_ *Property, v any) any { return v }
func (uuidKind) Submit(_ *Property, v any) any  { return v }
func (uuidKind) Empty() any                     { return "" }

// NewID returns a time-sortable UUIDv7.
func (uuidKind) NewID() (any, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, err
	}
	return id.String(), nil
}

type ulidKind struct{}

func (ulidKind) Parse(_ *Property, raw any) (any, error) {
	if isBlank(raw) {
		return nil, nil
	}
	s := stringify(raw)
	if _, err := ulid.ParseStrict(s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnparsable, err)
	}
	return s, nil
}
func (ulidKind) Display(_ *Property, v any) any { return v }
func (ulidKind) Submit(_ *Property, v any) any  { return v }
func (ulidKind) Empty() any                     { return "" }
func (ulidKind) NewID() (any, error)            { return ulid.Make().String(), nil }
