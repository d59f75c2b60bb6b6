package normalize

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"github.com/roach88/auditchain/internal/ir"
)

// toIRValue converts one metadata value. keep is false for nil, which the
// caller drops.
func toIRValue(v any) (val ir.IRValue, keep bool, err error) {
	switch x := v.(type) {
	case nil:
		return nil, false, nil
	case string:
		if !utf8.ValidString(x) {
			return nil, false, fmt.Errorf("invalid UTF-8 string")
		}
		return ir.IRString(x), true, nil
	case bool:
		return ir.IRBool(x), true, nil
	case int:
		return ir.IRString(strconv.FormatInt(int64(x), 10)), true, nil
	case int8:
		return ir.IRString(strconv.FormatInt(int64(x), 10)), true, nil
	case int16:
		return ir.IRString(strconv.FormatInt(int64(x), 10)), true, nil
	case int32:
		return ir.IRString(strconv.FormatInt(int64(x), 10)), true, nil
	case int64:
		return ir.IRString(strconv.FormatInt(x, 10)), true, nil
	case uint:
		return ir.IRString(strconv.FormatUint(uint64(x), 10)), true, nil
	case uint8:
		return ir.IRString(strconv.FormatUint(uint64(x), 10)), true, nil
	case uint16:
		return ir.IRString(strconv.FormatUint(uint64(x), 10)), true, nil
	case uint32:
		return ir.IRString(strconv.FormatUint(uint64(x), 10)), true, nil
	case uint64:
		return ir.IRString(strconv.FormatUint(x, 10)), true, nil
	case float32:
		return floatValue(float64(x))
	case float64:
		return floatValue(x)
	case json.Number:
		d, err := decimal.NewFromString(string(x))
		if err != nil {
			return nil, false, fmt.Errorf("invalid number %q", string(x))
		}
		return ir.IRString(d.String()), true, nil
	case decimal.Decimal:
		return ir.IRString(x.String()), true, nil
	case *decimal.Decimal:
		if x == nil {
			return nil, false, nil
		}
		return ir.IRString(x.String()), true, nil
	case time.Time:
		return ir.IRString(ir.FormatTimestamp(x)), true, nil
	case []string:
		arr := make(ir.IRArray, 0, len(x))
		for _, s := range x {
			elem, _, err := toIRValue(s)
			if err != nil {
				return nil, false, err
			}
			arr = append(arr, elem)
		}
		return arr, true, nil
	case []any:
		arr := make(ir.IRArray, 0, len(x))
		for i, e := range x {
			elem, keep, err := toIRValue(e)
			if err != nil {
				return nil, false, fmt.Errorf("[%d]: %w", i, err)
			}
			if keep {
				arr = append(arr, elem)
			}
		}
		return arr, true, nil
	case map[string]string:
		obj := make(ir.IRObject, len(x))
		for k, s := range x {
			if !utf8.ValidString(k) {
				return nil, false, fmt.Errorf("invalid UTF-8 key")
			}
			elem, _, err := toIRValue(s)
			if err != nil {
				return nil, false, fmt.Errorf("%s: %w", k, err)
			}
			obj[k] = elem
		}
		return obj, true, nil
	case map[string]any:
		obj, err := toIRObject(x)
		if err != nil {
			return nil, false, err
		}
		return obj, true, nil
	default:
		return nil, false, fmt.Errorf("unsupported value of type %T", v)
	}
}

func floatValue(f float64) (ir.IRValue, bool, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, false, fmt.Errorf("non-finite number %v", f)
	}
	return ir.IRString(decimal.NewFromFloat(f).String()), true, nil
}

// toIRObject converts a metadata map, dropping nil values.
func toIRObject(m map[string]any) (ir.IRObject, error) {
	obj := make(ir.IRObject, len(m))
	for k, v := range m {
		if !utf8.ValidString(k) {
			return nil, fmt.Errorf("invalid UTF-8 key %q", k)
		}
		val, keep, err := toIRValue(v)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", k, err)
		}
		if keep {
			obj[k] = val
		}
	}
	return obj, nil
}
