package source

import "fmt"

func toInt(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case uint64:
		return int(n), nil
	case uint32:
		return int(n), nil
	case float64:
		return int(n), nil
	default:
		return 0, fmt.Errorf("unsupported int type %T", v)
	}
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case uint64:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("unsupported float type %T", v)
	}
}

func asStringMap(value any) (map[string]any, bool) {
	switch m := value.(type) {
	case map[string]any:
		return m, true
	case map[any]any:
		out := make(map[string]any, len(m))
		for k, v := range m {
			key, ok := k.(string)
			if !ok {
				return nil, false
			}
			out[key] = v
		}
		return out, true
	default:
		return nil, false
	}
}

func decodeHeader(value any) map[string][]float64 {
	block, ok := asStringMap(value)
	if !ok {
		return nil
	}
	header := make(map[string][]float64, len(block))
	for key, raw := range block {
		items, ok := raw.([]any)
		if !ok {
			continue
		}
		values := make([]float64, 0, len(items))
		for _, item := range items {
			v, err := toFloat(item)
			if err != nil {
				values = nil
				break
			}
			values = append(values, v)
		}
		if values != nil {
			header[key] = values
		}
	}
	if len(header) == 0 {
		return nil
	}
	return header
}
