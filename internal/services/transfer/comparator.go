package transfer

import (
	"encoding/json"
	"reflect"
	"sort"
)

// Difference is one leaf that differs between two payload trees. Path holds
// map keys (string) and array indexes (int).
type Difference struct {
	Path   []interface{} `json:"path"`
	Local  interface{}   `json:"local"`
	Remote interface{}   `json:"remote"`
}

// Compare diffs two payloads after normalizing both through JSON, so structs,
// maps and raw JSON compare alike. A side that is not an object counts as {}.
func Compare(local, remote interface{}) ([]Difference, error) {
	lhs, err := normalizeTree(local)
	if err != nil {
		return nil, err
	}
	rhs, err := normalizeTree(remote)
	if err != nil {
		return nil, err
	}
	return compareMaps(lhs, rhs, nil), nil
}

func normalizeTree(value interface{}) (map[string]interface{}, error) {
	var data []byte
	switch v := value.(type) {
	case nil:
		return map[string]interface{}{}, nil
	case json.RawMessage:
		data = v
	case []byte:
		data = v
	default:
		var err error
		if data, err = json.Marshal(v); err != nil {
			return nil, err
		}
	}

	var tree interface{}
	if err := json.Unmarshal(data, &tree); err != nil {
		return nil, err
	}
	if m, ok := tree.(map[string]interface{}); ok {
		return m, nil
	}
	return map[string]interface{}{}, nil
}

func compareMaps(lhs, rhs map[string]interface{}, path []interface{}) []Difference {
	keys := make([]string, 0, len(lhs)+len(rhs))
	for k := range lhs {
		keys = append(keys, k)
	}
	for k := range rhs {
		if _, ok := lhs[k]; !ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	var diffs []Difference
	for _, key := range keys {
		diffs = append(diffs, compareValues(lhs[key], rhs[key], extend(path, key))...)
	}
	return diffs
}

func compareArrays(lhs, rhs []interface{}, path []interface{}) []Difference {
	n := len(lhs)
	if len(rhs) > n {
		n = len(rhs)
	}
	var diffs []Difference
	for i := 0; i < n; i++ {
		var left, right interface{}
		if i < len(lhs) {
			left = lhs[i]
		}
		if i < len(rhs) {
			right = rhs[i]
		}
		lm, lok := left.(map[string]interface{})
		rm, rok := right.(map[string]interface{})
		if lok && rok {
			diffs = append(diffs, compareMaps(lm, rm, extend(path, i))...)
			continue
		}
		if !reflect.DeepEqual(left, right) {
			diffs = append(diffs, Difference{Path: extend(path, i), Local: left, Remote: right})
		}
	}
	return diffs
}

func compareValues(left, right interface{}, path []interface{}) []Difference {
	if lm, ok := left.(map[string]interface{}); ok {
		if rm, ok := right.(map[string]interface{}); ok {
			return compareMaps(lm, rm, path)
		}
	}
	if la, ok := left.([]interface{}); ok {
		if ra, ok := right.([]interface{}); ok {
			return compareArrays(la, ra, path)
		}
	}
	if reflect.DeepEqual(left, right) {
		return nil
	}
	return []Difference{{Path: path, Local: left, Remote: right}}
}

func extend(path []interface{}, elem interface{}) []interface{} {
	next := make([]interface{}, len(path), len(path)+1)
	copy(next, path)
	return append(next, elem)
}
