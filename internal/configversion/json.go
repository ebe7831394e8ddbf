package configversion

import (
	"encoding/json"
	"reflect"
)

func jsonUnmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func deepEqualJSON(a, b any) bool {
	return reflect.DeepEqual(a, b)
}
