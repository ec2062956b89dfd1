//go:build !queryslim

package state

import (
	"encoding/json"
	"fmt"

	"github.com/itchyny/gojq"
)

// Query runs a jq path relative to the inventory root, e.g.
// "partitions[0].uuid" or "partitions[] | select(.in_table | not) | .device".
// Every result is printed on its own line.
func (i Inventory) Query(s string) (res string, err error) {
	s = fmt.Sprintf(".%s", s)
	jsondata := map[string]interface{}{}
	var dat []byte
	dat, err = json.Marshal(i)
	if err != nil {
		return
	}
	err = json.Unmarshal(dat, &jsondata)
	if err != nil {
		return
	}
	query, err := gojq.Parse(s)
	if err != nil {
		return res, err
	}
	iter := query.Run(jsondata)
	first := true
	for {
		v, ok := iter.Next()
		if !ok {
			break
		}
		if err, ok := v.(error); ok {
			return res, err
		}
		if !first {
			res += "\n"
		}
		first = false
		res += fmt.Sprint(v)
	}
	return
}
