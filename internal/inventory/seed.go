package inventory

import (
	"fmt"
	"strings"
)

type catalogEntry struct {
	name      string
	threshold int
}

var catalog = []catalogEntry{
	{"Motia Smartwatch V2", 15},
	{"Motia IoT Sensor Kit", 10},
	{"Motia Pro Headset", 20},
	{"Motia AI Dev Board", 5},
}

var storeStock = map[string][]int{
	"X": {50, 30, 25, 15},
	"Y": {35, 18, 12, 9},
	"Z": {70, 45, 33, 22},
}

// DemoCatalog returns the demo stock for the given stores. Stores without a
// preset level get the levels of store X.
func DemoCatalog(stores []string) []Record {
	var out []Record
	for _, s := range stores {
		levels, ok := storeStock[s]
		if !ok {
			levels = storeStock["X"]
		}
		for i, c := range catalog {
			status := StatusActive
			if levels[i] == 0 {
				status = StatusOutOfStock
			}
			out = append(out, Record{
				StoreID:     s,
				ProductName: c.name,
				ProductID:   fmt.Sprintf("prod-%s-%03d", strings.ToLower(s), i+1),
				Stock:       levels[i],
				Threshold:   c.threshold,
				Status:      status,
			})
		}
	}
	return out
}
