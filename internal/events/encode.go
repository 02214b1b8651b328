package events

import "encoding/json"

func encode(e Event) ([]byte, error) {
	return json.Marshal(e)
}
