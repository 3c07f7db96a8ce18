package domain

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
)

// NoteCustomerID is the order note that carries the wallet owner through
// the gateway and back in its webhooks.
const NoteCustomerID = "customer_id"

// CustomerFromNotes reads the customer id from order notes or metadata.
func CustomerFromNotes(notes map[string]any) (snowflake.ID, error) {
	raw := readNote(notes, NoteCustomerID)
	if raw == "" {
		return 0, ErrInvalidCustomer
	}
	id, err := snowflake.ParseString(raw)
	if err != nil || id == 0 {
		return 0, ErrInvalidCustomer
	}
	return id, nil
}

func readNote(notes map[string]any, key string) string {
	if notes == nil {
		return ""
	}
	value, ok := notes[key]
	if !ok {
		return ""
	}
	switch cast := value.(type) {
	case string:
		return strings.TrimSpace(cast)
	case float64:
		if cast == 0 {
			return ""
		}
		return strconv.FormatInt(int64(cast), 10)
	case json.Number:
		return cast.String()
	case int64:
		return strconv.FormatInt(cast, 10)
	case int:
		return strconv.Itoa(cast)
	}
	return ""
}

// UnixTime picks the first non-zero unix timestamp, falling back to now.
func UnixTime(values ...int64) time.Time {
	for _, v := range values {
		if v != 0 {
			return time.Unix(v, 0).UTC()
		}
	}
	return time.Now().UTC()
}
