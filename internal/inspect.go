package internal

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// InspectRow is one badger entry as shown by the inspect endpoint.
type InspectRow struct {
	Key       string `json:"key"`
	Type      string `json:"type"`
	Timestamp string `json:"timestamp"`
	EntityID  string `json:"entity_id"`
	Detail    string `json:"detail"`
}

type RowMapper func(key string, val []byte) InspectRow

const defaultInspectLimit = 200

// InspectHandler lists the entries under ?prefix= (default "msg:") as JSON.
func InspectHandler(db *badger.DB, mapper RowMapper) http.Handler {
	if mapper == nil {
		mapper = DefaultMapper
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		prefix := r.URL.Query().Get("prefix")
		if prefix == "" {
			prefix = "msg:"
		}
		limit := defaultInspectLimit
		if n, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && n > 0 {
			limit = n
		}

		rows := []InspectRow{}
		err := db.View(func(txn *badger.Txn) error {
			it := txn.NewIterator(badger.DefaultIteratorOptions)
			defer it.Close()
			for it.Seek([]byte(prefix)); it.ValidForPrefix([]byte(prefix)) && len(rows) < limit; it.Next() {
				item := it.Item()
				err := item.Value(func(val []byte) error {
					rows = append(rows, mapper(string(item.Key()), val))
					return nil
				})
				if err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(rows)
	})
}

// DefaultMapper understands the relay keys:
// msg:{room}:{nanos}:{id}, room:{id}, member:{user}:{room}, user:{name}, user_id:{id}.
func DefaultMapper(key string, val []byte) InspectRow {
	parts := strings.Split(key, ":")
	row := InspectRow{
		Key:       key,
		Type:      strings.ToUpper(parts[0]),
		Timestamp: "--:--:--",
		EntityID:  "--------",
		Detail:    "Size: " + strconv.Itoa(len(val)) + " bytes",
	}
	switch {
	case parts[0] == "msg" && len(parts) >= 4:
		if nanos, err := strconv.ParseInt(parts[2], 10, 64); err == nil {
			row.Timestamp = time.Unix(0, nanos).UTC().Format("15:04:05")
		}
		row.EntityID = shortID(parts[3])
		row.Detail = "room " + parts[1] + ", " + row.Detail
	case parts[0] == "member" && len(parts) >= 3:
		row.EntityID = shortID(parts[2])
		row.Detail = "user " + parts[1]
	case len(parts) >= 2:
		row.EntityID = shortID(parts[1])
	}
	return row
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
