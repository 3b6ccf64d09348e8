package sqlcgen

import "time"

type PortalItem struct {
	ID        string
	Data      []byte
	UpdatedAt time.Time
}
