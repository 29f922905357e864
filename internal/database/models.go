package database

import (
	"database/sql"
	"time"
)

// DispatchState is the single persisted record of the last scheduled
// dispatch. LastDispatchDate is a YYYY-MM-DD calendar date in the dispatch
// timezone; empty means no dispatch has happened yet.
type DispatchState struct {
	ID               int          `db:"id"`
	LastDispatchAt   sql.NullTime `db:"last_dispatch_at"`
	LastDispatchDate string       `db:"last_dispatch_date"`
	UpdatedAt        time.Time    `db:"updated_at"`
}

// Delivery is one audit row per orchestrated send (submission, links or daily).
// Message text is never stored.
type Delivery struct {
	ID        int64     `db:"id"`
	Kind      string    `db:"kind"`
	Source    string    `db:"source"`
	Outcome   string    `db:"outcome"`
	Attempts  int       `db:"attempts"`
	CreatedAt time.Time `db:"created_at"`
}
