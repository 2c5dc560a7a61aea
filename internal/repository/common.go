package repository

import "database/sql"

// sqlNoRows is the sentinel bun returns (via database/sql) when a Scan
// matches zero rows; find-by-X methods translate it into a (nil, nil)
// not-found result rather than surfacing it as an error.
var sqlNoRows = sql.ErrNoRows
