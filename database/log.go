package database

import (
	"database/sql"

	"github.com/apex/log"
)

// logResult reports a failed statement, or a statement that affected no
// rows when one was expected.
func logResult(msgPrefix string, r sql.Result, e error, expectRows bool) {
	if e != nil {
		log.Errorf("%s: query failed: %v", msgPrefix, e)
		return
	}
	rows, err := r.RowsAffected()
	if err != nil {
		log.Errorf("%s: failed to get the number of affected rows: %v", msgPrefix, err)
		return
	}
	if rows == 0 && expectRows {
		log.Warnf("%s: no rows affected", msgPrefix)
	}
}
