package sqp

import (
	"database/sql"
	"fmt"
)

// TblIters is the table iteration history is recorded to when a database
// is attached with the DB option.
const TblIters = "sqpiters"

// recorder persists one row per accepted iterate, mirroring the iteration
// log columns plus the iterate itself.
type recorder struct {
	db *sql.DB
	n  int
}

func newRecorder(db *sql.DB, n int) (*recorder, error) {
	r := &recorder{db: db, n: n}
	s := "CREATE TABLE IF NOT EXISTS " + TblIters +
		" (iter INTEGER,obj REAL,pr_inf REAL,du_inf REAL,corr_norm REAL,stepsize REAL,ls_trials INTEGER,ls_fail INTEGER"
	s += r.xdbsql("define")
	s += ");"
	if _, err := db.Exec(s); err != nil {
		return nil, fmt.Errorf("sqp: creating iteration table: %v", err)
	}
	return r, nil
}

func (r *recorder) xdbsql(op string) string {
	s := ""
	for i := 0; i < r.n; i++ {
		switch op {
		case "?":
			s += ",?"
		case "define":
			s += fmt.Sprintf(",x%v REAL", i)
		case "x":
			s += fmt.Sprintf(",x%v", i)
		default:
			panic("invalid db op " + op)
		}
	}
	return s
}

func (r *recorder) record(iter int, obj, prInf, duInf, corrNorm, step float64, lsTrials int, lsFail bool, x []float64) error {
	fail := 0
	if lsFail {
		fail = 1
	}
	s := "INSERT INTO " + TblIters + " (iter,obj,pr_inf,du_inf,corr_norm,stepsize,ls_trials,ls_fail" + r.xdbsql("x") +
		") VALUES (?,?,?,?,?,?,?,?" + r.xdbsql("?") + ");"
	args := []interface{}{iter, obj, prInf, duInf, corrNorm, step, lsTrials, fail}
	for _, v := range x {
		args = append(args, v)
	}
	if _, err := r.db.Exec(s, args...); err != nil {
		return fmt.Errorf("sqp: recording iteration %v: %v", iter, err)
	}
	return nil
}
