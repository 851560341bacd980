// Command sqpbench runs the SQP solver on the Rosenbrock benchmark problem
// and optionally records iteration history to a sqlite database.
package main

import (
	"database/sql"
	"flag"
	"fmt"
	"log"

	_ "modernc.org/sqlite"

	"github.com/vruge/sqp"
	"github.com/vruge/sqp/bench"
	"github.com/vruge/sqp/boxqp"
)

var (
	dbpath = flag.String("db", "", "sqlite file to record iteration history to")
	exact  = flag.Bool("exact", false, "use the exact Lagrangian Hessian instead of BFGS")
)

func main() {
	flag.Parse()

	var db *sql.DB
	if *dbpath != "" {
		var err error
		db, err = sql.Open("sqlite", *dbpath)
		if err != nil {
			log.Fatal(err)
		}
		defer db.Close()
	}

	rosen := bench.Rosenbrock{}
	opts := []sqp.Option{sqp.QP(boxqp.New)}
	if *exact {
		opts = append(opts, sqp.Exact(rosen.Hessian()), sqp.Regularize())
	}
	if db != nil {
		opts = append(opts, sqp.DB(db))
	}

	obj := sqp.NewCachedFunc(rosen.Objective())
	s, err := sqp.New(obj, nil, opts...)
	if err != nil {
		log.Fatal(err)
	}

	res, err := s.Solve(&sqp.Problem{X0: rosen.Start()})
	if err != nil {
		log.Fatal(err)
	}

	xopt, fopt := rosen.Optimum()
	fmt.Printf("%v: %v in %v iterations\n", rosen.Name(), res.Status, res.IterCount)
	fmt.Printf("    f = %v (optimum %v)\n", res.F, fopt)
	fmt.Printf("    x = %v (optimum %v)\n", res.X, xopt)
}
