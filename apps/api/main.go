package main

import (
	"flag"
)

func main() {
	di := flag.String("di", "manual", "dependency injection: manual|dig")
	inmem := flag.Bool("inmem", false, "keep data in memory instead of postgres")
	flag.Parse()

	if *di == "dig" {
		startWithDig(*inmem)
		return
	}
	startManual(*inmem)
}
