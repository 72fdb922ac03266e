// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package main

import (
	"math"
	"os"
	"strconv"
)

// typical size of one cached listing
const listingBytes = 16 * 1024

var catalogBudget int = calcCatalogBudget()

func calcCatalogBudget() int {
	if e := os.Getenv("AZIPMB"); e != "" {
		f, err := strconv.ParseFloat(e, 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
			panic("malformed AZIPMB environment variable, should be a number of megabytes: " + e)
		}
		return int(f * 1024 * 1024)
	}
	return 64 * 1024 * 1024 // fall back on 64MiB
}

func catalogListings() int {
	return max(catalogBudget/listingBytes, 1)
}
