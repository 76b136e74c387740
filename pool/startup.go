// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package pool

import (
	"github.com/molecula/searchcore/config"
	"github.com/molecula/searchcore/logger"
	"github.com/shirou/gopsutil/v3/cpu"
)

// Well-known pool identifiers, assigned at startup by StartupPools. Stable
// for the process lifetime.
var (
	Search ID = -1
	Index  ID = -1
)

// StartupPools creates the two well-known pools per spec.md section 4.A's
// startup contract: a search pool of the configured fixed size, and an
// index pool sized to the number of online processors unless the config
// disables auto-sizing, in which case a configured fallback is used.
//
// The original implementation used sysconf(_SC_NPROCESSORS_ONLN); this
// port uses gopsutil's cpu.Counts(true), matching how the project's own
// gopsutil-backed SystemInfo reports host capacity elsewhere.
func StartupPools(reg *Registry, cfg *config.Config) (search, index ID) {
	search = reg.CreatePool(cfg.SearchPoolSize)
	logStartup(reg.logger, "search", search, cfg.SearchPoolSize)

	numProcs := 0
	if !cfg.PoolSizeNoAuto {
		if n, err := cpu.Counts(true); err == nil {
			numProcs = n
		}
	}
	if numProcs < 1 {
		numProcs = cfg.IndexPoolSize
	}
	index = reg.CreatePool(numProcs)
	logStartup(reg.logger, "index", index, numProcs)

	Search, Index = search, index
	return search, index
}

// logStartup is a small helper so StartupPools' two pool-creation log lines
// read the same way regardless of caller.
func logStartup(l logger.Logger, name string, id ID, n int) {
	if l == nil {
		l = logger.NopLogger
	}
	l.Infof("pool: started %s pool (id=%d) with %d threads", name, id, n)
}
