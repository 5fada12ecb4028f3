package model

import (
	"github.com/rs/zerolog"

	"benchd/internal/instrument"
)

// RegisterBuiltins installs the reference plugins. The lifecycle plugin
// takes its bench and record store from Deps at run time; the legacy
// plugin closes over the shared bench because its fixed call shape has no
// dependency slot.
func RegisterBuiltins(r *Registry, bench *instrument.Bench, log zerolog.Logger) {
	r.Register("ModelC", NewModelC)
	r.RegisterLegacy("ModelA", NewModelARun(bench, log))
}
