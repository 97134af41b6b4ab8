package zbd

import (
	"github.com/davecgh/go-spew/spew"
	"github.com/go-logr/logr"
)

// discardLogger is used by every constructor that doesn't receive an
// explicit logr.Logger, matching logr's own convention that a silent
// default beats a nil panic.
var discardLogger = logr.Discard()

// dumpTable renders a ZoneTable's zones with go-spew for V(2) debug
// logging. Kept cheap to call: only invoked behind a log.V(2).Enabled()
// guard by callers, since spew.Sdump walks every field reflectively.
func dumpTable(zt *ZoneTable) string {
	cfg := spew.ConfigState{
		Indent:                  "  ",
		DisablePointerAddresses: true,
		DisableCapacities:       true,
	}
	return cfg.Sdump(zt)
}
