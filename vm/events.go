package vm

import (
	"github.com/govm-net/mvm/core"
)

// Event topics published on the coordinator bus
const (
	TopicModulePublished = "vm:module_published"
	TopicStdlibUpdated   = "vm:stdlib_updated"
	TopicScriptExecuted  = "vm:script_executed"
	TopicScriptFailed    = "vm:script_failed"
)

// ModulePublished is delivered once per module of a committed publish
type ModulePublished struct {
	Module  core.ModuleID
	Hash    [32]byte
	Version uint64
}

// StdlibUpdated is delivered after a committed stdlib upgrade
type StdlibUpdated struct {
	Modules []core.ModuleID
	Version uint64
}

// ScriptExecuted is delivered after an execution, successful or not
type ScriptExecuted struct {
	Signer   core.Address
	Module   core.ModuleID
	Function string
	Receipt  Receipt
}

func (c *Coordinator) emit(topic string, event any) {
	if c.bus == nil {
		return
	}
	c.bus.Publish(topic, event)
}
