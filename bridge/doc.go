// Package bridge connects the firmware to the WebAssembly interpreter.
//
// A Bridge owns the memory arena, the host function table and exactly one
// interpreter runtime holding one guest instance. It moves through a fixed
// sequence of states:
//
//	Uninitialized → ArenaReady → RegistryReady → ModuleLoaded → Instantiated → Running → Halted
//	                                                                                     ↘ Trapped
//
// Each operation is valid in exactly one state and fails with KindInvalidState
// anywhere else. Failures that leave nothing to recover move the bridge to
// Trapped and are kept as its Fault. Unresolved imports are the exception:
// they are reported without a transition, leaving the bridge in ModuleLoaded.
//
// Guest linear memory is placed in the arena through wazero's
// experimental.MemoryAllocator, so the guest never touches memory the firmware
// did not account for.
package bridge
