// Package host holds the firmware's host function table.
//
// Functions are registered during boot, before any guest code exists, into a
// table of fixed capacity. Freeze sorts the table and makes it read-only;
// after that every lookup is a binary search and no entry moves, so the
// interpreter can keep references into it for the lifetime of the instance.
//
//	reg := host.NewRegistry(32)
//	_ = reg.Register("env", "increment", host.Sig([]api.ValueType{api.ValueTypeI32}, api.ValueTypeI32),
//		func(_ context.Context, _ api.Module, stack []uint64) {
//			stack[0] = uint64(uint32(stack[0]) + 1)
//		})
//	reg.Freeze()
//
// The package also provides bounds-checked accessors for guest linear
// memory. Host functions must use them for every guest pointer they receive.
package host
