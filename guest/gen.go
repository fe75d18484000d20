//go:build ignore

// gen assembles heartbeat.wasm.
package main

import (
	"log"
	"os"

	"github.com/wippyai/wasm-firmware/image"
)

func main() {
	i32 := []image.ValType{image.I32}
	banner := []byte("wasm firmware up\n")

	mb := image.NewBuilder()
	uart := mb.ImportFunc("env", "uart_write", image.Sig([]image.ValType{image.I32, image.I32}, image.I32))
	led := mb.ImportFunc("env", "led_set", image.Sig(i32))
	heartbeat := mb.ImportFunc("env", "heartbeat", image.Sig(nil, image.I32))
	mb.Memory(1, 1)
	mb.Data(16, banner)

	// locals: 0 beats sent, 1 led state
	run := mb.Func(image.Sig(nil, image.I32), []image.ValType{image.I32, image.I32}, image.Body(
		image.I32Const(16), image.I32Const(int32(len(banner))), image.Call(uart), image.Op(image.OpDrop),
		image.Loop(
			image.LocalGet(1), image.Op(image.OpI32Eqz), image.LocalTee(1), image.Call(led),
			image.Call(heartbeat), image.Op(image.OpDrop),
			image.LocalGet(0), image.I32Const(1), image.Op(image.OpI32Add), image.LocalTee(0),
			image.I32Const(3), image.Op(image.OpI32LtU), image.BrIf(0),
		),
		image.LocalGet(0),
	))
	mb.ExportMemory("memory")
	mb.ExportFunc("run", run)

	if err := os.WriteFile("heartbeat.wasm", mb.Bytes(), 0o644); err != nil {
		log.Fatal(err)
	}
}
