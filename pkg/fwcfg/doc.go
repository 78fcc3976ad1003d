// Package fwcfg implements the QEMU firmware configuration (fw_cfg) interface
// over the legacy I/O port pair.
//
// A Client talks to fw_cfg through a portio.Port: a 16-bit write to the
// selector port chooses an item and resets its read offset; each byte read
// from the data port returns the next byte of the item. Named items are
// found through the big-endian file directory at KeyFileDir.
//
// Device is the emulated counterpart used by the simulator and by tests. It
// serves a file table, regenerates the directory on demand and supports
// writable files with completion callbacks, which is how the SMI feature
// negotiation files are modelled.
package fwcfg
