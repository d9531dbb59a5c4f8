/*
Package compiler turns the analyzer's typed tree into a native module.

	Typed Tree (ast) ->
		build ->
	MIR with reference counting (mir) ->
		finalize ->
	Finalized MIR ->
		back ->
	LLVM Module (llir)

The finalized MIR can also be executed by the reference interpreter (vm)
or printed (format).
*/
package compiler
