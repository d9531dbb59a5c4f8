package mir

import (
	"github.com/nynrathod/mylang-sub000/compiler/tp"
)

type (
	Program struct {
		Funcs []*Func

		// Globals is the straight-line global initializer.
		Globals []Instr

		// Fini lists global heap bindings released when main finishes.
		Fini []string `tlog:",omitempty"`

		Types []TypeDecl `tlog:",omitempty"`
	}

	TypeDecl struct {
		Name     string
		Fields   []Field  `tlog:",omitempty"`
		Variants []string `tlog:",omitempty"`
	}

	Field struct {
		Name string
		Type tp.Type
	}

	Func struct {
		Name string

		Params     []string
		ParamTypes []tp.Type
		Ret        *tp.Type `tlog:",omitempty"`

		Blocks []*Block

		// Synthetic functions are produced by the builder, not declared by user code.
		Synthetic bool `tlog:",omitempty"`
	}

	Block struct {
		Label  string
		Instrs []Instr
		Term   Term
	}

	// Instr is the closed set of MIR instructions.
	// Every consumer switches over all of them and panics on the unknown.
	Instr interface {
		Defs() []string
		Uses() []string

		instr()
	}

	Term interface {
		Instr

		Targets() []string
	}
)

// Entry is the name of the first block of every function.
const Entry = "entry"

func (f *Func) Entry() *Block {
	if len(f.Blocks) == 0 {
		return nil
	}

	return f.Blocks[0]
}

func (f *Func) Block(label string) *Block {
	for _, b := range f.Blocks {
		if b.Label == label {
			return b
		}
	}

	return nil
}

func (f *Func) BlockIndex(label string) int {
	for i, b := range f.Blocks {
		if b.Label == label {
			return i
		}
	}

	return -1
}

func (f *Func) RetType() tp.Type {
	if f.Ret == nil {
		return tp.VoidT
	}

	return *f.Ret
}

func (p *Program) Func(name string) *Func {
	for _, f := range p.Funcs {
		if f.Name == name {
			return f
		}
	}

	return nil
}

func (b *Block) Terminated() bool { return b.Term != nil }

func (b *Block) Empty() bool { return len(b.Instrs) == 0 && b.Term == nil }

// Code returns block instructions followed by the terminator if any.
func (b *Block) Code() []Instr {
	if b.Term == nil {
		return b.Instrs
	}

	r := make([]Instr, 0, len(b.Instrs)+1)
	r = append(r, b.Instrs...)
	r = append(r, b.Term)

	return r
}

func (b *Block) Add(x Instr) {
	if b.Term != nil {
		panic("add to terminated block " + b.Label)
	}

	b.Instrs = append(b.Instrs, x)
}

// Targets lists every label the function jumps to, with repetitions.
func (f *Func) Targets() (r []string) {
	for _, b := range f.Blocks {
		if b.Term != nil {
			r = append(r, b.Term.Targets()...)
		}
	}

	return r
}
