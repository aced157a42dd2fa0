package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/neonkingfr/UniSIMD-sub001/encoder"
	"github.com/neonkingfr/UniSIMD-sub001/operand"
)

// mnemonic maps a listing token onto the opcode and its signedness. Signed
// and unsigned division and remainder are separate mnemonics; sar is the
// arithmetic shift.
type mnemonic struct {
	op     encoder.Op
	signed bool
}

var mnemonics = map[string]mnemonic{
	"mov": {encoder.MOV, false}, "movsx": {encoder.MOVSX, true}, "movzx": {encoder.MOVZX, false},
	"not": {encoder.NOT, false}, "neg": {encoder.NEG, false},
	"and": {encoder.AND, false}, "ann": {encoder.ANN, false},
	"orr": {encoder.ORR, false}, "orn": {encoder.ORN, false}, "xor": {encoder.XOR, false},
	"add": {encoder.ADD, false}, "sub": {encoder.SUB, false},
	"shl": {encoder.SHL, false}, "shr": {encoder.SHR, false},
	"sar": {encoder.SAR, true}, "ror": {encoder.ROR, false},
	"mul":  {encoder.MUL, false},
	"udiv": {encoder.DIV, false}, "sdiv": {encoder.DIV, true},
	"urem": {encoder.REM, false}, "srem": {encoder.REM, true},
	"cmp": {encoder.CMP, false}, "scmp": {encoder.CMP, true},
}

var widthNames = map[string]encoder.Width{
	"8": encoder.E8, "16": encoder.E16, "32": encoder.E32, "64": encoder.E64,
}

var condTokens = map[string]encoder.Cond{
	"eq": encoder.CondEQ, "ne": encoder.CondNE,
	"ltu": encoder.CondLTU, "leu": encoder.CondLEU,
	"geu": encoder.CondGEU, "gtu": encoder.CondGTU,
	"lts": encoder.CondLTS, "les": encoder.CondLES,
	"ges": encoder.CondGES, "gts": encoder.CondGTS,
}

func condIsSigned(c encoder.Cond) bool {
	switch c {
	case encoder.CondLTS, encoder.CondLES, encoder.CondGES, encoder.CondGTS:
		return true
	}
	return false
}

// assemble emits every line of the listing into the session. Labels bind at
// "name:" lines and may be referenced before or after their binding; the
// session's Finalize reports any that never bind.
func assemble(sess *encoder.Session, src string) error {
	labels := make(map[string]*encoder.Label)
	label := func(name string) *encoder.Label {
		if l, ok := labels[name]; ok {
			return l
		}
		l := sess.NewLabel()
		labels[name] = l
		return l
	}

	for ln, raw := range strings.Split(src, "\n") {
		line := raw
		if i := strings.IndexAny(line, ";#"); i >= 0 {
			line = line[:i]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasSuffix(line, ":") {
			if err := sess.Bind(label(strings.TrimSuffix(line, ":"))); err != nil {
				return fmt.Errorf("line %d: %w", ln+1, err)
			}
			continue
		}
		if err := assembleLine(sess, label, line); err != nil {
			return fmt.Errorf("line %d: %q: %w", ln+1, raw, err)
		}
	}
	return nil
}

func assembleLine(sess *encoder.Session, label func(string) *encoder.Label, line string) error {
	head, rest, _ := strings.Cut(line, " ")
	var args []string
	for _, a := range strings.Split(rest, ",") {
		if a = strings.TrimSpace(a); a != "" {
			args = append(args, a)
		}
	}

	if head == "jmp" {
		if len(args) != 1 {
			return fmt.Errorf("jmp takes one label")
		}
		_, err := sess.Emit(&encoder.Descriptor{Op: encoder.JMP, Label: label(args[0])})
		return err
	}

	base, widthTok, _ := strings.Cut(head, ".")
	elem, ok := widthNames[widthTok]
	if !ok {
		return fmt.Errorf("mnemonic %q needs a width suffix", head)
	}

	if base == "cmj" {
		if len(args) != 4 {
			return fmt.Errorf("cmj takes cond, a, b, label")
		}
		cond, ok := condTokens[args[0]]
		if !ok {
			return fmt.Errorf("unknown condition %q", args[0])
		}
		a, err := parseOperand(sess, args[1], elem)
		if err != nil {
			return err
		}
		b, err := parseOperand(sess, args[2], elem)
		if err != nil {
			return err
		}
		_, err = sess.Emit(&encoder.Descriptor{
			Op: encoder.CMJ, Elem: elem, Signed: condIsSigned(cond),
			Cond: cond, Label: label(args[3]),
			Operands: []operand.Operand{a, b},
		})
		return err
	}

	mn, ok := mnemonics[base]
	if !ok {
		return fmt.Errorf("unknown mnemonic %q", base)
	}
	ops := make([]operand.Operand, len(args))
	for i, a := range args {
		o, err := parseOperand(sess, a, elem)
		if err != nil {
			return err
		}
		ops[i] = o
	}
	d := &encoder.Descriptor{Op: mn.op, Elem: elem, Signed: mn.signed, Operands: ops}
	if mn.op == encoder.MOVSX || mn.op == encoder.MOVZX {
		// width suffix names the source; the destination widens to 64 bits
		d.SrcElem = elem
		d.Elem = encoder.E64
	}
	_, err := sess.Emit(d)
	return err
}

// parseOperand reads one operand token: rN, [rN], [rN+disp], [rN-disp], or
// an integer immediate (decimal or 0x hex) at the operation width.
func parseOperand(sess *encoder.Session, tok string, elem encoder.Width) (operand.Operand, error) {
	switch {
	case strings.HasPrefix(tok, "r"):
		id, err := strconv.ParseUint(tok[1:], 10, 8)
		if err != nil {
			return operand.Operand{}, fmt.Errorf("register %q: %w", tok, err)
		}
		return sess.Reg(uint8(id))
	case strings.HasPrefix(tok, "["):
		inner := strings.TrimSuffix(strings.TrimPrefix(tok, "["), "]")
		reg, dispTok := inner, ""
		if i := strings.IndexAny(inner, "+-"); i > 0 {
			reg, dispTok = inner[:i], inner[i:]
		}
		reg = strings.TrimSpace(reg)
		if !strings.HasPrefix(reg, "r") {
			return operand.Operand{}, fmt.Errorf("memory base %q must be a register", reg)
		}
		id, err := strconv.ParseUint(reg[1:], 10, 8)
		if err != nil {
			return operand.Operand{}, fmt.Errorf("memory base %q: %w", reg, err)
		}
		var disp int64
		if dispTok != "" {
			disp, err = strconv.ParseInt(strings.ReplaceAll(dispTok, " ", ""), 0, 64)
			if err != nil {
				return operand.Operand{}, fmt.Errorf("displacement %q: %w", dispTok, err)
			}
		}
		return sess.Mem(uint8(id), disp)
	default:
		v, err := strconv.ParseInt(tok, 0, 64)
		if err != nil {
			return operand.Operand{}, fmt.Errorf("operand %q: %w", tok, err)
		}
		return sess.Imm(v, uint8(elem.Bits()))
	}
}
