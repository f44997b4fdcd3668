package classfile

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"tracejit/internal/bytecode"
	"tracejit/internal/constpool"
)

// Assemble loads a minimal textual program into a Class, standing in for
// a real JVMS .class file loader.
// The format is a line-oriented assembly: one mnemonic (and optional
// operand) per line, a trailing ':' marks a label, and ';' starts a line
// comment. Two top-level block kinds are recognized:
//
//	pool
//	  int32 12
//	  method factorial
//	end
//
//	method factorial static args=1 locals=2 stack=4
//	loop:
//	  iload_0
//	  ifeq done
//	  goto loop
//	done:
//	  return
//	end
//
// Assembly runs in two passes per method: the first pass walks the body
// tracking byte offsets so label:s resolve to absolute PCs before any
// operand bytes are emitted, and the second pass lowers each line to real
// bytecode, turning a branch's label operand into a signed relative
// offset.
func Assemble(src string) (*Class, error) {
	lines := splitLines(src)

	methodHeaders, err := scanMethodHeaders(lines)
	if err != nil {
		return nil, err
	}
	nameToIndex := make(map[string]int, len(methodHeaders))
	for idx, h := range methodHeaders {
		nameToIndex[h.name] = idx
	}

	pool, err := parsePool(lines, nameToIndex)
	if err != nil {
		return nil, err
	}

	methods := make([]*Method, len(methodHeaders))
	for idx, h := range methodHeaders {
		body, err := assembleMethodBody(h.bodyLines)
		if err != nil {
			return nil, errors.Wrapf(err, "method %s", h.name)
		}
		flags := AccessFlags(0)
		if h.static {
			flags |= AccStatic
		}
		methods[idx] = &Method{
			Name:      h.name,
			Index:     idx,
			NumArgs:   h.args,
			MaxLocals: h.locals,
			MaxStack:  h.stack,
			Flags:     flags,
			Code:      body,
		}
	}

	return &Class{Name: classNameOf(lines), Methods: methods, Pool: pool}, nil
}

func classNameOf(lines []string) string {
	for _, line := range lines {
		fields := strings.Fields(line)
		if len(fields) == 2 && fields[0] == "class" {
			return fields[1]
		}
	}
	return ""
}

var commentPattern = regexp.MustCompile(`;.*$`)

func splitLines(src string) []string {
	raw := strings.Split(src, "\n")
	out := make([]string, 0, len(raw))
	for _, line := range raw {
		out = append(out, commentPattern.ReplaceAllString(line, ""))
	}
	return out
}

type methodHeader struct {
	name      string
	static    bool
	args      int
	locals    int
	stack     int
	bodyLines []string
}

// scanMethodHeaders finds every "method ... end" block, without lowering
// bodies yet - method indices must be known before the pool block (which
// may reference a method by name) can be resolved.
func scanMethodHeaders(lines []string) ([]methodHeader, error) {
	var headers []methodHeader
	i := 0
	for i < len(lines) {
		fields := strings.Fields(lines[i])
		if len(fields) == 1 && fields[0] == "pool" {
			// A pool block's "method <name>" entries are references, not headers.
			for i < len(lines) && strings.TrimSpace(lines[i]) != "end" {
				i++
			}
			i++ // past the pool's "end"
			continue
		}
		if len(fields) == 0 || fields[0] != "method" {
			i++
			continue
		}
		h, consumed, err := parseMethodHeader(fields)
		if err != nil {
			return nil, err
		}
		i++
		start := i
		for i < len(lines) && strings.TrimSpace(lines[i]) != "end" {
			i++
		}
		if i >= len(lines) {
			return nil, errors.Errorf("method %s: missing end", h.name)
		}
		h.bodyLines = lines[start:i]
		i++ // past "end"
		_ = consumed
		headers = append(headers, h)
	}
	return headers, nil
}

func parseMethodHeader(fields []string) (methodHeader, int, error) {
	if len(fields) < 2 {
		return methodHeader{}, 0, errors.New("method directive needs a name")
	}
	h := methodHeader{name: fields[1]}
	for _, tok := range fields[2:] {
		switch {
		case tok == "static":
			h.static = true
		case strings.HasPrefix(tok, "args="):
			n, err := strconv.Atoi(strings.TrimPrefix(tok, "args="))
			if err != nil {
				return methodHeader{}, 0, errors.Wrapf(err, "method %s: args", h.name)
			}
			h.args = n
		case strings.HasPrefix(tok, "locals="):
			n, err := strconv.Atoi(strings.TrimPrefix(tok, "locals="))
			if err != nil {
				return methodHeader{}, 0, errors.Wrapf(err, "method %s: locals", h.name)
			}
			h.locals = n
		case strings.HasPrefix(tok, "stack="):
			n, err := strconv.Atoi(strings.TrimPrefix(tok, "stack="))
			if err != nil {
				return methodHeader{}, 0, errors.Wrapf(err, "method %s: stack", h.name)
			}
			h.stack = n
		default:
			return methodHeader{}, 0, errors.Errorf("method %s: unrecognized header token %q", h.name, tok)
		}
	}
	return h, len(fields), nil
}

// parsePool lowers a single "pool ... end" block into constpool entries.
// Absent entirely, an empty pool is returned - plenty of test programs
// need no literal wider than what bipush/sipush/iconst already cover.
func parsePool(lines []string, nameToIndex map[string]int) (*constpool.Pool, error) {
	start := -1
	end := -1
	for i, line := range lines {
		if strings.TrimSpace(line) == "pool" {
			start = i + 1
			continue
		}
		if start != -1 && strings.TrimSpace(line) == "end" {
			end = i
			break
		}
	}
	if start == -1 {
		return constpool.New(nil), nil
	}
	if end == -1 {
		return nil, errors.New("pool block missing end")
	}

	var entries []constpool.Entry
	for _, line := range lines[start:end] {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "int32":
			v, err := strconv.ParseInt(fields[1], 10, 32)
			if err != nil {
				return nil, errors.Wrap(err, "pool int32")
			}
			entries = append(entries, constpool.Entry{Kind: constpool.KindInt32, Bits: uint64(uint32(int32(v)))})
		case "int64":
			v, err := strconv.ParseInt(fields[1], 10, 64)
			if err != nil {
				return nil, errors.Wrap(err, "pool int64")
			}
			entries = append(entries, constpool.Entry{Kind: constpool.KindInt64, Bits: uint64(v)})
		case "float32":
			v, err := strconv.ParseFloat(fields[1], 32)
			if err != nil {
				return nil, errors.Wrap(err, "pool float32")
			}
			entries = append(entries, constpool.Entry{Kind: constpool.KindFloat32, Bits: uint64(math.Float32bits(float32(v)))})
		case "float64":
			v, err := strconv.ParseFloat(fields[1], 64)
			if err != nil {
				return nil, errors.Wrap(err, "pool float64")
			}
			entries = append(entries, constpool.Entry{Kind: constpool.KindFloat64, Bits: math.Float64bits(v)})
		case "method":
			idx, ok := nameToIndex[fields[1]]
			if !ok {
				return nil, errors.Errorf("pool method %q: no such method", fields[1])
			}
			entries = append(entries, constpool.Entry{Kind: constpool.KindMethodRef, MethodName: fields[1], MethodIndex: idx})
		default:
			return nil, errors.Errorf("pool: unrecognized entry kind %q", fields[0])
		}
	}
	return constpool.New(entries), nil
}

type asmLine struct {
	pc       int
	mnemonic string
	operand  string // raw text; meaning depends on mnemonic
}

// assembleMethodBody runs the two passes described on Assemble's doc
// comment: first track each instruction's byte offset and every label's
// target PC, then lower each instruction to bytes, resolving label
// operands into signed relative branch offsets.
func assembleMethodBody(bodyLines []string) ([]byte, error) {
	labels := make(map[string]int)
	var plan []asmLine

	pc := 0
	for _, raw := range bodyLines {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}
		if strings.HasSuffix(line, ":") {
			labels[strings.TrimSuffix(line, ":")] = pc
			continue
		}

		fields := strings.Fields(line)
		mnemonic := fields[0]
		op, ok := bytecode.Mnemonic(mnemonic)
		if !ok {
			return nil, errors.Errorf("unknown mnemonic %q", mnemonic)
		}
		operand := ""
		if len(fields) > 1 {
			operand = strings.Join(fields[1:], " ")
		}
		plan = append(plan, asmLine{pc: pc, mnemonic: mnemonic, operand: operand})
		pc += 1 + op.NumOperandBytes()
	}

	out := make([]byte, 0, pc)
	for _, l := range plan {
		op, _ := bytecode.Mnemonic(l.mnemonic)
		out = append(out, byte(op))

		body, err := encodeOperand(op, l, labels)
		if err != nil {
			return nil, err
		}
		out = append(out, body...)
	}
	return out, nil
}

func encodeOperand(op bytecode.Opcode, l asmLine, labels map[string]int) ([]byte, error) {
	switch {
	case op.IsBranch():
		target, ok := labels[l.operand]
		if !ok {
			return nil, errors.Errorf("%s: unknown label %q", l.mnemonic, l.operand)
		}
		rel := target - l.pc
		if op == bytecode.Goto_w {
			return be32Bytes(uint32(rel)), nil
		}
		return be16Bytes(uint16(int16(rel))), nil

	case op == bytecode.Iinc:
		parts := strings.Split(l.operand, ",")
		if len(parts) != 2 {
			return nil, errors.Errorf("iinc needs \"index,delta\", got %q", l.operand)
		}
		idx, err := strconv.Atoi(strings.TrimSpace(parts[0]))
		if err != nil {
			return nil, errors.Wrap(err, "iinc index")
		}
		delta, err := strconv.Atoi(strings.TrimSpace(parts[1]))
		if err != nil {
			return nil, errors.Wrap(err, "iinc delta")
		}
		return []byte{byte(idx), byte(int8(delta))}, nil

	case op == bytecode.Bipush:
		v, err := strconv.Atoi(l.operand)
		if err != nil {
			return nil, errors.Wrap(err, "bipush")
		}
		return []byte{byte(int8(v))}, nil

	case op == bytecode.Sipush:
		v, err := strconv.Atoi(l.operand)
		if err != nil {
			return nil, errors.Wrap(err, "sipush")
		}
		return be16Bytes(uint16(int16(v))), nil

	case op == bytecode.Ldc:
		v, err := strconv.Atoi(l.operand)
		if err != nil {
			return nil, errors.Wrap(err, "ldc")
		}
		return []byte{byte(v)}, nil

	case op == bytecode.Iload, op == bytecode.Lload, op == bytecode.Fload, op == bytecode.Dload,
		op == bytecode.Istore, op == bytecode.Lstore, op == bytecode.Fstore, op == bytecode.Dstore:
		v, err := strconv.Atoi(l.operand)
		if err != nil {
			return nil, errors.Wrapf(err, "%s index", l.mnemonic)
		}
		return []byte{byte(v)}, nil

	case op == bytecode.Invokestatic, op == bytecode.Invokevirtual, op == bytecode.Invokespecial:
		v, err := strconv.Atoi(l.operand)
		if err != nil {
			return nil, errors.Wrapf(err, "%s pool index", l.mnemonic)
		}
		return be16Bytes(uint16(v)), nil

	case op == bytecode.Invokeinterface:
		v, err := strconv.Atoi(l.operand)
		if err != nil {
			return nil, errors.Wrap(err, "invokeinterface pool index")
		}
		return append(be16Bytes(uint16(v)), 0, 0), nil

	default:
		return nil, nil
	}
}

func be16Bytes(v uint16) []byte { return []byte{byte(v >> 8), byte(v)} }
func be32Bytes(v uint32) []byte {
	return []byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}
}
