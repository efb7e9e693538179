package i2c

import (
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/mklimuk/accelx"
)

type OpKind int

const (
	OpStart OpKind = iota
	OpWrite
	OpRead
	OpStop
)

func (k OpKind) String() string {
	switch k {
	case OpStart:
		return "START"
	case OpWrite:
		return "WRITE"
	case OpRead:
		return "READ"
	case OpStop:
		return "STOP"
	default:
		return fmt.Sprintf("OP(%d)", int(k))
	}
}

// Op is a single bus primitive.
type Op struct {
	Kind OpKind
	// Value is the byte shifted out by OpWrite.
	Value byte
	// AckRequired makes a missing ACK after OpWrite fail the plan.
	AckRequired bool
	// Last terminates OpRead with NACK instead of ACK.
	Last bool
}

func (o Op) String() string {
	switch o.Kind {
	case OpWrite:
		if o.AckRequired {
			return fmt.Sprintf("W%02X", o.Value)
		}
		return fmt.Sprintf("W%02X?", o.Value)
	case OpRead:
		if o.Last {
			return "RL"
		}
		return "R"
	case OpStart:
		return "S"
	case OpStop:
		return "P"
	}
	return o.Kind.String()
}

// Plan is a validated, single-use sequence of bus primitives. Plans are only
// produced by Builder.Build and cannot be modified.
type Plan struct {
	ops      []Op
	address  byte
	dir      accelx.Direction
	consumed atomic.Bool
}

// Ops returns a copy of the plan primitives in execution order.
func (p *Plan) Ops() []Op {
	out := make([]Op, len(p.ops))
	copy(out, p.ops)
	return out
}

// Address returns the 7-bit device address the plan targets.
func (p *Plan) Address() byte {
	return p.address
}

func (p *Plan) Direction() accelx.Direction {
	return p.dir
}

// WriteData returns the bytes written after the address byte.
func (p *Plan) WriteData() []byte {
	var data []byte
	for _, op := range p.ops[2:] {
		if op.Kind == OpWrite {
			data = append(data, op.Value)
		}
	}
	return data
}

// ReadLen returns the number of bytes the plan reads.
func (p *Plan) ReadLen() int {
	n := 0
	for _, op := range p.ops {
		if op.Kind == OpRead {
			n++
		}
	}
	return n
}

func (p *Plan) String() string {
	parts := make([]string, len(p.ops))
	for i, op := range p.ops {
		parts[i] = op.String()
	}
	return strings.Join(parts, " ")
}

// consume marks the plan as executed and reports whether it was still fresh.
func (p *Plan) consume() bool {
	return p.consumed.CompareAndSwap(false, true)
}

// Builder assembles a Plan. The first misuse is recorded and returned by Build.
//
//	plan, err := NewBuilder().Start().Address(0x68, accelx.Write).WriteByte(0x3B, true).Stop().Build()
type Builder struct {
	ops   []Op
	err   error
	built bool
}

func NewBuilder() *Builder {
	return &Builder{ops: make([]Op, 0, 6)}
}

func (b *Builder) Start() *Builder {
	return b.append(Op{Kind: OpStart})
}

// Address appends the address+direction byte. It must directly follow Start.
func (b *Builder) Address(address byte, dir accelx.Direction) *Builder {
	if address > accelx.MaxAddress {
		b.fail(fmt.Errorf("address %#x is not a 7-bit address", address))
		return b
	}
	return b.append(Op{Kind: OpWrite, Value: accelx.AddressByte(address, dir), AckRequired: true})
}

func (b *Builder) WriteByte(value byte, ackRequired bool) *Builder {
	return b.append(Op{Kind: OpWrite, Value: value, AckRequired: ackRequired})
}

func (b *Builder) Write(data ...byte) *Builder {
	for _, v := range data {
		b.WriteByte(v, true)
	}
	return b
}

func (b *Builder) ReadByte(last bool) *Builder {
	return b.append(Op{Kind: OpRead, Last: last})
}

// Read appends n reads, NACKing the final one.
func (b *Builder) Read(n int) *Builder {
	for i := 0; i < n; i++ {
		b.ReadByte(i == n-1)
	}
	return b
}

func (b *Builder) Stop() *Builder {
	return b.append(Op{Kind: OpStop})
}

func (b *Builder) append(op Op) *Builder {
	if b.err != nil {
		return b
	}
	if b.built {
		b.fail(fmt.Errorf("builder already produced a plan"))
		return b
	}
	b.ops = append(b.ops, op)
	return b
}

func (b *Builder) fail(err error) {
	if b.err == nil {
		b.err = err
	}
}

// Build validates the appended primitives and returns an immutable plan.
// The builder cannot be used afterwards.
func (b *Builder) Build() (*Plan, error) {
	if b.err != nil {
		return nil, fmt.Errorf("%w: %w", accelx.ErrInvalidPlan, b.err)
	}
	if b.built {
		return nil, fmt.Errorf("%w: builder already produced a plan", accelx.ErrInvalidPlan)
	}
	b.built = true
	plan, err := validate(b.ops)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", accelx.ErrInvalidPlan, err)
	}
	return plan, nil
}

func validate(ops []Op) (*Plan, error) {
	if len(ops) < 2 || ops[0].Kind != OpStart || ops[len(ops)-1].Kind != OpStop {
		return nil, fmt.Errorf("plan must begin with START and end with STOP")
	}
	body := ops[1 : len(ops)-1]
	if len(body) == 0 {
		return nil, fmt.Errorf("no operations between START and STOP")
	}
	for _, op := range body {
		if op.Kind == OpStart {
			return nil, fmt.Errorf("repeated START is not supported")
		}
		if op.Kind == OpStop {
			return nil, fmt.Errorf("STOP before end of plan")
		}
	}
	if body[0].Kind != OpWrite {
		return nil, fmt.Errorf("first operation after START must be the address byte")
	}
	addr := body[0]
	if !addr.AckRequired {
		return nil, fmt.Errorf("address byte must require an acknowledgment")
	}
	plan := &Plan{
		ops:     append([]Op(nil), ops...),
		address: addr.Value >> 1,
		dir:     accelx.Direction(addr.Value & 0x01),
	}
	data := body[1:]
	if plan.dir == accelx.Write {
		for _, op := range data {
			if op.Kind != OpWrite {
				return nil, fmt.Errorf("read after write address without restart")
			}
		}
		return plan, nil
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("read plan without read operations")
	}
	for i, op := range data {
		if op.Kind != OpRead {
			return nil, fmt.Errorf("write after read address without restart")
		}
		last := i == len(data)-1
		if op.Last != last {
			if last {
				return nil, fmt.Errorf("final read must NACK")
			}
			return nil, fmt.Errorf("read %d NACKs before the final read", i)
		}
	}
	return plan, nil
}

// WriteRegister builds START, address+W, reg, data..., STOP.
func WriteRegister(address, reg byte, data ...byte) (*Plan, error) {
	return NewBuilder().Start().Address(address, accelx.Write).WriteByte(reg, true).Write(data...).Stop().Build()
}

// ReadBytes builds START, address+R, n reads, STOP.
func ReadBytes(address byte, n int) (*Plan, error) {
	return NewBuilder().Start().Address(address, accelx.Read).Read(n).Stop().Build()
}

// Probe builds an address-only write used to detect a device.
func Probe(address byte) (*Plan, error) {
	return NewBuilder().Start().Address(address, accelx.Write).Stop().Build()
}
