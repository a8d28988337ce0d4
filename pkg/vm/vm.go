// Package vm executes assembled programs one instruction per step, with
// full visibility into registers, the stack, and attached devices. It is
// the reference for what emitted programs actually do.
package vm

import (
	"fmt"
	"math"

	"github.com/basc-lang/basc/pkg/asm"
	"github.com/basc-lang/basc/pkg/config"
	"github.com/basc-lang/basc/pkg/ir"
)

type Status int

const (
	StatusIdle Status = iota
	StatusRunning
	StatusYielded
	StatusHalted  // ran to completion or executed halt
	StatusErrored // a runtime fault stopped execution
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusRunning:
		return "running"
	case StatusYielded:
		return "yielded"
	case StatusHalted:
		return "halted"
	case StatusErrored:
		return "errored"
	}
	return "unknown"
}

// Machine is one simulated controller. Zero devices are connected until
// the caller wires them; the housing always exists and also sits on the
// network.
type Machine struct {
	cfg     *config.Config
	regs    []float64
	sp      float64
	ra      float64
	stack   []float64
	pins    []*Device
	housing *Device
	network []*Device

	prog   *asm.Listing
	pc     int
	status Status
	err    error
	sleep  float64
	ticks  int
}

func NewMachine(cfg *config.Config) *Machine {
	m := &Machine{
		cfg:     cfg,
		regs:    make([]float64, cfg.Registers),
		ra:      -1,
		stack:   make([]float64, cfg.StackSlots),
		pins:    make([]*Device, cfg.Pins),
		housing: NewDevice(0, 0),
	}
	m.network = append(m.network, m.housing)
	return m
}

// LoadProgram assembles text into the machine and resets execution state.
func (m *Machine) LoadProgram(text string) error {
	listing, err := asm.Parse(text)
	if err != nil {
		return err
	}
	m.prog = listing
	m.Reset()
	return nil
}

// Reset clears registers, the stack, and the program counter. Device
// state is left alone.
func (m *Machine) Reset() {
	for i := range m.regs {
		m.regs[i] = 0
	}
	for i := range m.stack {
		m.stack[i] = 0
	}
	m.sp = 0
	m.ra = -1
	m.pc = 0
	m.status = StatusIdle
	m.err = nil
	m.sleep = 0
	m.ticks = 0
}

// ConnectPin attaches a device to a cable pin and puts it on the network.
func (m *Machine) ConnectPin(pin int, d *Device) error {
	if pin < 0 || pin >= len(m.pins) {
		return fmt.Errorf("pin d%d does not exist", pin)
	}
	m.pins[pin] = d
	m.network = append(m.network, d)
	return nil
}

// AddNetworkDevice puts a device on the network without a pin, reachable
// only through batch instructions.
func (m *Machine) AddNetworkDevice(d *Device) {
	m.network = append(m.network, d)
}

func (m *Machine) Housing() *Device { return m.housing }
func (m *Machine) Pin(n int) *Device {
	if n < 0 || n >= len(m.pins) {
		return nil
	}
	return m.pins[n]
}

func (m *Machine) PC() int          { return m.pc }
func (m *Machine) Status() Status   { return m.status }
func (m *Machine) Err() error       { return m.err }
func (m *Machine) Ticks() int       { return m.ticks }
func (m *Machine) Sleeping() bool   { return m.sleep > 0 }
func (m *Machine) SP() int          { return int(m.sp) }
func (m *Machine) RA() float64      { return m.ra }
func (m *Machine) Reg(n int) float64 {
	if n >= 0 && n < len(m.regs) {
		return m.regs[n]
	}
	return 0
}
func (m *Machine) StackSlot(n int) float64 {
	if n >= 0 && n < len(m.stack) {
		return m.stack[n]
	}
	return 0
}

// Runnable reports whether Step can still make progress.
func (m *Machine) Runnable() bool {
	return m.status == StatusIdle || m.status == StatusRunning || m.status == StatusYielded
}

// Run steps until the program halts, faults, or maxTicks elapse. It
// resumes through yields and sleeps; callers wanting tick-accurate
// cooperative scheduling drive Step themselves.
func (m *Machine) Run(maxTicks int) error {
	for i := 0; i < maxTicks && m.Runnable(); i++ {
		m.Step()
	}
	return m.err
}

// Step executes one instruction, or burns one tick of a pending sleep.
// It returns true while the machine can keep going.
func (m *Machine) Step() bool {
	if !m.Runnable() {
		return false
	}
	m.status = StatusRunning
	m.ticks++

	if m.sleep > 0 {
		m.sleep--
		return true
	}
	if m.prog == nil || m.pc < 0 || m.pc >= len(m.prog.Instrs) {
		m.status = StatusHalted
		return false
	}

	in := m.prog.Instrs[m.pc]
	m.pc++
	if err := m.exec(in); err != nil {
		m.err = fmt.Errorf("line %d: %s: %w", in.Line, in.Raw, err)
		m.status = StatusErrored
		return false
	}
	return m.Runnable()
}

func (m *Machine) exec(in asm.Instr) error {
	switch in.Op.Kind() {
	case ir.KindMove:
		v, err := m.val(in, 1)
		if err != nil {
			return err
		}
		return m.setReg(in, 0, v)
	case ir.KindArith, ir.KindCompare:
		return m.execALU(in)
	case ir.KindBranch:
		return m.execBranch(in)
	case ir.KindJump:
		return m.execJump(in)
	case ir.KindDeviceRead:
		return m.execRead(in)
	case ir.KindDeviceWrite:
		return m.execWrite(in)
	case ir.KindStack:
		return m.execStack(in)
	case ir.KindControl:
		return m.execControl(in)
	}
	return fmt.Errorf("instruction cannot execute")
}

// Arithmetic follows the float semantics of the hardware: division by
// zero and overflow produce infinities and NaN, never faults.
func (m *Machine) execALU(in asm.Instr) error {
	a, err := m.val(in, 1)
	if err != nil {
		return err
	}
	if in.Op.IsUnary() {
		v, _ := ir.EvalUnary(in.Op, a)
		return m.setReg(in, 0, v)
	}
	b, err := m.val(in, 2)
	if err != nil {
		return err
	}
	v, _ := ir.EvalBinary(in.Op, a, b)
	return m.setReg(in, 0, v)
}

func (m *Machine) execBranch(in asm.Instr) error {
	var taken bool
	var targetArg int
	switch in.Op {
	case ir.OpBeqz, ir.OpBnez:
		c, err := m.val(in, 0)
		if err != nil {
			return err
		}
		taken = (c == 0) == (in.Op == ir.OpBeqz)
		targetArg = 1
	default:
		a, err := m.val(in, 0)
		if err != nil {
			return err
		}
		b, err := m.val(in, 1)
		if err != nil {
			return err
		}
		switch in.Op {
		case ir.OpBeq:
			taken = a == b
		case ir.OpBne:
			taken = a != b
		case ir.OpBlt:
			taken = a < b
		case ir.OpBle:
			taken = a <= b
		case ir.OpBgt:
			taken = a > b
		case ir.OpBge:
			taken = a >= b
		}
		targetArg = 2
	}
	if taken {
		return m.jumpTo(in, targetArg)
	}
	return nil
}

func (m *Machine) execJump(in asm.Instr) error {
	switch in.Op {
	case ir.OpJ:
		return m.jumpTo(in, 0)
	case ir.OpJal:
		m.ra = float64(m.pc)
		return m.jumpTo(in, 0)
	case ir.OpJr:
		t, err := m.val(in, 0)
		if err != nil {
			return err
		}
		if t < 0 {
			return fmt.Errorf("RETURN without GOSUB")
		}
		m.pc = int(t)
		return nil
	}
	return nil
}

func (m *Machine) jumpTo(in asm.Instr, arg int) error {
	t, err := m.val(in, arg)
	if err != nil {
		return err
	}
	if t < 0 || t != math.Trunc(t) {
		return fmt.Errorf("jump target %s is not a line number", ir.FormatNum(t))
	}
	m.pc = int(t)
	return nil
}

func (m *Machine) execRead(in asm.Instr) error {
	switch in.Op {
	case ir.OpL:
		d, err := m.dev(in, 1)
		if err != nil {
			return err
		}
		prop, err := m.sym(in, 2)
		if err != nil {
			return err
		}
		return m.setReg(in, 0, d.read(prop))
	case ir.OpLs:
		d, err := m.dev(in, 1)
		if err != nil {
			return err
		}
		slot, err := m.val(in, 2)
		if err != nil {
			return err
		}
		prop, err := m.sym(in, 3)
		if err != nil {
			return err
		}
		v, err := d.readSlot(int(slot), prop)
		if err != nil {
			return err
		}
		return m.setReg(in, 0, v)
	case ir.OpLb:
		typ, err := m.hash(in, 1)
		if err != nil {
			return err
		}
		prop, err := m.sym(in, 2)
		if err != nil {
			return err
		}
		mode, err := m.val(in, 3)
		if err != nil {
			return err
		}
		v, err := aggregate(m.matching(typ, 0, false), prop, int(mode))
		if err != nil {
			return err
		}
		return m.setReg(in, 0, v)
	case ir.OpLbn:
		typ, err := m.hash(in, 1)
		if err != nil {
			return err
		}
		name, err := m.hash(in, 2)
		if err != nil {
			return err
		}
		prop, err := m.sym(in, 3)
		if err != nil {
			return err
		}
		mode, err := m.val(in, 4)
		if err != nil {
			return err
		}
		v, err := aggregate(m.matching(typ, name, true), prop, int(mode))
		if err != nil {
			return err
		}
		return m.setReg(in, 0, v)
	case ir.OpGet:
		d, err := m.dev(in, 1)
		if err != nil {
			return err
		}
		if d != m.housing {
			return fmt.Errorf("get addresses the housing stack only")
		}
		slot, err := m.val(in, 2)
		if err != nil {
			return err
		}
		if slot < 0 || int(slot) >= len(m.stack) {
			return fmt.Errorf("stack slot %s out of range", ir.FormatNum(slot))
		}
		return m.setReg(in, 0, m.stack[int(slot)])
	}
	return fmt.Errorf("read instruction cannot execute")
}

func (m *Machine) execWrite(in asm.Instr) error {
	switch in.Op {
	case ir.OpS:
		d, err := m.dev(in, 0)
		if err != nil {
			return err
		}
		prop, err := m.sym(in, 1)
		if err != nil {
			return err
		}
		v, err := m.val(in, 2)
		if err != nil {
			return err
		}
		return d.write(prop, v)
	case ir.OpSs:
		d, err := m.dev(in, 0)
		if err != nil {
			return err
		}
		slot, err := m.val(in, 1)
		if err != nil {
			return err
		}
		prop, err := m.sym(in, 2)
		if err != nil {
			return err
		}
		v, err := m.val(in, 3)
		if err != nil {
			return err
		}
		return d.writeSlot(int(slot), prop, v)
	case ir.OpSb:
		typ, err := m.hash(in, 0)
		if err != nil {
			return err
		}
		prop, err := m.sym(in, 1)
		if err != nil {
			return err
		}
		v, err := m.val(in, 2)
		if err != nil {
			return err
		}
		return m.writeAll(m.matching(typ, 0, false), prop, v)
	case ir.OpSbn:
		typ, err := m.hash(in, 0)
		if err != nil {
			return err
		}
		name, err := m.hash(in, 1)
		if err != nil {
			return err
		}
		prop, err := m.sym(in, 2)
		if err != nil {
			return err
		}
		v, err := m.val(in, 3)
		if err != nil {
			return err
		}
		return m.writeAll(m.matching(typ, name, true), prop, v)
	case ir.OpPut:
		d, err := m.dev(in, 0)
		if err != nil {
			return err
		}
		if d != m.housing {
			return fmt.Errorf("put addresses the housing stack only")
		}
		slot, err := m.val(in, 1)
		if err != nil {
			return err
		}
		if slot < 0 || int(slot) >= len(m.stack) {
			return fmt.Errorf("stack slot %s out of range", ir.FormatNum(slot))
		}
		v, err := m.val(in, 2)
		if err != nil {
			return err
		}
		m.stack[int(slot)] = v
		return nil
	}
	return fmt.Errorf("write instruction cannot execute")
}

func (m *Machine) writeAll(devs []*Device, prop string, v float64) error {
	if len(devs) == 0 {
		return fmt.Errorf("no devices on the network match")
	}
	for _, d := range devs {
		if err := d.write(prop, v); err != nil {
			return err
		}
	}
	return nil
}

func (m *Machine) execStack(in asm.Instr) error {
	switch in.Op {
	case ir.OpPush:
		v, err := m.val(in, 0)
		if err != nil {
			return err
		}
		if int(m.sp) >= len(m.stack) {
			return fmt.Errorf("stack overflow")
		}
		m.stack[int(m.sp)] = v
		m.sp++
	case ir.OpPop:
		if m.sp < 1 {
			return fmt.Errorf("stack underflow")
		}
		m.sp--
		return m.setReg(in, 0, m.stack[int(m.sp)])
	case ir.OpPeek:
		if m.sp < 1 {
			return fmt.Errorf("stack underflow")
		}
		return m.setReg(in, 0, m.stack[int(m.sp)-1])
	}
	return nil
}

func (m *Machine) execControl(in asm.Instr) error {
	switch in.Op {
	case ir.OpYield:
		m.status = StatusYielded
	case ir.OpSleep:
		d, err := m.val(in, 0)
		if err != nil {
			return err
		}
		if d > 0 {
			m.sleep = math.Ceil(d)
		}
	case ir.OpHalt:
		m.status = StatusHalted
	}
	return nil
}

// --- Operand access ---

func (m *Machine) arg(in asm.Instr, i int) (asm.Operand, error) {
	if i >= len(in.Args) {
		return asm.Operand{}, fmt.Errorf("missing operand %d", i)
	}
	return in.Args[i], nil
}

// val reads an operand as a number: a literal or a register's contents.
func (m *Machine) val(in asm.Instr, i int) (float64, error) {
	a, err := m.arg(in, i)
	if err != nil {
		return 0, err
	}
	switch a.Kind {
	case asm.OpdNum:
		return a.Num, nil
	case asm.OpdReg:
		return m.readReg(a.Reg)
	}
	return 0, fmt.Errorf("operand %d is not a value", i)
}

func (m *Machine) readReg(n int) (float64, error) {
	switch {
	case n == ir.SP:
		return m.sp, nil
	case n == ir.RA:
		return m.ra, nil
	case n >= 0 && n < len(m.regs):
		return m.regs[n], nil
	}
	return 0, fmt.Errorf("register r%d does not exist", n)
}

func (m *Machine) setReg(in asm.Instr, i int, v float64) error {
	a, err := m.arg(in, i)
	if err != nil {
		return err
	}
	if a.Kind != asm.OpdReg {
		return fmt.Errorf("operand %d is not a register", i)
	}
	switch {
	case a.Reg == ir.SP:
		m.sp = v
	case a.Reg == ir.RA:
		m.ra = v
	case a.Reg >= 0 && a.Reg < len(m.regs):
		m.regs[a.Reg] = v
	default:
		return fmt.Errorf("register r%d does not exist", a.Reg)
	}
	return nil
}

func (m *Machine) dev(in asm.Instr, i int) (*Device, error) {
	a, err := m.arg(in, i)
	if err != nil {
		return nil, err
	}
	if a.Kind != asm.OpdDev {
		return nil, fmt.Errorf("operand %d is not a device", i)
	}
	if a.Pin == ir.HousingPin {
		return m.housing, nil
	}
	if a.Pin < 0 || a.Pin >= len(m.pins) {
		return nil, fmt.Errorf("pin d%d does not exist", a.Pin)
	}
	d := m.pins[a.Pin]
	if d == nil {
		return nil, fmt.Errorf("no device on pin d%d", a.Pin)
	}
	return d, nil
}

func (m *Machine) sym(in asm.Instr, i int) (string, error) {
	a, err := m.arg(in, i)
	if err != nil {
		return "", err
	}
	if a.Kind != asm.OpdSym {
		return "", fmt.Errorf("operand %d is not a property name", i)
	}
	return a.Sym, nil
}

func (m *Machine) hash(in asm.Instr, i int) (int32, error) {
	v, err := m.val(in, i)
	if err != nil {
		return 0, err
	}
	return int32(int64(v)), nil
}

