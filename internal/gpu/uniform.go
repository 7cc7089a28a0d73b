package gpu

import (
	"encoding/binary"
	"fmt"

	"github.com/chewxy/math32"
)

// UniformType is the WGSL type of a uniform block member.
type UniformType uint8

const (
	UniformInt UniformType = iota
	UniformFloat
	UniformVec3
	UniformVec4
	UniformMat4
)

// String returns the WGSL spelling of the type.
func (t UniformType) String() string {
	switch t {
	case UniformInt:
		return "i32"
	case UniformFloat:
		return "f32"
	case UniformVec3:
		return "vec3<f32>"
	case UniformVec4:
		return "vec4<f32>"
	case UniformMat4:
		return "mat4x4<f32>"
	default:
		return fmt.Sprintf("Unknown(%d)", int(t))
	}
}

// size and alignment follow the WGSL uniform address space rules.
func (t UniformType) size() int {
	switch t {
	case UniformVec3:
		return 12
	case UniformVec4:
		return 16
	case UniformMat4:
		return 64
	default:
		return 4
	}
}

func (t UniformType) align() int {
	switch t {
	case UniformVec3, UniformVec4, UniformMat4:
		return 16
	default:
		return 4
	}
}

// UniformField is one member of a uniform block.
type UniformField struct {
	Name string
	Type UniformType
}

type uniformSlot struct {
	offset int
	typ    UniformType
}

// UniformLayout maps member names to byte offsets inside a uniform block.
// The field order must match the struct declared in the shader.
type UniformLayout struct {
	fields []UniformField
	slots  map[string]uniformSlot
	size   int
}

// NewUniformLayout computes member offsets for fields in declaration order.
func NewUniformLayout(fields ...UniformField) *UniformLayout {
	l := &UniformLayout{
		fields: fields,
		slots:  make(map[string]uniformSlot, len(fields)),
	}
	off := 0
	for _, f := range fields {
		off = alignUp(off, f.Type.align())
		l.slots[f.Name] = uniformSlot{offset: off, typ: f.Type}
		off += f.Type.size()
	}
	l.size = max(alignUp(off, 16), 16)
	return l
}

// Size returns the block size in bytes.
func (l *UniformLayout) Size() int { return l.size }

// Fields returns the members in declaration order.
func (l *UniformLayout) Fields() []UniformField { return l.fields }

// Offset returns the byte offset of name, or -1 if the block has no such member.
func (l *UniformLayout) Offset(name string) int {
	if s, ok := l.slots[name]; ok {
		return s.offset
	}
	return -1
}

func alignUp(n, a int) int { return (n + a - 1) / a * a }

// Uniform is the write handle passed to a UniformFunc. Writes whose Go
// type does not match the declared member type are dropped.
type Uniform struct {
	buf  []byte
	slot uniformSlot
}

// UniformFunc produces the value of one uniform every frame.
type UniformFunc func(u *Uniform)

// Type returns the declared member type.
func (u *Uniform) Type() UniformType { return u.slot.typ }

// SetInt writes an i32 member.
func (u *Uniform) SetInt(v int32) {
	if u.slot.typ != UniformInt {
		return
	}
	//nolint:gosec // G115: two's complement reinterpretation is intended
	binary.LittleEndian.PutUint32(u.buf[u.slot.offset:], uint32(v))
}

// SetBool writes an i32 member as 0 or 1.
func (u *Uniform) SetBool(v bool) {
	if v {
		u.SetInt(1)
		return
	}
	u.SetInt(0)
}

// SetFloat writes an f32 member.
func (u *Uniform) SetFloat(v float32) {
	if u.slot.typ != UniformFloat {
		return
	}
	binary.LittleEndian.PutUint32(u.buf[u.slot.offset:], math32.Float32bits(v))
}

// SetVec3 writes a vec3<f32> member.
func (u *Uniform) SetVec3(v [3]float32) {
	if u.slot.typ != UniformVec3 {
		return
	}
	u.putFloats(v[:])
}

// SetVec4 writes a vec4<f32> member.
func (u *Uniform) SetVec4(v [4]float32) {
	if u.slot.typ != UniformVec4 {
		return
	}
	u.putFloats(v[:])
}

// SetMat4 writes a column-major mat4x4<f32> member.
func (u *Uniform) SetMat4(m [16]float32) {
	if u.slot.typ != UniformMat4 {
		return
	}
	u.putFloats(m[:])
}

func (u *Uniform) putFloats(vs []float32) {
	for i, v := range vs {
		binary.LittleEndian.PutUint32(u.buf[u.slot.offset+4*i:], math32.Float32bits(v))
	}
}
