// Package gpu 定义引擎消费的渲染上下文接口、纹理/缓冲句柄，以及按形状复用 GPU 资源的资源池。
//
// 所有方法都只应在帧循环所在的协程调用。
package gpu

import (
	"encoding/binary"
	"errors"
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// ErrAllocation GPU 对象创建失败，属于不可恢复的资源耗尽
var ErrAllocation = errors.New("gpu allocation failed")

// Format 纹理像素格式
type Format uint8

const (
	RGBA8 Format = iota
	RGB8
	Luminance8
)

// BytesPerPixel 每个像素的字节数
func (f Format) BytesPerPixel() int {
	switch f {
	case RGB8:
		return 3
	case Luminance8:
		return 1
	}
	return 4
}

func (f Format) String() string {
	switch f {
	case RGB8:
		return "RGB8"
	case Luminance8:
		return "L8"
	}
	return "RGBA8"
}

// BufferTarget 缓冲区用途
type BufferTarget uint8

const (
	ArrayBuffer BufferTarget = iota
	ElementArrayBuffer
)

// Primitive 图元类型
type Primitive uint8

const (
	Triangles Primitive = iota
	Lines
	LineStrip
	Points
)

// Context 渲染上下文：引擎只发出调用，底层图形 API 由宿主实现
type Context interface {
	CreateTexture(width, height int, format Format) (uint32, error)
	TexImage(id uint32, width, height int, format Format, pixels []byte) error
	BindTexture(unit int, id uint32)
	DeleteTexture(id uint32)

	CreateBuffer(target BufferTarget, size int) (uint32, error)
	BufferData(target BufferTarget, id uint32, data []byte) error
	BindBuffer(target BufferTarget, id uint32)
	DeleteBuffer(id uint32)

	// SetModelMatrix 设置后续绘制的模型矩阵（瓦片顶点相对瓦片中心存储）
	SetModelMatrix(m mgl32.Mat4)
	DrawArrays(mode Primitive, first, count int)
	// DrawElements 按当前绑定的索引缓冲绘制，offset 为索引偏移（元素个数）
	DrawElements(mode Primitive, count, offset int)
}

// Float32Bytes 按小端序把 float32 切片编码为字节
func Float32Bytes(v []float32) []byte {
	out := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(out[4*i:], math.Float32bits(f))
	}
	return out
}

// Uint16Bytes 按小端序把索引编码为字节
func Uint16Bytes(v []uint16) []byte {
	out := make([]byte, 2*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint16(out[2*i:], x)
	}
	return out
}
