package gpu

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl32"
)

// DrawCall 记录一次绘制调用及其发生时的绑定状态
type DrawCall struct {
	Mode         Primitive
	Elements     bool
	First        int
	Count        int
	Texture      uint32
	VertexBuffer uint32
	IndexBuffer  uint32
	Model        mgl32.Mat4
}

type memTexture struct {
	width, height int
	format        Format
	pixels        []byte
}

type memBuffer struct {
	target BufferTarget
	size   int
	data   []byte
}

// MemoryContext 不依赖图形驱动的内存实现，用于无头运行与测试
type MemoryContext struct {
	// FailAfter 大于 0 时，第 FailAfter 次之后的对象创建全部失败
	FailAfter int

	nextID   uint32
	created  int
	textures map[uint32]*memTexture
	buffers  map[uint32]*memBuffer

	boundTexture uint32
	boundArray   uint32
	boundElement uint32
	model        mgl32.Mat4

	draws []DrawCall
}

// NewMemoryContext 创建内存渲染上下文
func NewMemoryContext() *MemoryContext {
	return &MemoryContext{
		textures: make(map[uint32]*memTexture),
		buffers:  make(map[uint32]*memBuffer),
		model:    mgl32.Ident4(),
	}
}

func (m *MemoryContext) allocate() (uint32, error) {
	if m.FailAfter > 0 && m.created >= m.FailAfter {
		return 0, fmt.Errorf("out of memory after %d objects", m.created)
	}
	m.created++
	m.nextID++
	return m.nextID, nil
}

func (m *MemoryContext) CreateTexture(width, height int, format Format) (uint32, error) {
	if width <= 0 || height <= 0 {
		return 0, fmt.Errorf("invalid texture size %dx%d", width, height)
	}
	id, err := m.allocate()
	if err != nil {
		return 0, err
	}
	m.textures[id] = &memTexture{width: width, height: height, format: format}
	return id, nil
}

func (m *MemoryContext) TexImage(id uint32, width, height int, format Format, pixels []byte) error {
	t, ok := m.textures[id]
	if !ok {
		return fmt.Errorf("unknown texture %d", id)
	}
	if width != t.width || height != t.height || format != t.format {
		return fmt.Errorf("texture %d shape mismatch", id)
	}
	if len(pixels) != width*height*format.BytesPerPixel() {
		return fmt.Errorf("texture %d: got %d bytes", id, len(pixels))
	}
	t.pixels = append(t.pixels[:0], pixels...)
	return nil
}

func (m *MemoryContext) BindTexture(unit int, id uint32) { m.boundTexture = id }

func (m *MemoryContext) DeleteTexture(id uint32) {
	delete(m.textures, id)
	if m.boundTexture == id {
		m.boundTexture = 0
	}
}

func (m *MemoryContext) CreateBuffer(target BufferTarget, size int) (uint32, error) {
	id, err := m.allocate()
	if err != nil {
		return 0, err
	}
	m.buffers[id] = &memBuffer{target: target, size: size}
	return id, nil
}

func (m *MemoryContext) BufferData(target BufferTarget, id uint32, data []byte) error {
	b, ok := m.buffers[id]
	if !ok {
		return fmt.Errorf("unknown buffer %d", id)
	}
	if len(data) > b.size {
		return fmt.Errorf("buffer %d: %d bytes exceed capacity %d", id, len(data), b.size)
	}
	b.data = append(b.data[:0], data...)
	return nil
}

func (m *MemoryContext) BindBuffer(target BufferTarget, id uint32) {
	if target == ElementArrayBuffer {
		m.boundElement = id
	} else {
		m.boundArray = id
	}
}

func (m *MemoryContext) DeleteBuffer(id uint32) {
	delete(m.buffers, id)
	if m.boundArray == id {
		m.boundArray = 0
	}
	if m.boundElement == id {
		m.boundElement = 0
	}
}

func (m *MemoryContext) SetModelMatrix(mat mgl32.Mat4) { m.model = mat }

func (m *MemoryContext) DrawArrays(mode Primitive, first, count int) {
	m.draws = append(m.draws, DrawCall{
		Mode: mode, First: first, Count: count,
		Texture: m.boundTexture, VertexBuffer: m.boundArray, Model: m.model,
	})
}

func (m *MemoryContext) DrawElements(mode Primitive, count, offset int) {
	m.draws = append(m.draws, DrawCall{
		Mode: mode, Elements: true, First: offset, Count: count,
		Texture: m.boundTexture, VertexBuffer: m.boundArray, IndexBuffer: m.boundElement, Model: m.model,
	})
}

// DrawCalls 返回并清空绘制记录
func (m *MemoryContext) DrawCalls() []DrawCall {
	out := m.draws
	m.draws = nil
	return out
}

// LiveTextures 当前存在的纹理数
func (m *MemoryContext) LiveTextures() int { return len(m.textures) }

// LiveBuffers 当前存在的缓冲数
func (m *MemoryContext) LiveBuffers() int { return len(m.buffers) }

// TexturePixels 返回纹理上传的像素，测试用
func (m *MemoryContext) TexturePixels(id uint32) []byte {
	if t, ok := m.textures[id]; ok {
		return t.pixels
	}
	return nil
}

// BufferContents 返回缓冲上传的数据，测试用
func (m *MemoryContext) BufferContents(id uint32) []byte {
	if b, ok := m.buffers[id]; ok {
		return b.data
	}
	return nil
}
