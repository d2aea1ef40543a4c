package gpu

import (
	"fmt"
)

// Kind 资源种类
type Kind uint8

const (
	KindTexture Kind = iota
	KindBuffer
)

// Shape 资源形状，相同形状的资源可以互相替代
type Shape struct {
	Kind   Kind
	Width  int
	Height int
	Format Format
	Target BufferTarget
	Size   int
}

func (s Shape) String() string {
	if s.Kind == KindTexture {
		return fmt.Sprintf("texture(%dx%d,%s)", s.Width, s.Height, s.Format)
	}
	return fmt.Sprintf("buffer(%d,%d)", s.Target, s.Size)
}

// Texture 池化的纹理句柄，记得自己所属的池
type Texture struct {
	ID     uint32
	Width  int
	Height int
	Format Format

	pool *Pool
	free bool
}

// Shape 返回纹理形状
func (t *Texture) Shape() Shape {
	return Shape{Kind: KindTexture, Width: t.Width, Height: t.Height, Format: t.Format}
}

// Release 归还到所属池的空闲列表
func (t *Texture) Release() {
	if t == nil || t.pool == nil {
		return
	}
	t.pool.releaseTexture(t)
}

// Buffer 池化的缓冲句柄，Size 为按尺寸等级取整后的容量
type Buffer struct {
	ID     uint32
	Target BufferTarget
	Size   int

	pool *Pool
	free bool
}

func (b *Buffer) Shape() Shape {
	return Shape{Kind: KindBuffer, Target: b.Target, Size: b.Size}
}

// Release 归还到所属池的空闲列表
func (b *Buffer) Release() {
	if b == nil || b.pool == nil {
		return
	}
	b.pool.releaseBuffer(b)
}

// Stats 资源池统计
type Stats struct {
	CreatedTextures int
	ReusedTextures  int
	CreatedBuffers  int
	ReusedBuffers   int
	LiveTextures    int // 已借出未归还
	LiveBuffers     int
	FreeTextures    int
	FreeBuffers     int
}

// MinBufferClass 最小缓冲尺寸等级（字节）
const MinBufferClass = 1024

// SizeClass 把字节数向上取整到 2 的幂，且不小于 MinBufferClass
func SizeClass(n int) int {
	c := MinBufferClass
	for c < n {
		c <<= 1
	}
	return c
}

// Pool 按形状复用纹理与缓冲
// 池持有创建过的全部对象直到 DisposeAll；借出的对象在 Release 之前不会再次借出，同一对象不会同时出现在两个空闲列表中。
type Pool struct {
	ctx Context

	freeTextures map[Shape][]*Texture
	freeBuffers  map[Shape][]*Buffer
	textures     map[*Texture]struct{}
	buffers      map[*Buffer]struct{}

	stats Stats
}

// NewPool 创建资源池
func NewPool(ctx Context) *Pool {
	return &Pool{
		ctx:          ctx,
		freeTextures: make(map[Shape][]*Texture),
		freeBuffers:  make(map[Shape][]*Buffer),
		textures:     make(map[*Texture]struct{}),
		buffers:      make(map[*Buffer]struct{}),
	}
}

// Context 返回资源池使用的渲染上下文
func (p *Pool) Context() Context { return p.ctx }

// AcquireTexture 优先复用同形状的空闲纹理，否则新建
func (p *Pool) AcquireTexture(width, height int, format Format) (*Texture, error) {
	shape := Shape{Kind: KindTexture, Width: width, Height: height, Format: format}
	if list := p.freeTextures[shape]; len(list) > 0 {
		t := list[len(list)-1]
		p.freeTextures[shape] = list[:len(list)-1]
		t.free = false
		p.stats.ReusedTextures++
		p.stats.LiveTextures++
		p.stats.FreeTextures--
		return t, nil
	}
	id, err := p.ctx.CreateTexture(width, height, format)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrAllocation, shape, err)
	}
	t := &Texture{ID: id, Width: width, Height: height, Format: format, pool: p}
	p.textures[t] = struct{}{}
	p.stats.CreatedTextures++
	p.stats.LiveTextures++
	return t, nil
}

// AcquireBuffer 按尺寸等级复用缓冲，返回的缓冲容量不小于 size
func (p *Pool) AcquireBuffer(target BufferTarget, size int) (*Buffer, error) {
	shape := Shape{Kind: KindBuffer, Target: target, Size: SizeClass(size)}
	if list := p.freeBuffers[shape]; len(list) > 0 {
		b := list[len(list)-1]
		p.freeBuffers[shape] = list[:len(list)-1]
		b.free = false
		p.stats.ReusedBuffers++
		p.stats.LiveBuffers++
		p.stats.FreeBuffers--
		return b, nil
	}
	id, err := p.ctx.CreateBuffer(target, shape.Size)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrAllocation, shape, err)
	}
	b := &Buffer{ID: id, Target: target, Size: shape.Size, pool: p}
	p.buffers[b] = struct{}{}
	p.stats.CreatedBuffers++
	p.stats.LiveBuffers++
	return b, nil
}

func (p *Pool) releaseTexture(t *Texture) {
	if t.free {
		return
	}
	if _, ok := p.textures[t]; !ok {
		return
	}
	t.free = true
	shape := t.Shape()
	p.freeTextures[shape] = append(p.freeTextures[shape], t)
	p.stats.LiveTextures--
	p.stats.FreeTextures++
}

func (p *Pool) releaseBuffer(b *Buffer) {
	if b.free {
		return
	}
	if _, ok := p.buffers[b]; !ok {
		return
	}
	b.free = true
	shape := b.Shape()
	p.freeBuffers[shape] = append(p.freeBuffers[shape], b)
	p.stats.LiveBuffers--
	p.stats.FreeBuffers++
}

// DisposeAll 删除池中创建过的全部对象（包括仍被借出的），之后旧句柄的 Release 不再生效
func (p *Pool) DisposeAll() {
	for t := range p.textures {
		p.ctx.DeleteTexture(t.ID)
		t.pool = nil
		t.free = true
	}
	for b := range p.buffers {
		p.ctx.DeleteBuffer(b.ID)
		b.pool = nil
		b.free = true
	}
	p.freeTextures = make(map[Shape][]*Texture)
	p.freeBuffers = make(map[Shape][]*Buffer)
	p.textures = make(map[*Texture]struct{})
	p.buffers = make(map[*Buffer]struct{})
	p.stats.LiveTextures, p.stats.LiveBuffers = 0, 0
	p.stats.FreeTextures, p.stats.FreeBuffers = 0, 0
}

// Stats 返回统计快照
func (p *Pool) Stats() Stats { return p.stats }
