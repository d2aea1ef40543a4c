package tile

import (
	"github.com/go-gl/mathgl/mgl32"

	"globe-engine/gpu"
	"globe-engine/view"
)

// FullMask 四个象限全部绘制
const FullMask uint8 = 0xF

// Rendered 本帧选中的一个瓦片
// Quadrants 按位表示绘制的象限；父瓦片代替未就绪的子瓦片时只包含对应子瓦片的象限。
type Rendered struct {
	Tile      *Tile
	Quadrants uint8
}

// Full 是否整块绘制
func (r Rendered) Full() bool { return r.Quadrants == FullMask }

// RenderContext 传给后处理渲染器的帧上下文
type RenderContext struct {
	View  *view.State
	GPU   gpu.Context
	Index *IndexBuffer
	Frame int
}

// PostRenderer 在基础瓦片之后绘制，拿到与基础瓦片完全相同的选中集合
type PostRenderer interface {
	Render(rc *RenderContext, tiles []Rendered)
}

// ModelMatrix 瓦片顶点相对包围盒中心存储，模型矩阵把它们平移回渲染空间
func ModelMatrix(t *Tile) mgl32.Mat4 {
	c := t.Center
	return mgl32.Translate3D(float32(c[0]), float32(c[1]), float32(c[2]))
}

func (m *Manager) draw(rc *RenderContext) {
	for _, r := range m.rendered {
		t := r.Tile
		rc.GPU.SetModelMatrix(ModelMatrix(t))
		rc.GPU.BindTexture(0, t.texture.ID)
		rc.GPU.BindBuffer(gpu.ArrayBuffer, t.vertices.ID)
		rc.Index.Draw(rc.GPU, r.Quadrants)
	}
}

// Wireframe 调试用后处理渲染器，按瓦片网格绘制线框
type Wireframe struct {
	lines *IndexBuffer
}

// NewWireframe 用管理器的资源池和网格尺寸生成线框索引
func NewWireframe(m *Manager) (*Wireframe, error) {
	lines, err := newIndexBuffer(m.pool, m.opts.Tessellation, gpu.Lines)
	if err != nil {
		return nil, err
	}
	return &Wireframe{lines: lines}, nil
}

func (w *Wireframe) Render(rc *RenderContext, tiles []Rendered) {
	for _, r := range tiles {
		rc.GPU.SetModelMatrix(ModelMatrix(r.Tile))
		rc.GPU.BindBuffer(gpu.ArrayBuffer, r.Tile.vertices.ID)
		w.lines.Draw(rc.GPU, r.Quadrants)
	}
}

// Release 归还线框索引
func (w *Wireframe) Release() { w.lines.Release() }
