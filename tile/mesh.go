package tile

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl64"

	"globe-engine/geo"
	"globe-engine/gpu"
	"globe-engine/tiling"
)

// VertexStride 每个顶点的分量数：x, y, z, u, v
const VertexStride = 5

// MaxTessellation 16 位索引能寻址的最大网格边长
const MaxTessellation = 255

// mesh 一个瓦片的网格：顶点相对包围盒中心存储，避免 float32 精度损失
type mesh struct {
	vertices []float32
	bbox     geo.BoundingBox
	center   mgl64.Vec3
	radius   float64
}

// buildMesh 在瓦片内按 n×n 网格采样，elevations 为空时高程取 0
// withVertices 为 false 时只计算包围体
func buildMesh(tl tiling.Tiling, cs geo.CoordinateSystem, a tiling.Address, n int, elevations []float32, withVertices bool) mesh {
	points := make([]mgl64.Vec3, n*n)
	var m mesh
	step := 1 / float64(n-1)
	for r := 0; r < n; r++ {
		for c := 0; c < n; c++ {
			lon, lat := tl.GridPoint(a, float64(c)*step, float64(r)*step)
			var h float64
			if i := r*n + c; i < len(elevations) {
				h = float64(elevations[i])
			}
			p := cs.FromGeo(lon, lat, h)
			points[r*n+c] = p
			m.bbox.Extend(p)
		}
	}
	m.center = m.bbox.Center()
	for _, p := range points {
		if d := p.Sub(m.center).Len(); d > m.radius {
			m.radius = d
		}
	}
	if !withVertices {
		return m
	}

	m.vertices = make([]float32, 0, n*n*VertexStride)
	for r := 0; r < n; r++ {
		for c := 0; c < n; c++ {
			p := points[r*n+c].Sub(m.center)
			m.vertices = append(m.vertices,
				float32(p[0]), float32(p[1]), float32(p[2]),
				float32(float64(c)*step), float32(float64(r)*step))
		}
	}
	return m
}

// IndexBuffer 所有瓦片共享的网格索引
// 索引按象限排列，象限 q 覆盖网格参数 (u, v) 中与 Child(q) 相同的半区（geo 与 mercator 划分中为
// 0 西北、1 东北、2 西南、3 东南）。父瓦片代替未就绪的子瓦片时只绘制对应象限的区间。
type IndexBuffer struct {
	Size int
	Mode gpu.Primitive

	buffer  *gpu.Buffer
	offsets [5]int
}

// newIndexBuffer 生成 n×n 网格的索引并上传，mode 为 Triangles 或 Lines
func newIndexBuffer(pool *gpu.Pool, n int, mode gpu.Primitive) (*IndexBuffer, error) {
	var indices []uint16
	var offsets [5]int
	half := (n - 1) / 2
	for q := 0; q < 4; q++ {
		offsets[q] = len(indices)
		r0 := (q >> 1) * half
		c0 := (q & 1) * half
		for r := r0; r < r0+half; r++ {
			for c := c0; c < c0+half; c++ {
				i := uint16(r*n + c)
				right, below, diag := i+1, i+uint16(n), i+uint16(n)+1
				if mode == gpu.Lines {
					indices = append(indices, i, right, i, below)
					if r == n-2 {
						indices = append(indices, below, diag)
					}
					if c == n-2 {
						indices = append(indices, right, diag)
					}
					continue
				}
				indices = append(indices, i, below, right, right, below, diag)
			}
		}
	}
	offsets[4] = len(indices)

	buf, err := pool.AcquireBuffer(gpu.ElementArrayBuffer, len(indices)*2)
	if err != nil {
		return nil, err
	}
	if err := pool.Context().BufferData(gpu.ElementArrayBuffer, buf.ID, gpu.Uint16Bytes(indices)); err != nil {
		buf.Release()
		return nil, fmt.Errorf("%w: 上传索引: %v", gpu.ErrAllocation, err)
	}
	return &IndexBuffer{Size: n, Mode: mode, buffer: buf, offsets: offsets}, nil
}

// Buffer 索引缓冲句柄
func (b *IndexBuffer) Buffer() *gpu.Buffer { return b.buffer }

// Count 全部索引个数
func (b *IndexBuffer) Count() int { return b.offsets[4] }

// Quadrant 返回象限 q 的索引区间
func (b *IndexBuffer) Quadrant(q int) (offset, count int) {
	return b.offsets[q], b.offsets[q+1] - b.offsets[q]
}

// Draw 绘制 mask 选中的象限，mask 为 FullMask 时一次绘制全部
func (b *IndexBuffer) Draw(ctx gpu.Context, mask uint8) {
	ctx.BindBuffer(gpu.ElementArrayBuffer, b.buffer.ID)
	if mask == FullMask {
		ctx.DrawElements(b.Mode, b.Count(), 0)
		return
	}
	for q := 0; q < 4; q++ {
		if mask&(1<<q) == 0 {
			continue
		}
		off, n := b.Quadrant(q)
		ctx.DrawElements(b.Mode, n, off)
	}
}

// Release 归还索引缓冲
func (b *IndexBuffer) Release() {
	if b.buffer != nil {
		b.buffer.Release()
		b.buffer = nil
	}
}
