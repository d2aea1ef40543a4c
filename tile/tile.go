// Package tile 实现瓦片四叉树：瓦片状态机、共享索引几何、异步加载请求，以及逐帧遍历、
// 细化/粗化、加载调度和回收的 Manager。
//
// Manager 的所有方法都必须在帧循环所在的协程调用；网络请求在后台协程执行，
// 结果经完成队列在下一帧开始时取回，GPU 资源只在帧循环中创建。
package tile

import (
	"github.com/go-gl/mathgl/mgl64"
	"github.com/paulmach/orb"

	"globe-engine/geo"
	"globe-engine/gpu"
	"globe-engine/tiling"
)

// State 瓦片加载状态
type State int32

const (
	StateNone State = iota
	StateLoading
	StateLoaded
	StateError
)

func (s State) String() string {
	switch s {
	case StateNone:
		return "NONE"
	case StateLoading:
		return "LOADING"
	case StateLoaded:
		return "LOADED"
	case StateError:
		return "ERROR"
	}
	return "UNKNOWN"
}

// validTransition 状态只能沿 NONE → LOADING → {LOADED, ERROR} 前进，任何状态都可以回到 NONE
func validTransition(from, to State) bool {
	switch to {
	case StateNone:
		return true
	case StateLoading:
		return from == StateNone
	case StateLoaded, StateError:
		return from == StateLoading
	}
	return false
}

// Tile 四叉树节点
type Tile struct {
	Address tiling.Address
	Key     tiling.Key
	// Bound 地理范围
	Bound orb.Bound
	// 渲染空间中的包围盒与包围球，加载后按实际高程更新
	BBox   geo.BoundingBox
	Center mgl64.Vec3
	Radius float64
	// ParentIndex 在父瓦片中的象限，0 层为 -1
	ParentIndex int
	Parent      *Tile

	state      State
	children   []*Tile
	request    *Request
	texture    *gpu.Texture
	vertices   *gpu.Buffer
	elevations []float32
	lastVisit  int
}

// State 当前状态
func (t *Tile) State() State { return t.state }

// Level 层级
func (t *Tile) Level() int { return t.Address.Level }

// Children 子瓦片，未细分时为空
func (t *Tile) Children() []*Tile { return t.children }

// Texture 纹理句柄，仅 LOADED 状态有效
func (t *Tile) Texture() *gpu.Texture { return t.texture }

// VertexBuffer 顶点缓冲句柄，仅 LOADED 状态有效
func (t *Tile) VertexBuffer() *gpu.Buffer { return t.vertices }

// Elevations 每个网格顶点的高程（米），未配置高程源时为 nil
func (t *Tile) Elevations() []float32 { return t.elevations }

// LastVisit 最近一次被遍历到的帧号
func (t *Tile) LastVisit() int { return t.lastVisit }

// Loading 是否有未完成的请求
func (t *Tile) Loading() bool { return t.request != nil }

// Root 所属的 0 层瓦片
func (t *Tile) Root() *Tile {
	for t.Parent != nil {
		t = t.Parent
	}
	return t
}

func (t *Tile) String() string { return t.Key.String() }
