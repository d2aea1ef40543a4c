package view

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"globe-engine/geo"
)

// Camera 以地理位置描述的相机
// Heading 为从正北顺时针的方位角，Tilt 为偏离垂直向下的俯仰角，单位均为度
type Camera struct {
	Lon      float64
	Lat      float64
	Altitude float64 // 米
	Heading  float64
	Tilt     float64
	Fov      float64 // 垂直视场角
}

// DefaultCamera 位于经纬度 (0,0) 上空、垂直向下的相机
func DefaultCamera() Camera {
	return Camera{Altitude: 2 * geo.WGS84Radius, Fov: 45}
}

// Matrices 计算投影矩阵与视图矩阵
func (c Camera) Matrices(cs geo.CoordinateSystem, width, height int) (projection, viewMatrix mgl64.Mat4) {
	eye := cs.FromGeo(c.Lon, c.Lat, c.Altitude)
	up := cs.FromGeo(c.Lon, c.Lat, c.Altitude+1000).Sub(eye).Normalize()

	// 局部正北方向：沿经线取一个邻近点，投影到切平面
	dLat := 0.01
	if c.Lat+dLat > 90 {
		dLat = -dLat
	}
	north := cs.FromGeo(c.Lon, c.Lat+dLat, c.Altitude).Sub(eye)
	if dLat < 0 {
		north = north.Mul(-1)
	}
	north = north.Sub(up.Mul(north.Dot(up)))
	if north.Len() < 1e-12 {
		north = mgl64.Vec3{0, 0, 1}.Sub(up.Mul(up[2]))
	}
	north = north.Normalize()
	east := north.Cross(up)

	h := mgl64.DegToRad(c.Heading)
	forward := north.Mul(math.Cos(h)).Add(east.Mul(math.Sin(h)))

	t := mgl64.DegToRad(c.Tilt)
	dir := up.Mul(-math.Cos(t)).Add(forward.Mul(math.Sin(t)))
	camUp := forward.Mul(math.Cos(t)).Add(up.Mul(math.Sin(t)))

	viewMatrix = mgl64.LookAtV(eye, eye.Add(dir), camUp)

	ground := eye.Sub(cs.FromGeo(c.Lon, c.Lat, 0)).Len()
	near := math.Max(ground*0.01, 1e-9)
	far := math.Max(ground*100, near*1000)
	fov := c.Fov
	if fov <= 0 {
		fov = 45
	}
	aspect := 1.0
	if height > 0 {
		aspect = float64(width) / float64(height)
	}
	projection = mgl64.Perspective(mgl64.DegToRad(fov), aspect, near, far)
	return projection, viewMatrix
}

// State 直接构造该相机的视图状态
func (c Camera) State(cs geo.CoordinateSystem, width, height int) *State {
	p, v := c.Matrices(cs, width, height)
	return New(p, v, width, height)
}
