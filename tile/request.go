package tile

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/draw"
	_ "image/jpeg"
	_ "image/png"

	"globe-engine/tiling"
)

// Request 一次进行中的瓦片加载
// 句柄由 Manager 的请求池统一分配和回收；后台协程只写结果字段，帧循环在取回后才读取。
type Request struct {
	id int

	// 以下字段只在帧循环中访问
	tile    *Tile
	cancel  context.CancelFunc
	aborted bool

	// 以下字段由后台协程写入
	pixels        []byte
	width, height int
	imageErr      error
	elevations    []float32
	elevationErr  error
	mesh          mesh
}

func (r *Request) reset() {
	*r = Request{id: r.id}
}

// job 后台协程需要的全部输入，不引用 Tile
type job struct {
	req          *Request
	address      tiling.Address
	imageURL     string
	elevationURL string
}

// run 在后台协程执行：并发获取影像与高程，解码并生成网格
// 被取消的请求直接归还句柄，不进入完成队列。
func (m *Manager) run(ctx context.Context, j job) {
	defer m.settle()
	req := j.req

	var elevDone chan struct{}
	if m.elevation != nil {
		elevDone = make(chan struct{})
		go func() {
			defer close(elevDone)
			req.elevations, req.elevationErr = m.loadElevations(ctx, j.elevationURL)
		}()
	}

	data, err := m.fetcher.Fetch(ctx, j.imageURL)
	if err == nil {
		req.pixels, req.width, req.height, err = decodeImage(data)
		if err != nil {
			err = fmt.Errorf("解码影像 %s: %w", j.imageURL, err)
		}
	}
	req.imageErr = err

	if elevDone != nil {
		<-elevDone
		if req.elevations == nil {
			req.elevations = make([]float32, m.opts.Tessellation*m.opts.Tessellation)
		}
	}
	if req.imageErr == nil {
		req.mesh = buildMesh(m.opts.Tiling, m.opts.CoordinateSystem, j.address, m.opts.Tessellation, req.elevations, true)
	}

	if ctx.Err() != nil {
		m.requests.Release(req)
		return
	}
	m.completed <- req
	m.requestRedraw()
}

func (m *Manager) loadElevations(ctx context.Context, url string) ([]float32, error) {
	data, err := m.fetcher.Fetch(ctx, url)
	if err != nil {
		return nil, err
	}
	n := m.opts.Tessellation
	elev, err := m.elevation.Parse(data, n)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedElevation, err)
	}
	if len(elev) != n*n {
		return nil, fmt.Errorf("%w: 期望 %d 个采样点，实际 %d", ErrMalformedElevation, n*n, len(elev))
	}
	return elev, nil
}

// decodeImage 解码 PNG/JPEG 并转换为紧凑的 RGBA 像素
func decodeImage(data []byte) (pixels []byte, width, height int, err error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, 0, 0, err
	}
	b := img.Bounds()
	width, height = b.Dx(), b.Dy()
	if width == 0 || height == 0 {
		return nil, 0, 0, fmt.Errorf("空影像")
	}
	if rgba, ok := img.(*image.RGBA); ok && rgba.Stride == 4*width && b.Min == (image.Point{}) {
		return rgba.Pix, width, height, nil
	}
	rgba := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
	return rgba.Pix, width, height, nil
}
