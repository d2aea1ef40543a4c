package provider

import (
	"encoding/binary"
	"fmt"
	"math"

	"globe-engine/tiling"
)

// Format 高程数据格式
type Format string

const (
	// FormatFloat32 k×k 个 float32 小端序高程（米）
	FormatFloat32 Format = "float32"
	// FormatInt16 k×k 个 int16 大端序高程（米），与 SRTM hgt 文件相同
	FormatInt16 Format = "int16"
	// FormatMesh 地形网格包：若干压缩网格，按最近顶点栅格化
	FormatMesh Format = "mesh"
)

// SRTMVoid SRTM 数据中的空值
const SRTMVoid = -32768

// ParseFormat 校验格式名
func ParseFormat(s string) (Format, error) {
	switch f := Format(s); f {
	case FormatFloat32, FormatInt16, FormatMesh:
		return f, nil
	case "":
		return FormatFloat32, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownFormat, s)
}

// Elevation 基于 URL 模板的高程源
type Elevation struct {
	*Template
	Format Format
}

// NewElevation 创建高程源
func NewElevation(tmpl string, tl tiling.Tiling, format string, subdomains ...string) (*Elevation, error) {
	f, err := ParseFormat(format)
	if err != nil {
		return nil, err
	}
	t, err := NewTemplate(tmpl, tl, subdomains...)
	if err != nil {
		return nil, err
	}
	return &Elevation{Template: t, Format: f}, nil
}

// Parse 把响应解析为 size×size 的高程网格
func (e *Elevation) Parse(payload []byte, size int) ([]float32, error) {
	return ParseElevations(e.Format, payload, size)
}

// ParseElevations 按格式解析高程并重采样到 size×size，行优先，第一行在北
func ParseElevations(format Format, payload []byte, size int) ([]float32, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: 网格尺寸 %d", ErrMalformed, size)
	}
	switch format {
	case FormatFloat32:
		k, err := gridSide(len(payload), 4)
		if err != nil {
			return nil, err
		}
		grid := make([]float32, k*k)
		for i := range grid {
			grid[i] = math.Float32frombits(binary.LittleEndian.Uint32(payload[i*4:]))
		}
		return resample(grid, k, size), nil

	case FormatInt16:
		k, err := gridSide(len(payload), 2)
		if err != nil {
			return nil, err
		}
		grid := make([]float32, k*k)
		for i := range grid {
			v := int16(binary.BigEndian.Uint16(payload[i*2:]))
			if v == SRTMVoid {
				v = 0
			}
			grid[i] = float32(v)
		}
		return resample(grid, k, size), nil

	case FormatMesh:
		meshes, err := DecodeTerrain(payload)
		if err != nil {
			return nil, err
		}
		return Rasterize(meshes, size)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownFormat, format)
}

// gridSide 由字节数推算方形网格边长
func gridSide(n, bytesPerSample int) (int, error) {
	if n == 0 || n%bytesPerSample != 0 {
		return 0, fmt.Errorf("%w: %d 字节不是 %d 字节采样的整数倍", ErrMalformed, n, bytesPerSample)
	}
	samples := n / bytesPerSample
	k := int(math.Round(math.Sqrt(float64(samples))))
	if k*k != samples {
		return 0, fmt.Errorf("%w: %d 个采样不构成方形网格", ErrMalformed, samples)
	}
	return k, nil
}

// resample 双线性重采样 k×k 网格到 n×n，尺寸相同时原样返回
func resample(grid []float32, k, n int) []float32 {
	if k == n {
		return grid
	}
	out := make([]float32, n*n)
	if k == 1 {
		for i := range out {
			out[i] = grid[0]
		}
		return out
	}
	scale := 0.0
	if n > 1 {
		scale = float64(k-1) / float64(n-1)
	}
	at := func(r, c int) float64 { return float64(grid[r*k+c]) }
	for r := 0; r < n; r++ {
		fy := float64(r) * scale
		y0 := int(fy)
		if y0 >= k-1 {
			y0 = k - 2
		}
		ty := fy - float64(y0)
		for c := 0; c < n; c++ {
			fx := float64(c) * scale
			x0 := int(fx)
			if x0 >= k-1 {
				x0 = k - 2
			}
			tx := fx - float64(x0)
			top := at(y0, x0)*(1-tx) + at(y0, x0+1)*tx
			bottom := at(y0+1, x0)*(1-tx) + at(y0+1, x0+1)*tx
			out[r*n+c] = float32(top*(1-ty) + bottom*ty)
		}
	}
	return out
}
