package provider

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
)

const (
	// TerrainTerminator 地形包结束标记
	TerrainTerminator = "\x0a\x02\x08\x01"
	// meshHeaderSize 空网格占用的字节数
	meshHeaderSize = 16
	// EarthMeanRadius 地球平均半径（米），网格高程以地球半径为单位存储
	EarthMeanRadius = 6371010.0
)

// MeshVertex 网格顶点
type MeshVertex struct {
	Lon float64
	Lat float64
	Z   float32 // 高程（米）
}

// MeshFace 三角形面
type MeshFace struct {
	A, B, C uint16
}

// Mesh 压缩地形网格
// 顶点经纬度以单字节存储，还原为 origin + c·delta；网格头中的坐标按 180° 归一化。
type Mesh struct {
	SourceSize int
	OriginLon  float64
	OriginLat  float64
	DeltaLon   float64
	DeltaLat   float64
	Level      int
	Vertices   []MeshVertex
	Faces      []MeshFace
}

// decodeMesh 从 data[offset:] 解码一个网格，返回消耗的字节数
// source_size 为 0 表示空网格，占用固定的头部长度。
func decodeMesh(data []byte, offset int) (Mesh, int, error) {
	var m Mesh
	if len(data)-offset < meshHeaderSize {
		return m, 0, fmt.Errorf("%w: 网格头不完整", ErrMalformed)
	}
	r := bytes.NewReader(data[offset:])

	var sourceSize int32
	if err := binary.Read(r, binary.LittleEndian, &sourceSize); err != nil {
		return m, 0, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	m.SourceSize = int(sourceSize)
	if sourceSize == 0 {
		return m, meshHeaderSize, nil
	}
	if sourceSize < 0 || int(sourceSize)+4 > len(data)-offset {
		return m, 0, fmt.Errorf("%w: 网格长度 %d 超出数据范围", ErrMalformed, sourceSize)
	}

	var header struct {
		OX, OY, DX, DY               float64
		NumPoints, NumFaces, Level int32
	}
	if err := binary.Read(r, binary.LittleEndian, &header); err != nil {
		return m, 0, fmt.Errorf("%w: 网格头: %v", ErrMalformed, err)
	}
	if header.NumPoints < 0 || header.NumFaces < 0 {
		return m, 0, fmt.Errorf("%w: 顶点数 %d, 面数 %d", ErrMalformed, header.NumPoints, header.NumFaces)
	}
	m.OriginLon = header.OX * 180
	m.OriginLat = header.OY * 180
	m.DeltaLon = header.DX * 180
	m.DeltaLat = header.DY * 180
	m.Level = int(header.Level)

	type packedVertex struct {
		X, Y uint8
		Z    float32
	}
	m.Vertices = make([]MeshVertex, header.NumPoints)
	for i := range m.Vertices {
		var v packedVertex
		if err := binary.Read(r, binary.LittleEndian, &v); err != nil {
			return m, 0, fmt.Errorf("%w: 顶点 %d: %v", ErrMalformed, i, err)
		}
		m.Vertices[i] = MeshVertex{
			Lon: float64(v.X)*m.DeltaLon + m.OriginLon,
			Lat: float64(v.Y)*m.DeltaLat + m.OriginLat,
			Z:   v.Z * EarthMeanRadius,
		}
	}
	m.Faces = make([]MeshFace, header.NumFaces)
	if err := binary.Read(r, binary.LittleEndian, m.Faces); err != nil {
		return m, 0, fmt.Errorf("%w: 面: %v", ErrMalformed, err)
	}
	for i, f := range m.Faces {
		if int(f.A) >= len(m.Vertices) || int(f.B) >= len(m.Vertices) || int(f.C) >= len(m.Vertices) {
			return m, 0, fmt.Errorf("%w: 面 %d 引用了不存在的顶点", ErrMalformed, i)
		}
	}
	return m, m.SourceSize + 4, nil
}

// DecodeTerrain 解码地形包中的全部网格，遇到结束标记或数据末尾停止
func DecodeTerrain(data []byte) ([]Mesh, error) {
	var meshes []Mesh
	offset := 0
	for offset < len(data) {
		if bytes.HasPrefix(data[offset:], []byte(TerrainTerminator)) {
			break
		}
		m, n, err := decodeMesh(data, offset)
		if err != nil {
			return nil, err
		}
		offset += n
		if m.SourceSize == 0 {
			continue
		}
		meshes = append(meshes, m)
	}
	if len(meshes) == 0 {
		return nil, fmt.Errorf("%w: 地形包中没有网格", ErrMalformed)
	}
	return meshes, nil
}

// Rasterize 在全部网格顶点的经纬度范围内按 size×size 采样，每个采样点取最近顶点的高程
func Rasterize(meshes []Mesh, size int) ([]float32, error) {
	var vertices []MeshVertex
	for _, m := range meshes {
		vertices = append(vertices, m.Vertices...)
	}
	if len(vertices) == 0 {
		return nil, fmt.Errorf("%w: 网格没有顶点", ErrMalformed)
	}
	west, east := math.Inf(1), math.Inf(-1)
	south, north := math.Inf(1), math.Inf(-1)
	for _, v := range vertices {
		west, east = math.Min(west, v.Lon), math.Max(east, v.Lon)
		south, north = math.Min(south, v.Lat), math.Max(north, v.Lat)
	}

	step := 0.0
	if size > 1 {
		step = 1 / float64(size-1)
	}
	out := make([]float32, size*size)
	for r := 0; r < size; r++ {
		lat := north - float64(r)*step*(north-south)
		for c := 0; c < size; c++ {
			lon := west + float64(c)*step*(east-west)
			best := math.MaxFloat64
			for _, v := range vertices {
				dx, dy := v.Lon-lon, v.Lat-lat
				if d := dx*dx + dy*dy; d < best {
					best = d
					out[r*size+c] = v.Z
				}
			}
		}
	}
	return out, nil
}
