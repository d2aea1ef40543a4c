// Package provider 提供瓦片数据源：按 URL 模板生成影像/高程地址，并解析高程响应。
package provider

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"globe-engine/tiling"
)

var (
	// ErrTemplate URL 模板不合法
	ErrTemplate = errors.New("provider: invalid url template")
	// ErrUnknownFormat 不支持的高程格式
	ErrUnknownFormat = errors.New("provider: unknown elevation format")
	// ErrMalformed 高程数据与格式不符
	ErrMalformed = errors.New("provider: malformed payload")
)

// 模板占位符
const (
	PlaceholderZ         = "z"
	PlaceholderX         = "x"
	PlaceholderY         = "y"
	PlaceholderReverseY  = "-y"      // TMS 行号，自南向北
	PlaceholderQuadkey   = "quadkey" // Bing 风格四叉树键
	PlaceholderQtNode    = "qtnode"  // Google Earth 风格四叉树节点名
	PlaceholderSubdomain = "s"
	PlaceholderBBox      = "bbox" // west,south,east,north（度），用于 WMS 类服务
	PlaceholderFace      = "face"
	PlaceholderKey       = "key"
)

var knownPlaceholders = map[string]bool{
	PlaceholderZ: true, PlaceholderX: true, PlaceholderY: true, PlaceholderReverseY: true,
	PlaceholderQuadkey: true, PlaceholderQtNode: true, PlaceholderSubdomain: true,
	PlaceholderBBox: true, PlaceholderFace: true, PlaceholderKey: true,
}

type segment struct {
	literal     string
	placeholder string
}

// Template 基于 URL 模板的影像源
// 模板形如 "https://{s}.tile.example.com/{z}/{x}/{y}.png"，解析一次后按地址填充。
type Template struct {
	raw        string
	segments   []segment
	tiling     tiling.Tiling
	subdomains []string
}

// NewTemplate 解析 URL 模板，未知占位符或缺少子域名列表时返回 ErrTemplate
func NewTemplate(tmpl string, tl tiling.Tiling, subdomains ...string) (*Template, error) {
	if tmpl == "" {
		return nil, fmt.Errorf("%w: 模板为空", ErrTemplate)
	}
	t := &Template{raw: tmpl, tiling: tl, subdomains: subdomains}
	rest := tmpl
	for rest != "" {
		open := strings.IndexByte(rest, '{')
		if open < 0 {
			t.segments = append(t.segments, segment{literal: rest})
			break
		}
		if open > 0 {
			t.segments = append(t.segments, segment{literal: rest[:open]})
		}
		end := strings.IndexByte(rest[open:], '}')
		if end < 0 {
			return nil, fmt.Errorf("%w: 未闭合的占位符: %s", ErrTemplate, tmpl)
		}
		name := rest[open+1 : open+end]
		if !knownPlaceholders[name] {
			return nil, fmt.Errorf("%w: 未知占位符 {%s}", ErrTemplate, name)
		}
		if name == PlaceholderSubdomain && len(subdomains) == 0 {
			return nil, fmt.Errorf("%w: 使用 {s} 时必须提供子域名", ErrTemplate)
		}
		if name == PlaceholderBBox && tl == nil {
			return nil, fmt.Errorf("%w: 使用 {bbox} 时必须提供瓦片划分", ErrTemplate)
		}
		t.segments = append(t.segments, segment{placeholder: name})
		rest = rest[open+end+1:]
	}
	return t, nil
}

// String 原始模板
func (t *Template) String() string { return t.raw }

// URL 为地址生成 URL，同一地址总是得到同一 URL
func (t *Template) URL(a tiling.Address) string {
	var b strings.Builder
	for _, s := range t.segments {
		if s.placeholder == "" {
			b.WriteString(s.literal)
			continue
		}
		b.WriteString(t.expand(s.placeholder, a))
	}
	return b.String()
}

func (t *Template) expand(name string, a tiling.Address) string {
	switch name {
	case PlaceholderZ:
		return strconv.Itoa(a.Level)
	case PlaceholderX:
		return strconv.Itoa(a.X)
	case PlaceholderY:
		return strconv.Itoa(a.Y)
	case PlaceholderReverseY:
		return strconv.Itoa(1<<a.Level - 1 - a.Y)
	case PlaceholderQuadkey:
		return Quadkey(a)
	case PlaceholderQtNode:
		return QtNode(a)
	case PlaceholderSubdomain:
		return t.subdomains[(a.X+a.Y)%len(t.subdomains)]
	case PlaceholderFace:
		return strconv.Itoa(a.Face)
	case PlaceholderKey:
		if t.tiling != nil {
			return t.tiling.Key(a).String()
		}
		return a.String()
	case PlaceholderBBox:
		bound := t.tiling.GeoBound(a)
		return strings.Join([]string{
			formatDegree(bound.Min[0]), formatDegree(bound.Min[1]),
			formatDegree(bound.Max[0]), formatDegree(bound.Max[1]),
		}, ",")
	}
	return ""
}

func formatDegree(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Quadkey Bing 风格四叉树键：每层一位数字，x 位加 2 倍 y 位，0 层为空串
func Quadkey(a tiling.Address) string {
	b := make([]byte, a.Level)
	for i := a.Level; i > 0; i-- {
		mask := 1 << (i - 1)
		digit := byte('0')
		if a.X&mask != 0 {
			digit++
		}
		if a.Y&mask != 0 {
			digit += 2
		}
		b[a.Level-i] = digit
	}
	return string(b)
}

// QtNode Google Earth 风格节点名："0" 加每层一位象限数字
// 象限编号：0 西南、1 东南、2 东北、3 西北（行号自北向南增长）。
func QtNode(a tiling.Address) string {
	qtnode := []byte{'0'}
	if a.Level == 0 {
		return string(qtnode)
	}
	x, y := a.X, a.Y
	half := 1 << (a.Level - 1)
	for i := 0; i < a.Level; i++ {
		switch {
		case y >= half && x < half:
			qtnode = append(qtnode, '0')
			y -= half
		case y >= half && x >= half:
			qtnode = append(qtnode, '1')
			y -= half
			x -= half
		case y < half && x >= half:
			qtnode = append(qtnode, '2')
			x -= half
		default:
			qtnode = append(qtnode, '3')
		}
		half >>= 1
	}
	return string(qtnode)
}
