package tiling

import (
	"fmt"
	"strconv"
	"strings"
)

// 瓦片键常量
const (
	MaxLevel   = 24  // 最大层级
	ChildCount = 4   // 每层子节点数量
	MaxRoots   = 256 // 根瓦片序号占 8 bit
)

// Key 瓦片的稳定 64 位编号
// 压缩存储：高 48 位存四叉树路径（每层 2 bit，从根往下），8..15 位存根瓦片序号，低 8 位存层级。
// 同一个瓦片地址永远得到同一个 Key，可作为侧表与缓存的键。
//
// 子象限编号（行优先，y 向下）：
//
//	[0] [1]
//	[2] [3]
type Key uint64

const (
	levelBits    = 2                                       // 每层使用 2 bit
	levelBitMask = 0x03                                    // 层级位掩码
	totalBits    = 64                                      // 总位数
	pathMask     = ^(^uint64(0) >> (MaxLevel * levelBits)) // 路径掩码
	rootShift    = 8
	rootMask     = 0xff << rootShift
	levelMask    = 0xff
)

// NewKey 由根瓦片序号、层级以及根瓦片内的行列构造键
func NewKey(root, level, x, y int) Key {
	if level > MaxLevel {
		level = MaxLevel
	}
	var path uint64
	for j := 0; j < level; j++ {
		shift := level - j - 1
		q := uint64((y>>shift)&1)<<1 | uint64((x>>shift)&1)
		path |= q << (totalBits - (j+1)*levelBits)
	}
	return Key(path | uint64(root&0xff)<<rootShift | uint64(level))
}

// RootKey 根瓦片的键
func RootKey(root int) Key {
	return Key(uint64(root&0xff) << rootShift)
}

// Level 返回层级
func (k Key) Level() int {
	return int(uint64(k) & levelMask)
}

// Root 返回所属根瓦片序号
func (k Key) Root() int {
	return int((uint64(k) & rootMask) >> rootShift)
}

func (k Key) pathBits() uint64 {
	return uint64(k) & pathMask
}

// At 返回第 position 层（从 0 开始）的象限
func (k Key) At(position int) int {
	if position < 0 || position >= k.Level() {
		return 0
	}
	return int((uint64(k) >> (totalBits - (position+1)*levelBits)) & levelBitMask)
}

// Quadrant 返回当前瓦片在父瓦片中的象限，根瓦片返回 -1
func (k Key) Quadrant() int {
	level := k.Level()
	if level == 0 {
		return -1
	}
	return k.At(level - 1)
}

// Parent 返回父瓦片的键，根瓦片返回自身
func (k Key) Parent() Key {
	level := k.Level()
	if level == 0 {
		return k
	}
	newLevel := level - 1
	keep := pathMask << (levelBits * (MaxLevel - newLevel))
	return Key(uint64(k)&keep | uint64(k)&rootMask | uint64(newLevel))
}

// Child 返回第 q 个子瓦片的键（q 取值 0-3）
func (k Key) Child(q int) Key {
	level := k.Level()
	if level >= MaxLevel || q < 0 || q > 3 {
		return k
	}
	newLevel := level + 1
	path := k.pathBits() | uint64(q)<<(totalBits-newLevel*levelBits)
	return Key(path | uint64(k)&rootMask | uint64(newLevel))
}

// IsAncestorOf 判断是否是另一个键的祖先（包括自身）
func (k Key) IsAncestorOf(other Key) bool {
	if k.Root() != other.Root() {
		return false
	}
	level := k.Level()
	if level > other.Level() {
		return false
	}
	mask := pathMask << ((MaxLevel - level) * levelBits)
	return uint64(k)&mask == uint64(other)&mask
}

// LocalXY 还原根瓦片内的行列
func (k Key) LocalXY() (x, y int) {
	for j := 0; j < k.Level(); j++ {
		q := k.At(j)
		x = x<<1 | q&1
		y = y<<1 | q>>1
	}
	return x, y
}

// Path 返回四叉树路径字符串（如 "0213"），根瓦片为空串
func (k Key) Path() string {
	level := k.Level()
	b := make([]byte, level)
	for i := 0; i < level; i++ {
		b[i] = byte('0' + k.At(i))
	}
	return string(b)
}

// String 形如 "r3/0213"
func (k Key) String() string {
	return "r" + strconv.Itoa(k.Root()) + "/" + k.Path()
}

// ParseKey 解析 String 的输出
func ParseKey(s string) (Key, error) {
	rootPart, path, ok := strings.Cut(s, "/")
	if !ok || !strings.HasPrefix(rootPart, "r") {
		return 0, fmt.Errorf("无效的瓦片键: %q", s)
	}
	root, err := strconv.Atoi(rootPart[1:])
	if err != nil || root < 0 || root > 0xff {
		return 0, fmt.Errorf("无效的根瓦片序号: %q", s)
	}
	if len(path) > MaxLevel {
		return 0, fmt.Errorf("层级超过 %d: %q", MaxLevel, s)
	}
	k := RootKey(root)
	for i := 0; i < len(path); i++ {
		c := path[i]
		if c < '0' || c > '3' {
			return 0, fmt.Errorf("仅允许字符'0'..'3': %q", s)
		}
		k = k.Child(int(c - '0'))
	}
	return k, nil
}
