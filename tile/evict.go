package tile

import "sort"

// evict 回收长时间未访问的子瓦片组，已加载瓦片超出预算时再按最近访问时间回收
// 0 层瓦片永不回收；回收以兄弟组为单位，组内全部瓦片连同其子树一起释放。
func (m *Manager) evict() {
	before := m.stats.Evicted
	for _, t := range m.levelZero {
		m.evictStale(t)
	}
	if m.opts.MaxLoadedTiles > 0 && m.loaded > m.opts.MaxLoadedTiles {
		m.evictOverBudget()
	}
	if n := m.stats.Evicted - before; n > 0 {
		m.log.Debug("第 %d 帧回收 %d 组瓦片，剩余已加载 %d", m.frame, n, m.loaded)
	}
}

func (m *Manager) evictStale(t *Tile) {
	if t.children == nil {
		return
	}
	if m.groupIdle(t) >= m.opts.EvictAfterFrames {
		m.disposeChildren(t)
		m.stats.Evicted++
		return
	}
	for _, c := range t.children {
		m.evictStale(c)
	}
}

// groupIdle 子瓦片组连续未被访问的帧数
func (m *Manager) groupIdle(t *Tile) int {
	last := 0
	for _, c := range t.children {
		if c.lastVisit > last {
			last = c.lastVisit
		}
	}
	return m.frame - last
}

// evictOverBudget 只回收本帧未访问的最外层子瓦片组，最久未访问的优先
func (m *Manager) evictOverBudget() {
	var groups []*Tile
	var collect func(t *Tile)
	collect = func(t *Tile) {
		if t.children == nil {
			return
		}
		if m.groupIdle(t) > 0 {
			groups = append(groups, t)
			return
		}
		for _, c := range t.children {
			collect(c)
		}
	}
	for _, t := range m.levelZero {
		collect(t)
	}
	sort.SliceStable(groups, func(i, j int) bool {
		return m.groupIdle(groups[i]) > m.groupIdle(groups[j])
	})
	for _, g := range groups {
		if m.loaded <= m.opts.MaxLoadedTiles {
			return
		}
		m.disposeChildren(g)
		m.stats.Evicted++
	}
}

func (m *Manager) disposeChildren(t *Tile) {
	for _, c := range t.children {
		m.disposeTile(c)
	}
	t.children = nil
}

// disposeTile 取消请求、归还 GPU 资源并回到 NONE，子树一并释放
func (m *Manager) disposeTile(t *Tile) {
	if t.children != nil {
		m.disposeChildren(t)
	}
	switch t.state {
	case StateLoading:
		m.abort(t)
	case StateLoaded:
		for _, o := range m.observers {
			o.TileDisposed(t)
		}
		t.texture.Release()
		t.vertices.Release()
		t.texture, t.vertices, t.elevations = nil, nil, nil
		m.setState(t, StateNone)
	case StateError:
		m.setState(t, StateNone)
	}
}
