package streak

import (
	"math"
)

// Direction 命中判定方向
type Direction string

const (
	Over  Direction = "over"  // value >= threshold
	Under Direction = "under" // value <= threshold
)

// Range 阈值区间（闭区间）
type Range struct {
	Min  float64 `mapstructure:"min"`
	Max  float64 `mapstructure:"max"`
	Step float64 `mapstructure:"step"`
}

// StatDef 单个可追踪指标：提取函数 + 判定方向 + 阈值区间，注册一次全局复用
type StatDef struct {
	Code       string
	Label      string
	EntityType EntityType
	Direction  Direction
	Range      Range
	Extract    func(GameRecord) float64
}

// Thresholds 按步长生成升序阈值列表
func (d StatDef) Thresholds() []float64 {
	r := d.Range
	if r.Step <= 0 {
		if r.Max < r.Min {
			return nil
		}
		return []float64{r.Min}
	}
	if r.Max < r.Min {
		return nil
	}
	n := int(math.Floor((r.Max-r.Min)/r.Step+1e-9)) + 1
	out := make([]float64, 0, n)
	for i := 0; i < n; i++ {
		// 浮点步长累加会漂移，按下标计算再取整到 4 位
		out = append(out, math.Round((r.Min+float64(i)*r.Step)*1e4)/1e4)
	}
	return out
}

// Value 取单场该指标值；组合指标为各字段之和
func (d StatDef) Value(g GameRecord) float64 {
	if d.Extract == nil {
		return 0
	}
	return d.Extract(g)
}

// IsHit under 方向用 <=，其余用 >=
func (d StatDef) IsHit(value, threshold float64) bool {
	if d.Direction == Under {
		return value <= threshold
	}
	return value >= threshold
}

// Catalog 各主体类型的指标注册表，顺序即输出顺序
type Catalog struct {
	defs  []StatDef
	index map[EntityType]map[string]int
}

// NewCatalog 同一主体类型下重复 code 以后注册的为准
func NewCatalog(defs ...StatDef) *Catalog {
	c := &Catalog{index: make(map[EntityType]map[string]int)}
	for _, d := range defs {
		c.register(d)
	}
	return c
}

func (c *Catalog) register(d StatDef) {
	byCode, ok := c.index[d.EntityType]
	if !ok {
		byCode = make(map[string]int)
		c.index[d.EntityType] = byCode
	}
	if i, exists := byCode[d.Code]; exists {
		c.defs[i] = d
		return
	}
	byCode[d.Code] = len(c.defs)
	c.defs = append(c.defs, d)
}

// Stats 某主体类型下的全部指标
func (c *Catalog) Stats(et EntityType) []StatDef {
	var out []StatDef
	for _, d := range c.defs {
		if d.EntityType == et {
			out = append(out, d)
		}
	}
	return out
}

// Lookup 按主体类型 + code 查找
func (c *Catalog) Lookup(et EntityType, code string) (StatDef, bool) {
	i, ok := c.index[et][code]
	if !ok {
		return StatDef{}, false
	}
	return c.defs[i], true
}

// WithRanges 返回覆盖了阈值区间的新目录，overrides[entityType][code]
func (c *Catalog) WithRanges(overrides map[EntityType]map[string]Range) *Catalog {
	out := NewCatalog(c.defs...)
	for et, byCode := range overrides {
		for code, r := range byCode {
			i, ok := out.index[et][code]
			if !ok {
				continue
			}
			out.defs[i].Range = r
		}
	}
	return out
}

func pts(g GameRecord) float64  { return float64(g.Pts) }
func reb(g GameRecord) float64  { return float64(g.Reb) }
func ast(g GameRecord) float64  { return float64(g.Ast) }
func fg3m(g GameRecord) float64 { return float64(g.Fg3m) }
func blk(g GameRecord) float64  { return float64(g.Blk) }
func stl(g GameRecord) float64  { return float64(g.Stl) }

func win(g GameRecord) float64 {
	if g.Won() {
		return 1
	}
	return 0
}

func sum(fns ...func(GameRecord) float64) func(GameRecord) float64 {
	return func(g GameRecord) float64 {
		var total float64
		for _, fn := range fns {
			total += fn(g)
		}
		return total
	}
}

// DefaultCatalog 球员与球队的默认指标及阈值
func DefaultCatalog() *Catalog {
	return NewCatalog(
		StatDef{Code: "PTS", Label: "Points", EntityType: EntityPlayer, Direction: Over, Range: Range{10, 40, 5}, Extract: pts},
		StatDef{Code: "REB", Label: "Rebounds", EntityType: EntityPlayer, Direction: Over, Range: Range{3, 15, 1}, Extract: reb},
		StatDef{Code: "AST", Label: "Assists", EntityType: EntityPlayer, Direction: Over, Range: Range{3, 15, 1}, Extract: ast},
		StatDef{Code: "3PM", Label: "Threes Made", EntityType: EntityPlayer, Direction: Over, Range: Range{1, 8, 1}, Extract: fg3m},
		StatDef{Code: "BLK", Label: "Blocks", EntityType: EntityPlayer, Direction: Over, Range: Range{1, 5, 1}, Extract: blk},
		StatDef{Code: "STL", Label: "Steals", EntityType: EntityPlayer, Direction: Over, Range: Range{1, 5, 1}, Extract: stl},
		StatDef{Code: "PA", Label: "PTS+AST", EntityType: EntityPlayer, Direction: Over, Range: Range{15, 50, 5}, Extract: sum(pts, ast)},
		StatDef{Code: "PR", Label: "PTS+REB", EntityType: EntityPlayer, Direction: Over, Range: Range{15, 50, 5}, Extract: sum(pts, reb)},
		StatDef{Code: "RA", Label: "REB+AST", EntityType: EntityPlayer, Direction: Over, Range: Range{5, 25, 5}, Extract: sum(reb, ast)},
		StatDef{Code: "PRA", Label: "PTS+REB+AST", EntityType: EntityPlayer, Direction: Over, Range: Range{20, 60, 5}, Extract: sum(pts, reb, ast)},

		StatDef{Code: "PTS", Label: "Team Points", EntityType: EntityTeam, Direction: Over, Range: Range{100, 130, 5}, Extract: pts},
		StatDef{Code: "PTS_U", Label: "Team Points Under", EntityType: EntityTeam, Direction: Under, Range: Range{100, 130, 5}, Extract: pts},
		StatDef{Code: "ML", Label: "Moneyline", EntityType: EntityTeam, Direction: Over, Range: Range{1, 1, 0}, Extract: win},
	)
}
