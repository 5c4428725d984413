package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// TrailingBand 追踪止盈带：峰值盈亏达到 MinPeakPct 后，允许从高点回撤 BandPct
// 表按 MinPeakPct 升序排列，取满足条件的最后一档（峰值越高带越窄/越宽由表决定）。
type TrailingBand struct {
	MinPeakPct float64 `yaml:"minPeakPct" json:"minPeakPct"`
	BandPct    float64 `yaml:"bandPct" json:"bandPct"`
}

// LadderStep 止盈阶梯：盈亏达到 TriggerPct 时卖出 SellPct（按原始仓位计的比例点数）
type LadderStep struct {
	TriggerPct float64 `yaml:"triggerPct" json:"triggerPct"`
	SellPct    float64 `yaml:"sellPct" json:"sellPct"`
}

// RiskConfig 资金闸口与头寸规模配置
type RiskConfig struct {
	InitialCapitalSOL float64 `yaml:"initialCapitalSOL" json:"initialCapitalSOL"`
	ReserveFloorSOL   float64 `yaml:"reserveFloorSOL" json:"reserveFloorSOL"`
	MinPositionSOL    float64 `yaml:"minPositionSOL" json:"minPositionSOL"` // 尘埃下限
	MaxOpenPositions  int     `yaml:"maxOpenPositions" json:"maxOpenPositions"`

	// 按评分分档的基础仓位比例（占可部署资金的 %）
	TierHighScore   float64 `yaml:"tierHighScore" json:"tierHighScore"`     // score ≥ 此值为高档
	TierMediumScore float64 `yaml:"tierMediumScore" json:"tierMediumScore"` // score ≥ 此值为中档
	TierHighPct     float64 `yaml:"tierHighPct" json:"tierHighPct"`
	TierMediumPct   float64 `yaml:"tierMediumPct" json:"tierMediumPct"`
	TierLowPct      float64 `yaml:"tierLowPct" json:"tierLowPct"`

	MaxPositionPctOfDeployable float64 `yaml:"maxPositionPctOfDeployable" json:"maxPositionPctOfDeployable"` // 0.15

	DailyLossCeilingPct float64 `yaml:"dailyLossCeilingPct" json:"dailyLossCeilingPct"` // 当日亏损比例上限（%）
	PauseDurationMin    int     `yaml:"pauseDurationMin" json:"pauseDurationMin"`

	HighPriorityScore float64 `yaml:"highPriorityScore" json:"highPriorityScore"` // 超过此分走高优先级路由

	// 动态调整
	LossShrinkFloor  float64 `yaml:"lossShrinkFloor" json:"lossShrinkFloor"`   // 亏损缩减下限（0.5）
	WinStreakMinWins int     `yaml:"winStreakMinWins" json:"winStreakMinWins"` // 连胜加仓所需最少胜场
	WinStreakWinRate float64 `yaml:"winStreakWinRate" json:"winStreakWinRate"` // 胜率阈值（0.60）
	WinStreakBoost   float64 `yaml:"winStreakBoost" json:"winStreakBoost"`     // 加仓倍数（1.10）

	SeenCacheSize  int `yaml:"seenCacheSize" json:"seenCacheSize"`   // 已见 mint 去重集合容量
	ClosedTodayCap int `yaml:"closedTodayCap" json:"closedTodayCap"` // 当日已平仓列表容量
}

// StopConfig 止损与死数据处理配置（快循环）
type StopConfig struct {
	QuickCutPct        float64 `yaml:"quickCutPct" json:"quickCutPct"`             // 速断阈值（-4）
	QuickCutWindowSec  int     `yaml:"quickCutWindowSec" json:"quickCutWindowSec"` // 速断窗口（30s，非 runner）
	EarlyStopPct       float64 `yaml:"earlyStopPct" json:"earlyStopPct"`           // 早期止损阈值（-8）
	EarlyStopWindowSec int     `yaml:"earlyStopWindowSec" json:"earlyStopWindowSec"`
	HardStopPct        float64 `yaml:"hardStopPct" json:"hardStopPct"` // 硬止损（-15，任意仓龄）

	TrailingFloorPct float64 `yaml:"trailingFloorPct" json:"trailingFloorPct"` // 追踪出场的绝对亏损下限（-20，防失控）

	RunnerBreakevenPeakPct float64 `yaml:"runnerBreakevenPeakPct" json:"runnerBreakevenPeakPct"` // runner 保本保护触发峰值
	RunnerBreakevenExitPct float64 `yaml:"runnerBreakevenExitPct" json:"runnerBreakevenExitPct"` // 回落至该盈亏以下平仓

	// 死数据（取不到价格）处理
	DeadGraceSec       int     `yaml:"deadGraceSec" json:"deadGraceSec"`             // 盈利中容忍的短窗口
	DeadBaseTimeoutSec int     `yaml:"deadBaseTimeoutSec" json:"deadBaseTimeoutSec"` // 基础超时
	DeadExtensionSec   int     `yaml:"deadExtensionSec" json:"deadExtensionSec"`     // 浅亏时的延长窗口
	DeadLossFloorPct   float64 `yaml:"deadLossFloorPct" json:"deadLossFloorPct"`     // 深亏分界（-10）
	DeadMaxSec         int     `yaml:"deadMaxSec" json:"deadMaxSec"`                 // 绝对上限，无条件强平
}

// ProfileConfig 行为档位（scalp 保守 / runner 激进）
type ProfileConfig struct {
	TrailingBands    []TrailingBand `yaml:"trailingBands" json:"trailingBands"`
	ProfitLadder     []LadderStep   `yaml:"profitLadder" json:"profitLadder"`
	MaxAgeMin        int            `yaml:"maxAgeMin" json:"maxAgeMin"`               // 超龄平仓
	BreakevenPeakPct float64        `yaml:"breakevenPeakPct" json:"breakevenPeakPct"` // 启用保本出场所需峰值
	BreakevenExitPct float64        `yaml:"breakevenExitPct" json:"breakevenExitPct"` // 回落至该盈亏以下保本平仓
	NearBreakevenPct float64        `yaml:"nearBreakevenPct" json:"nearBreakevenPct"` // 超时平仓时 |pnl| 须低于此值
}

// SupervisorConfig 仓位监督配置
type SupervisorConfig struct {
	FastIntervalMs  int `yaml:"fastIntervalMs" json:"fastIntervalMs"`
	SlowIntervalSec int `yaml:"slowIntervalSec" json:"slowIntervalSec"`
	PriceTimeoutMs  int `yaml:"priceTimeoutMs" json:"priceTimeoutMs"` // 单次取价超时

	RunnerPromotePnLPct   float64 `yaml:"runnerPromotePnLPct" json:"runnerPromotePnLPct"` // 升级检查触发盈亏
	RunnerQuorum          int     `yaml:"runnerQuorum" json:"runnerQuorum"`               // 二级信号最少同意数
	RunnerMaxMarketCapSOL float64 `yaml:"runnerMaxMarketCapSOL" json:"runnerMaxMarketCapSOL"`

	Scalp  ProfileConfig `yaml:"scalp" json:"scalp"`
	Runner ProfileConfig `yaml:"runner" json:"runner"`
}

// WatchlistConfig 入场前观察列表配置
type WatchlistConfig struct {
	Capacity        int     `yaml:"capacity" json:"capacity"`
	TickIntervalSec int     `yaml:"tickIntervalSec" json:"tickIntervalSec"`
	MinDipPct       float64 `yaml:"minDipPct" json:"minDipPct"`       // 最小回调（5）
	MaxDipPct       float64 `yaml:"maxDipPct" json:"maxDipPct"`       // 超过视为崩盘（35）
	ReboundPct      float64 `yaml:"reboundPct" json:"reboundPct"`     // 反弹确认（2）
	ConfirmDelaySec int     `yaml:"confirmDelaySec" json:"confirmDelaySec"`
	MaxWatchMin     int     `yaml:"maxWatchMin" json:"maxWatchMin"`
}

// FeedConfig 行情数据源配置
type FeedConfig struct {
	BaseURL    string `yaml:"baseURL" json:"baseURL"`
	WSEnabled  bool   `yaml:"wsEnabled" json:"wsEnabled"`
	WSURL      string `yaml:"wsURL" json:"wsURL"`
	CacheTTLMs int    `yaml:"cacheTTLMs" json:"cacheTTLMs"`
	TimeoutMs  int    `yaml:"timeoutMs" json:"timeoutMs"`
}

// ExecutorConfig 执行层配置
type ExecutorConfig struct {
	BaseURL     string `yaml:"baseURL" json:"baseURL"` // 聚合器 API
	SlippageBps int    `yaml:"slippageBps" json:"slippageBps"`
	TimeoutMs   int    `yaml:"timeoutMs" json:"timeoutMs"`
	RPCEndpoint string `yaml:"rpcEndpoint" json:"rpcEndpoint"` // 余额查询
	// 纸交易专用：单笔模拟亏损的真实感上限（%）。经验参数，仅用于模拟路径，
	// 不参与实盘风控。
	PaperMaxLossPct float64 `yaml:"paperMaxLossPct" json:"paperMaxLossPct"`
}

// NotifyConfig 通知配置（Telegram）
type NotifyConfig struct {
	Enabled    bool  `yaml:"enabled" json:"enabled"`
	ChatID     int64 `yaml:"chatID" json:"chatID"`
	RatePerMin int   `yaml:"ratePerMin" json:"ratePerMin"`
}

// StorageConfig 成交历史存储配置
type StorageConfig struct {
	Path string `yaml:"path" json:"path"` // SQLite 文件路径
}

// ControlConfig 控制面 HTTP 服务配置
type ControlConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Listen  string `yaml:"listen" json:"listen"`
}

// SecretsConfig 密钥存储配置
type SecretsConfig struct {
	Path string `yaml:"path" json:"path"` // Badger 目录
}

// Config 应用配置
type Config struct {
	LogLevel string `yaml:"logLevel" json:"logLevel"`
	LogFile  string `yaml:"logFile" json:"logFile"`
	DryRun   bool   `yaml:"dryRun" json:"dryRun"` // 纸交易模式

	SummaryIntervalMin int `yaml:"summaryIntervalMin" json:"summaryIntervalMin"`

	Risk       RiskConfig       `yaml:"risk" json:"risk"`
	Stops      StopConfig       `yaml:"stops" json:"stops"`
	Supervisor SupervisorConfig `yaml:"supervisor" json:"supervisor"`
	Watchlist  WatchlistConfig  `yaml:"watchlist" json:"watchlist"`
	Feed       FeedConfig       `yaml:"feed" json:"feed"`
	Executor   ExecutorConfig   `yaml:"executor" json:"executor"`
	Notify     NotifyConfig     `yaml:"notify" json:"notify"`
	Storage    StorageConfig    `yaml:"storage" json:"storage"`
	Control    ControlConfig    `yaml:"control" json:"control"`
	Secrets    SecretsConfig    `yaml:"secrets" json:"secrets"`
}

// Default 返回带全部默认阈值的配置
func Default() *Config {
	return &Config{
		LogLevel:           "info",
		LogFile:            "logs/snipebot.log",
		DryRun:             true,
		SummaryIntervalMin: 60,
		Risk: RiskConfig{
			InitialCapitalSOL:          0.6,
			ReserveFloorSOL:            0.05,
			MinPositionSOL:             0.01,
			MaxOpenPositions:           5,
			TierHighScore:              60,
			TierMediumScore:            45,
			TierHighPct:                6,
			TierMediumPct:              4,
			TierLowPct:                 2.5,
			MaxPositionPctOfDeployable: 0.15,
			DailyLossCeilingPct:        30,
			PauseDurationMin:           60,
			HighPriorityScore:          80,
			LossShrinkFloor:            0.5,
			WinStreakMinWins:           3,
			WinStreakWinRate:           0.60,
			WinStreakBoost:             1.10,
			SeenCacheSize:              500,
			ClosedTodayCap:             200,
		},
		Stops: StopConfig{
			QuickCutPct:            -4,
			QuickCutWindowSec:      30,
			EarlyStopPct:           -8,
			EarlyStopWindowSec:     120,
			HardStopPct:            -15,
			TrailingFloorPct:       -20,
			RunnerBreakevenPeakPct: 15,
			RunnerBreakevenExitPct: 1,
			DeadGraceSec:           20,
			DeadBaseTimeoutSec:     60,
			DeadExtensionSec:       60,
			DeadLossFloorPct:       -10,
			DeadMaxSec:             180,
		},
		Supervisor: SupervisorConfig{
			FastIntervalMs:        3000,
			SlowIntervalSec:       15,
			PriceTimeoutMs:        2500,
			RunnerPromotePnLPct:   12,
			RunnerQuorum:          3,
			RunnerMaxMarketCapSOL: 50000,
			Scalp: ProfileConfig{
				TrailingBands: []TrailingBand{
					{MinPeakPct: 8, BandPct: 6},
					{MinPeakPct: 15, BandPct: 5},
					{MinPeakPct: 30, BandPct: 4},
					{MinPeakPct: 50, BandPct: 3},
				},
				ProfitLadder: []LadderStep{
					{TriggerPct: 10, SellPct: 30},
					{TriggerPct: 20, SellPct: 30},
					{TriggerPct: 35, SellPct: 25},
				},
				MaxAgeMin:        10,
				BreakevenPeakPct: 8,
				BreakevenExitPct: 0.5,
				NearBreakevenPct: 2,
			},
			Runner: ProfileConfig{
				TrailingBands: []TrailingBand{
					{MinPeakPct: 20, BandPct: 14},
					{MinPeakPct: 50, BandPct: 12},
					{MinPeakPct: 100, BandPct: 10},
					{MinPeakPct: 200, BandPct: 8},
				},
				ProfitLadder: []LadderStep{
					{TriggerPct: 40, SellPct: 25},
					{TriggerPct: 80, SellPct: 25},
					{TriggerPct: 150, SellPct: 25},
				},
				MaxAgeMin:        30,
				BreakevenPeakPct: 15,
				BreakevenExitPct: 1,
				NearBreakevenPct: 3,
			},
		},
		Watchlist: WatchlistConfig{
			Capacity:        10,
			TickIntervalSec: 5,
			MinDipPct:       5,
			MaxDipPct:       35,
			ReboundPct:      2,
			ConfirmDelaySec: 2,
			MaxWatchMin:     15,
		},
		Feed: FeedConfig{
			BaseURL:    "https://api.dexscreener.com",
			WSEnabled:  false,
			CacheTTLMs: 2000,
			TimeoutMs:  2500,
		},
		Executor: ExecutorConfig{
			BaseURL:         "https://quote-api.jup.ag",
			SlippageBps:     150,
			TimeoutMs:       8000,
			RPCEndpoint:     "https://api.mainnet-beta.solana.com",
			PaperMaxLossPct: 65,
		},
		Notify: NotifyConfig{
			Enabled:    false,
			RatePerMin: 20,
		},
		Storage: StorageConfig{Path: "data/trades.db"},
		Control: ControlConfig{Enabled: false, Listen: "127.0.0.1:8787"},
		Secrets: SecretsConfig{Path: "data/secrets"},
	}
}

// LoadFromFile 从 YAML/JSON 文件加载配置（缺省字段用默认值补齐）
func LoadFromFile(path string) (*Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) == "" {
		return cfg, cfg.Validate()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("解析 JSON 配置失败: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("解析 YAML 配置失败: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 启动期校验：所有阈值必须自洽，错误配置直接拒绝启动
func (c *Config) Validate() error {
	r := &c.Risk
	if r.InitialCapitalSOL <= 0 {
		return fmt.Errorf("risk.initialCapitalSOL 必须为正")
	}
	if r.ReserveFloorSOL < 0 || r.MinPositionSOL <= 0 {
		return fmt.Errorf("risk 资金下限配置非法")
	}
	if r.MaxOpenPositions <= 0 {
		return fmt.Errorf("risk.maxOpenPositions 必须为正")
	}
	if !(r.TierHighPct >= r.TierMediumPct && r.TierMediumPct >= r.TierLowPct) {
		return fmt.Errorf("仓位比例分档必须单调: high ≥ medium ≥ low")
	}
	if r.TierHighScore <= r.TierMediumScore {
		return fmt.Errorf("评分分档阈值必须单调: tierHighScore > tierMediumScore")
	}
	if r.MaxPositionPctOfDeployable <= 0 || r.MaxPositionPctOfDeployable > 1 {
		return fmt.Errorf("risk.maxPositionPctOfDeployable 必须在 (0,1]")
	}
	if r.DailyLossCeilingPct <= 0 || r.PauseDurationMin <= 0 {
		return fmt.Errorf("当日亏损熔断配置非法")
	}
	if r.LossShrinkFloor <= 0 || r.LossShrinkFloor > 1 {
		return fmt.Errorf("risk.lossShrinkFloor 必须在 (0,1]")
	}

	s := &c.Stops
	if s.QuickCutPct >= 0 || s.EarlyStopPct >= 0 || s.HardStopPct >= 0 || s.TrailingFloorPct >= 0 {
		return fmt.Errorf("止损阈值必须为负数")
	}
	if !(s.QuickCutPct > s.EarlyStopPct && s.EarlyStopPct > s.HardStopPct) {
		return fmt.Errorf("止损阈值必须递进: quickCut > earlyStop > hardStop")
	}
	if s.DeadBaseTimeoutSec <= 0 || s.DeadMaxSec <= s.DeadBaseTimeoutSec {
		return fmt.Errorf("死数据超时配置非法: deadMaxSec 必须大于 deadBaseTimeoutSec")
	}

	for _, p := range []*ProfileConfig{&c.Supervisor.Scalp, &c.Supervisor.Runner} {
		if err := p.validate(); err != nil {
			return err
		}
	}
	if c.Supervisor.RunnerQuorum <= 0 || c.Supervisor.RunnerQuorum > 4 {
		return fmt.Errorf("supervisor.runnerQuorum 必须在 [1,4]")
	}

	w := &c.Watchlist
	if w.Capacity <= 0 {
		return fmt.Errorf("watchlist.capacity 必须为正")
	}
	if w.MinDipPct <= 0 || w.MaxDipPct <= w.MinDipPct {
		return fmt.Errorf("watchlist 回调阈值非法: 0 < minDipPct < maxDipPct")
	}
	if w.ReboundPct <= 0 || w.MaxWatchMin <= 0 {
		return fmt.Errorf("watchlist 反弹/时长配置非法")
	}

	return nil
}

func (p *ProfileConfig) validate() error {
	for i := 1; i < len(p.TrailingBands); i++ {
		if p.TrailingBands[i].MinPeakPct <= p.TrailingBands[i-1].MinPeakPct {
			return fmt.Errorf("trailingBands 必须按 minPeakPct 升序")
		}
	}
	var last float64
	for _, step := range p.ProfitLadder {
		if step.TriggerPct <= last {
			return fmt.Errorf("profitLadder 必须按 triggerPct 升序")
		}
		if step.SellPct <= 0 || step.SellPct > 100 {
			return fmt.Errorf("profitLadder sellPct 必须在 (0,100]")
		}
		last = step.TriggerPct
	}
	if p.MaxAgeMin <= 0 {
		return fmt.Errorf("profile maxAgeMin 必须为正")
	}
	return nil
}

// TrailingBandFor 根据峰值盈亏取当前档位的回撤带宽；峰值未达任何档位返回 (0,false)
func (p *ProfileConfig) TrailingBandFor(peakPnLPct float64) (float64, bool) {
	band := 0.0
	found := false
	for _, b := range p.TrailingBands {
		if peakPnLPct >= b.MinPeakPct {
			band = b.BandPct
			found = true
		}
	}
	return band, found
}
