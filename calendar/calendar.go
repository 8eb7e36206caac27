package calendar

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrCalendarGap 表示请求的日期不在日历覆盖范围内。
// 上层必须按非交易日处理（阻断新活动），修正配置前不放行。
var ErrCalendarGap = errors.New("calendar gap")

// Window 一个交易日的会话窗口。Date 取收盘所在的交易日（YYYY-MM-DD）。
type Window struct {
	Date    string
	Start   time.Time
	End     time.Time
	Trading bool
}

// InSession 判断时间戳是否落在会话交易时段内。
func (w Window) InSession(ts time.Time) bool {
	if !w.Trading {
		return false
	}
	return !ts.Before(w.Start) && ts.Before(w.End)
}

// Config 日历的 YAML 结构。期货会话通常跨日（前一日 17:00 开盘、当日 16:00 收盘）。
type Config struct {
	Timezone     string   `yaml:"timezone"`
	SessionOpen  string   `yaml:"sessionOpen"`  // HH:MM，open > close 视为跨日会话
	SessionClose string   `yaml:"sessionClose"` // HH:MM
	ValidFrom    string   `yaml:"validFrom"`    // YYYY-MM-DD
	ValidTo      string   `yaml:"validTo"`      // YYYY-MM-DD
	Holidays     []string `yaml:"holidays"`     // YYYY-MM-DD
	ClosedDays   []string `yaml:"closedDays"`   // 周几休市，例如 [Saturday]
}

// Calendar 交易日历，驱动会话边界检测与日内状态重置。
type Calendar struct {
	loc       *time.Location
	openMin   int // 距当地午夜的分钟数
	closeMin  int
	overnight bool
	validFrom time.Time
	validTo   time.Time
	holidays  map[string]bool
	closed    map[time.Weekday]bool
}

// Load 从 YAML 文件加载日历。
func Load(path string) (*Calendar, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read calendar: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse calendar yaml: %w", err)
	}
	return New(cfg)
}

// New 根据配置构建日历。
func New(cfg Config) (*Calendar, error) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("calendar timezone: %w", err)
	}
	openMin, err := parseClock(cfg.SessionOpen)
	if err != nil {
		return nil, fmt.Errorf("calendar sessionOpen: %w", err)
	}
	closeMin, err := parseClock(cfg.SessionClose)
	if err != nil {
		return nil, fmt.Errorf("calendar sessionClose: %w", err)
	}
	if openMin == closeMin {
		return nil, errors.New("calendar session open/close must differ")
	}
	from, err := time.ParseInLocation("2006-01-02", cfg.ValidFrom, loc)
	if err != nil {
		return nil, fmt.Errorf("calendar validFrom: %w", err)
	}
	to, err := time.ParseInLocation("2006-01-02", cfg.ValidTo, loc)
	if err != nil {
		return nil, fmt.Errorf("calendar validTo: %w", err)
	}
	if to.Before(from) {
		return nil, errors.New("calendar validTo before validFrom")
	}

	holidays := make(map[string]bool, len(cfg.Holidays))
	for _, h := range cfg.Holidays {
		if _, err := time.ParseInLocation("2006-01-02", h, loc); err != nil {
			return nil, fmt.Errorf("calendar holiday %q: %w", h, err)
		}
		holidays[h] = true
	}

	closed := make(map[time.Weekday]bool, len(cfg.ClosedDays))
	for _, d := range cfg.ClosedDays {
		wd, ok := weekdayByName(d)
		if !ok {
			return nil, fmt.Errorf("calendar closedDays: unknown weekday %q", d)
		}
		closed[wd] = true
	}
	if len(closed) == 0 {
		closed[time.Saturday] = true
	}

	return &Calendar{
		loc:       loc,
		openMin:   openMin,
		closeMin:  closeMin,
		overnight: openMin > closeMin,
		validFrom: from,
		validTo:   to,
		holidays:  holidays,
		closed:    closed,
	}, nil
}

// WindowFor 返回时间戳所属的会话窗口。收盘后的时间归属下一个会话日。
// 日期落在日历覆盖范围之外时返回 ErrCalendarGap。
func (c *Calendar) WindowFor(ts time.Time) (Window, error) {
	local := ts.In(c.loc)
	day := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, c.loc)

	// 当日收盘之后的事件属于下一个会话日。
	minutes := local.Hour()*60 + local.Minute()
	if minutes >= c.closeMin {
		day = day.AddDate(0, 0, 1)
	}

	if day.Before(c.validFrom) || day.After(c.validTo) {
		return Window{}, fmt.Errorf("%w: no session data for %s", ErrCalendarGap, day.Format("2006-01-02"))
	}

	date := day.Format("2006-01-02")
	end := day.Add(time.Duration(c.closeMin) * time.Minute)
	start := day.Add(time.Duration(c.openMin) * time.Minute)
	if c.overnight {
		start = start.AddDate(0, 0, -1)
	}

	trading := !c.holidays[date] && !c.closed[day.Weekday()]
	return Window{Date: date, Start: start, End: end, Trading: trading}, nil
}

// BoundaryCrossed 判断时间戳是否已进入新的会话窗口。
// 同一会话日内重复调用为幂等（重复的边界事件不会二次触发重置）。
func (c *Calendar) BoundaryCrossed(last Window, ts time.Time) (bool, error) {
	w, err := c.WindowFor(ts)
	if err != nil {
		return false, err
	}
	return w.Date != last.Date, nil
}

func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}

func weekdayByName(name string) (time.Weekday, bool) {
	for wd := time.Sunday; wd <= time.Saturday; wd++ {
		if wd.String() == name {
			return wd, true
		}
	}
	return 0, false
}
