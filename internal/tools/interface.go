package tools

import (
	"context"
	"encoding/json"

	"tino/internal/chat"
)

// Category 工具类别，决定执行超时档位。
// Category classifies a tool and selects its execution timeout tier.
type Category string

const (
	CategoryStandard   Category = "standard"
	CategoryMarketData Category = "market_data"
	CategorySimulation Category = "simulation"
	CategoryBacktest   Category = "backtest"
)

type Tool interface {
	Name() string
	Definition() chat.ToolDef
	Execute(ctx context.Context, args json.RawMessage) (string, error)
}

// CategoryAware lets a tool declare a slower timeout tier. Tools without it
// run under the standard timeout.
type CategoryAware interface {
	Category() Category
}
