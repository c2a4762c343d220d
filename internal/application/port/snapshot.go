package port

import (
	"context"

	"xstream/internal/domain"
)

// DepthSnapshotter 订单簿 REST 快照，用于检测到序列缺口后的重同步
type DepthSnapshotter interface {
	DepthSnapshot(ctx context.Context, symbol string, limit int) (*domain.Depth, error)
}

// AccountSnapshotter 启动时拉取一次账户快照
type AccountSnapshotter interface {
	AccountSnapshot(ctx context.Context) (*domain.Account, error)
}
