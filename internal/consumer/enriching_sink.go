package consumer

import (
	"context"

	"sagerspace-tracker/internal/models"
)

// Enricher 用注册信息补全报文（名称、飞手、组织）
type Enricher interface {
	Enrich(ctx context.Context, reports []models.PositionReport) []models.PositionReport
}

// EnrichingSink 投递前先补全报文
type EnrichingSink struct {
	next     Sink
	enricher Enricher
}

// NewEnrichingSink 包装 Sink
func NewEnrichingSink(next Sink, enricher Enricher) *EnrichingSink {
	return &EnrichingSink{next: next, enricher: enricher}
}

// HandleBatch 实现 Sink
func (s *EnrichingSink) HandleBatch(ctx context.Context, reports []models.PositionReport) error {
	return s.next.HandleBatch(ctx, s.enricher.Enrich(ctx, reports))
}
