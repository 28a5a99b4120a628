package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"sagerspace-tracker/internal/models"

	"github.com/lib/pq"
	"go.uber.org/zap"
)

// RegistryEntry 注册表中的一条记录
type RegistryEntry struct {
	Registration     string
	Serial           string
	DisplayName      string
	OperatorName     string
	OrganizationName string
}

// RegistryRepository 注册信息查询（drone_registry 表）
type RegistryRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewRegistryRepository 创建注册表仓库
func NewRegistryRepository(db *sql.DB, logger *zap.Logger) *RegistryRepository {
	return &RegistryRepository{db: db, logger: logger}
}

// GetByRegistration 查询单条记录；不存在返回 (nil, nil)
func (r *RegistryRepository) GetByRegistration(ctx context.Context, registration string) (*RegistryEntry, error) {
	query := `
		SELECT registration,
		       COALESCE(serial, ''),
		       COALESCE(display_name, ''),
		       COALESCE(pilot_name, ''),
		       COALESCE(organization_name, '')
		FROM drone_registry
		WHERE registration = $1
	`

	var e RegistryEntry
	err := r.db.QueryRowContext(ctx, query, registration).Scan(
		&e.Registration, &e.Serial, &e.DisplayName, &e.OperatorName, &e.OrganizationName,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get registry entry: %w", err)
	}
	return &e, nil
}

// GetByRegistrations 批量查询，返回 registration -> entry
func (r *RegistryRepository) GetByRegistrations(ctx context.Context, registrations []string) (map[string]RegistryEntry, error) {
	out := make(map[string]RegistryEntry, len(registrations))
	if len(registrations) == 0 {
		return out, nil
	}

	query := `
		SELECT registration,
		       COALESCE(serial, ''),
		       COALESCE(display_name, ''),
		       COALESCE(pilot_name, ''),
		       COALESCE(organization_name, '')
		FROM drone_registry
		WHERE registration = ANY($1)
	`

	rows, err := r.db.QueryContext(ctx, query, pq.Array(registrations))
	if err != nil {
		return nil, fmt.Errorf("failed to query registry: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var e RegistryEntry
		if err := rows.Scan(&e.Registration, &e.Serial, &e.DisplayName, &e.OperatorName, &e.OrganizationName); err != nil {
			return nil, fmt.Errorf("failed to scan registry entry: %w", err)
		}
		out[e.Registration] = e
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate registry rows: %w", err)
	}
	return out, nil
}

type cachedEntry struct {
	entry     *RegistryEntry // nil 表示注册表中不存在
	expiresAt time.Time
}

// RegistryEnricher 用注册表补全报文中缺失的名称、飞手、组织
// 查询结果（包括不存在）按 TTL 缓存，查询失败时原样放行
type RegistryEnricher struct {
	repo   *RegistryRepository
	ttl    time.Duration
	now    func() time.Time
	logger *zap.Logger

	mu    sync.Mutex
	cache map[string]cachedEntry
}

// NewRegistryEnricher 创建补全器
func NewRegistryEnricher(repo *RegistryRepository, ttl time.Duration, logger *zap.Logger) *RegistryEnricher {
	return &RegistryEnricher{
		repo:   repo,
		ttl:    ttl,
		now:    time.Now,
		logger: logger,
		cache:  make(map[string]cachedEntry),
	}
}

// Enrich 实现 consumer.Enricher；只填充空字段，不覆盖报文自带的值
func (e *RegistryEnricher) Enrich(ctx context.Context, reports []models.PositionReport) []models.PositionReport {
	if len(reports) == 0 {
		return reports
	}

	entries := e.lookup(ctx, reports)
	out := make([]models.PositionReport, len(reports))
	for i, report := range reports {
		if entry := entries[report.TrackID]; entry != nil {
			if report.Serial == "" {
				report.Serial = entry.Serial
			}
			if report.DisplayName == "" {
				report.DisplayName = entry.DisplayName
			}
			if report.OperatorName == "" {
				report.OperatorName = entry.OperatorName
			}
			if report.OrganizationName == "" {
				report.OrganizationName = entry.OrganizationName
			}
		}
		out[i] = report
	}
	return out
}

func (e *RegistryEnricher) lookup(ctx context.Context, reports []models.PositionReport) map[string]*RegistryEntry {
	now := e.now()
	found := make(map[string]*RegistryEntry)
	var missing []string
	seen := make(map[string]bool)

	e.mu.Lock()
	for _, r := range reports {
		if r.TrackID == "" || seen[r.TrackID] {
			continue
		}
		seen[r.TrackID] = true
		if c, ok := e.cache[r.TrackID]; ok && now.Before(c.expiresAt) {
			found[r.TrackID] = c.entry
			continue
		}
		missing = append(missing, r.TrackID)
	}
	e.mu.Unlock()

	if len(missing) == 0 {
		return found
	}

	rows, err := e.repo.GetByRegistrations(ctx, missing)
	if err != nil {
		e.logger.Warn("Registry lookup failed, reports passed through unchanged",
			zap.Int("registrations", len(missing)),
			zap.Error(err),
		)
		return found
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for _, id := range missing {
		var entry *RegistryEntry
		if row, ok := rows[id]; ok {
			row := row
			entry = &row
		}
		e.cache[id] = cachedEntry{entry: entry, expiresAt: now.Add(e.ttl)}
		found[id] = entry
	}
	return found
}
