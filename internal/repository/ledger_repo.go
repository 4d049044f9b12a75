package repository

import (
	"context"
	"errors"

	"ledgerpay/internal/model"
	"ledgerpay/pkg/idgen"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrZeroAmount      = errors.New("变动金额不能为0")
	ErrSignMismatch    = errors.New("变动金额符号与变动类型不符")
	ErrBadMutationType = errors.New("变动类型不合法")
	ErrBadLedgerKind   = errors.New("账本维度不合法")
)

type LedgerRepository struct {
	db *gorm.DB
}

func NewLedgerRepository(db *gorm.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

// AppendRequest 追加流水的入参
type AppendRequest struct {
	AccountID    int64
	LedgerKind   string
	MutationType string
	RelatedID    int64
	Amount       int64
	Memo         string
	IP           string
}

func (r *AppendRequest) validate() error {
	if !model.ValidLedgerKind(r.LedgerKind) {
		return ErrBadLedgerKind
	}
	sign, ok := model.MutationSign[r.MutationType]
	if !ok {
		return ErrBadMutationType
	}
	if r.Amount == 0 {
		return ErrZeroAmount
	}
	if (sign > 0) != (r.Amount > 0) {
		return ErrSignMismatch
	}
	return nil
}

// Append 追加一条流水
//
// 【关键点】balance_after 必须构成严格的累加链：
// 在同一个事务内对 (account_id, ledger_kind) 的最新一条流水加排他锁，
// 再以它的 balance_after 为基准计算新快照。并发写同一账户同一维度时
// 由行锁串行化，不会出现两条流水基于同一个旧快照的情况
func (r *LedgerRepository) Append(ctx context.Context, req *AppendRequest) (*model.LedgerEntry, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	var entry *model.LedgerEntry
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var last model.LedgerEntry
		prevBalance := int64(0)
		q := tx
		// sqlite 的写事务本身互斥，且不支持 FOR UPDATE 语法
		if tx.Dialector.Name() == "mysql" {
			q = tx.Clauses(clause.Locking{Strength: "UPDATE"})
		}
		err := q.
			Where("account_id = ? AND ledger_kind = ?", req.AccountID, req.LedgerKind).
			Order("id DESC").
			First(&last).Error
		if err != nil {
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}
			// 无前序流水，从 0 起链
		} else {
			prevBalance = last.BalanceAfter
		}

		entry = &model.LedgerEntry{
			EntryNo:      idgen.GenerateEntryNo(),
			AccountID:    req.AccountID,
			LedgerKind:   req.LedgerKind,
			MutationType: req.MutationType,
			RelatedID:    req.RelatedID,
			Amount:       req.Amount,
			BalanceAfter: prevBalance + req.Amount,
			IP:           req.IP,
			Memo:         req.Memo,
		}
		return tx.Create(entry).Error
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// CurrentBalance 当前余额 = 最新一条流水的 balance_after，无流水为 0
func (r *LedgerRepository) CurrentBalance(ctx context.Context, accountID int64, kind string) (int64, error) {
	var last model.LedgerEntry
	err := r.db.WithContext(ctx).
		Where("account_id = ? AND ledger_kind = ?", accountID, kind).
		Order("id DESC").
		First(&last).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return last.BalanceAfter, nil
}

// Exists 按自然键探测流水是否已落账（结算幂等检查用）
func (r *LedgerRepository) Exists(ctx context.Context, accountID int64, kind string, relatedID int64, mutationType string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.LedgerEntry{}).
		Where("account_id = ? AND ledger_kind = ? AND related_id = ? AND mutation_type = ?",
			accountID, kind, relatedID, mutationType).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// ListByAccount 分页查询账户流水
func (r *LedgerRepository) ListByAccount(ctx context.Context, accountID int64, kind string, page, pageSize int) ([]*model.LedgerEntry, int64, error) {
	var entries []*model.LedgerEntry
	var total int64

	query := r.db.WithContext(ctx).Model(&model.LedgerEntry{}).Where("account_id = ?", accountID)
	if kind != "" {
		query = query.Where("ledger_kind = ?", kind)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.
		Order("id DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&entries).Error

	return entries, total, err
}
