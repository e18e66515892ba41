package store

import (
	"time"

	"github.com/kamaleddin/threadify/model"
	"github.com/pkg/errors"
	"gorm.io/gorm"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// Statuses that make an existing run count as a duplicate of a new
// submission for the same account + canonical URL.
var duplicateStatuses = []model.RunStatus{
	model.RunStatusApproved,
	model.RunStatusPosting,
	model.RunStatusCompleted,
}

// RunStore is the persistence surface the orchestration core reads and
// writes through. The core does not prescribe storage technology; the gorm
// implementation below is the production one, tests use the in-memory one.
type RunStore interface {
	CreateRun(run *model.Run) error
	// GetRun returns the run with its posts preloaded in ascending
	// sequence order.
	GetRun(id string) (*model.Run, error)
	SaveRun(run *model.Run) error
	// UpdateRunStatus transitions a run's status. A run never regresses
	// from completed.
	UpdateRunStatus(id string, status model.RunStatus, errMessage string) error
	// SetPostRemoteId durably records a publish result. The remote id is
	// immutable once set: this is the resume checkpoint and must be a
	// single atomic write.
	SetPostRemoteId(postId string, remoteId string) error
	IncrementPostAttempt(postId string) error
	// FindDuplicate returns the most recent run for the account with the
	// same canonical URL in an approved/posting/completed status, or
	// ErrNotFound.
	FindDuplicate(accountId string, canonicalUrl string) (*model.Run, error)
	ListRuns(accountId string, limit int) ([]*model.Run, error)

	GetAccount(id string) (*model.Account, error)
	GetAccountByHandle(handle string) (*model.Account, error)
	FirstAccount() (*model.Account, error)

	GetApiTokenByHash(hash string) (*model.ApiToken, error)
	TouchApiToken(id string) error
}

// GormStore is the Postgres-backed RunStore.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) CreateRun(run *model.Run) error {
	return s.db.Create(run).Error
}

func (s *GormStore) GetRun(id string) (*model.Run, error) {
	run := &model.Run{}
	res := s.db.
		Preload("Posts", func(db *gorm.DB) *gorm.DB { return db.Order("idx ASC") }).
		Preload("Images").
		Preload("Account").
		First(run, "id = ?", id)
	if errors.Is(res.Error, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	return run, res.Error
}

func (s *GormStore) SaveRun(run *model.Run) error {
	return s.db.Session(&gorm.Session{FullSaveAssociations: true}).Save(run).Error
}

func (s *GormStore) UpdateRunStatus(id string, status model.RunStatus, errMessage string) error {
	res := s.db.Model(&model.Run{}).
		Where("id = ? AND status <> ?", id, model.RunStatusCompleted).
		Updates(map[string]interface{}{
			"status":        status,
			"error_message": errMessage,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 && status != model.RunStatusCompleted {
		return errors.Errorf("run %s not transitioned to %s", id, status)
	}
	return nil
}

func (s *GormStore) SetPostRemoteId(postId string, remoteId string) error {
	now := time.Now()
	res := s.db.Model(&model.Post{}).
		Where("id = ? AND remote_id = ''", postId).
		Updates(map[string]interface{}{
			"remote_id": remoteId,
			"posted_at": &now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errors.Errorf("post %s already has a remote id", postId)
	}
	return nil
}

func (s *GormStore) IncrementPostAttempt(postId string) error {
	return s.db.Model(&model.Post{}).
		Where("id = ?", postId).
		UpdateColumn("attempt_count", gorm.Expr("attempt_count + 1")).Error
}

func (s *GormStore) FindDuplicate(accountId string, canonicalUrl string) (*model.Run, error) {
	run := &model.Run{}
	res := s.db.
		Where("account_id = ? AND canonical_url = ? AND status IN ?", accountId, canonicalUrl, duplicateStatuses).
		Order("created_at DESC").
		First(run)
	if errors.Is(res.Error, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	return run, res.Error
}

func (s *GormStore) ListRuns(accountId string, limit int) ([]*model.Run, error) {
	runs := []*model.Run{}
	query := s.db.Order("created_at DESC")
	if accountId != "" {
		query = query.Where("account_id = ?", accountId)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	return runs, query.Find(&runs).Error
}

func (s *GormStore) GetAccount(id string) (*model.Account, error) {
	account := &model.Account{}
	res := s.db.First(account, "id = ?", id)
	if errors.Is(res.Error, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	return account, res.Error
}

func (s *GormStore) GetAccountByHandle(handle string) (*model.Account, error) {
	account := &model.Account{}
	res := s.db.First(account, "handle = ?", handle)
	if errors.Is(res.Error, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	return account, res.Error
}

func (s *GormStore) FirstAccount() (*model.Account, error) {
	account := &model.Account{}
	res := s.db.Order("created_at ASC").First(account)
	if errors.Is(res.Error, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	return account, res.Error
}

func (s *GormStore) GetApiTokenByHash(hash string) (*model.ApiToken, error) {
	token := &model.ApiToken{}
	res := s.db.First(token, "token_hash = ?", hash)
	if errors.Is(res.Error, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	return token, res.Error
}

func (s *GormStore) TouchApiToken(id string) error {
	now := time.Now()
	return s.db.Model(&model.ApiToken{}).
		Where("id = ?", id).
		UpdateColumn("last_used_at", &now).Error
}
