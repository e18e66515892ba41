package store

import (
	"sort"
	"sync"
	"time"

	"github.com/jinzhu/copier"
	"github.com/kamaleddin/threadify/model"
	"github.com/pkg/errors"
)

// MemoryStore is an in-memory RunStore used by tests and local development.
// It copies records on the way in and out so callers cannot mutate stored
// state without going through the store, mirroring the durability contract
// of the database implementation.
type MemoryStore struct {
	mu       sync.Mutex
	runs     map[string]*model.Run
	posts    map[string]*model.Post
	accounts map[string]*model.Account
	tokens   map[string]*model.ApiToken
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		runs:     map[string]*model.Run{},
		posts:    map[string]*model.Post{},
		accounts: map[string]*model.Account{},
		tokens:   map[string]*model.ApiToken{},
	}
}

func (s *MemoryStore) CreateRun(run *model.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now()
	}
	stored := &model.Run{}
	if err := copier.CopyWithOption(stored, run, copier.Option{DeepCopy: true}); err != nil {
		return err
	}
	s.runs[stored.Id] = stored
	for _, p := range stored.Posts {
		s.posts[p.Id] = p
	}
	return nil
}

func (s *MemoryStore) GetRun(id string) (*model.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getRunLocked(id)
}

func (s *MemoryStore) getRunLocked(id string) (*model.Run, error) {
	stored, ok := s.runs[id]
	if !ok {
		return nil, ErrNotFound
	}
	run := &model.Run{}
	if err := copier.CopyWithOption(run, stored, copier.Option{DeepCopy: true}); err != nil {
		return nil, err
	}
	sort.Slice(run.Posts, func(i, j int) bool { return run.Posts[i].Idx < run.Posts[j].Idx })
	if account, ok := s.accounts[run.AccountID]; ok {
		run.Account = *account
	}
	return run, nil
}

func (s *MemoryStore) SaveRun(run *model.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := &model.Run{}
	if err := copier.CopyWithOption(stored, run, copier.Option{DeepCopy: true}); err != nil {
		return err
	}
	s.runs[stored.Id] = stored
	for _, p := range stored.Posts {
		s.posts[p.Id] = p
	}
	return nil
}

func (s *MemoryStore) UpdateRunStatus(id string, status model.RunStatus, errMessage string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[id]
	if !ok {
		return ErrNotFound
	}
	if run.Status == model.RunStatusCompleted {
		if status != model.RunStatusCompleted {
			return errors.Errorf("run %s not transitioned to %s", id, status)
		}
		return nil
	}
	run.Status = status
	run.ErrorMessage = errMessage
	run.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) SetPostRemoteId(postId string, remoteId string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	post, ok := s.posts[postId]
	if !ok {
		return ErrNotFound
	}
	if post.RemoteId != "" {
		return errors.Errorf("post %s already has a remote id", postId)
	}
	now := time.Now()
	post.RemoteId = remoteId
	post.PostedAt = &now
	return nil
}

func (s *MemoryStore) IncrementPostAttempt(postId string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	post, ok := s.posts[postId]
	if !ok {
		return ErrNotFound
	}
	post.AttemptCount++
	return nil
}

func (s *MemoryStore) FindDuplicate(accountId string, canonicalUrl string) (*model.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var newest *model.Run
	for _, run := range s.runs {
		if run.AccountID != accountId || run.CanonicalUrl != canonicalUrl {
			continue
		}
		isDuplicateStatus := false
		for _, status := range duplicateStatuses {
			if run.Status == status {
				isDuplicateStatus = true
			}
		}
		if !isDuplicateStatus {
			continue
		}
		if newest == nil || run.CreatedAt.After(newest.CreatedAt) {
			newest = run
		}
	}
	if newest == nil {
		return nil, ErrNotFound
	}
	return s.getRunLocked(newest.Id)
}

func (s *MemoryStore) ListRuns(accountId string, limit int) ([]*model.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	runs := []*model.Run{}
	for id, run := range s.runs {
		if accountId != "" && run.AccountID != accountId {
			continue
		}
		copied, err := s.getRunLocked(id)
		if err != nil {
			return nil, err
		}
		runs = append(runs, copied)
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].CreatedAt.After(runs[j].CreatedAt) })
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

func (s *MemoryStore) AddAccount(account *model.Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[account.Id] = account
}

func (s *MemoryStore) GetAccount(id string) (*model.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	account, ok := s.accounts[id]
	if !ok {
		return nil, ErrNotFound
	}
	return account, nil
}

func (s *MemoryStore) GetAccountByHandle(handle string) (*model.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, account := range s.accounts {
		if account.Handle == handle {
			return account, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) FirstAccount() (*model.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var first *model.Account
	for _, account := range s.accounts {
		if first == nil || account.CreatedAt.Before(first.CreatedAt) {
			first = account
		}
	}
	if first == nil {
		return nil, ErrNotFound
	}
	return first, nil
}

func (s *MemoryStore) AddApiToken(token *model.ApiToken) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[token.Id] = token
}

func (s *MemoryStore) GetApiTokenByHash(hash string) (*model.ApiToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, token := range s.tokens {
		if token.TokenHash == hash {
			return token, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) TouchApiToken(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	token, ok := s.tokens[id]
	if !ok {
		return ErrNotFound
	}
	now := time.Now()
	token.LastUsedAt = &now
	return nil
}
