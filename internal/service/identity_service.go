package service

import (
	"context"
	"errors"

	"github.com/stemsi/exstem-assessment/internal/model"
	"github.com/stemsi/exstem-assessment/internal/repository"
)

// IdentityService resolves a student id to a standard or licensed account.
type IdentityService struct {
	accountRepo *repository.AccountRepository
}

// NewIdentityService creates a new IdentityService.
func NewIdentityService(accountRepo *repository.AccountRepository) *IdentityService {
	return &IdentityService{accountRepo: accountRepo}
}

// Resolve returns ErrStudentNotFound when neither store knows the id.
func (s *IdentityService) Resolve(ctx context.Context, studentID string) (model.Account, error) {
	acct, err := s.accountRepo.Resolve(ctx, studentID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrStudentNotFound
	}
	return acct, err
}
