package service

import (
	"errors"

	"github.com/okian/ecovision/internal/adapters/repository"
	"github.com/okian/ecovision/internal/adapters/runtime"
	"github.com/okian/ecovision/internal/domain/preprocess"
)

// Errors surfaced to callers. They alias the stage sentinels so that
// errors.Is works without importing the stage packages.
var (
	ErrNotStarted = errors.New("service not started")
	ErrNoAccounts = errors.New("account management not configured")
	ErrPreprocess = preprocess.ErrPreprocess
	ErrInference  = runtime.ErrInference
	ErrModelLoad  = runtime.ErrModelLoad
	ErrNotFound   = repository.ErrNotFound
)
