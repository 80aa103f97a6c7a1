// Package admin owns process-wide configuration: the administrator identity
// and the one-time initialization that sets it. It plays the role the proxy
// initializer plays on chain: setup runs exactly once per database lifetime,
// across any number of logic deployments.
package admin

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/openlots/lotledger/pkg/auth"
)

var (
	ErrUnauthorized       = fmt.Errorf("caller is not the administrator")
	ErrAlreadyInitialized = fmt.Errorf("ledger is already initialized")
	ErrNotInitialized     = fmt.Errorf("ledger is not initialized")
)

// Config is the init-once configuration row.
type Config struct {
	AdminAddress  string
	BootstrapHash string
	InitializedAt time.Time
}

// ConfigRepository persists the single configuration row.
type ConfigRepository interface {
	// Insert stores the row if none exists. Returns false when a row was
	// already present.
	Insert(ctx context.Context, cfg *Config) (bool, error)

	// Get returns the row, or ErrNotInitialized.
	Get(ctx context.Context) (*Config, error)
}

// Service exposes initialization, authorization, and admin token issuance.
type Service struct {
	repo   ConfigRepository
	signer *auth.Signer
	now    func() time.Time
}

// NewService creates the admin service. signer may be nil in processes that
// never issue tokens.
func NewService(repo ConfigRepository, signer *auth.Signer) *Service {
	return &Service{
		repo:   repo,
		signer: signer,
		now:    time.Now,
	}
}

// Initialize performs the one-time setup: it stores the administrator address
// and the argon2id hash of the bootstrap secret. A second call fails with
// ErrAlreadyInitialized and changes nothing, whichever deployment makes it.
func (s *Service) Initialize(ctx context.Context, adminAddress, bootstrapSecret string) error {
	if adminAddress == "" {
		return fmt.Errorf("admin address is required")
	}
	if bootstrapSecret == "" {
		return fmt.Errorf("bootstrap secret is required")
	}

	hash, err := auth.HashSecret(bootstrapSecret)
	if err != nil {
		return fmt.Errorf("failed to hash bootstrap secret: %w", err)
	}

	inserted, err := s.repo.Insert(ctx, &Config{
		AdminAddress:  adminAddress,
		BootstrapHash: hash,
		InitializedAt: s.now(),
	})
	if err != nil {
		return fmt.Errorf("failed to store configuration: %w", err)
	}
	if !inserted {
		return ErrAlreadyInitialized
	}
	return nil
}

// Authorize checks that the caller is the stored administrator.
func (s *Service) Authorize(ctx context.Context, caller string) error {
	cfg, err := s.repo.Get(ctx)
	if err != nil {
		return ErrUnauthorized
	}
	if !strings.EqualFold(caller, cfg.AdminAddress) {
		return ErrUnauthorized
	}
	return nil
}

// IssueToken verifies the bootstrap secret and mints an admin access token.
func (s *Service) IssueToken(ctx context.Context, secret string) (string, error) {
	if s.signer == nil {
		return "", fmt.Errorf("token issuance is not configured")
	}

	cfg, err := s.repo.Get(ctx)
	if err != nil {
		return "", err
	}

	ok, err := auth.VerifySecret(cfg.BootstrapHash, secret)
	if err != nil {
		return "", fmt.Errorf("failed to verify secret: %w", err)
	}
	if !ok {
		return "", ErrUnauthorized
	}

	return s.signer.GenerateToken(cfg.AdminAddress, auth.RoleAdmin)
}
