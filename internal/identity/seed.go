package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
)

const seedPasswordBytes = 16

// SeedAccounts creates an account for each email when the accounts table
// is empty. Generated passwords are logged once at warn level and returned
// keyed by email. Nothing is created if any account already exists.
func SeedAccounts(ctx context.Context, accounts AccountRepository, params HashParams, emails []string, logger *slog.Logger) (map[string]string, error) {
	count, err := accounts.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("checking account count: %w", err)
	}
	if count > 0 {
		logger.Info("accounts exist, skipping seed")
		return nil, nil
	}

	created := make(map[string]string, len(emails))
	for _, email := range emails {
		buf := make([]byte, seedPasswordBytes)
		if _, err := rand.Read(buf); err != nil {
			return created, fmt.Errorf("generating seed password: %w", err)
		}
		password := hex.EncodeToString(buf)

		hash, err := params.Hash(password)
		if err != nil {
			return created, fmt.Errorf("hashing seed password: %w", err)
		}

		account := &Account{Email: email, PasswordHash: hash}
		if err := accounts.Create(ctx, account); err != nil {
			return created, fmt.Errorf("creating seed account %s: %w", email, err)
		}
		created[account.Email] = password

		logger.Warn("seed account created",
			"email", account.Email,
			"password", password,
			"action_required", "change this password immediately",
		)
	}
	return created, nil
}
