package twofa

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image/png"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	apperrors "github.com/tendant/simple-twofa/pkg/errors"
)

const (
	TOTP_ISSUER      = "simple-twofa"
	TOTP_SECRET_SIZE = 20 // bytes, 160 bits
	QR_CODE_SIZE     = 200
)

// Provisioner creates per-account TOTP secrets and renders them for
// authenticator apps.
type Provisioner struct {
	store  AccountStore
	issuer string
}

// NewProvisioner creates a Provisioner. An empty issuer falls back to TOTP_ISSUER.
func NewProvisioner(store AccountStore, issuer string) *Provisioner {
	if issuer == "" {
		issuer = TOTP_ISSUER
	}
	return &Provisioner{store: store, issuer: issuer}
}

// Issuer returns the issuer embedded in provisioning URIs
func (p *Provisioner) Issuer() string {
	return p.issuer
}

// GenerateSecret returns the account's secret, creating and storing one if it
// has none. An existing unconfirmed secret is never overwritten.
func (p *Provisioner) GenerateSecret(ctx context.Context, accountID uuid.UUID) (Account, error) {
	account, err := p.store.GetByID(ctx, accountID)
	if err != nil {
		return Account{}, storeError("get account", err)
	}
	if account.HasSecret() {
		return account, nil
	}
	if strings.TrimSpace(account.Email) == "" {
		return Account{}, ErrNoAccountLabel
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      p.issuer,
		AccountName: account.Email,
		SecretSize:  TOTP_SECRET_SIZE,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		slog.Error("Failed to generate totp secret", "accountID", accountID, "issuer", p.issuer, "error", err)
		return Account{}, fmt.Errorf("failed to generate totp secret: %w", err)
	}

	stored, err := p.store.SetSecretIfAbsent(ctx, accountID, key.Secret())
	if err != nil {
		return Account{}, storeError("save totp secret", err)
	}
	if stored.TOTPSecret != key.Secret() {
		slog.Debug("Concurrent setup stored a secret first", "accountID", accountID)
		return stored, nil
	}
	slog.Info("Generated new totp secret", "accountID", accountID)
	return stored, nil
}

// ProvisioningURI builds the otpauth:// URI for the account's secret.
func (p *Provisioner) ProvisioningURI(account Account) (string, error) {
	if strings.TrimSpace(account.Email) == "" {
		return "", ErrNoAccountLabel
	}
	if !account.HasSecret() {
		return "", ErrNotProvisioned
	}
	raw, err := decodeSecret(account.TOTPSecret)
	if err != nil {
		return "", fmt.Errorf("stored totp secret is not base32: %w", err)
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      p.issuer,
		AccountName: account.Email,
		Secret:      raw,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return "", fmt.Errorf("failed to build provisioning uri: %w", err)
	}
	return key.URL(), nil
}

// QRPayload renders uri as a PNG data URI. Errors are ProvisioningFailure and
// leave the secret and URI usable for manual entry.
func QRPayload(uri string) (string, error) {
	key, err := otp.NewKeyFromURL(uri)
	if err != nil {
		return "", apperrors.ProvisioningFailed(err)
	}
	img, err := key.Image(QR_CODE_SIZE, QR_CODE_SIZE)
	if err != nil {
		return "", apperrors.ProvisioningFailed(err)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", apperrors.ProvisioningFailed(err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// storeError keeps not-found distinguishable and marks everything else retryable.
func storeError(op string, err error) error {
	if errors.Is(err, ErrAccountNotFound) || errors.Is(err, ErrDuplicateValue) {
		return err
	}
	return fmt.Errorf("failed to %s: %w", op, apperrors.StorageUnavailable(err))
}
