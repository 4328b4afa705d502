package loginflow

import (
	"context"
	"errors"
	"log/slog"
	"time"

	apperrors "github.com/tendant/simple-twofa/pkg/errors"
	"github.com/tendant/simple-twofa/pkg/twofa"
)

// CredentialAuthenticationStep checks email and password
type CredentialAuthenticationStep struct{}

func NewCredentialAuthenticationStep() *CredentialAuthenticationStep {
	return &CredentialAuthenticationStep{}
}

func (s *CredentialAuthenticationStep) Name() string {
	return "credential_authentication"
}

func (s *CredentialAuthenticationStep) Order() int {
	return OrderCredentialAuthentication
}

func (s *CredentialAuthenticationStep) ShouldSkip(ctx context.Context, flowContext *FlowContext) bool {
	return false
}

func (s *CredentialAuthenticationStep) Execute(ctx context.Context, flowContext *FlowContext) (*StepResult, error) {
	account, err := flowContext.Services.Authenticator.Authenticate(ctx, flowContext.Request.Email, flowContext.Request.Password)
	if err != nil {
		if apperrors.IsCode(err, apperrors.ErrCodeAuthFailed) {
			slog.Info("Login rejected", "reason", "invalid credentials")
			return &StepResult{Error: newError(ErrorTypeInvalidCredentials, err)}, nil
		}
		return &StepResult{Error: storageError(err)}, nil
	}

	flowContext.Account = account
	return &StepResult{Continue: true}, nil
}

// TwoFARequirementStep finishes the login for accounts without 2FA and parks
// the others in a PendingLogin
type TwoFARequirementStep struct{}

func NewTwoFARequirementStep() *TwoFARequirementStep {
	return &TwoFARequirementStep{}
}

func (s *TwoFARequirementStep) Name() string {
	return "2fa_requirement"
}

func (s *TwoFARequirementStep) Order() int {
	return OrderTwoFARequirement
}

func (s *TwoFARequirementStep) ShouldSkip(ctx context.Context, flowContext *FlowContext) bool {
	return false
}

func (s *TwoFARequirementStep) Execute(ctx context.Context, flowContext *FlowContext) (*StepResult, error) {
	account := flowContext.Account
	if !account.TwoFactorEnabled {
		flowContext.Result.State = StateAuthenticated
		flowContext.Result.AccountID = account.ID
		return &StepResult{EarlyReturn: true}, nil
	}

	pending := NewPendingLogin(account.ID, flowContext.Now, flowContext.Services.PendingLoginTTL)
	if err := flowContext.Services.Pending.Save(ctx, pending); err != nil {
		slog.Error("Failed to save pending login", "account_id", account.ID, "error", err)
		return &StepResult{Error: storageError(err)}, nil
	}

	flowContext.Result.State = StatePending2FA
	flowContext.Result.Pending = &pending
	return &StepResult{EarlyReturn: true}, nil
}

// PendingLoginResolutionStep loads the PendingLogin and its account. A login
// that is gone, expired, or whose account no longer has 2FA must be restarted.
type PendingLoginResolutionStep struct{}

func NewPendingLoginResolutionStep() *PendingLoginResolutionStep {
	return &PendingLoginResolutionStep{}
}

func (s *PendingLoginResolutionStep) Name() string {
	return "pending_login_resolution"
}

func (s *PendingLoginResolutionStep) Order() int {
	return OrderPendingLoginResolution
}

func (s *PendingLoginResolutionStep) ShouldSkip(ctx context.Context, flowContext *FlowContext) bool {
	return false
}

func (s *PendingLoginResolutionStep) Execute(ctx context.Context, flowContext *FlowContext) (*StepResult, error) {
	services := flowContext.Services
	id := flowContext.Request.PendingID

	pending, err := services.Pending.Get(ctx, id)
	if errors.Is(err, ErrPendingLoginNotFound) {
		flowContext.Result.State = StateAnonymous
		return &StepResult{Error: expiredError()}, nil
	}
	if err != nil {
		return &StepResult{Error: storageError(err)}, nil
	}
	if pending.Expired(flowContext.Now) {
		s.discard(ctx, flowContext)
		return &StepResult{Error: expiredError()}, nil
	}

	account, err := services.Accounts.GetByID(ctx, pending.AccountID)
	if errors.Is(err, twofa.ErrAccountNotFound) {
		s.discard(ctx, flowContext)
		return &StepResult{Error: expiredError()}, nil
	}
	if err != nil {
		return &StepResult{Error: storageError(err)}, nil
	}
	if !account.TwoFactorEnabled || !account.HasSecret() {
		slog.Info("Pending login dropped, 2FA no longer enabled", "account_id", account.ID)
		s.discard(ctx, flowContext)
		return &StepResult{Error: expiredError()}, nil
	}

	flowContext.Pending = pending
	flowContext.Account = account
	return &StepResult{Continue: true}, nil
}

func (s *PendingLoginResolutionStep) discard(ctx context.Context, flowContext *FlowContext) {
	flowContext.Result.State = StateAnonymous
	if err := flowContext.Services.Pending.Delete(ctx, flowContext.Request.PendingID); err != nil {
		slog.Warn("Failed to delete pending login", "pending_id", flowContext.Request.PendingID, "error", err)
	}
}

// FactorValidationStep checks the submitted TOTP or backup code
type FactorValidationStep struct{}

func NewFactorValidationStep() *FactorValidationStep {
	return &FactorValidationStep{}
}

func (s *FactorValidationStep) Name() string {
	return "factor_validation"
}

func (s *FactorValidationStep) Order() int {
	return OrderFactorValidation
}

func (s *FactorValidationStep) ShouldSkip(ctx context.Context, flowContext *FlowContext) bool {
	return false
}

func (s *FactorValidationStep) Execute(ctx context.Context, flowContext *FlowContext) (*StepResult, error) {
	factor := flowContext.Request.Factor
	hasCode := factor.Code != ""
	hasBackup := factor.BackupCode != ""
	if hasCode == hasBackup {
		return &StepResult{Error: newError(ErrorTypeValidation, ErrFactorRequired)}, nil
	}

	if hasCode {
		return s.checkTOTP(ctx, flowContext)
	}
	return s.checkBackupCode(ctx, flowContext)
}

func (s *FactorValidationStep) checkTOTP(ctx context.Context, flowContext *FlowContext) (*StepResult, error) {
	services := flowContext.Services
	account := flowContext.Account

	if _, ok := twofa.NormalizeCode(flowContext.Request.Factor.Code); !ok {
		return &StepResult{Error: newError(ErrorTypeValidation, twofa.ErrMalformedCode)}, nil
	}

	step, ok := services.Verifier.Match(account.TOTPSecret, flowContext.Request.Factor.Code, twofa.LoginMode)
	if !ok {
		slog.Info("2FA code rejected", "account_id", account.ID)
		return &StepResult{Error: newError(ErrorTypeInvalidCode, twofa.ErrInvalidCode)}, nil
	}

	if services.UsedCodes != nil {
		first, err := services.UsedCodes.MarkUsed(ctx, account.ID, step, usedCodeTTL())
		if err != nil {
			return &StepResult{Error: storageError(err)}, nil
		}
		if !first {
			slog.Warn("2FA code replayed", "account_id", account.ID, "step", step)
			return &StepResult{Error: newError(ErrorTypeInvalidCode, twofa.ErrInvalidCode)}, nil
		}
	}
	return &StepResult{Continue: true}, nil
}

func (s *FactorValidationStep) checkBackupCode(ctx context.Context, flowContext *FlowContext) (*StepResult, error) {
	account := flowContext.Account

	if _, ok := twofa.CanonicalBackupCode(flowContext.Request.Factor.BackupCode); !ok {
		return &StepResult{Error: newError(ErrorTypeValidation, ErrMalformedBackupCode)}, nil
	}

	// The login is taken before the code is spent, so of two concurrent
	// completions only one can consume a backup code.
	if result := takePending(ctx, flowContext); result != nil {
		return result, nil
	}

	consumed, err := flowContext.Services.Vault.Consume(ctx, account.ID, flowContext.Request.Factor.BackupCode)
	if err != nil {
		s.restore(ctx, flowContext)
		return &StepResult{Error: storageError(err)}, nil
	}
	if !consumed {
		slog.Info("Backup code rejected", "account_id", account.ID)
		s.restore(ctx, flowContext)
		return &StepResult{Error: newError(ErrorTypeInvalidCode, twofa.ErrInvalidCode)}, nil
	}

	flowContext.Result.UsedBackupCode = true
	return &StepResult{Continue: true}, nil
}

// restore puts back a PendingLogin taken for a backup code that was not spent,
// so the user can retry.
func (s *FactorValidationStep) restore(ctx context.Context, flowContext *FlowContext) {
	if err := flowContext.Services.Pending.Save(ctx, flowContext.Pending); err != nil {
		slog.Error("Failed to restore pending login", "pending_id", flowContext.Pending.ID, "error", err)
		flowContext.Result.State = StateAnonymous
		return
	}
	flowContext.PendingTaken = false
}

// takePending removes the PendingLogin from the store. A non-nil result ends
// the flow.
func takePending(ctx context.Context, flowContext *FlowContext) *StepResult {
	if flowContext.PendingTaken {
		return nil
	}
	_, err := flowContext.Services.Pending.Take(ctx, flowContext.Request.PendingID)
	if errors.Is(err, ErrPendingLoginNotFound) {
		// a concurrent completion got there first
		flowContext.Result.State = StateAnonymous
		return &StepResult{Error: expiredError()}
	}
	if err != nil {
		return &StepResult{Error: storageError(err)}
	}
	flowContext.PendingTaken = true
	return nil
}

// usedCodeTTL outlives the widest window a login code is accepted in
func usedCodeTTL() time.Duration {
	return time.Duration(2*twofa.LoginMode.Skew()+2) * twofa.TOTP_PERIOD * time.Second
}

// PendingLoginConsumptionStep takes the PendingLogin so it cannot be
// completed twice
type PendingLoginConsumptionStep struct{}

func NewPendingLoginConsumptionStep() *PendingLoginConsumptionStep {
	return &PendingLoginConsumptionStep{}
}

func (s *PendingLoginConsumptionStep) Name() string {
	return "pending_login_consumption"
}

func (s *PendingLoginConsumptionStep) Order() int {
	return OrderPendingLoginConsumption
}

func (s *PendingLoginConsumptionStep) ShouldSkip(ctx context.Context, flowContext *FlowContext) bool {
	return false
}

func (s *PendingLoginConsumptionStep) Execute(ctx context.Context, flowContext *FlowContext) (*StepResult, error) {
	if result := takePending(ctx, flowContext); result != nil {
		return result, nil
	}

	flowContext.Result.State = StateAuthenticated
	flowContext.Result.AccountID = flowContext.Account.ID
	slog.Info("Login completed with second factor", "account_id", flowContext.Account.ID, "backup_code", flowContext.Result.UsedBackupCode)
	return &StepResult{Continue: true}, nil
}

// BackupCodeAdvisoryStep reports how many backup codes are left after one
// was used. Failures here never undo the login.
type BackupCodeAdvisoryStep struct{}

func NewBackupCodeAdvisoryStep() *BackupCodeAdvisoryStep {
	return &BackupCodeAdvisoryStep{}
}

func (s *BackupCodeAdvisoryStep) Name() string {
	return "backup_code_advisory"
}

func (s *BackupCodeAdvisoryStep) Order() int {
	return OrderBackupCodeAdvisory
}

func (s *BackupCodeAdvisoryStep) ShouldSkip(ctx context.Context, flowContext *FlowContext) bool {
	return !flowContext.Result.UsedBackupCode
}

func (s *BackupCodeAdvisoryStep) Execute(ctx context.Context, flowContext *FlowContext) (*StepResult, error) {
	vault := flowContext.Services.Vault
	remaining, err := vault.Count(ctx, flowContext.Account.ID)
	if err != nil {
		slog.Warn("Could not count remaining backup codes", "account_id", flowContext.Account.ID, "error", err)
		return &StepResult{Continue: true}, nil
	}

	flowContext.Result.RemainingBackupCodes = remaining
	flowContext.Result.LowBackupCodes = vault.IsLow(remaining)
	return &StepResult{Continue: true}, nil
}
