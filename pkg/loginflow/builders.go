package loginflow

// LoginFlowBuilders assembles the login flows from their steps
type LoginFlowBuilders struct {
	services *ServiceDependencies
}

// NewLoginFlowBuilders creates flow builders sharing services
func NewLoginFlowBuilders(services *ServiceDependencies) *LoginFlowBuilders {
	return &LoginFlowBuilders{services: services}
}

// BuildBeginLoginFlow checks the password and decides whether a second factor is owed
func (b *LoginFlowBuilders) BuildBeginLoginFlow() *FlowExecutor {
	return NewFlowBuilder().
		AddStep(NewCredentialAuthenticationStep()).
		AddStep(NewTwoFARequirementStep()).
		Build(b.services)
}

// BuildCompleteLoginFlow verifies the second factor of a pending login
func (b *LoginFlowBuilders) BuildCompleteLoginFlow() *FlowExecutor {
	return NewFlowBuilder().
		AddStep(NewPendingLoginResolutionStep()).
		AddStep(NewFactorValidationStep()).
		AddStep(NewPendingLoginConsumptionStep()).
		AddStep(NewBackupCodeAdvisoryStep()).
		Build(b.services)
}
