package services

import "github.com/BradenHooton/garage/internal/models"

// LoginMetrics receives login and admission counters.
type LoginMetrics interface {
	ObserveLogin(method models.CredentialMethod, outcome string)
	ObserveAdmissionBlock()
	ObserveStoreError(op string)
}

type noopMetrics struct{}

func (noopMetrics) ObserveLogin(models.CredentialMethod, string) {}
func (noopMetrics) ObserveAdmissionBlock()                        {}
func (noopMetrics) ObserveStoreError(string)                      {}
