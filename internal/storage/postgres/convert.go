package postgres

import (
	"github.com/jkaninda/warden/internal/confirmation"
	"github.com/jkaninda/warden/internal/security"
)

func toActionLogModel(r security.AuditRecord) ActionLogModel {
	return ActionLogModel{
		LogID:      r.LogID,
		LoggedAt:   r.Timestamp.UTC(),
		Action:     r.Action,
		Parameters: r.Parameters,
		Status:     string(r.Status),
		Result:     r.Result,
		Error:      r.Error,
		Caller:     r.Caller,
		Query:      r.Query,
		ExpiresAt:  r.ExpiresAt.UTC(),
	}
}

func toAuditRecord(m *ActionLogModel) security.AuditRecord {
	return security.AuditRecord{
		LogID:      m.LogID,
		Timestamp:  m.LoggedAt.UTC(),
		Action:     m.Action,
		Parameters: m.Parameters,
		Status:     security.AuditStatus(m.Status),
		Result:     m.Result,
		Error:      m.Error,
		Caller:     m.Caller,
		Query:      m.Query,
		ExpiresAt:  m.ExpiresAt.UTC(),
	}
}

func toTokenModel(t *confirmation.Token) ConfirmationTokenModel {
	return ConfirmationTokenModel{
		Token:      t.Value,
		Action:     t.Action,
		Parameters: t.Parameters,
		CreatedAt:  t.CreatedAt.UTC(),
		ExpiresAt:  t.ExpiresAt.UTC(),
	}
}

func toToken(m *ConfirmationTokenModel) *confirmation.Token {
	return &confirmation.Token{
		Value:      m.Token,
		Action:     m.Action,
		Parameters: m.Parameters,
		CreatedAt:  m.CreatedAt.UTC(),
		ExpiresAt:  m.ExpiresAt.UTC(),
	}
}
