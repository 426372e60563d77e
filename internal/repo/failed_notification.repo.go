package repo

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/henriqueponts/labstore-sub003/internal/domain"
)

type FailedNotificationRepo interface {
	// Record upserts the dead letter for the provider transaction id, bumping
	// the attempt counter when it already exists.
	Record(ctx context.Context, n *domain.FailedNotification) error
	// ListRetryable returns unresolved fulfillment failures with fewer than
	// maxAttempts attempts, oldest first.
	ListRetryable(ctx context.Context, maxAttempts, limit int) ([]domain.FailedNotification, error)
	MarkResolved(ctx context.Context, id uuid.UUID) error
}

type failedNotificationRepo struct {
	db DBTX
}

func NewFailedNotificationRepo(db DBTX) FailedNotificationRepo {
	return &failedNotificationRepo{db: db}
}

func (r *failedNotificationRepo) Record(ctx context.Context, n *domain.FailedNotification) error {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	return r.db.QueryRowContext(ctx, `
		INSERT INTO notificacao_falha
			(id, provider_transaction_id, tipo_evento, payload, motivo, tentativas, ultimo_erro)
		VALUES ($1, $2, $3, $4, $5, 1, $6)
		ON CONFLICT (provider_transaction_id) DO UPDATE
		SET motivo        = EXCLUDED.motivo,
		    ultimo_erro   = EXCLUDED.ultimo_erro,
		    payload       = EXCLUDED.payload,
		    tentativas    = notificacao_falha.tentativas + 1,
		    resolvido_em  = NULL,
		    atualizado_em = now()
		RETURNING id, tentativas, criado_em, atualizado_em
	`,
		n.ID,
		n.ProviderTransactionID,
		n.EventType,
		string(n.Payload),
		n.Reason,
		n.LastError,
	).Scan(&n.ID, &n.Attempts, &n.CreatedAt, &n.UpdatedAt)
}

func (r *failedNotificationRepo) ListRetryable(ctx context.Context, maxAttempts, limit int) ([]domain.FailedNotification, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, provider_transaction_id, tipo_evento, payload, motivo, tentativas, ultimo_erro, resolvido_em, criado_em, atualizado_em
		FROM notificacao_falha
		WHERE resolvido_em IS NULL AND motivo = $1 AND tentativas < $2
		ORDER BY atualizado_em
		LIMIT $3
	`, domain.FailureFulfillment, maxAttempts, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.FailedNotification
	for rows.Next() {
		var (
			n          domain.FailedNotification
			payload    string
			resolvedAt *time.Time
		)
		if err := rows.Scan(
			&n.ID,
			&n.ProviderTransactionID,
			&n.EventType,
			&payload,
			&n.Reason,
			&n.Attempts,
			&n.LastError,
			&resolvedAt,
			&n.CreatedAt,
			&n.UpdatedAt,
		); err != nil {
			return nil, err
		}
		n.Payload = []byte(payload)
		n.ResolvedAt = resolvedAt
		out = append(out, n)
	}
	return out, rows.Err()
}

func (r *failedNotificationRepo) MarkResolved(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE notificacao_falha SET resolvido_em = now(), atualizado_em = now() WHERE id = $1",
		id,
	)
	return err
}
