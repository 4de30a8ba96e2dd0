package pg

import (
	"context"
	"database/sql"
	"encoding/json"

	"gatehouse.org/internal/audit"
)

// Audit returns the append-only recorder backing the audit trail resource.
func (s *Store) Audit() audit.Recorder { return auditEvents{db: s.db} }

type auditEvents struct {
	db *sql.DB
}

func (a auditEvents) Append(ctx context.Context, e *audit.Entry) error {
	var meta []byte
	if len(e.Metadata) > 0 {
		b, err := json.Marshal(e.Metadata)
		if err != nil {
			return err
		}
		meta = b
	}
	_, err := a.db.ExecContext(ctx, `
		insert into audit_events(id, occurred_at, actor_id, organization_id, action, resource_type, resource_id, request_id, metadata)
		values ($1, $2, nullif($3,''), nullif($4,''), $5, nullif($6,''), nullif($7,''), nullif($8,''), $9)
	`, e.ID, e.OccurredAt, e.ActorID, e.OrganizationID, e.Action, e.ResourceType, e.ResourceID, e.RequestID, meta)
	return mapAuthErr(err)
}
