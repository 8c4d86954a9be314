package database

import (
	"context"

	"github.com/jackc/pgtype/pgxtype"
	log "github.com/sirupsen/logrus"
)

type migration struct {
	id   int
	name string
	sql  string
}

var migrations = []migration{
	{
		id:   1,
		name: "fair_shares",
		sql: `
CREATE TABLE fair_shares (
	resource_group           varchar(64)  NOT NULL,
	scope_level              varchar(16)  NOT NULL,
	scope_id                 varchar(128) NOT NULL,
	domain_name              varchar(64)  NOT NULL DEFAULT '',
	project_id               uuid,
	user_uuid                uuid,
	weight                   numeric(10, 4),
	fair_share_factor        numeric(20, 10) NOT NULL DEFAULT 1,
	total_decayed_usage      jsonb NOT NULL DEFAULT '{}'::jsonb,
	resource_weights         jsonb NOT NULL DEFAULT '{}'::jsonb,
	normalized_usage         numeric(20, 10) NOT NULL DEFAULT 0,
	used_default_weight      boolean NOT NULL DEFAULT true,
	default_weight_resources jsonb NOT NULL DEFAULT '[]'::jsonb,
	half_life_days           integer NOT NULL,
	lookback_days            integer NOT NULL,
	decay_unit_days          integer NOT NULL,
	lookback_start           timestamptz,
	lookback_end             timestamptz,
	last_calculated_at       timestamptz,
	PRIMARY KEY (resource_group, scope_level, scope_id)
);
CREATE INDEX idx_fair_shares_resource_group ON fair_shares (resource_group);
`,
	},
	{
		id:   2,
		name: "usage_buckets",
		sql: `
CREATE TABLE usage_buckets (
	resource_group   varchar(64)  NOT NULL,
	scope_level      varchar(16)  NOT NULL,
	scope_id         varchar(128) NOT NULL,
	domain_name      varchar(64)  NOT NULL DEFAULT '',
	project_id       uuid,
	user_uuid        uuid,
	bucket_date      date NOT NULL,
	usage            jsonb NOT NULL DEFAULT '{}'::jsonb,
	duration_seconds bigint NOT NULL DEFAULT 0,
	PRIMARY KEY (resource_group, scope_level, scope_id, bucket_date)
);
CREATE INDEX idx_usage_buckets_group_date ON usage_buckets (resource_group, bucket_date);
`,
	},
	{
		id:   3,
		name: "round_robin_states",
		sql: `
CREATE TABLE round_robin_states (
	scaling_group varchar(64) NOT NULL,
	architecture  varchar(32) NOT NULL,
	next_index    integer NOT NULL DEFAULT 0,
	PRIMARY KEY (scaling_group, architecture)
);
`,
	},
	{
		id:   4,
		name: "agents",
		sql: `
CREATE TABLE agents (
	id              varchar(128) PRIMARY KEY,
	addr            varchar(256) NOT NULL,
	architecture    varchar(32)  NOT NULL,
	scaling_group   varchar(64)  NOT NULL,
	available_slots jsonb NOT NULL DEFAULT '{}'::jsonb,
	occupied_slots  jsonb NOT NULL DEFAULT '{}'::jsonb,
	container_count integer NOT NULL DEFAULT 0,
	alive           boolean NOT NULL DEFAULT true,
	last_seen_at    timestamptz
);
CREATE INDEX idx_agents_scaling_group ON agents (scaling_group) WHERE alive;
`,
	},
	{
		id:   5,
		name: "sessions",
		sql: `
CREATE TABLE sessions (
	id                   uuid PRIMARY KEY,
	access_key           varchar(64)  NOT NULL,
	user_uuid            uuid NOT NULL,
	project_id           uuid NOT NULL,
	domain_name          varchar(64)  NOT NULL,
	scaling_group        varchar(64)  NOT NULL,
	priority             integer NOT NULL DEFAULT 0,
	session_type         varchar(16)  NOT NULL,
	cluster_mode         varchar(16)  NOT NULL,
	requested_slots      jsonb NOT NULL DEFAULT '{}'::jsonb,
	designated_agent_ids jsonb NOT NULL DEFAULT '[]'::jsonb,
	status               varchar(16)  NOT NULL DEFAULT 'PENDING',
	last_failure         text,
	starts_at            timestamptz,
	created_at           timestamptz NOT NULL DEFAULT now()
);
CREATE INDEX idx_sessions_pending ON sessions (scaling_group, created_at) WHERE status = 'PENDING';

CREATE TABLE kernels (
	id              uuid PRIMARY KEY,
	session_id      uuid NOT NULL REFERENCES sessions (id) ON DELETE CASCADE,
	image           varchar(256) NOT NULL,
	architecture    varchar(32)  NOT NULL,
	requested_slots jsonb NOT NULL DEFAULT '{}'::jsonb,
	agent_id        varchar(128)
);
CREATE INDEX idx_kernels_session ON kernels (session_id);
`,
	},
	{
		id:   6,
		name: "session_endpoints",
		sql: `
ALTER TABLE sessions ADD COLUMN endpoint_id uuid;
CREATE INDEX idx_sessions_endpoint ON sessions (endpoint_id) WHERE endpoint_id IS NOT NULL;
`,
	},
}

func UpdateDatabase(ctx context.Context, db pgxtype.Querier) error {
	log.Info("Updating postgres...")
	version, err := readVersion(ctx, db)
	if err != nil {
		return err
	}
	log.Infof("Current version %v", version)

	for _, m := range migrations {
		if m.id > version {
			log.Infof("Applying migration %d (%s)", m.id, m.name)
			_, err := db.Exec(ctx, m.sql)
			if err != nil {
				return err
			}

			version = m.id
			err = setVersion(ctx, db, version)
			if err != nil {
				return err
			}
		}
	}
	log.Info("Database updated.")
	return nil
}

func readVersion(ctx context.Context, db pgxtype.Querier) (int, error) {
	_, err := db.Exec(ctx,
		`CREATE SEQUENCE IF NOT EXISTS database_version START WITH 0 MINVALUE 0;`)
	if err != nil {
		return 0, err
	}

	result, err := db.Query(ctx,
		`SELECT last_value FROM database_version`)
	if err != nil {
		return 0, err
	}
	defer result.Close()
	var version int
	result.Next()
	err = result.Scan(&version)

	return version, err
}

func setVersion(ctx context.Context, db pgxtype.Querier, version int) error {
	_, err := db.Exec(ctx, `SELECT setval('database_version', $1)`, version)
	return err
}
