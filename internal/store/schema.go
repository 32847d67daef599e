package store

const schema = `
CREATE TABLE IF NOT EXISTS libraries (
	id              TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	workspace_id    TEXT NOT NULL,
	name            TEXT NOT NULL,
	embedding_model TEXT,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS crawlers (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	library_id TEXT NOT NULL REFERENCES libraries(id) ON DELETE CASCADE,
	uri        TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS files (
	id                       TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	library_id               TEXT NOT NULL REFERENCES libraries(id) ON DELETE CASCADE,
	name                     TEXT NOT NULL,
	origin_uri               TEXT,
	mime_type                TEXT,
	size                     BIGINT,
	crawled_by_crawler_id    TEXT REFERENCES crawlers(id) ON DELETE SET NULL,
	origin_modification_date TIMESTAMPTZ,
	archived_at              TIMESTAMPTZ,
	created_at               TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_files_library_id ON files(library_id);

CREATE TABLE IF NOT EXISTS content_processing_tasks (
	id                     TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	file_id                TEXT NOT NULL REFERENCES files(id) ON DELETE CASCADE,
	status                 TEXT NOT NULL DEFAULT 'pending',
	processing_finished_at TIMESTAMPTZ,
	created_at             TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_content_processing_tasks_file ON content_processing_tasks(file_id, created_at DESC);

CREATE TABLE IF NOT EXISTS lists (
	id           TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	workspace_id TEXT NOT NULL,
	name         TEXT NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS list_sources (
	id                  TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	list_id             TEXT NOT NULL REFERENCES lists(id) ON DELETE CASCADE,
	library_id          TEXT NOT NULL REFERENCES libraries(id) ON DELETE CASCADE,
	extraction_strategy TEXT NOT NULL DEFAULT 'per_file',
	extraction_config   JSONB,
	created_at          TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_list_sources_library_id ON list_sources(library_id);

CREATE TABLE IF NOT EXISTS list_fields (
	id                TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	list_id           TEXT NOT NULL REFERENCES lists(id) ON DELETE CASCADE,
	name              TEXT NOT NULL,
	type              TEXT NOT NULL,
	source_type       TEXT NOT NULL,
	file_property     TEXT,
	prompt            TEXT,
	language_model    TEXT,
	language_provider TEXT,
	failure_terms     TEXT,
	use_markdown      BOOLEAN NOT NULL DEFAULT false,
	position          INTEGER NOT NULL DEFAULT 0,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_list_fields_list_id ON list_fields(list_id);

CREATE TABLE IF NOT EXISTS list_field_contexts (
	id                 TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	field_id           TEXT NOT NULL REFERENCES list_fields(id) ON DELETE CASCADE,
	context_type       TEXT NOT NULL,
	context_field_id   TEXT REFERENCES list_fields(id) ON DELETE CASCADE,
	query_template     TEXT,
	url_template       TEXT,
	max_chunks         INTEGER,
	max_distance       DOUBLE PRECISION,
	max_content_tokens INTEGER,
	position           INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_list_field_contexts_field_id ON list_field_contexts(field_id);

CREATE TABLE IF NOT EXISTS list_items (
	id               TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	list_id          TEXT NOT NULL REFERENCES lists(id) ON DELETE CASCADE,
	source_id        TEXT NOT NULL REFERENCES list_sources(id) ON DELETE CASCADE,
	source_file_id   TEXT NOT NULL REFERENCES files(id) ON DELETE CASCADE,
	extraction_index INTEGER,
	item_name        TEXT,
	metadata         JSONB,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_list_items_list_id ON list_items(list_id);
CREATE INDEX IF NOT EXISTS idx_list_items_source_file ON list_items(source_id, source_file_id);

CREATE TABLE IF NOT EXISTS list_item_cache (
	id                       TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	item_id                  TEXT NOT NULL REFERENCES list_items(id) ON DELETE CASCADE,
	field_id                 TEXT NOT NULL REFERENCES list_fields(id) ON DELETE CASCADE,
	value_string             TEXT,
	value_number             DOUBLE PRECISION,
	value_boolean            BOOLEAN,
	value_date               TIMESTAMPTZ,
	enrichment_error_message TEXT,
	failed_enrichment_value  TEXT,
	updated_at               TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (item_id, field_id),
	CHECK (num_nonnulls(value_string, value_number, value_boolean, value_date) <= 1)
);

CREATE INDEX IF NOT EXISTS idx_list_item_cache_field_id ON list_item_cache(field_id);

CREATE TABLE IF NOT EXISTS enrichment_queue (
	id           TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	list_id      TEXT NOT NULL REFERENCES lists(id) ON DELETE CASCADE,
	field_id     TEXT NOT NULL REFERENCES list_fields(id) ON DELETE CASCADE,
	item_id      TEXT NOT NULL REFERENCES list_items(id) ON DELETE CASCADE,
	status       TEXT NOT NULL DEFAULT 'pending',
	priority     INTEGER NOT NULL DEFAULT 0,
	requested_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	started_at   TIMESTAMPTZ,
	completed_at TIMESTAMPTZ,
	error        TEXT,
	metadata     JSONB,
	UNIQUE (field_id, item_id)
);

CREATE INDEX IF NOT EXISTS idx_enrichment_queue_pending ON enrichment_queue(priority DESC, requested_at) WHERE status = 'pending';
CREATE INDEX IF NOT EXISTS idx_enrichment_queue_list_field ON enrichment_queue(list_id, field_id);

CREATE TABLE IF NOT EXISTS extraction_logs (
	id            TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	source_id     TEXT NOT NULL REFERENCES list_sources(id) ON DELETE CASCADE,
	file_id       TEXT NOT NULL REFERENCES files(id) ON DELETE CASCADE,
	strategy      TEXT NOT NULL,
	input         JSONB NOT NULL,
	output        JSONB,
	error         TEXT,
	items_created INTEGER NOT NULL DEFAULT 0,
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (source_id, file_id)
);

CREATE TABLE IF NOT EXISTS connectors (
	id             TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	workspace_id   TEXT NOT NULL,
	connector_type TEXT NOT NULL,
	base_url       TEXT,
	config         JSONB NOT NULL DEFAULT '{}',
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS automations (
	id               TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	list_id          TEXT NOT NULL REFERENCES lists(id) ON DELETE CASCADE,
	workspace_id     TEXT NOT NULL,
	name             TEXT NOT NULL,
	connector_id     TEXT NOT NULL REFERENCES connectors(id),
	connector_type   TEXT NOT NULL,
	connector_action TEXT NOT NULL,
	action_config    JSONB,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_automations_list_id ON automations(list_id);

-- list_item_id carries no foreign key: orphans are removed by the item sync.
CREATE TABLE IF NOT EXISTS automation_items (
	id            TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	automation_id TEXT NOT NULL REFERENCES automations(id) ON DELETE CASCADE,
	list_item_id  TEXT NOT NULL,
	item_name     TEXT,
	in_scope      BOOLEAN NOT NULL DEFAULT true,
	status        TEXT NOT NULL DEFAULT 'PENDING',
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (automation_id, list_item_id)
);

CREATE INDEX IF NOT EXISTS idx_automation_items_pending ON automation_items(automation_id, updated_at) WHERE status = 'PENDING';

CREATE TABLE IF NOT EXISTS automation_batches (
	id              TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	automation_id   TEXT NOT NULL REFERENCES automations(id) ON DELETE CASCADE,
	status          TEXT NOT NULL DEFAULT 'PENDING',
	items_total     INTEGER NOT NULL DEFAULT 0,
	items_processed INTEGER NOT NULL DEFAULT 0,
	items_success   INTEGER NOT NULL DEFAULT 0,
	items_warning   INTEGER NOT NULL DEFAULT 0,
	items_failed    INTEGER NOT NULL DEFAULT 0,
	items_skipped   INTEGER NOT NULL DEFAULT 0,
	triggered_by    TEXT,
	started_at      TIMESTAMPTZ,
	finished_at     TIMESTAMPTZ,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_automation_batches_active ON automation_batches(created_at) WHERE status IN ('PENDING', 'RUNNING');

CREATE TABLE IF NOT EXISTS automation_item_executions (
	id                 TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	automation_item_id TEXT NOT NULL REFERENCES automation_items(id) ON DELETE CASCADE,
	batch_id           TEXT NOT NULL REFERENCES automation_batches(id) ON DELETE CASCADE,
	status             TEXT NOT NULL,
	input              JSONB,
	output             JSONB,
	started_at         TIMESTAMPTZ NOT NULL,
	finished_at        TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_automation_item_executions_batch ON automation_item_executions(batch_id);
`
