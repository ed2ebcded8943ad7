package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			-- Rule catalog: pipelines, versions, stages, transitions
			CREATE TABLE pipelines (
				id UUID PRIMARY KEY,
				tenant_id VARCHAR(255) NOT NULL,
				organization_id VARCHAR(255) NOT NULL,
				key VARCHAR(255) NOT NULL,
				name VARCHAR(255) NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				status VARCHAR(50) NOT NULL,
				published_version INT NOT NULL DEFAULT 0,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				UNIQUE (tenant_id, organization_id, key)
			);

			CREATE INDEX idx_pipelines_tenant ON pipelines(tenant_id, organization_id);
			CREATE INDEX idx_pipelines_status ON pipelines(status);

			CREATE TABLE pipeline_versions (
				id UUID PRIMARY KEY,
				pipeline_id UUID NOT NULL REFERENCES pipelines(id) ON DELETE CASCADE,
				version INT NOT NULL,
				status VARCHAR(50) NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				published_at TIMESTAMP WITH TIME ZONE,
				UNIQUE (pipeline_id, version)
			);

			CREATE INDEX idx_pipeline_versions_status ON pipeline_versions(pipeline_id, status);

			CREATE TABLE stages (
				id UUID PRIMARY KEY,
				version_id UUID NOT NULL REFERENCES pipeline_versions(id) ON DELETE CASCADE,
				name VARCHAR(255) NOT NULL,
				stage_order INT NOT NULL DEFAULT 0,
				classification VARCHAR(50) NOT NULL,
				color VARCHAR(50),
				is_initial BOOLEAN NOT NULL DEFAULT false,
				is_final BOOLEAN NOT NULL DEFAULT false,
				wip_limit INT,
				sla_hours INT,
				active BOOLEAN NOT NULL DEFAULT true,
				form_attach_rules JSONB NOT NULL DEFAULT '[]'
			);

			CREATE INDEX idx_stages_version ON stages(version_id);

			CREATE TABLE stage_transitions (
				id UUID PRIMARY KEY,
				version_id UUID NOT NULL REFERENCES pipeline_versions(id) ON DELETE CASCADE,
				from_stage_id UUID NOT NULL,
				to_stage_id UUID NOT NULL,
				rules JSONB NOT NULL DEFAULT '[]',
				UNIQUE (version_id, from_stage_id, to_stage_id)
			);

			CREATE INDEX idx_stage_transitions_version ON stage_transitions(version_id);

			-- Cards and their attachments
			CREATE TABLE cards (
				id UUID PRIMARY KEY,
				tenant_id VARCHAR(255) NOT NULL,
				organization_id VARCHAR(255) NOT NULL,
				pipeline_id UUID NOT NULL REFERENCES pipelines(id),
				pipeline_version INT NOT NULL,
				current_stage_id UUID NOT NULL,
				title VARCHAR(500) NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				priority VARCHAR(50) NOT NULL,
				status VARCHAR(50) NOT NULL,
				unique_key_value VARCHAR(255),
				owner_id VARCHAR(255),
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				closed_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX idx_cards_stage ON cards(current_stage_id) WHERE status = 'active';
			CREATE INDEX idx_cards_pipeline ON cards(pipeline_id, pipeline_version);
			CREATE INDEX idx_cards_tenant ON cards(tenant_id, organization_id);

			CREATE TABLE card_forms (
				id UUID PRIMARY KEY,
				card_id UUID NOT NULL REFERENCES cards(id) ON DELETE CASCADE,
				form_definition_id VARCHAR(255) NOT NULL,
				form_version INT NOT NULL DEFAULT 0,
				status VARCHAR(50) NOT NULL,
				data JSONB NOT NULL DEFAULT '{}',
				attached_at_stage_id UUID NOT NULL,
				attached_at TIMESTAMP WITH TIME ZONE NOT NULL,
				UNIQUE (card_id, form_definition_id)
			);

			CREATE TABLE card_move_history (
				id UUID PRIMARY KEY,
				card_id UUID NOT NULL REFERENCES cards(id) ON DELETE CASCADE,
				from_stage_id UUID NOT NULL,
				to_stage_id UUID NOT NULL,
				reason VARCHAR(50) NOT NULL,
				moved_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_card_move_history_card ON card_move_history(card_id, moved_at);

			CREATE TABLE card_comments (
				id UUID PRIMARY KEY,
				card_id UUID NOT NULL REFERENCES cards(id) ON DELETE CASCADE,
				author_id VARCHAR(255) NOT NULL,
				body TEXT NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_card_comments_card ON card_comments(card_id, created_at);

			-- Triggers and executions
			CREATE TABLE stage_triggers (
				id UUID PRIMARY KEY,
				stage_id UUID NOT NULL,
				integration_id UUID NOT NULL,
				event_type VARCHAR(50) NOT NULL,
				from_stage_id UUID,
				form_definition_id VARCHAR(255),
				field_id VARCHAR(255),
				execution_order INT NOT NULL DEFAULT 0,
				enabled BOOLEAN NOT NULL DEFAULT true,
				conditions JSONB NOT NULL DEFAULT '[]',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_stage_triggers_stage ON stage_triggers(stage_id, execution_order);

			CREATE TABLE trigger_executions (
				id UUID PRIMARY KEY,
				trigger_id UUID NOT NULL,
				integration_id UUID NOT NULL,
				card_id UUID NOT NULL,
				status VARCHAR(50) NOT NULL,
				executed_at TIMESTAMP WITH TIME ZONE NOT NULL,
				completed_at TIMESTAMP WITH TIME ZONE,
				error_message TEXT,
				response JSONB
			);

			CREATE INDEX idx_trigger_executions_card ON trigger_executions(card_id, executed_at);

			-- Permissions
			CREATE TABLE user_groups (
				id UUID PRIMARY KEY,
				tenant_id VARCHAR(255) NOT NULL,
				organization_id VARCHAR(255) NOT NULL,
				name VARCHAR(255) NOT NULL
			);

			CREATE TABLE group_members (
				group_id UUID NOT NULL REFERENCES user_groups(id) ON DELETE CASCADE,
				user_id VARCHAR(255) NOT NULL,
				PRIMARY KEY (group_id, user_id)
			);

			CREATE INDEX idx_group_members_user ON group_members(user_id);

			CREATE TABLE pipeline_permissions (
				id UUID PRIMARY KEY,
				pipeline_id UUID NOT NULL REFERENCES pipelines(id) ON DELETE CASCADE,
				group_id UUID NOT NULL REFERENCES user_groups(id) ON DELETE CASCADE,
				role VARCHAR(50) NOT NULL,
				UNIQUE (pipeline_id, group_id)
			);

			-- Integrations and forms
			CREATE TABLE integrations (
				id UUID PRIMARY KEY,
				tenant_id VARCHAR(255) NOT NULL,
				organization_id VARCHAR(255) NOT NULL,
				key VARCHAR(255) NOT NULL,
				name VARCHAR(255) NOT NULL,
				external_api_key_id VARCHAR(255),
				http_method VARCHAR(20) NOT NULL DEFAULT 'POST',
				base_url TEXT NOT NULL,
				endpoint TEXT NOT NULL DEFAULT '',
				default_payload JSONB NOT NULL DEFAULT '{}',
				enabled BOOLEAN NOT NULL DEFAULT true,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE TABLE api_keys (
				id VARCHAR(255) PRIMARY KEY,
				value TEXT NOT NULL
			);

			CREATE TABLE form_definitions (
				id VARCHAR(255) PRIMARY KEY,
				tenant_id VARCHAR(255) NOT NULL,
				name VARCHAR(255) NOT NULL,
				version INT NOT NULL DEFAULT 1,
				status VARCHAR(50) NOT NULL,
				schema JSONB
			);
		`,
	}
}
