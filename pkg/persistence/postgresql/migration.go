package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			-- Workflow definitions and published versions

			CREATE TABLE workflows (
				id VARCHAR(255) PRIMARY KEY,
				tenant_id VARCHAR(255) NOT NULL,
				name VARCHAR(255) NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				status VARCHAR(50) NOT NULL CHECK (status IN ('draft', 'validated', 'published')),
				version INT NOT NULL DEFAULT 0,
				non_terminating BOOLEAN NOT NULL DEFAULT FALSE,
				metadata JSONB,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				published_at TIMESTAMP WITH TIME ZONE,
				deleted_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX idx_workflows_tenant_id ON workflows(tenant_id);
			CREATE INDEX idx_workflows_status ON workflows(status);
			CREATE INDEX idx_workflows_created_at ON workflows(created_at);
			CREATE INDEX idx_workflows_deleted_at ON workflows(deleted_at);

			CREATE TABLE workflow_nodes (
				workflow_id VARCHAR(255) NOT NULL REFERENCES workflows(id) ON DELETE CASCADE,
				id VARCHAR(255) NOT NULL,
				name VARCHAR(255) NOT NULL,
				is_entry BOOLEAN NOT NULL DEFAULT FALSE,
				completion_rule VARCHAR(50) NOT NULL,
				specific_tasks JSONB,
				tasks JSONB NOT NULL DEFAULT '[]',
				position_x INT NOT NULL DEFAULT 0,
				position_y INT NOT NULL DEFAULT 0,
				ordinal INT NOT NULL,
				PRIMARY KEY (workflow_id, id)
			);

			CREATE INDEX idx_workflow_nodes_workflow_id ON workflow_nodes(workflow_id);

			CREATE TABLE workflow_gates (
				workflow_id VARCHAR(255) NOT NULL REFERENCES workflows(id) ON DELETE CASCADE,
				id VARCHAR(255) NOT NULL,
				source_node_id VARCHAR(255) NOT NULL,
				outcome_name VARCHAR(255) NOT NULL,
				target_node_id VARCHAR(255),
				ordinal INT NOT NULL,
				PRIMARY KEY (workflow_id, id)
			);

			CREATE INDEX idx_workflow_gates_workflow_id ON workflow_gates(workflow_id);
			CREATE INDEX idx_workflow_gates_source ON workflow_gates(workflow_id, source_node_id);

			CREATE TABLE workflow_fan_outs (
				workflow_id VARCHAR(255) NOT NULL REFERENCES workflows(id) ON DELETE CASCADE,
				id VARCHAR(255) NOT NULL,
				source_node_id VARCHAR(255) NOT NULL,
				trigger_outcome VARCHAR(255) NOT NULL,
				target_workflow_id VARCHAR(255) NOT NULL,
				ordinal INT NOT NULL,
				PRIMARY KEY (workflow_id, id)
			);

			CREATE INDEX idx_workflow_fan_outs_workflow_id ON workflow_fan_outs(workflow_id);

			-- Published versions are written once and never updated
			CREATE TABLE workflow_versions (
				id VARCHAR(255) PRIMARY KEY,
				workflow_id VARCHAR(255) NOT NULL REFERENCES workflows(id) ON DELETE CASCADE,
				version INT NOT NULL,
				snapshot JSONB NOT NULL,
				published_at TIMESTAMP WITH TIME ZONE NOT NULL,
				published_by VARCHAR(255) NOT NULL
			);

			CREATE UNIQUE INDEX idx_workflow_versions_unique ON workflow_versions(workflow_id, version);
		`,
		2: `
			-- Draft staging: per-(workflow, tenant) buffers and the
			-- append-only draft history

			CREATE TABLE draft_buffers (
				workflow_id VARCHAR(255) NOT NULL,
				tenant_id VARCHAR(255) NOT NULL,
				content JSONB NOT NULL,
				base_event_seq INT NOT NULL DEFAULT 0,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				PRIMARY KEY (workflow_id, tenant_id)
			);

			CREATE TABLE draft_events (
				id VARCHAR(255) PRIMARY KEY,
				workflow_id VARCHAR(255) NOT NULL,
				tenant_id VARCHAR(255) NOT NULL,
				seq INT NOT NULL,
				event_type VARCHAR(50) NOT NULL CHECK (event_type IN ('initial', 'commit', 'restore')),
				snapshot JSONB,
				restores_seq INT,
				label VARCHAR(255) NOT NULL DEFAULT '',
				created_by VARCHAR(255) NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			-- The backstop for race-free sequence allocation
			CREATE UNIQUE INDEX idx_draft_events_seq ON draft_events(workflow_id, seq);
			CREATE INDEX idx_draft_events_workflow_id ON draft_events(workflow_id);
		`,
		3: `
			-- Flow runtime: flow rows plus the append-only truth log.
			-- Unique keys on the log tables are the cross-process backstop
			-- for the engine's per-flow serialization.

			CREATE TABLE flows (
				id VARCHAR(255) PRIMARY KEY,
				group_id VARCHAR(255) NOT NULL,
				tenant_id VARCHAR(255) NOT NULL,
				workflow_id VARCHAR(255) NOT NULL REFERENCES workflows(id),
				version INT NOT NULL,
				status VARCHAR(50) NOT NULL CHECK (status IN ('active', 'completed', 'cancelled')),
				started_at TIMESTAMP WITH TIME ZONE NOT NULL,
				started_by VARCHAR(255) NOT NULL,
				completed_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX idx_flows_group_id ON flows(group_id);
			CREATE INDEX idx_flows_workflow_id ON flows(workflow_id);
			CREATE INDEX idx_flows_status ON flows(status);

			CREATE TABLE flow_activations (
				id VARCHAR(255) PRIMARY KEY,
				flow_id VARCHAR(255) NOT NULL REFERENCES flows(id) ON DELETE CASCADE,
				node_id VARCHAR(255) NOT NULL,
				iteration INT NOT NULL,
				activated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				seq BIGSERIAL
			);

			CREATE UNIQUE INDEX idx_flow_activations_unique ON flow_activations(flow_id, node_id, iteration);
			CREATE INDEX idx_flow_activations_flow_id ON flow_activations(flow_id);

			CREATE TABLE flow_executions (
				id VARCHAR(255) PRIMARY KEY,
				flow_id VARCHAR(255) NOT NULL REFERENCES flows(id) ON DELETE CASCADE,
				node_id VARCHAR(255) NOT NULL,
				task_id VARCHAR(255) NOT NULL,
				iteration INT NOT NULL,
				started_at TIMESTAMP WITH TIME ZONE NOT NULL,
				started_by VARCHAR(255) NOT NULL,
				outcome_name VARCHAR(255),
				completed_at TIMESTAMP WITH TIME ZONE,
				completed_by VARCHAR(255),
				seq BIGSERIAL
			);

			CREATE UNIQUE INDEX idx_flow_executions_unique ON flow_executions(flow_id, task_id, iteration);
			CREATE INDEX idx_flow_executions_flow_id ON flow_executions(flow_id);
			CREATE INDEX idx_flow_executions_outcome ON flow_executions(flow_id, task_id, outcome_name);

			CREATE TABLE flow_evidence (
				id VARCHAR(255) PRIMARY KEY,
				flow_id VARCHAR(255) NOT NULL REFERENCES flows(id) ON DELETE CASCADE,
				task_id VARCHAR(255) NOT NULL,
				evidence_type VARCHAR(50) NOT NULL CHECK (evidence_type IN ('text', 'structured', 'file')),
				data JSONB,
				attached_at TIMESTAMP WITH TIME ZONE NOT NULL,
				attached_by VARCHAR(255) NOT NULL,
				idempotency_key VARCHAR(255),
				seq BIGSERIAL
			);

			CREATE INDEX idx_flow_evidence_flow_id ON flow_evidence(flow_id);
			CREATE UNIQUE INDEX idx_flow_evidence_idempotency ON flow_evidence(flow_id, task_id, idempotency_key)
				WHERE idempotency_key IS NOT NULL;

			CREATE TABLE flow_detours (
				id VARCHAR(255) PRIMARY KEY,
				flow_id VARCHAR(255) NOT NULL REFERENCES flows(id) ON DELETE CASCADE,
				checkpoint_node_id VARCHAR(255) NOT NULL,
				checkpoint_execution_id VARCHAR(255) NOT NULL,
				resume_target_node_id VARCHAR(255) NOT NULL,
				detour_type VARCHAR(50) NOT NULL CHECK (detour_type IN ('blocking', 'non_blocking')),
				status VARCHAR(50) NOT NULL CHECK (status IN ('active', 'resolved', 'converted')),
				repeat_index INT NOT NULL,
				reason TEXT NOT NULL DEFAULT '',
				opened_at TIMESTAMP WITH TIME ZONE NOT NULL,
				opened_by VARCHAR(255) NOT NULL,
				resolved_at TIMESTAMP WITH TIME ZONE,
				resolved_by VARCHAR(255),
				seq BIGSERIAL
			);

			CREATE INDEX idx_flow_detours_flow_id ON flow_detours(flow_id);
			CREATE INDEX idx_flow_detours_checkpoint ON flow_detours(flow_id, checkpoint_execution_id);

			CREATE TABLE flow_fan_out_launches (
				id VARCHAR(255) PRIMARY KEY,
				flow_id VARCHAR(255) NOT NULL REFERENCES flows(id) ON DELETE CASCADE,
				source_node_id VARCHAR(255) NOT NULL,
				trigger_outcome VARCHAR(255) NOT NULL,
				target_workflow_id VARCHAR(255) NOT NULL,
				spawned_flow_id VARCHAR(255),
				status VARCHAR(50) NOT NULL CHECK (status IN ('launched', 'failed')),
				error TEXT NOT NULL DEFAULT '',
				launched_at TIMESTAMP WITH TIME ZONE NOT NULL,
				seq BIGSERIAL
			);

			CREATE INDEX idx_flow_fan_out_launches_flow_id ON flow_fan_out_launches(flow_id);
		`,
	}
}
