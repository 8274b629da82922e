package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			-- Workflow definitions. Steps are stored as a JSONB document so
			-- a definition is always read and written atomically.
			CREATE TABLE workflows (
				id UUID PRIMARY KEY,
				name VARCHAR(255) NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				status VARCHAR(50) NOT NULL CHECK (status IN ('draft', 'active', 'paused', 'archived')),
				steps JSONB NOT NULL DEFAULT '[]',
				settings JSONB NOT NULL DEFAULT '{}',
				metadata JSONB,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				activated_at TIMESTAMP WITH TIME ZONE,
				archived_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX idx_workflows_status ON workflows(status);
			CREATE INDEX idx_workflows_created_at ON workflows(created_at);
		`,
		2: `
			-- Enrollments: one row per (workflow, record) journey, including
			-- the worker lease and scheduling columns.
			CREATE TABLE enrollments (
				id UUID PRIMARY KEY,
				workflow_id UUID NOT NULL REFERENCES workflows(id),
				entity_type VARCHAR(100) NOT NULL,
				entity_id VARCHAR(255) NOT NULL,
				status VARCHAR(50) NOT NULL CHECK (status IN ('active', 'waiting', 'completed', 'failed', 'canceled')),
				current_step_id VARCHAR(255),
				context JSONB NOT NULL DEFAULT '{}',
				step_log JSONB NOT NULL DEFAULT '[]',
				attempt INTEGER NOT NULL DEFAULT 0,
				resume_at TIMESTAMP WITH TIME ZONE,
				waiting_since TIMESTAMP WITH TIME ZONE,
				wait_reason VARCHAR(50),
				last_error JSONB,
				lease_owner VARCHAR(255),
				lease_expires_at TIMESTAMP WITH TIME ZONE,
				parent_enrollment_id UUID,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				completed_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX idx_enrollments_workflow_id ON enrollments(workflow_id);
			CREATE INDEX idx_enrollments_entity ON enrollments(workflow_id, entity_type, entity_id);
			CREATE INDEX idx_enrollments_status ON enrollments(status);
			CREATE INDEX idx_enrollments_due ON enrollments(resume_at) WHERE status = 'waiting';
			CREATE INDEX idx_enrollments_parent ON enrollments(parent_enrollment_id);
		`,
	}
}
